// Package config binds the process environment into a typed Config struct
// at startup. Load is idempotent and safe to call repeatedly from tests.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Domain      string
	ProjectName string
	Debug       bool
	CORSOrigins []string

	RedisURI       string
	RedisQueueName string

	SurrealURI       string
	SurrealUsername  string
	SurrealPassword  string
	SurrealNamespace string
	SurrealDatabase  string

	StoragePath string

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	LLMModel          string
	EmbeddingModel    string

	PromptSource string
}

// envPrefix namespaces this project's variables; the raw names
// (REDIS_URI, SURREALDB_URI, ...) are honored as unprefixed fallbacks.
const envPrefix = "MEMORYD"

// Load builds a viper instance bound to envPrefix with unprefixed fallback
// aliases, applies defaults, and decodes into a Config. Safe to call more
// than once (e.g. from tests): each call gets a fresh *viper.Viper.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindFallbacks(v)

	cfg := &Config{
		Domain:      v.GetString("domain"),
		ProjectName: v.GetString("project_name"),
		Debug:       v.GetBool("debug"),
		CORSOrigins: parseCORSOrigins(v.GetString("cors_origins")),

		RedisURI:       v.GetString("redis_uri"),
		RedisQueueName: v.GetString("redis_queue_name"),

		SurrealURI:       v.GetString("surrealdb_uri"),
		SurrealUsername:  v.GetString("surrealdb_username"),
		SurrealPassword:  v.GetString("surrealdb_password"),
		SurrealNamespace: v.GetString("surrealdb_namespace"),
		SurrealDatabase:  v.GetString("surrealdb_database"),

		StoragePath: v.GetString("storage_path"),

		OpenRouterAPIKey:  v.GetString("openrouter_api_key"),
		OpenRouterBaseURL: v.GetString("openrouter_base_url"),
		LLMModel:          v.GetString("llm_model"),
		EmbeddingModel:    v.GetString("embedding_model"),

		PromptSource: v.GetString("prompt_source"),
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project_name", "memoryd")
	v.SetDefault("debug", false)
	v.SetDefault("redis_queue_name", "ingestion")
	v.SetDefault("surrealdb_namespace", "memoryd")
	v.SetDefault("surrealdb_database", "memoryd")
	v.SetDefault("llm_model", "anthropic/claude-3-5-haiku")
	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("prompt_source", "./prompts")
}

// bindFallbacks binds each viper key to read MEMORYD_<KEY> first and the
// raw, unprefixed env var name when the prefixed one is unset.
func bindFallbacks(v *viper.Viper) {
	fallbacks := map[string]string{
		"domain":             "DOMAIN",
		"project_name":       "PROJECT_NAME",
		"debug":              "DEBUG",
		"cors_origins":       "CORS_ORIGINS",
		"redis_uri":          "REDIS_URI",
		"redis_queue_name":   "REDIS_QUEUE_NAME",
		"surrealdb_uri":      "SURREALDB_URI",
		"surrealdb_username": "SURREALDB_USERNAME",
		"surrealdb_password": "SURREALDB_PASSWORD",
		"surrealdb_namespace": "SURREALDB_NAMESPACE",
		"surrealdb_database": "SURREALDB_DATABASE",
		"storage_path":       "STORAGE_PATH",
		"openrouter_api_key": "OPENROUTER_API_KEY",
		"openrouter_base_url": "OPENROUTER_BASE_URL",
		"llm_model":          "LLM_MODEL",
		"embedding_model":    "EMBEDDING_MODEL",
		"prompt_source":      "PROMPT_SOURCE",
	}
	for key, rawEnv := range fallbacks {
		_ = v.BindEnv(key, envPrefix+"_"+strings.ToUpper(key), rawEnv)
	}
}

// parseCORSOrigins accepts either a comma-separated list or a JSON array
// string.
func parseCORSOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		for _, part := range strings.Split(strings.Trim(raw, "[]"), ",") {
			part = strings.Trim(strings.TrimSpace(part), `"`)
			if part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// BlockTimeout is the fixed BRPOP block duration.
const BlockTimeout = 60 * time.Second
