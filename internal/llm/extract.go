package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/memoryd/memoryd/internal/debugmode"
	"github.com/memoryd/memoryd/internal/prompts"
)

// ExtractedEntity and ExtractedRelation mirror the JSON shapes the
// extraction prompts are instructed to emit.
type ExtractedEntity struct {
	Name       string         `json:"name"`
	EntityType string         `json:"entity_type"`
	Aliases    []string       `json:"aliases,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

type ExtractedRelation struct {
	From         string         `json:"from"`
	To           string         `json:"to"`
	RelationType string         `json:"relation_type"`
	Confidence   float64        `json:"confidence,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// chatFunc abstracts Client.ChatJSON so tests can substitute a stub
// without a live Anthropic API key.
type chatFunc func(ctx context.Context, model string, messages []Message, temperature float64) (string, error)

// Extractor wraps a chat completion function + prompt Store to implement
// the extract-or-degrade-gracefully contract: any failure (prompt
// missing, call error, malformed JSON) logs and returns an empty slice
// rather than propagating.
type Extractor struct {
	chat    chatFunc
	prompts *prompts.Store
	model   string
}

func NewExtractor(client *Client, store *prompts.Store, model string) *Extractor {
	return &Extractor{chat: client.ChatJSON, prompts: store, model: model}
}

// ExtractEntities extracts entities from text, restricted to
// allowedTypes when non-empty.
func (e *Extractor) ExtractEntities(ctx context.Context, text string, allowedTypes []string) []ExtractedEntity {
	p, err := e.prompts.Get(ctx, "entity_extraction")
	if err != nil {
		debugmode.Logf("llm: entity_extraction prompt unavailable: %v", err)
		return nil
	}
	userMsg := p.User + "\n\n" + text
	if len(allowedTypes) > 0 {
		userMsg += fmt.Sprintf("\n\nIMPORTANT: only extract entities of these types: %v", allowedTypes)
	}

	resp, err := e.chat(ctx, e.model, []Message{
		{Role: "system", Content: p.System},
		{Role: "user", Content: userMsg},
	}, 0.1)
	if err != nil {
		debugmode.Logf("llm: entity_extraction call failed: %v", err)
		return nil
	}

	var entities []ExtractedEntity
	if err := parseJSONEnvelope(resp, "entities", &entities); err != nil {
		debugmode.Logf("llm: entity_extraction parse failed: %v", err)
		return nil
	}
	return entities
}

// ExtractRelations extracts relations between already-known entity names.
func (e *Extractor) ExtractRelations(ctx context.Context, text string, entityNames, allowedTypes []string) []ExtractedRelation {
	p, err := e.prompts.Get(ctx, "relation_extraction")
	if err != nil {
		debugmode.Logf("llm: relation_extraction prompt unavailable: %v", err)
		return nil
	}
	userMsg := fmt.Sprintf("%s\n\nKnown entities: %v\n\nText: %s", p.User, entityNames, text)
	if len(allowedTypes) > 0 {
		userMsg += fmt.Sprintf("\n\nIMPORTANT: only extract relations of these types: %v", allowedTypes)
	}

	resp, err := e.chat(ctx, e.model, []Message{
		{Role: "system", Content: p.System},
		{Role: "user", Content: userMsg},
	}, 0.1)
	if err != nil {
		debugmode.Logf("llm: relation_extraction call failed: %v", err)
		return nil
	}

	var relations []ExtractedRelation
	if err := parseJSONEnvelope(resp, "relations", &relations); err != nil {
		debugmode.Logf("llm: relation_extraction parse failed: %v", err)
		return nil
	}
	return relations
}

// ContentSufficiencyCheck asks the model whether context is sufficient to
// answer query. Any failure is treated as "insufficient" so the caller
// falls back to loading full artifact text.
func (e *Extractor) ContentSufficiencyCheck(ctx context.Context, query, context string) bool {
	p, err := e.prompts.Get(ctx, "content_sufficiency_check")
	if err != nil {
		debugmode.Logf("llm: content_sufficiency_check prompt unavailable: %v", err)
		return false
	}
	userMsg := fmt.Sprintf("%s\n\nQuery: %s\n\nContext:\n%s", p.User, query, context)

	resp, err := e.chat(ctx, e.model, []Message{
		{Role: "system", Content: p.System},
		{Role: "user", Content: userMsg},
	}, 0.0)
	if err != nil {
		debugmode.Logf("llm: content_sufficiency_check call failed: %v", err)
		return false
	}
	return parseYesNo(resp)
}

// parseJSONEnvelope accepts {"<key>": [...]}, a bare [...] array, or a
// bare singleton object coerced to a one-element list.
func parseJSONEnvelope(raw, key string, out any) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil {
		if inner, ok := envelope[key]; ok {
			return json.Unmarshal(inner, out)
		}
		singleton := "[" + strings.TrimSpace(raw) + "]"
		return json.Unmarshal([]byte(singleton), out)
	}
	return json.Unmarshal([]byte(raw), out)
}

func parseYesNo(raw string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	trimmed = strings.Trim(trimmed, `"'. `)
	if strings.HasPrefix(trimmed, "yes") || trimmed == "true" {
		return true
	}
	if strings.HasPrefix(trimmed, "no") || trimmed == "false" {
		return false
	}
	for _, field := range strings.Fields(trimmed) {
		field = strings.Trim(field, `"'.,`)
		if field == "yes" || field == "true" {
			return true
		}
		if field == "no" || field == "false" {
			return false
		}
	}
	return false
}
