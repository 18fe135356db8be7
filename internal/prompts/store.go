// Package prompts resolves named prompt templates ({system, user} pairs)
// from a file-based or HTTPS prompt source, behind a read-mostly,
// explicitly-reloadable cache.
package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Prompt is the {system, user} pair every named template resolves to.
type Prompt struct {
	System string `yaml:"system" json:"system" toml:"system"`
	User   string `yaml:"user" json:"user" toml:"user"`
}

// candidateExt is the ordered set of file extensions tried under
// <base>/prompts/<name>.<ext>.
var candidateExt = []string{".yaml", ".yml", ".json", ".toml", ".txt", ".md", ".prompt"}

// Store resolves named prompts, caching results until Reload is called.
// The cache is read-mostly and safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	cache  map[string]Prompt
	source string // file base dir, or an https:// PROMPT_SOURCE base
	client *http.Client
}

// New builds a Store over source, which is either a local directory
// (file mode) or an https:// base URL (HTTP mode).
func New(source string) *Store {
	return &Store{
		cache:  map[string]Prompt{},
		source: source,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Get resolves name, consulting the cache first.
func (s *Store) Get(ctx context.Context, name string) (Prompt, error) {
	s.mu.RLock()
	if p, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	var (
		p   Prompt
		err error
	)
	if strings.HasPrefix(s.source, "https://") || strings.HasPrefix(s.source, "http://") {
		p, err = s.fetchHTTP(ctx, name)
	} else {
		p, err = s.loadFile(name)
	}
	if err != nil {
		return Prompt{}, err
	}

	s.mu.Lock()
	s.cache[name] = p
	s.mu.Unlock()
	return p, nil
}

// Reload atomically clears the cache.
func (s *Store) Reload() {
	s.mu.Lock()
	s.cache = map[string]Prompt{}
	s.mu.Unlock()
}

func (s *Store) loadFile(name string) (Prompt, error) {
	dir := filepath.Join(s.source, "prompts")
	for _, ext := range candidateExt {
		path := filepath.Join(dir, name+ext)
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Prompt{}, fmt.Errorf("prompts: read %s: %w", path, err)
		}
		return parsePrompt(ext, b)
	}
	return Prompt{}, fmt.Errorf("prompts: no file for %q under %s", name, dir)
}

func (s *Store) fetchHTTP(ctx context.Context, name string) (Prompt, error) {
	url := strings.TrimRight(s.source, "/") + "/prompts/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Prompt{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Prompt{}, fmt.Errorf("prompts: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Prompt{}, fmt.Errorf("prompts: %s returned %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Prompt{}, err
	}
	var p Prompt
	if err := json.Unmarshal(b, &p); err != nil {
		return Prompt{}, fmt.Errorf("prompts: decode response from %s: %w", url, err)
	}
	return p, nil
}

// parsePrompt parses file content by extension. .txt/.md/.prompt files are
// split on the first blank line: everything before is "system", everything
// after is "user" — a plain-text encoding of the {system, user} pair for
// formats with no native key/value structure.
func parsePrompt(ext string, b []byte) (Prompt, error) {
	switch ext {
	case ".yaml", ".yml":
		var p Prompt
		if err := yaml.Unmarshal(b, &p); err != nil {
			return Prompt{}, fmt.Errorf("prompts: parse yaml: %w", err)
		}
		return p, nil
	case ".json":
		var p Prompt
		if err := json.Unmarshal(b, &p); err != nil {
			return Prompt{}, fmt.Errorf("prompts: parse json: %w", err)
		}
		return p, nil
	case ".toml":
		var p Prompt
		if _, err := toml.Decode(string(b), &p); err != nil {
			return Prompt{}, fmt.Errorf("prompts: parse toml: %w", err)
		}
		return p, nil
	default:
		parts := strings.SplitN(string(b), "\n\n", 2)
		p := Prompt{System: strings.TrimSpace(parts[0])}
		if len(parts) == 2 {
			p.User = strings.TrimSpace(parts[1])
		}
		return p, nil
	}
}
