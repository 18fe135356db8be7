package prompts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePromptFile(t *testing.T, dir, name, content string) {
	t.Helper()
	promptsDir := filepath.Join(dir, "prompts")
	require.NoError(t, os.MkdirAll(promptsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(promptsDir, name), []byte(content), 0o644))
}

func TestGet_YAML(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "extract_entities.yaml", "system: extract entities\nuser: \"{{ text }}\"\n")

	s := New(dir)
	p, err := s.Get(context.Background(), "extract_entities")
	require.NoError(t, err)
	assert.Equal(t, "extract entities", p.System)
	assert.Equal(t, "{{ text }}", p.User)
}

func TestGet_JSON(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "sufficiency.json", `{"system":"check sufficiency","user":"ctx"}`)

	s := New(dir)
	p, err := s.Get(context.Background(), "sufficiency")
	require.NoError(t, err)
	assert.Equal(t, "check sufficiency", p.System)
}

func TestGet_PlainText_SplitsOnBlankLine(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "greeting.txt", "You are a helpful extractor.\n\nExtract from: {{ text }}")

	s := New(dir)
	p, err := s.Get(context.Background(), "greeting")
	require.NoError(t, err)
	assert.Equal(t, "You are a helpful extractor.", p.System)
	assert.Equal(t, "Extract from: {{ text }}", p.User)
}

func TestGet_CachesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "cached.yaml", "system: v1\nuser: u\n")

	s := New(dir)
	p1, err := s.Get(context.Background(), "cached")
	require.NoError(t, err)
	assert.Equal(t, "v1", p1.System)

	writePromptFile(t, dir, "cached.yaml", "system: v2\nuser: u\n")
	p2, err := s.Get(context.Background(), "cached")
	require.NoError(t, err)
	assert.Equal(t, "v1", p2.System, "cache must serve the stale value until Reload")

	s.Reload()
	p3, err := s.Get(context.Background(), "cached")
	require.NoError(t, err)
	assert.Equal(t, "v2", p3.System)
}

func TestGet_MissingFile_Errors(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	_, err := s.Get(context.Background(), "nonexistent")
	require.Error(t, err)
}

func TestGet_HTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prompts/extract_relations", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"system":"extract relations","user":"text here"}`))
	}))
	defer srv.Close()

	s := New(srv.URL)
	p, err := s.Get(context.Background(), "extract_relations")
	require.NoError(t, err)
	assert.Equal(t, "extract relations", p.System)
	assert.Equal(t, "text here", p.User)
}
