package llm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoryd/memoryd/internal/prompts"
)

func writePrompt(t *testing.T, dir, name, content string) {
	t.Helper()
	promptsDir := filepath.Join(dir, "prompts")
	require.NoError(t, os.MkdirAll(promptsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(promptsDir, name), []byte(content), 0o644))
}

func newTestExtractor(t *testing.T, chat chatFunc) *Extractor {
	t.Helper()
	dir := t.TempDir()
	writePrompt(t, dir, "entity_extraction.yaml", "system: extract entities\nuser: go\n")
	writePrompt(t, dir, "relation_extraction.yaml", "system: extract relations\nuser: go\n")
	writePrompt(t, dir, "content_sufficiency_check.yaml", "system: check sufficiency\nuser: go\n")
	return &Extractor{chat: chat, prompts: prompts.New(dir), model: "test-model"}
}

func TestExtractEntities_ParsesEnvelope(t *testing.T) {
	e := newTestExtractor(t, func(context.Context, string, []Message, float64) (string, error) {
		return `{"entities":[{"name":"Ada","entity_type":"person"}]}`, nil
	})
	entities := e.ExtractEntities(context.Background(), "text", nil)
	require.Len(t, entities, 1)
	assert.Equal(t, "Ada", entities[0].Name)
}

func TestExtractEntities_ParsesBareArray(t *testing.T) {
	e := newTestExtractor(t, func(context.Context, string, []Message, float64) (string, error) {
		return `[{"name":"Ada","entity_type":"person"}]`, nil
	})
	entities := e.ExtractEntities(context.Background(), "text", nil)
	require.Len(t, entities, 1)
	assert.Equal(t, "Ada", entities[0].Name)
}

func TestExtractEntities_SwallowsCallError(t *testing.T) {
	e := newTestExtractor(t, func(context.Context, string, []Message, float64) (string, error) {
		return "", assert.AnError
	})
	entities := e.ExtractEntities(context.Background(), "text", nil)
	assert.Nil(t, entities)
}

func TestExtractEntities_SwallowsMalformedJSON(t *testing.T) {
	e := newTestExtractor(t, func(context.Context, string, []Message, float64) (string, error) {
		return "not json", nil
	})
	entities := e.ExtractEntities(context.Background(), "text", nil)
	assert.Nil(t, entities)
}

func TestExtractRelations_ParsesEnvelope(t *testing.T) {
	e := newTestExtractor(t, func(context.Context, string, []Message, float64) (string, error) {
		return `{"relations":[{"from":"Ada","to":"Charles","relation_type":"knows"}]}`, nil
	})
	relations := e.ExtractRelations(context.Background(), "text", []string{"Ada", "Charles"}, nil)
	require.Len(t, relations, 1)
	assert.Equal(t, "knows", relations[0].RelationType)
}

func TestContentSufficiencyCheck_Yes(t *testing.T) {
	e := newTestExtractor(t, func(context.Context, string, []Message, float64) (string, error) {
		return "Yes, the context is sufficient.", nil
	})
	assert.True(t, e.ContentSufficiencyCheck(context.Background(), "q", "ctx"))
}

func TestContentSufficiencyCheck_No(t *testing.T) {
	e := newTestExtractor(t, func(context.Context, string, []Message, float64) (string, error) {
		return "No.", nil
	})
	assert.False(t, e.ContentSufficiencyCheck(context.Background(), "q", "ctx"))
}

func TestContentSufficiencyCheck_CallErrorDefaultsToInsufficient(t *testing.T) {
	e := newTestExtractor(t, func(context.Context, string, []Message, float64) (string, error) {
		return "", assert.AnError
	})
	assert.False(t, e.ContentSufficiencyCheck(context.Background(), "q", "ctx"))
}

func TestParseYesNo_DoesNotMatchSubstringInsideAWord(t *testing.T) {
	assert.False(t, parseYesNo("sufficiency analysis: no"))
	assert.True(t, parseYesNo("analysis says yes"))
}
