package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoryd/memoryd/internal/db"
)

// faultyConn fails any query matching failOn and serves rows for the rest.
type faultyConn struct {
	failOn  string
	rows    []map[string]any
	queries []string
}

func (c *faultyConn) Query(_ context.Context, q string, _ map[string]any) ([]map[string]any, error) {
	c.queries = append(c.queries, q)
	if c.failOn != "" && strings.Contains(q, c.failOn) {
		return nil, errors.New("driver failure")
	}
	return c.rows, nil
}

func (c *faultyConn) Close() error { return nil }

var _ db.Conn = (*faultyConn)(nil)

type fixedEmbedder struct{ vec []float64 }

func (f *fixedEmbedder) EmbedBatch(_ context.Context, _ string, inputs []string) ([][]float64, error) {
	out := make([][]float64, len(inputs))
	for i := range inputs {
		out[i] = f.vec
	}
	return out, nil
}

// fixedRetriever returns a canned doc list, for hybrid merging tests.
type fixedRetriever struct{ docs []Doc }

func (f *fixedRetriever) RelevantDocuments(context.Context, string) ([]Doc, error) {
	return f.docs, nil
}

func TestExactMatch_SwallowsDriverError(t *testing.T) {
	conn := &faultyConn{failOn: "FROM entity"}
	r := NewExactMatch(db.NewExecutor(conn), "entity", "t1", "name", map[string]any{"name": "Ada"})

	docs, err := r.RelevantDocuments(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFulltext_FallsBackToLikeScanWithCoarseScores(t *testing.T) {
	conn := &faultyConn{
		failOn: "@@",
		rows: []map[string]any{
			{"id": "artifact-chunk:1", "text": "the Quick brown fox"},
			{"id": "artifact-chunk:2", "text": "nothing relevant"},
		},
	}
	r := NewFulltext(db.NewExecutor(conn), "artifact-chunk", "t1", "text")

	docs, err := r.RelevantDocuments(context.Background(), "quick")
	require.NoError(t, err)
	require.Len(t, docs, 2)

	byID := map[string]Doc{}
	for _, d := range docs {
		byID[d.MetaData["id"].(string)] = d
	}
	assert.Equal(t, 1.0, byID["artifact-chunk:1"].MetaData["relevance_score"])
	assert.Equal(t, 0.5, byID["artifact-chunk:2"].MetaData["relevance_score"])
}

func TestVector_FallsBackToLocalCosine(t *testing.T) {
	conn := &faultyConn{
		failOn: "cosine(",
		rows: []map[string]any{
			{"id": "artifact-chunk:near", "text": "near", "embedding": []any{1.0, 0.0}},
			{"id": "artifact-chunk:far", "text": "far", "embedding": []any{0.0, 1.0}},
			{"id": "artifact-chunk:noemb", "text": "no embedding"},
		},
	}
	r := NewVector(db.NewExecutor(conn), "artifact-chunk", "t1", "embedding", "text",
		&fixedEmbedder{vec: []float64{1.0, 0.0}}, "m")

	docs, err := r.RelevantDocuments(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, docs, 2) // row without an embedding is skipped
	assert.Equal(t, "artifact-chunk:near", docs[0].MetaData["id"])
	assert.InDelta(t, 1.0, docs[0].MetaData["similarity_score"].(float64), 1e-9)
}

func TestGraph_NoSeedsReturnsNothing(t *testing.T) {
	conn := &faultyConn{}
	r := NewGraph(db.NewExecutor(conn), "t1", nil, 1, 2, 10)

	docs, err := r.RelevantDocuments(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, conn.queries)
}

func TestHybrid_DedupeKeepsHigherScoredCopy(t *testing.T) {
	low := &fixedRetriever{docs: []Doc{{
		PageContent: "shared chunk text",
		MetaData:    map[string]any{"id": "artifact-chunk:1", "relevance_score": 0.4},
	}}}
	high := &fixedRetriever{docs: []Doc{{
		PageContent: "shared chunk text",
		MetaData:    map[string]any{"id": "artifact-chunk:1", "similarity_score": 0.9},
	}}}
	h := NewHybrid(low, high)

	docs, err := h.RelevantDocuments(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 0.9, docs[0].MetaData["similarity_score"])
}

func TestHybrid_SortsByMaxScoreWithExactDefault(t *testing.T) {
	a := &fixedRetriever{docs: []Doc{{
		PageContent: "vector hit",
		MetaData:    map[string]any{"id": "artifact-chunk:v", "similarity_score": 0.9},
	}}}
	b := &fixedRetriever{docs: []Doc{{
		PageContent: "exact hit, no score",
		MetaData:    map[string]any{"id": "entity:e"},
	}}}
	c := &fixedRetriever{docs: []Doc{{
		PageContent: "weak fulltext hit",
		MetaData:    map[string]any{"id": "artifact-chunk:f", "relevance_score": 0.2},
	}}}
	h := NewHybrid(a, b, c)

	docs, err := h.RelevantDocuments(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "artifact-chunk:v", docs[0].MetaData["id"])
	assert.Equal(t, "entity:e", docs[1].MetaData["id"]) // unscored defaults to 0.5
	assert.Equal(t, "artifact-chunk:f", docs[2].MetaData["id"])
}

func TestMaxScore_TakesLargerOfBothWhenPresent(t *testing.T) {
	d := Doc{MetaData: map[string]any{"similarity_score": 0.3, "relevance_score": 0.8}}
	assert.Equal(t, 0.8, maxScore(d))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1}, []float64{1, 2}))
}
