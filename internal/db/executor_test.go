package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/memoryd/memoryd/internal/types"
)

type recordingConn struct {
	queries []string
	params  []map[string]any
	rows    []map[string]any
	err     error
}

func (c *recordingConn) Query(_ context.Context, q string, params map[string]any) ([]map[string]any, error) {
	c.queries = append(c.queries, q)
	c.params = append(c.params, params)
	return c.rows, c.err
}

func (c *recordingConn) Close() error { return nil }

var _ Conn = (*recordingConn)(nil)

func TestClassify(t *testing.T) {
	cases := []struct {
		sql  string
		want string
	}{
		{"SELECT * FROM entity WHERE name = $param_1", "exact_match"},
		{"SELECT *, cosine(embedding, $param_1) AS similarity_score FROM `artifact-chunk`", "vector"},
		{"SELECT *, search::score(0) AS relevance_score FROM x WHERE text @@ $param_1", "fulltext"},
		{"SELECT *, cosine(embedding, $p) AS s FROM x WHERE text @@ $q", "combined"},
		{"SELECT *, 1 AS distance FROM entity WHERE id IN $p UNION ALL SELECT *, 2 AS distance FROM entity", "graph"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classify(tc.sql), tc.sql)
	}
}

func TestExecuteExactMatch_AlwaysScopesTenantAndSoftDelete(t *testing.T) {
	conn := &recordingConn{}
	exec := NewExecutor(conn)

	_, err := exec.ExecuteExactMatch(context.Background(), "entity", "t1", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.Len(t, conn.queries, 1)

	sql := conn.queries[0]
	assert.Contains(t, sql, "tenant_id = $param_")
	assert.Contains(t, sql, "is_deleted = $param_")
	assert.Contains(t, sql, "name = $param_")
}

func TestExecuteExactMatch_ListFilterBecomesIn(t *testing.T) {
	conn := &recordingConn{}
	exec := NewExecutor(conn)

	_, err := exec.ExecuteExactMatch(context.Background(), "entity", "t1", map[string]any{
		"entity_type": []string{"person", "place"},
	})
	require.NoError(t, err)
	assert.Contains(t, conn.queries[0], "entity_type IN (")
}

func TestExecuteVector_FiltersOutMissingEmbeddings(t *testing.T) {
	conn := &recordingConn{}
	exec := NewExecutor(conn)

	_, err := exec.ExecuteVector(context.Background(), "", "t1", []float64{0.1, 0.2})
	require.NoError(t, err)
	sql := conn.queries[0]
	assert.Contains(t, sql, "embedding != NONE")
	assert.Contains(t, sql, "AS similarity_score")
	assert.Contains(t, sql, "ORDER BY similarity_score DESC")
}

func TestExecuteFulltext_ProjectsRelevanceScore(t *testing.T) {
	conn := &recordingConn{}
	exec := NewExecutor(conn)

	_, err := exec.ExecuteFulltext(context.Background(), "", "t1", "hello")
	require.NoError(t, err)
	sql := conn.queries[0]
	assert.Contains(t, sql, "@@ $param_")
	assert.Contains(t, sql, "search::score(0) AS relevance_score")
}

func TestExecuteGraph_BuildsUnionedTraversal(t *testing.T) {
	conn := &recordingConn{}
	exec := NewExecutor(conn)

	_, err := exec.ExecuteGraph(context.Background(), "entity", "relation", []string{"entity:1"}, 1, 2, 50)
	require.NoError(t, err)
	assert.Contains(t, conn.queries[0], "UNION ALL")
	assert.Contains(t, conn.queries[0], "AS distance")
}

func TestExecute_DriverErrorIsRethrown(t *testing.T) {
	conn := &recordingConn{err: errors.New("boom")}
	exec := NewExecutor(conn)

	_, err := exec.Execute(context.Background(), "SELECT * FROM entity", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestFlattenSurrealResult_UnwrapsFirstStatement(t *testing.T) {
	raw := []any{
		map[string]any{"result": []any{
			map[string]any{"id": "entity:1"},
			map[string]any{"id": "entity:2"},
		}},
	}
	rows, err := flattenSurrealResult(raw)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "entity:1", rows[0]["id"])
}

func TestFlattenSurrealResult_EmptyAndUnknownShapes(t *testing.T) {
	rows, err := flattenSurrealResult([]any{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = flattenSurrealResult(42)
	require.Error(t, err)
}
