package persist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoryd/memoryd/internal/db"
	"github.com/memoryd/memoryd/internal/types"
)

// fakeConn is an in-memory stand-in for db.Conn that records every query it
// receives and serves a scripted response for SELECTs.
type fakeConn struct {
	queries []string
	params  []map[string]any
	rows    map[string][]map[string]any // keyed by caller-set "next" slot
	next    []map[string]any
}

func (f *fakeConn) Query(_ context.Context, q string, params map[string]any) ([]map[string]any, error) {
	f.queries = append(f.queries, q)
	f.params = append(f.params, params)
	return f.next, nil
}

func (f *fakeConn) Close() error { return nil }

var _ db.Conn = (*fakeConn)(nil)

func TestSave_NewRecord_CreatedEqualsUpdated(t *testing.T) {
	conn := &fakeConn{}
	exec := db.NewExecutor(conn)
	repo := NewRepository[types.Artifact, *types.Artifact](exec)

	art := &types.Artifact{Tenant: types.Tenant{TenantID: "t1"}, RawText: "hello"}
	require.NoError(t, repo.Save(context.Background(), art))

	assert.Equal(t, art.CreatedAt, art.UpdatedAt)
	assert.NotEmpty(t, art.ID)
	assert.Contains(t, conn.queries[0], "CREATE $id CONTENT $content")
}

func TestSave_ExistingRecord_UsesUpdateVerb(t *testing.T) {
	conn := &fakeConn{}
	exec := db.NewExecutor(conn)
	repo := NewRepository[types.Artifact, *types.Artifact](exec)

	art := &types.Artifact{Record: types.Record{ID: "artifact:fixed"}, Tenant: types.Tenant{TenantID: "t1"}}
	require.NoError(t, repo.Save(context.Background(), art))
	assert.Contains(t, conn.queries[0], "UPDATE $id CONTENT $content")
	assert.Equal(t, "artifact:fixed", art.ID)
}

func TestUpdate_ReturnsOldValuesOfChangedFieldsOnly(t *testing.T) {
	conn := &fakeConn{}
	exec := db.NewExecutor(conn)
	repo := NewRepository[types.Entity, *types.Entity](exec)

	oldUpdated := time.Now().Add(-time.Hour).UTC()
	conn.next = []map[string]any{{
		"id": "entity:1", "name": "Ada", "entity_type": "person",
		"updated_at": oldUpdated, "created_at": oldUpdated, "tenant_id": "t1",
	}}

	old, err := repo.Update(context.Background(), "entity:1", map[string]any{
		"name":        "Ada Lovelace",
		"entity_type": "person", // unchanged
	})
	require.NoError(t, err)

	assert.Equal(t, "Ada", old["name"])
	assert.NotContains(t, old, "entity_type")
	assert.Contains(t, old, "updated_at")
}

func TestUpdate_NeverDiffsImmutableFields(t *testing.T) {
	conn := &fakeConn{}
	exec := db.NewExecutor(conn)
	repo := NewRepository[types.Entity, *types.Entity](exec)

	conn.next = []map[string]any{{"id": "entity:1", "tenant_id": "t1", "created_at": time.Now()}}
	old, err := repo.Update(context.Background(), "entity:1", map[string]any{
		"id": "entity:2", "tenant_id": "t2", "created_at": time.Now(),
	})
	require.NoError(t, err)
	assert.NotContains(t, old, "id")
	assert.NotContains(t, old, "tenant_id")
	assert.NotContains(t, old, "created_at")
}

func TestGetByID_NotFound(t *testing.T) {
	conn := &fakeConn{}
	exec := db.NewExecutor(conn)
	repo := NewRepository[types.Artifact, *types.Artifact](exec)

	_, err := repo.GetByID(context.Background(), "artifact:missing")
	require.Error(t, err)
}

func TestFindMany_AppliesTenantAndSoftDeleteFilters(t *testing.T) {
	conn := &fakeConn{}
	exec := db.NewExecutor(conn)
	repo := NewRepository[types.Entity, *types.Entity](exec)

	_, err := repo.FindMany(context.Background(), 0, 10, map[string]any{"tenant_id": "t1"})
	require.NoError(t, err)
	require.Len(t, conn.queries, 1)
	assert.Contains(t, conn.queries[0], "is_deleted = $param_")
	assert.Contains(t, conn.queries[0], "tenant_id = $param_")
}

func TestDelete_Soft_IsUpdateIsDeletedTrue(t *testing.T) {
	conn := &fakeConn{}
	exec := db.NewExecutor(conn)
	repo := NewRepository[types.Artifact, *types.Artifact](exec)

	conn.next = []map[string]any{{"id": "artifact:1", "tenant_id": "t1"}}
	require.NoError(t, repo.Delete(context.Background(), "artifact:1", true))
	assert.Contains(t, conn.queries[len(conn.queries)-1], "MERGE $content")
}

func TestEdgeRepository_RelateThenFindOne_RoundTrips(t *testing.T) {
	conn := &fakeConn{}
	exec := db.NewExecutor(conn)
	edges := NewEdgeRepository(exec)

	conn.next = []map[string]any{{
		"id": "relation:1", "out": "entity:a", "in": "entity:b",
		"relation_type": "knows", "tenant_id": "t1", "confidence": 1.0,
	}}

	rel, err := edges.Relate(context.Background(), &types.Relation{
		Tenant: types.Tenant{TenantID: "t1"}, SourceID: "entity:a", TargetID: "entity:b", RelationType: "knows",
	})
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "entity:a", rel.SourceID)
	assert.Equal(t, "entity:b", rel.TargetID)
	assert.Equal(t, "relation:1", rel.ID)

	require.Len(t, conn.queries, 2)
	assert.Contains(t, conn.queries[0], "RELATE $source -> relation -> $target")
	assert.Contains(t, conn.queries[1], "out = $source AND in = $target")
}
