package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoryd/memoryd/internal/apperr"
	"github.com/memoryd/memoryd/internal/audit"
	"github.com/memoryd/memoryd/internal/db"
	"github.com/memoryd/memoryd/internal/types"
)

// scriptedConn dispatches a canned response by matching substrings of the
// query text, recording every call it receives.
type scriptedConn struct {
	queries []string
	params  []map[string]any
	rules   []rule
}

type rule struct {
	match string
	rows  []map[string]any
}

func (c *scriptedConn) Query(_ context.Context, q string, params map[string]any) ([]map[string]any, error) {
	c.queries = append(c.queries, q)
	c.params = append(c.params, params)
	for _, r := range c.rules {
		if strings.Contains(q, r.match) {
			return r.rows, nil
		}
	}
	return nil, nil
}

func (c *scriptedConn) Close() error { return nil }

var _ db.Conn = (*scriptedConn)(nil)

type fakeQueue struct {
	payloads []map[string]any
}

func (q *fakeQueue) Enqueue(_ context.Context, payload map[string]any) error {
	q.payloads = append(q.payloads, payload)
	return nil
}

func TestIngest_CreatesArtifactsEntitiesRelationsAndJobs(t *testing.T) {
	require.NoError(t, audit.Init(t.TempDir()))

	conn := &scriptedConn{rules: []rule{
		{match: "FROM relation WHERE out", rows: []map[string]any{{
			"id": "relation:1", "out": "entity:a", "in": "entity:b",
			"relation_type": "knows", "tenant_id": "t1", "confidence": 1.0,
		}}},
	}}
	exec := db.NewExecutor(conn)
	q := &fakeQueue{}
	p := NewPipeline(exec, q)

	req := Request{
		TenantID:   "t1",
		SensorName: "chat",
		Contents:   []ContentInput{{ID: "c1", Text: "hello world"}},
		Entities: []EntityInput{
			{ID: "e1", EntityType: "person", Name: "Ada"},
			{ID: "e2", EntityType: "person", Name: "Charles"},
		},
		Relations: []RelationInput{
			{FromEntityID: "e1", ToEntityID: "e2", RelationType: "knows"},
		},
	}

	result, err := p.Ingest(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, result.Entities, 2)
	assert.True(t, result.Entities[0].Created)
	assert.Empty(t, result.Warnings)
	require.Len(t, result.Relations, 1)
	assert.Equal(t, "relation:1", result.Relations[0].RelationID)
	require.Len(t, result.JobIDs, 1)
	require.Len(t, q.payloads, 1)
	assert.Equal(t, result.JobIDs[0], q.payloads[0]["id"])
}

func TestIngest_UnresolvableRelationEndpointWarnsAndSkips(t *testing.T) {
	require.NoError(t, audit.Init(t.TempDir()))

	conn := &scriptedConn{}
	exec := db.NewExecutor(conn)
	p := NewPipeline(exec, &fakeQueue{})

	req := Request{
		TenantID: "t1",
		Entities: []EntityInput{{ID: "e1", EntityType: "person", Name: "Ada"}},
		Relations: []RelationInput{
			{FromEntityID: "e1", ToEntityID: "does-not-exist", RelationType: "knows"},
		},
	}

	result, err := p.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, result.Relations)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "does-not-exist")
}

func TestIngest_CompanyNotFound_Returns404(t *testing.T) {
	conn := &scriptedConn{}
	exec := db.NewExecutor(conn)
	p := NewPipeline(exec, &fakeQueue{})

	_, err := p.Ingest(context.Background(), Request{CompanyID: "missing-co"})
	require.Error(t, err)
}

func TestIngest_TypeNotAllowedByTenantPolicyIs400(t *testing.T) {
	require.NoError(t, audit.Init(t.TempDir()))

	conn := &scriptedConn{rules: []rule{
		{match: "FROM company", rows: []map[string]any{{
			"id": "company:acme", "company_id": "acme", "name": "Acme",
			"sensor_types": []any{"doc"}, "entity_types": []any{"person"},
			"relation_types": []any{"knows"},
		}}},
	}}
	p := NewPipeline(db.NewExecutor(conn), &fakeQueue{})

	_, err := p.Ingest(context.Background(), Request{
		CompanyID:  "acme",
		SensorName: "doc",
		Entities:   []EntityInput{{ID: "e1", EntityType: "spaceship", Name: "Nostromo"}},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "spaceship")
}

func TestValidatePolicy_NilListsAllowAnything(t *testing.T) {
	err := validatePolicy(types.Policy{}, Request{
		SensorName: "anything",
		Entities:   []EntityInput{{EntityType: "whatever", Name: "x"}},
		Relations:  []RelationInput{{FromEntityID: "a", ToEntityID: "b", RelationType: "any"}},
	})
	require.NoError(t, err)
}

func TestIngest_EntityIDSetToExisting_UsesUpdatePath(t *testing.T) {
	require.NoError(t, audit.Init(t.TempDir()))

	conn := &scriptedConn{rules: []rule{
		{match: "SELECT * FROM $id", rows: []map[string]any{{
			"id": "entity:existing", "tenant_id": "t1", "name": "Old Name", "entity_type": "person",
		}}},
	}}
	exec := db.NewExecutor(conn)
	p := NewPipeline(exec, &fakeQueue{})

	req := Request{
		TenantID: "t1",
		Entities: []EntityInput{{ID: "e1", EntityID: "entity:existing", EntityType: "person", Name: "New Name"}},
	}

	result, err := p.Ingest(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.False(t, result.Entities[0].Created)
	assert.Equal(t, "entity:existing", result.Entities[0].EntityID)
}
