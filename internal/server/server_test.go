package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoryd/memoryd/internal/audit"
	"github.com/memoryd/memoryd/internal/db"
	"github.com/memoryd/memoryd/internal/ingest"
	"github.com/memoryd/memoryd/internal/llm"
	"github.com/memoryd/memoryd/internal/resolver"
)

type stubConn struct {
	queries []string
	handler func(q string, params map[string]any) []map[string]any
}

func (c *stubConn) Query(_ context.Context, q string, params map[string]any) ([]map[string]any, error) {
	c.queries = append(c.queries, q)
	if c.handler == nil {
		return nil, nil
	}
	return c.handler(q, params), nil
}

func (c *stubConn) Close() error { return nil }

var _ db.Conn = (*stubConn)(nil)

type stubExtractor struct{}

func (stubExtractor) ExtractEntities(context.Context, string, []string) []llm.ExtractedEntity {
	return nil
}
func (stubExtractor) ContentSufficiencyCheck(context.Context, string, string) bool { return true }

type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(_ context.Context, _ string, inputs []string) ([][]float64, error) {
	out := make([][]float64, len(inputs))
	for i := range inputs {
		out[i] = []float64{0.1, 0.2}
	}
	return out, nil
}

type nopQueue struct{ payloads []map[string]any }

func (q *nopQueue) Enqueue(_ context.Context, payload map[string]any) error {
	q.payloads = append(q.payloads, payload)
	return nil
}

func newTestHandler(t *testing.T, conn *stubConn) (http.Handler, *nopQueue) {
	t.Helper()
	require.NoError(t, audit.Init(t.TempDir()))
	exec := db.NewExecutor(conn)
	q := &nopQueue{}
	pipeline := ingest.NewPipeline(exec, q)
	res := resolver.New(exec, stubExtractor{}, stubEmbedder{}, "test-embed")
	return New(exec, pipeline, res, []string{"https://app.example.com"}).Handler(), q
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func companyRow() map[string]any {
	return map[string]any{
		"id": "company:acme", "company_id": "acme", "name": "Acme",
		"entity_types": []any{"person"}, "relation_types": []any{"knows"},
	}
}

func TestCreateCompany_RoundTrips(t *testing.T) {
	conn := &stubConn{}
	h, _ := newTestHandler(t, conn)

	rec := do(h, http.MethodPost, "/api/memory/v1/company",
		`{"company_id":"acme","name":"Acme","entity_types":["person"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "acme", body["company_id"])
	assert.NotEmpty(t, body["id"])
}

func TestCreateCompany_DuplicateConflicts(t *testing.T) {
	conn := &stubConn{handler: func(q string, _ map[string]any) []map[string]any {
		if strings.Contains(q, "FROM company") {
			return []map[string]any{companyRow()}
		}
		return nil
	}}
	h, _ := newTestHandler(t, conn)

	rec := do(h, http.MethodPost, "/api/memory/v1/company", `{"company_id":"acme","name":"Acme"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "company_id_already_exists")
}

func TestCreateCompany_MissingFieldsIs400(t *testing.T) {
	h, _ := newTestHandler(t, &stubConn{})
	rec := do(h, http.MethodPost, "/api/memory/v1/company", `{"name":"No ID"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompanyMetadata_NotFoundIs404(t *testing.T) {
	h, _ := newTestHandler(t, &stubConn{})
	rec := do(h, http.MethodGet, "/api/memory/v1/company/ghost/metadata", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "company_not_found")
}

func TestCompanyAbstract_TypeOnly(t *testing.T) {
	conn := &stubConn{handler: func(q string, _ map[string]any) []map[string]any {
		if strings.Contains(q, "FROM company") {
			return []map[string]any{companyRow()}
		}
		return nil
	}}
	h, _ := newTestHandler(t, conn)

	rec := do(h, http.MethodGet, "/api/memory/v1/company/acme/abstract?resolution=0", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body["entities"])
	assert.Empty(t, body["relations"])
	assert.Empty(t, body["artifacts"])
	assert.NotEmpty(t, body["context"])
}

func TestCompanyAbstract_ResolutionOutOfRangeIs400(t *testing.T) {
	conn := &stubConn{handler: func(q string, _ map[string]any) []map[string]any {
		if strings.Contains(q, "FROM company") {
			return []map[string]any{companyRow()}
		}
		return nil
	}}
	h, _ := newTestHandler(t, conn)

	rec := do(h, http.MethodGet, "/api/memory/v1/company/acme/abstract?resolution=5", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_EndToEndOverHTTP(t *testing.T) {
	conn := &stubConn{handler: func(q string, _ map[string]any) []map[string]any {
		if strings.Contains(q, "FROM relation WHERE out") {
			return []map[string]any{{
				"id": "relation:1", "out": "entity:a", "in": "entity:a",
				"relation_type": "knows", "tenant_id": "t1",
			}}
		}
		return nil
	}}
	h, q := newTestHandler(t, conn)

	rec := do(h, http.MethodPost, "/api/memory/v1/ingest", `{
		"tenant_id": "t1", "sensor_name": "doc",
		"contents": [{"id": "c1", "text": "# Hello"}],
		"entities": [{"id": "e1", "entity_type": "person", "name": "Ada", "data": {}}],
		"relations": [{"from_entity_id": "e1", "to_entity_id": "e1", "relation_type": "knows", "data": {}}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		JobIDs    []string `json:"job_ids"`
		Entities  []any    `json:"entities"`
		Relations []any    `json:"relations"`
		Warnings  []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.JobIDs, 1)
	assert.Len(t, body.Entities, 1)
	assert.Len(t, body.Relations, 1)
	assert.Empty(t, body.Warnings)
	assert.Len(t, q.payloads, 1)
}

func TestIngest_MissingTenantIs400(t *testing.T) {
	h, _ := newTestHandler(t, &stubConn{})
	rec := do(h, http.MethodPost, "/api/memory/v1/ingest", `{"sensor_name":"doc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_UnknownCompanyIs404(t *testing.T) {
	h, _ := newTestHandler(t, &stubConn{})
	rec := do(h, http.MethodPost, "/api/memory/v1/ingest", `{"company_id":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetrieve_InfersLevelFromEntityIDs(t *testing.T) {
	conn := &stubConn{handler: func(q string, params map[string]any) []map[string]any {
		if strings.Contains(q, "FROM $id") {
			id, _ := params["id"].(string)
			return []map[string]any{{"id": id, "tenant_id": "t1", "entity_type": "person", "name": "Ada"}}
		}
		return nil
	}}
	h, _ := newTestHandler(t, conn)

	rec := do(h, http.MethodPost, "/api/memory/v1/retrieve",
		`{"tenant_id":"t1","entity_ids":["entity:1"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	entities, _ := body["entities"].([]any)
	assert.Len(t, entities, 1)
}

func TestRetrieve_ResolutionOutOfRangeIs400(t *testing.T) {
	h, _ := newTestHandler(t, &stubConn{})
	rec := do(h, http.MethodPost, "/api/memory/v1/retrieve", `{"tenant_id":"t1","resolution":9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS_AllowedOriginEchoed(t *testing.T) {
	h, _ := newTestHandler(t, &stubConn{})

	req := httptest.NewRequest(http.MethodOptions, "/api/memory/v1/company", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_UnknownOriginGetsNoHeader(t *testing.T) {
	h, _ := newTestHandler(t, &stubConn{})

	req := httptest.NewRequest(http.MethodGet, "/api/memory/v1/company", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
