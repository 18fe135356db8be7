package persist

import (
	"context"
	"time"

	"github.com/memoryd/memoryd/internal/apperr"
	"github.com/memoryd/memoryd/internal/db"
	"github.com/memoryd/memoryd/internal/types"
)

// EdgeRepository specializes Relation persistence: edges are created via
// RELATE rather than CREATE, and the store-level out/in fields are
// translated to/from the API-facing source_id/target_id at this boundary
// and never leaked above it.
type EdgeRepository struct {
	exec *db.Executor
}

// NewEdgeRepository builds a Relation edge repository.
func NewEdgeRepository(exec *db.Executor) *EdgeRepository {
	return &EdgeRepository{exec: exec}
}

// Relate creates the edge `$source -> relation -> $target SET ...` and
// re-reads it to obtain the generated id. RELATE returns no usable id
// through the row-map path, hence the two-step contract.
func (r *EdgeRepository) Relate(ctx context.Context, rel *types.Relation) (*types.Relation, error) {
	now := time.Now().UTC()
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}
	rel.UpdatedAt = now
	if rel.Confidence == 0 {
		rel.Confidence = 1.0
	}

	content, err := encode(rel)
	if err != nil {
		return nil, err
	}
	for _, k := range []string{"id", "source_id", "target_id", "tenant_id"} {
		delete(content, k)
	}

	sql := "RELATE $source -> relation -> $target SET " + relateSetClause()
	params := map[string]any{
		"source":        rel.SourceID,
		"target":        rel.TargetID,
		"tenant_id":     rel.TenantID,
		"relation_type": rel.RelationType,
		"confidence":    rel.Confidence,
		"data":          rel.Data,
		"meta_data":     rel.MetaData,
		"is_deleted":    rel.IsDeleted,
		"created_at":    rel.CreatedAt,
		"updated_at":    rel.UpdatedAt,
	}
	if _, err := r.exec.Execute(ctx, sql, params); err != nil {
		return nil, err
	}

	return r.FindOne(ctx, rel.TenantID, rel.SourceID, rel.TargetID, rel.RelationType)
}

func relateSetClause() string {
	return "tenant_id = $tenant_id, relation_type = $relation_type, confidence = $confidence, " +
		"data = $data, meta_data = $meta_data, is_deleted = $is_deleted, " +
		"created_at = $created_at, updated_at = $updated_at"
}

// FindOne re-reads the edge via out/in, translating back to source_id/
// target_id at this boundary.
func (r *EdgeRepository) FindOne(ctx context.Context, tenantID, sourceID, targetID, relationType string) (*types.Relation, error) {
	sql := "SELECT * FROM relation WHERE out = $source AND in = $target " +
		"AND relation_type = $relation_type AND tenant_id = $tenant_id AND is_deleted = false LIMIT 1"
	params := map[string]any{
		"source":        sourceID,
		"target":        targetID,
		"relation_type": relationType,
		"tenant_id":     tenantID,
	}
	rows, err := r.exec.Execute(ctx, sql, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &apperr.NotFound{Table: "relation"}
	}
	return decodeEdgeRow(rows[0])
}

// FindMany lists edges for a tenant, optionally filtered by source/target
// endpoint, translating out/in to source_id/target_id in both directions.
func (r *EdgeRepository) FindMany(ctx context.Context, tenantID string, sourceID, targetID string, skip, limit int) ([]*types.Relation, error) {
	sql := "SELECT * FROM relation WHERE tenant_id = $tenant_id AND is_deleted = false"
	params := map[string]any{"tenant_id": tenantID}
	if sourceID != "" {
		sql += " AND out = $source"
		params["source"] = sourceID
	}
	if targetID != "" {
		sql += " AND in = $target"
		params["target"] = targetID
	}
	sql += " START $skip LIMIT $limit"
	params["skip"] = skip
	params["limit"] = limit

	rows, err := r.exec.Execute(ctx, sql, params)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Relation, 0, len(rows))
	for _, row := range rows {
		rel, err := decodeEdgeRow(row)
		if err != nil {
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

// decodeEdgeRow maps the store's out/in fields to source_id/target_id
// before decoding into a Relation.
func decodeEdgeRow(row map[string]any) (*types.Relation, error) {
	translated := make(map[string]any, len(row)+2)
	for k, v := range row {
		translated[k] = v
	}
	if out, ok := translated["out"]; ok {
		translated["source_id"] = out
		delete(translated, "out")
	}
	if in, ok := translated["in"]; ok {
		translated["target_id"] = in
		delete(translated, "in")
	}
	return decode[types.Relation, *types.Relation](translated)
}

// Delete soft-deletes (or hard-deletes) an edge by id.
func (r *EdgeRepository) Delete(ctx context.Context, id string, soft bool) error {
	if soft {
		_, err := r.exec.Execute(ctx, "UPDATE $id MERGE { is_deleted: true, updated_at: $now }", map[string]any{
			"id": id, "now": time.Now().UTC(),
		})
		return err
	}
	_, err := r.exec.Execute(ctx, "DELETE $id", map[string]any{"id": id})
	return err
}
