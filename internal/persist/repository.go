package persist

import (
	"context"
	"encoding/json"
	"time"

	"github.com/memoryd/memoryd/internal/apperr"
	"github.com/memoryd/memoryd/internal/db"
	"github.com/memoryd/memoryd/internal/model"
	"github.com/memoryd/memoryd/internal/query"
)

// Identifiable is implemented (by promotion) by every type embedding
// types.Record: the lifecycle accessors the repository needs to assign
// created_at/updated_at and the generated id.
type Identifiable interface {
	GetID() string
	SetID(string)
	GetCreatedAt() time.Time
	SetCreatedAt(time.Time)
	GetUpdatedAt() time.Time
	SetUpdatedAt(time.Time)
	GetIsDeleted() bool
	SetIsDeleted(bool)
}

// Row constrains a Repository's pointer type: it must be a pointer to T,
// implement Identifiable (via promoted Record accessors), and implement
// model.Record (TableName/Fields) for registry lookups.
type Row[T any] interface {
	*T
	Identifiable
	model.Record
}

// Repository is a generic record repository over any registered table
//: save, update, find_one, find_many, soft/hard delete.
type Repository[T any, PT Row[T]] struct {
	exec  *db.Executor
	table string
}

// NewRepository builds a repository for T, reading its table name from the
// zero value's TableName() method (no reflection over struct tags).
func NewRepository[T any, PT Row[T]](exec *db.Executor) *Repository[T, PT] {
	var zero T
	return &Repository[T, PT]{exec: exec, table: PT(&zero).TableName()}
}

func encode(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decode[T any, PT Row[T]](row map[string]any) (PT, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return PT(&out), nil
}

// Save assigns created_at only if absent and always refreshes updated_at,
// so a freshly created record has created_at == updated_at.
func (r *Repository[T, PT]) Save(ctx context.Context, rec PT) error {
	now := time.Now().UTC()
	creating := rec.GetID() == ""
	if rec.GetCreatedAt().IsZero() {
		rec.SetCreatedAt(now)
	}
	rec.SetUpdatedAt(now)
	if creating {
		rec.SetID(newID(r.table))
	}

	content, err := encode(rec)
	if err != nil {
		return err
	}
	delete(content, "id")

	verb := "UPDATE"
	if creating {
		verb = "CREATE"
	}
	sql := verb + " $id CONTENT $content"
	_, err = r.exec.Execute(ctx, sql, map[string]any{"id": rec.GetID(), "content": content})
	return err
}

// GetByID fetches a single record by its full "table:id" identifier.
// Soft-deleted records are invisible.
func (r *Repository[T, PT]) GetByID(ctx context.Context, id string) (PT, error) {
	rows, err := r.exec.Execute(ctx, "SELECT * FROM $id WHERE is_deleted = false", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &apperr.NotFound{Table: r.table, ID: id}
	}
	return decode[T, PT](rows[0])
}

// rawByID fetches the raw row map (used by Update to compute the diff of
// old values without round-tripping through the typed struct).
func (r *Repository[T, PT]) rawByID(ctx context.Context, id string) (map[string]any, error) {
	rows, err := r.exec.Execute(ctx, "SELECT * FROM $id WHERE is_deleted = false", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &apperr.NotFound{Table: r.table, ID: id}
	}
	return rows[0], nil
}

// buildFilterQuery applies scalar-equals/list-IN filters plus
// is_deleted=false unless the caller's filters already set is_deleted
// explicitly. Tenant scoping comes only from a tenant_id entry in filters.
func buildFilterQuery(table string, filters map[string]any) *query.Builder {
	b := query.New(table)
	if _, overridden := filters["is_deleted"]; !overridden {
		b.Where("is_deleted", false)
	}
	for field, value := range filters {
		if list, ok := toSlice(value); ok {
			b.WhereIn(field, list)
		} else {
			b.Where(field, value)
		}
	}
	return b
}

func toSlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// FindOne returns the first row matching filters, or (nil, nil) if none.
func (r *Repository[T, PT]) FindOne(ctx context.Context, filters map[string]any) (PT, error) {
	b := buildFilterQuery(r.table, filters).Limit(1)
	sql, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	rows, err := r.exec.Execute(ctx, sql, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return decode[T, PT](rows[0])
}

// FindMany returns up to limit rows matching filters, skipping the first
// skip matches.
func (r *Repository[T, PT]) FindMany(ctx context.Context, skip, limit int, filters map[string]any) ([]PT, error) {
	b := buildFilterQuery(r.table, filters).Skip(skip).Limit(limit)
	sql, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	rows, err := r.exec.Execute(ctx, sql, params)
	if err != nil {
		return nil, err
	}
	out := make([]PT, 0, len(rows))
	for _, row := range rows {
		rec, err := decode[T, PT](row)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Update merges fields into the record at id, always refreshing updated_at,
// and returns the old values of the fields that actually changed plus the
// new updated_at.
func (r *Repository[T, PT]) Update(ctx context.Context, id string, fields map[string]any) (map[string]any, error) {
	existing, err := r.rawByID(ctx, id)
	if err != nil {
		return nil, err
	}

	old := map[string]any{}
	merge := map[string]any{}
	for k, v := range fields {
		if k == "id" || k == "created_at" || k == "tenant_id" {
			continue // immutable fields are never part of an update diff
		}
		prevRaw, _ := json.Marshal(existing[k])
		nextRaw, _ := json.Marshal(v)
		if string(prevRaw) != string(nextRaw) {
			old[k] = existing[k]
			merge[k] = v
		}
	}

	now := time.Now().UTC()
	merge["updated_at"] = now
	old["updated_at"] = now

	sql := "UPDATE $id MERGE $content"
	if _, err := r.exec.Execute(ctx, sql, map[string]any{"id": id, "content": merge}); err != nil {
		return nil, err
	}
	return old, nil
}

// Delete removes the record at id. soft=true (the default used by ingest
// and retrieval) is equivalent to Update(is_deleted=true); soft=false
// issues a hard DELETE, supported but unused by ingest/retrieval.
func (r *Repository[T, PT]) Delete(ctx context.Context, id string, soft bool) error {
	if soft {
		_, err := r.Update(ctx, id, map[string]any{"is_deleted": true})
		return err
	}
	_, err := r.exec.Execute(ctx, "DELETE $id", map[string]any{"id": id})
	return err
}

// Table returns the repository's backing table name.
func (r *Repository[T, PT]) Table() string { return r.table }
