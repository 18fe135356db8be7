package query

import (
	"fmt"

	"github.com/memoryd/memoryd/internal/model"
)

// VectorBuilder auto-selects the table whose registry metadata declares a
// vector field (fails if none/ambiguous unless an explicit table is given)
// and projects a cosine-similarity score.
type VectorBuilder struct {
	*Builder
	vectorField string
}

// NewVector starts a vector query. Pass table="" to auto-select the sole
// table with a vector field.
func NewVector(table string) *VectorBuilder {
	field := ""
	if table == "" {
		t, f, ok := model.VectorTable()
		if !ok {
			b := &Builder{err: unsafeIdentifierf("no unambiguous vector table registered; pass an explicit table")}
			return &VectorBuilder{Builder: b}
		}
		table, field = t, f
	} else {
		_, f, ok := tableVectorField(table)
		if !ok {
			b := New(table)
			b.fail(unsafeIdentifierf("table %q declares no vector field", table))
			return &VectorBuilder{Builder: b}
		}
		field = f
	}
	return &VectorBuilder{Builder: New(table), vectorField: field}
}

func tableVectorField(table string) (string, string, bool) {
	reg, ok := model.Lookup(table)
	if !ok {
		return "", "", false
	}
	for _, f := range reg.Fields {
		if f.IsVectorField {
			return table, f.Name, true
		}
	}
	return "", "", false
}

// WithEmbeddingSimilarity binds the query vector and projects
// `cosine(<vector_field>, $vec) AS similarity_score`.
func (v *VectorBuilder) WithEmbeddingSimilarity(vec []float64) *VectorBuilder {
	if v.Err() != nil {
		return v
	}
	values := make([]any, len(vec))
	for i, x := range vec {
		values[i] = x
	}
	param := v.nextParamName(values)
	v.addProjection(fmt.Sprintf("cosine(%s, %s) AS similarity_score", v.vectorField, param))
	return v
}

// VectorField returns the auto-detected or explicit vector field name.
func (v *VectorBuilder) VectorField() string { return v.vectorField }

// Build defaults ORDER BY similarity_score DESC when no explicit order has
// been set.
func (v *VectorBuilder) Build() (string, map[string]any, error) {
	if v.Err() == nil && !v.HasOrder() {
		v.OrderBy("similarity_score", Descending)
	}
	return v.Builder.Build()
}
