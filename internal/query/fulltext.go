package query

import (
	"fmt"

	"github.com/memoryd/memoryd/internal/model"
)

// FulltextBuilder auto-selects the table with a fulltext-indexed field.
// Search prepends a `<field> @@ $text` predicate and projects
// `search::score(0) AS relevance_score`.
type FulltextBuilder struct {
	*Builder
	field string
}

// NewFulltext starts a fulltext query. Pass table="" to auto-select.
func NewFulltext(table string) *FulltextBuilder {
	field := ""
	if table == "" {
		t, f, ok := model.FulltextTable()
		if !ok {
			b := &Builder{err: unsafeIdentifierf("no unambiguous fulltext table registered; pass an explicit table")}
			return &FulltextBuilder{Builder: b}
		}
		table, field = t, f
	} else {
		reg, ok := model.Lookup(table)
		if !ok {
			b := New(table)
			b.fail(unsafeIdentifierf("table %q is not registered", table))
			return &FulltextBuilder{Builder: b}
		}
		found := false
		for _, f := range reg.Fields {
			if f.IsFulltextField {
				field, found = f.Name, true
				break
			}
		}
		if !found {
			b := New(table)
			b.fail(unsafeIdentifierf("table %q declares no fulltext field", table))
			return &FulltextBuilder{Builder: b}
		}
	}
	return &FulltextBuilder{Builder: New(table), field: field}
}

// Search prepends the `@@` match predicate and the relevance projection.
func (f *FulltextBuilder) Search(text string) *FulltextBuilder {
	if f.Err() != nil {
		return f
	}
	param := f.nextParamName(text)
	f.rawWhere(fmt.Sprintf("%s @@ %s", f.field, param))
	f.addProjection("search::score(0) AS relevance_score")
	return f
}

// Field returns the auto-detected or explicit fulltext field name.
func (f *FulltextBuilder) Field() string { return f.field }

// Build defaults ORDER BY relevance_score DESC when no explicit order has
// been set.
func (f *FulltextBuilder) Build() (string, map[string]any, error) {
	if f.Err() == nil && !f.HasOrder() {
		f.OrderBy("relevance_score", Descending)
	}
	return f.Builder.Build()
}
