// Package query implements the safe, parameterized query builder and its
// specialized (vector, fulltext, graph, combined) variants. Every
// user-supplied value becomes a bound parameter named $param_N; field and
// operator names are validated against a registry-derived whitelist.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/memoryd/memoryd/internal/model"
)

var tableNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
var looseFieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Op is one of the whitelisted comparison operators.
type Op string

const (
	Eq       Op = "="
	Neq      Op = "!="
	Gt       Op = ">"
	Lt       Op = "<"
	Gte      Op = ">="
	Lte      Op = "<="
	In       Op = "IN"
	NotIn    Op = "NOT IN"
	Ascending  = "ASC"
	Descending = "DESC"
)

var validOps = map[Op]bool{Eq: true, Neq: true, Gt: true, Lt: true, Gte: true, Lte: true, In: true, NotIn: true}

type orderClause struct {
	field string
	dir   string
}

// Builder is the fluent base query builder. Zero value is not usable; call
// New.
type Builder struct {
	table       string
	selected    []string
	projections []string
	wheres      []string
	order       []orderClause
	limitN      *int
	skipN       *int
	params      map[string]any
	seq         int
	warnings    []string
	err         error
}

// New starts a builder against table, validating its shape immediately:
// it must match ^[a-zA-Z0-9_-]+$.
func New(table string) *Builder {
	b := &Builder{table: table, params: map[string]any{}}
	if !tableNameRe.MatchString(table) {
		b.err = unsafeIdentifierf("table name %q does not match ^[a-zA-Z0-9_-]+$", table)
		return b
	}
	if !model.IsRegisteredTable(table) {
		b.warnings = append(b.warnings, fmt.Sprintf("table %q is not registered", table))
	}
	return b
}

// Warnings returns non-fatal validation warnings accumulated so far.
func (b *Builder) Warnings() []string { return b.warnings }

// Err returns the first validation error encountered, if any.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// validateField checks field against the registry whitelist for b.table,
// falling back to the loose identifier pattern with a warning.
func (b *Builder) validateField(field string) bool {
	if _, ok := model.FieldByName(b.table, field); ok {
		return true
	}
	allowed := model.AllowedFields()
	if _, ok := allowed[field]; ok {
		return true
	}
	if looseFieldRe.MatchString(field) {
		b.warnings = append(b.warnings, fmt.Sprintf("field %q is not in the registry whitelist", field))
		return true
	}
	return false
}

func (b *Builder) bind(value any) string {
	b.seq++
	name := fmt.Sprintf("param_%d", b.seq)
	b.params[name] = value
	return "$" + name
}

// Select restricts the projected fields. Called with no args, Build emits
// `SELECT *`.
func (b *Builder) Select(fields ...string) *Builder {
	for _, f := range fields {
		if !b.validateField(f) {
			return b.fail(unsafeIdentifierf("unknown select field %q", f))
		}
	}
	b.selected = append(b.selected, fields...)
	return b
}

// Where appends a `field op $paramN` predicate. op defaults to "=" when
// omitted. IN/NOT IN require a slice value, expanded into one placeholder
// per element — never interpolated.
func (b *Builder) Where(field string, value any, op ...Op) *Builder {
	operator := Eq
	if len(op) > 0 {
		operator = op[0]
	}
	if !validOps[operator] {
		return b.fail(unsafeIdentifierf("unknown operator %q", operator))
	}
	if !b.validateField(field) {
		return b.fail(unsafeIdentifierf("unknown field %q", field))
	}
	if operator == In || operator == NotIn {
		return b.whereInOp(field, value, operator)
	}
	b.wheres = append(b.wheres, fmt.Sprintf("%s %s %s", field, operator, b.bind(value)))
	return b
}

func toSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = x
		}
		return out, true
	case []int:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = x
		}
		return out, true
	default:
		return nil, false
	}
}

func (b *Builder) whereInOp(field string, value any, operator Op) *Builder {
	items, ok := toSlice(value)
	if !ok {
		return b.fail(&TypeMismatch{Reason: fmt.Sprintf("%s requires a list value for field %q", operator, field)})
	}
	if len(items) == 0 {
		return b.fail(&TypeMismatch{Reason: fmt.Sprintf("%s requires a non-empty list for field %q", operator, field)})
	}
	placeholders := make([]string, len(items))
	for i, it := range items {
		placeholders[i] = b.bind(it)
	}
	b.wheres = append(b.wheres, fmt.Sprintf("%s %s (%s)", field, operator, strings.Join(placeholders, ", ")))
	return b
}

// WhereIn is sugar for Where(field, values, In).
func (b *Builder) WhereIn(field string, values any) *Builder { return b.Where(field, values, In) }

// WhereNotIn is sugar for Where(field, values, NotIn).
func (b *Builder) WhereNotIn(field string, values any) *Builder {
	return b.Where(field, values, NotIn)
}

// WhereIsNone appends `field = NONE`.
func (b *Builder) WhereIsNone(field string) *Builder {
	if !b.validateField(field) {
		return b.fail(unsafeIdentifierf("unknown field %q", field))
	}
	b.wheres = append(b.wheres, field+" = NONE")
	return b
}

// WhereIsNotNone appends `field != NONE`.
func (b *Builder) WhereIsNotNone(field string) *Builder {
	if !b.validateField(field) {
		return b.fail(unsafeIdentifierf("unknown field %q", field))
	}
	b.wheres = append(b.wheres, field+" != NONE")
	return b
}

// rawWhere appends a pre-built predicate (used by specialized builders that
// need predicates outside the field/op vocabulary, e.g. `text @@ $text`).
func (b *Builder) rawWhere(predicate string) { b.wheres = append(b.wheres, predicate) }

// addProjection appends an extra SELECT expression (e.g. `cosine(embedding,
// $vec) AS similarity_score`) alongside the selected fields.
func (b *Builder) addProjection(expr string) { b.projections = append(b.projections, expr) }

// OrderBy appends an ORDER BY term; dir must be ASC or DESC.
func (b *Builder) OrderBy(field, dir string) *Builder {
	if !b.validateField(field) {
		return b.fail(unsafeIdentifierf("unknown order field %q", field))
	}
	d := strings.ToUpper(dir)
	if d != Ascending && d != Descending {
		return b.fail(unsafeIdentifierf("order direction must be ASC or DESC, got %q", dir))
	}
	b.order = append(b.order, orderClause{field: field, dir: d})
	return b
}

// Limit sets LIMIT n; n must be >= 0.
func (b *Builder) Limit(n int) *Builder {
	if n < 0 {
		return b.fail(&BadRange{Reason: "limit must be >= 0"})
	}
	b.limitN = &n
	return b
}

// Skip sets START n; n must be >= 0.
func (b *Builder) Skip(n int) *Builder {
	if n < 0 {
		return b.fail(&BadRange{Reason: "skip must be >= 0"})
	}
	b.skipN = &n
	return b
}

// Build renders the single-line query string and its bound parameters.
// Clause order: SELECT, FROM, WHERE (AND-joined), ORDER BY, START, LIMIT.
func (b *Builder) Build() (string, map[string]any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	var sb strings.Builder
	fields := "*"
	if len(b.selected) > 0 {
		fields = strings.Join(b.selected, ", ")
	}
	if len(b.projections) > 0 {
		fields = fields + ", " + strings.Join(b.projections, ", ")
	}
	fmt.Fprintf(&sb, "SELECT %s FROM %s", fields, b.table)
	if len(b.wheres) > 0 {
		fmt.Fprintf(&sb, " WHERE %s", strings.Join(b.wheres, " AND "))
	}
	if len(b.order) > 0 {
		terms := make([]string, len(b.order))
		for i, o := range b.order {
			terms[i] = o.field + " " + o.dir
		}
		fmt.Fprintf(&sb, " ORDER BY %s", strings.Join(terms, ", "))
	}
	if b.skipN != nil {
		fmt.Fprintf(&sb, " START %d", *b.skipN)
	}
	if b.limitN != nil {
		fmt.Fprintf(&sb, " LIMIT %d", *b.limitN)
	}
	return sb.String(), b.params, nil
}

// Table returns the builder's target table.
func (b *Builder) Table() string { return b.table }

// WhereCount returns the number of WHERE predicates accumulated so far.
func (b *Builder) WhereCount() int { return len(b.wheres) }

// HasOrder reports whether an explicit ORDER BY has been set.
func (b *Builder) HasOrder() bool { return len(b.order) > 0 }

// nextParamName exposes the bind helper to specialized builders embedding
// *Builder so they can inject projections referencing the same param.
func (b *Builder) nextParamName(value any) string { return b.bind(value) }
