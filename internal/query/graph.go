package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/memoryd/memoryd/internal/model"
)

var sqlKeywordRe = regexp.MustCompile(`(?i)SELECT|DROP|DELETE|INSERT|UPDATE`)

const maxStartIDs = 20

// GraphBuilder generates one SELECT per traversal depth and joins them with
// UNION ALL — a code generator over the store's repeated `->edge->node`
// traversal syntax rather than a variable-depth recursive form.
type GraphBuilder struct {
	node, edge string
	fromParam  string
	toParam    string
	edgeWheres []string
	minDepth   int
	maxDepth   int
	orderDist  bool
	limitN     int
	limitSet   bool
	params     map[string]any
	seq        int
	warnings   []string
	err        error
}

// NewGraph starts a graph traversal builder. Pass node="" and edge="" to
// auto-detect both from registry metadata.
func NewGraph(node, edge string) *GraphBuilder {
	g := &GraphBuilder{params: map[string]any{}}
	if node == "" && edge == "" {
		n, e, ok := model.GraphTables()
		if !ok {
			g.err = unsafeIdentifierf("no unambiguous graph node/edge table pair registered")
			return g
		}
		node, edge = n, e
	}
	if !model.IsRegisteredTable(node) {
		g.warnings = append(g.warnings, fmt.Sprintf("graph node table %q is not registered", node))
	}
	if !model.IsRegisteredTable(edge) {
		g.warnings = append(g.warnings, fmt.Sprintf("graph edge table %q is not registered", edge))
	}
	g.node, g.edge = node, edge
	return g
}

func (g *GraphBuilder) fail(err error) *GraphBuilder {
	if g.err == nil {
		g.err = err
	}
	return g
}

func (g *GraphBuilder) bind(value any) string {
	g.seq++
	name := fmt.Sprintf("param_%d", g.seq)
	g.params[name] = value
	return "$" + name
}

// FromEntities sets the traversal seed ids. The list is truncated to 20 and
// each id is dropped (with a warning) if it contains a SQL keyword.
func (g *GraphBuilder) FromEntities(ids []string) *GraphBuilder {
	clean := g.sanitizeIDs(ids)
	if len(clean) == 0 {
		return g.fail(unsafeIdentifierf("from_entities must resolve to at least one safe id"))
	}
	values := make([]any, len(clean))
	for i, id := range clean {
		values[i] = id
	}
	g.fromParam = g.bind(values)
	return g
}

// ToEntities optionally restricts traversal results to the given endpoint
// ids, same sanitation rules as FromEntities.
func (g *GraphBuilder) ToEntities(ids []string) *GraphBuilder {
	clean := g.sanitizeIDs(ids)
	if len(clean) == 0 {
		return g
	}
	values := make([]any, len(clean))
	for i, id := range clean {
		values[i] = id
	}
	g.toParam = g.bind(values)
	return g
}

func (g *GraphBuilder) sanitizeIDs(ids []string) []string {
	if len(ids) > maxStartIDs {
		g.warnings = append(g.warnings, fmt.Sprintf("truncating %d starting ids to %d", len(ids), maxStartIDs))
		ids = ids[:maxStartIDs]
	}
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if sqlKeywordRe.MatchString(id) {
			g.warnings = append(g.warnings, fmt.Sprintf("dropping suspicious starting id %q", id))
			continue
		}
		clean = append(clean, id)
	}
	return clean
}

// DepthRange sets the inclusive traversal depth bounds; 1 <= min <= max <= 10.
func (g *GraphBuilder) DepthRange(min, max int) *GraphBuilder {
	if min < 1 || max > 10 || min > max {
		return g.fail(&BadRange{Reason: fmt.Sprintf("depth range must satisfy 1 <= min <= max <= 10, got [%d,%d]", min, max)})
	}
	g.minDepth, g.maxDepth = min, max
	return g
}

// Where appends an edge-field predicate. The field is accepted if the edge
// table registers it, if any registered table does, or if it matches the
// loose field-name pattern; otherwise the builder fails.
func (g *GraphBuilder) Where(field string, value any, op ...Op) *GraphBuilder {
	operator := Eq
	if len(op) > 0 {
		operator = op[0]
	}
	if !validOps[operator] {
		return g.fail(unsafeIdentifierf("unknown operator %q", operator))
	}
	if _, ok := model.FieldByName(g.edge, field); !ok {
		allowed := model.AllowedFields()
		if _, ok := allowed[field]; !ok && !looseFieldRe.MatchString(field) {
			return g.fail(unsafeIdentifierf("unknown edge field %q", field))
		}
	}
	g.edgeWheres = append(g.edgeWheres, fmt.Sprintf("%s %s %s", field, operator, g.bind(value)))
	return g
}

// OrderByDistance appends ORDER BY distance ASC to the unioned result.
func (g *GraphBuilder) OrderByDistance() *GraphBuilder {
	g.orderDist = true
	return g
}

// Limit sets the mandatory LIMIT on the unioned result.
func (g *GraphBuilder) Limit(n int) *GraphBuilder {
	if n < 0 {
		return g.fail(&BadRange{Reason: "limit must be >= 0"})
	}
	g.limitN, g.limitSet = n, true
	return g
}

func (g *GraphBuilder) edgeExpr() string {
	if len(g.edgeWheres) == 0 {
		return g.edge
	}
	return fmt.Sprintf("(%s WHERE %s)", g.edge, strings.Join(g.edgeWheres, " AND "))
}

func (g *GraphBuilder) clauseForDepth(d int) string {
	hop := "->" + g.edgeExpr() + "->" + g.node
	path := strings.Repeat(hop, d)
	clause := fmt.Sprintf("SELECT *, %d AS distance FROM %s WHERE id IN %s%s", d, g.node, g.fromParam, path)
	if g.toParam != "" {
		clause = fmt.Sprintf("SELECT * FROM (%s) WHERE id IN %s", clause, g.toParam)
	}
	return clause
}

// Warnings returns non-fatal validation warnings.
func (g *GraphBuilder) Warnings() []string { return g.warnings }

// Err returns the first validation error, if any.
func (g *GraphBuilder) Err() error { return g.err }

// Build emits one SELECT per depth in [min,max], UNION ALL-joined, always
// terminated by a parameterized LIMIT.
func (g *GraphBuilder) Build() (string, map[string]any, error) {
	if g.err != nil {
		return "", nil, g.err
	}
	if g.fromParam == "" {
		return "", nil, unsafeIdentifierf("from_entities is required")
	}
	if g.minDepth == 0 {
		return "", nil, unsafeIdentifierf("depth_range is required")
	}
	if !g.limitSet {
		return "", nil, unsafeIdentifierf("limit is required for graph queries")
	}
	clauses := make([]string, 0, g.maxDepth-g.minDepth+1)
	for d := g.minDepth; d <= g.maxDepth; d++ {
		clauses = append(clauses, g.clauseForDepth(d))
	}
	sql := strings.Join(clauses, " UNION ALL ")
	if g.orderDist {
		sql += " ORDER BY distance ASC"
	}
	limitParam := g.bind(g.limitN)
	sql += fmt.Sprintf(" LIMIT %s", limitParam)
	return sql, g.params, nil
}
