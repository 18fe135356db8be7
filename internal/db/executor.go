package db

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/memoryd/memoryd/internal/debugmode"
	"github.com/memoryd/memoryd/internal/query"
	"github.com/memoryd/memoryd/internal/telemetry"
)

// Executor binds parameters, dispatches to the underlying Conn, measures
// latency, and classifies slow queries.
type Executor struct {
	conn Conn
}

// NewExecutor wraps a Conn.
func NewExecutor(conn Conn) *Executor { return &Executor{conn: conn} }

var (
	vectorRe   = regexp.MustCompile(`(?i)cosine\(`)
	fulltextRe = regexp.MustCompile(`(?i)@@`)
	graphRe    = regexp.MustCompile(`(?i)UNION ALL|AS distance`)
)

// classify picks a query kind by regex on the SQL text, same precedence
// order used by the high-level helpers below.
func classify(sql string) string {
	isVector := vectorRe.MatchString(sql)
	isFulltext := fulltextRe.MatchString(sql)
	isGraph := graphRe.MatchString(sql)
	switch {
	case isGraph:
		return "graph"
	case isVector && isFulltext:
		return "combined"
	case isVector:
		return "vector"
	case isFulltext:
		return "fulltext"
	default:
		return "exact_match"
	}
}

const slowQueryThreshold = time.Second

// Execute runs sql with params, logging classification at DEBUG and a WARN
// line for queries over 1s. Rethrows driver errors after logging a
// ≤200-char query prefix.
func (e *Executor) Execute(ctx context.Context, sql string, params map[string]any) ([]map[string]any, error) {
	kind := classify(sql)
	start := time.Now()
	rows, err := e.conn.Query(ctx, sql, params)
	elapsed := time.Since(start)
	telemetry.RecordQuery(ctx, kind, elapsed)

	debugmode.Logf("query[%s] %s (%s)\n", kind, prefix(sql, 200), elapsed)
	if elapsed > slowQueryThreshold {
		fmt.Printf("WARN slow query (%s) kind=%s sql=%s\n", elapsed, kind, prefix(sql, 200))
	}
	if err != nil {
		fmt.Printf("ERROR query failed kind=%s sql=%s err=%v\n", kind, prefix(sql, 200), err)
		return nil, err
	}
	return rows, nil
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// tenantFilter appends the mandatory tenant_id + is_deleted=false pair that
// every high-level executor helper enforces.
func tenantFilter(b *query.Builder, tenantID string) *query.Builder {
	return b.Where("tenant_id", tenantID).Where("is_deleted", false)
}

// ExecuteExactMatch builds `table WHERE tenant_id=.. AND is_deleted=false
// AND <extra filters>` and executes it.
func (e *Executor) ExecuteExactMatch(ctx context.Context, table, tenantID string, filters map[string]any) ([]map[string]any, error) {
	b := query.New(table)
	tenantFilter(b, tenantID)
	for field, value := range filters {
		if list, ok := toFilterSlice(value); ok {
			b.WhereIn(field, list)
		} else {
			b.Where(field, value)
		}
	}
	sql, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, sql, params)
}

func toFilterSlice(v any) ([]any, bool) {
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

// ExecuteFulltext builds and executes a fulltext search over table
// (auto-detected when empty), scoped to the tenant.
func (e *Executor) ExecuteFulltext(ctx context.Context, table, tenantID, text string) ([]map[string]any, error) {
	b := query.NewFulltext(table)
	tenantFilter(b.Builder, tenantID)
	b.Search(text)
	sql, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, sql, params)
}

// ExecuteVector builds and executes a vector-similarity search over table
// (auto-detected when empty), scoped to the tenant.
func (e *Executor) ExecuteVector(ctx context.Context, table, tenantID string, vec []float64) ([]map[string]any, error) {
	b := query.NewVector(table)
	tenantFilter(b.Builder, tenantID)
	b.WhereIsNotNone(b.VectorField())
	b.WithEmbeddingSimilarity(vec)
	sql, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, sql, params)
}

// ExecuteGraph builds and executes a bounded-depth graph traversal.
func (e *Executor) ExecuteGraph(ctx context.Context, node, edge string, fromIDs []string, minDepth, maxDepth, limit int) ([]map[string]any, error) {
	g := query.NewGraph(node, edge).FromEntities(fromIDs).DepthRange(minDepth, maxDepth).Limit(limit)
	sql, params, err := g.Build()
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, sql, params)
}

// CombinedResult is the row-level result of ExecuteCombined.
type CombinedResult struct {
	MainRows  []map[string]any
	GraphRows []map[string]any
}

// ExecuteCombined builds and executes a fused scalar+fulltext+vector
// query, plus a separate graph query when g is non-nil.
func (e *Executor) ExecuteCombined(ctx context.Context, table, tenantID string, configure func(*query.CombinedBuilder), g *query.GraphBuilder) (CombinedResult, error) {
	b := query.NewCombined(table)
	tenantFilter(b.Builder, tenantID)
	if configure != nil {
		configure(b)
	}
	if g != nil {
		b.WithGraph(g)
	}
	res, err := b.BuildAll()
	if err != nil {
		return CombinedResult{}, err
	}
	mainRows, err := e.Execute(ctx, res.Main, res.MainParams)
	if err != nil {
		return CombinedResult{}, err
	}
	out := CombinedResult{MainRows: mainRows}
	if res.HasGraph {
		graphRows, err := e.Execute(ctx, res.Graph, res.GraphParams)
		if err != nil {
			return CombinedResult{}, err
		}
		out.GraphRows = graphRows
	}
	return out, nil
}
