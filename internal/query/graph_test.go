package query

import (
	"strings"
	"testing"

	_ "github.com/memoryd/memoryd/internal/types"
)

func TestGraphDepthOneIsSingleSelectNoUnion(t *testing.T) {
	sql, _, err := NewGraph("entity", "relation").
		FromEntities([]string{"e1"}).
		DepthRange(1, 1).
		Limit(50).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(sql, "UNION ALL") {
		t.Fatalf("expected no UNION ALL for depth 1..1, got %q", sql)
	}
	if strings.Count(sql, "SELECT") != 1 {
		t.Fatalf("expected exactly 1 SELECT, got %q", sql)
	}
}

func TestGraphDepthRangeEmitsBMinusAPlusOneClauses(t *testing.T) {
	sql, _, err := NewGraph("entity", "relation").
		FromEntities([]string{"e1", "e2"}).
		DepthRange(2, 4).
		OrderByDistance().
		Limit(50).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Count(sql, "UNION ALL"); got != 2 {
		t.Fatalf("expected 2 UNION ALL joins for depth 2..4 (3 clauses), got %d in %q", got, sql)
	}
	for _, d := range []string{"2 AS distance", "3 AS distance", "4 AS distance"} {
		if !strings.Contains(sql, d) {
			t.Fatalf("expected clause %q in %q", d, sql)
		}
	}
	if orderAt := strings.Index(sql, "ORDER BY distance ASC"); orderAt == -1 || orderAt > strings.LastIndex(sql, " LIMIT $param_") {
		t.Fatalf("expected ORDER BY distance ASC before LIMIT in %q", sql)
	}
}

func TestGraphStartIDsTruncatedAndSanitized(t *testing.T) {
	ids := make([]string, 25)
	for i := range ids {
		ids[i] = "id"
	}
	ids[0] = "id1; SELECT * FROM secrets"
	g := NewGraph("entity", "relation").FromEntities(ids).DepthRange(1, 1).Limit(10)
	sql, params, err := g.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var idList []any
	for _, v := range params {
		if list, ok := v.([]any); ok && len(list) > 1 {
			idList = list
		}
	}
	if len(idList) != 19 {
		t.Fatalf("expected 20 ids truncated then 1 dropped for sql keyword = 19, got %d", len(idList))
	}
	if len(g.Warnings()) == 0 {
		t.Fatalf("expected warnings for truncation and suspicious id")
	}
	_ = sql
}

func TestGraphRequiresLimit(t *testing.T) {
	_, _, err := NewGraph("entity", "relation").FromEntities([]string{"e1"}).DepthRange(1, 1).Build()
	if err == nil {
		t.Fatalf("expected error when limit is not set")
	}
}
