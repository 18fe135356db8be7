package query

import (
	"strings"
	"testing"

	_ "github.com/memoryd/memoryd/internal/types"
)

func TestCombinedTieBreakOrdersSimilarityThenRelevance(t *testing.T) {
	res, err := NewCombined("artifact-chunk").
		Where("tenant_id", "t1").
		WithEmbeddingSimilarity([]float64{0.1, 0.2}).
		Search("hello world").
		BuildAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	simIdx := strings.Index(res.Main, "similarity_score DESC")
	relIdx := strings.Index(res.Main, "relevance_score DESC")
	if simIdx == -1 || relIdx == -1 || simIdx > relIdx {
		t.Fatalf("expected similarity_score DESC before relevance_score DESC in %q", res.Main)
	}
	if res.HasGraph {
		t.Fatalf("did not expect a graph component")
	}
}

func TestCombinedWithGraphReturnsBoth(t *testing.T) {
	g := NewGraph("entity", "relation").FromEntities([]string{"e1"}).DepthRange(1, 2).Limit(10)
	res, err := NewCombined("artifact-chunk").
		Where("tenant_id", "t1").
		WithGraph(g).
		BuildAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasGraph || res.Graph == "" {
		t.Fatalf("expected graph component to be built")
	}
}
