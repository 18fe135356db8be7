// Package retriever implements the RAG-style retrieval building blocks:
// exact-match, full-text, vector, and graph strategies sharing one
// contract, plus a hybrid retriever that runs several and merges their
// results. Every strategy degrades to empty output on driver failure
// rather than propagating.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/memoryd/memoryd/internal/db"
	"github.com/memoryd/memoryd/internal/debugmode"
	"github.com/memoryd/memoryd/internal/persist"
	"github.com/memoryd/memoryd/internal/query"
)

// Doc is the common retrieval unit, mirroring a LangChain-style document:
// the text a downstream prompt consumes plus the row it came from.
type Doc struct {
	PageContent string
	MetaData    map[string]any
}

// Retriever is the common contract every strategy implements:
// relevant_documents(query) -> Doc[].
type Retriever interface {
	RelevantDocuments(ctx context.Context, query string) ([]Doc, error)
}

// Embedder is the slice of *llm.Client the vector retriever depends on.
type Embedder interface {
	EmbedBatch(ctx context.Context, model string, inputs []string) ([][]float64, error)
}

func rowToDoc(row map[string]any, contentField string) Doc {
	content := ""
	if v, ok := row[contentField]; ok && v != nil {
		if s, ok := v.(string); ok {
			content = s
		} else {
			content = fmt.Sprintf("%v", v)
		}
	}
	return Doc{PageContent: content, MetaData: row}
}

// ExactMatchRetriever wraps execute_exact_match against one of
// {entity, artifact, artifact-chunk}.
type ExactMatchRetriever struct {
	exec         *db.Executor
	table        string
	tenantID     string
	contentField string
	filters      map[string]any
}

// NewExactMatch builds an exact-match retriever over table, scoped to
// tenantID, applying filters as scalar-equals/IN predicates.
func NewExactMatch(exec *db.Executor, table, tenantID, contentField string, filters map[string]any) *ExactMatchRetriever {
	return &ExactMatchRetriever{exec: exec, table: table, tenantID: tenantID, contentField: contentField, filters: filters}
}

// RelevantDocuments ignores query; exact-match is filter-driven, not
// text-driven. Query errors are swallowed.
func (r *ExactMatchRetriever) RelevantDocuments(ctx context.Context, _ string) ([]Doc, error) {
	rows, err := r.exec.ExecuteExactMatch(ctx, r.table, r.tenantID, r.filters)
	if err != nil {
		debugmode.Logf("retriever: exact_match(%s) failed: %v", r.table, err)
		return nil, nil
	}
	docs := make([]Doc, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, rowToDoc(row, r.contentField))
	}
	return docs, nil
}

// FulltextRetriever wraps execute_fulltext, falling back to a
// case-insensitive LIKE-scan when the driver call fails.
type FulltextRetriever struct {
	exec         *db.Executor
	table        string
	tenantID     string
	contentField string
}

func NewFulltext(exec *db.Executor, table, tenantID, contentField string) *FulltextRetriever {
	return &FulltextRetriever{exec: exec, table: table, tenantID: tenantID, contentField: contentField}
}

func (r *FulltextRetriever) RelevantDocuments(ctx context.Context, q string) ([]Doc, error) {
	rows, err := r.exec.ExecuteFulltext(ctx, r.table, r.tenantID, q)
	if err == nil {
		docs := make([]Doc, 0, len(rows))
		for _, row := range rows {
			docs = append(docs, rowToDoc(row, r.contentField))
		}
		return docs, nil
	}
	debugmode.Logf("retriever: fulltext(%s) failed, falling back to LIKE-scan: %v", r.table, err)

	rows, ferr := r.likeScan(ctx)
	if ferr != nil {
		debugmode.Logf("retriever: LIKE-scan fallback also failed: %v", ferr)
		return nil, nil
	}
	needle := strings.ToLower(q)
	docs := make([]Doc, 0, len(rows))
	for _, row := range rows {
		text, _ := row[r.contentField].(string)
		score := 0.5
		if strings.Contains(text, q) || strings.Contains(strings.ToLower(text), needle) {
			score = 1.0
		}
		row["relevance_score"] = score
		docs = append(docs, rowToDoc(row, r.contentField))
	}
	return docs, nil
}

// likeScan fetches every non-deleted row for the tenant, bounded, for the
// in-application substring fallback.
func (r *FulltextRetriever) likeScan(ctx context.Context) ([]map[string]any, error) {
	b := query.New(r.table).Where("tenant_id", r.tenantID).Where("is_deleted", false).Limit(500)
	sql, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	return r.exec.Execute(ctx, sql, params)
}

// VectorRetriever embeds the query and runs execute_vector, falling back
// to an in-application cosine computation when the driver call fails.
type VectorRetriever struct {
	exec         *db.Executor
	table        string
	tenantID     string
	vectorField  string
	contentField string
	embed        Embedder
	embedModel   string
}

func NewVector(exec *db.Executor, table, tenantID, vectorField, contentField string, embed Embedder, embedModel string) *VectorRetriever {
	return &VectorRetriever{
		exec: exec, table: table, tenantID: tenantID,
		vectorField: vectorField, contentField: contentField,
		embed: embed, embedModel: embedModel,
	}
}

func (r *VectorRetriever) RelevantDocuments(ctx context.Context, q string) ([]Doc, error) {
	vectors, err := r.embed.EmbedBatch(ctx, r.embedModel, []string{q})
	if err != nil || len(vectors) == 0 {
		debugmode.Logf("retriever: embed query failed: %v", err)
		return nil, nil
	}
	vec := vectors[0]

	rows, err := r.exec.ExecuteVector(ctx, r.table, r.tenantID, vec)
	if err == nil {
		docs := make([]Doc, 0, len(rows))
		for _, row := range rows {
			docs = append(docs, rowToDoc(row, r.contentField))
		}
		return docs, nil
	}
	debugmode.Logf("retriever: vector(%s) failed, falling back to local cosine: %v", r.table, err)

	docs, ferr := r.localCosine(ctx, vec)
	if ferr != nil {
		debugmode.Logf("retriever: local cosine fallback also failed: %v", ferr)
		return nil, nil
	}
	return docs, nil
}

func (r *VectorRetriever) localCosine(ctx context.Context, vec []float64) ([]Doc, error) {
	b := query.New(r.table).Where("tenant_id", r.tenantID).Where("is_deleted", false).Limit(500)
	sql, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	rows, err := r.exec.Execute(ctx, sql, params)
	if err != nil {
		return nil, err
	}
	docs := make([]Doc, 0, len(rows))
	for _, row := range rows {
		emb, ok := toFloatSlice(row[r.vectorField])
		if !ok {
			continue
		}
		row["similarity_score"] = cosineSimilarity(vec, emb)
		docs = append(docs, rowToDoc(row, r.contentField))
	}
	sortByKey(docs, "similarity_score")
	return docs, nil
}

func toFloatSlice(v any) ([]float64, bool) {
	switch x := v.(type) {
	case []float64:
		return x, true
	case []any:
		out := make([]float64, 0, len(x))
		for _, e := range x {
			f, ok := e.(float64)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	default:
		return nil, false
	}
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortByKey(docs []Doc, key string) {
	sort.SliceStable(docs, func(i, j int) bool {
		return scoreOf(docs[i], key) > scoreOf(docs[j], key)
	})
}

func scoreOf(d Doc, key string) float64 {
	v, ok := d.MetaData[key].(float64)
	if !ok {
		return 0
	}
	return v
}

// GraphRetriever requires seed entity ids, supplied at construction; it
// runs execute_graph and materializes both the reached entities and the
// relations whose two endpoints are both among the seeds and reached
// entities.
type GraphRetriever struct {
	exec     *db.Executor
	edges    *persist.EdgeRepository
	tenantID string
	seedIDs  []string
	minDepth int
	maxDepth int
	limit    int
}

func NewGraph(exec *db.Executor, tenantID string, seedIDs []string, minDepth, maxDepth, limit int) *GraphRetriever {
	return &GraphRetriever{
		exec: exec, edges: persist.NewEdgeRepository(exec), tenantID: tenantID,
		seedIDs: seedIDs, minDepth: minDepth, maxDepth: maxDepth, limit: limit,
	}
}

// RelevantDocuments ignores query; graph retrieval is seeded by entity ids
// set at construction, not by free text.
func (r *GraphRetriever) RelevantDocuments(ctx context.Context, _ string) ([]Doc, error) {
	if len(r.seedIDs) == 0 {
		return nil, nil
	}
	rows, err := r.exec.ExecuteGraph(ctx, "entity", "relation", r.seedIDs, r.minDepth, r.maxDepth, r.limit)
	if err != nil {
		debugmode.Logf("retriever: graph failed: %v", err)
		return nil, nil
	}

	nodeSet := make(map[string]struct{}, len(rows)+len(r.seedIDs))
	for _, id := range r.seedIDs {
		nodeSet[id] = struct{}{}
	}
	docs := make([]Doc, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, rowToDoc(row, "name"))
		if id, ok := row["id"].(string); ok {
			nodeSet[id] = struct{}{}
		}
	}

	relations, err := r.edges.FindMany(ctx, r.tenantID, "", "", 0, 2000)
	if err != nil {
		debugmode.Logf("retriever: graph relation lookup failed: %v", err)
		return docs, nil
	}
	for _, rel := range relations {
		_, srcIn := nodeSet[rel.SourceID]
		_, tgtIn := nodeSet[rel.TargetID]
		if srcIn && tgtIn {
			docs = append(docs, Doc{
				PageContent: rel.RelationType,
				MetaData: map[string]any{
					"id": rel.ID, "relation_id": rel.ID,
					"source_id": rel.SourceID, "target_id": rel.TargetID,
					"relation_type": rel.RelationType,
				},
			})
		}
	}
	return docs, nil
}

// HybridRetriever runs every enabled strategy, merges their results,
// deduplicates, and sorts by max score.
type HybridRetriever struct {
	strategies []Retriever
}

func NewHybrid(strategies ...Retriever) *HybridRetriever {
	return &HybridRetriever{strategies: strategies}
}

func (h *HybridRetriever) RelevantDocuments(ctx context.Context, q string) ([]Doc, error) {
	var all []Doc
	for _, s := range h.strategies {
		docs, _ := s.RelevantDocuments(ctx, q)
		all = append(all, docs...)
	}
	deduped := dedupe(all)
	sort.SliceStable(deduped, func(i, j int) bool {
		return maxScore(deduped[i]) > maxScore(deduped[j])
	})
	return deduped, nil
}

// dedupe keys on (first 100 chars of content, id), which already
// disambiguates chunk/entity/relation ids since every id is prefixed by
// its table name. When two strategies return the same document the
// higher-scored copy wins.
func dedupe(docs []Doc) []Doc {
	index := make(map[string]int, len(docs))
	out := make([]Doc, 0, len(docs))
	for _, d := range docs {
		prefix := d.PageContent
		if len(prefix) > 100 {
			prefix = prefix[:100]
		}
		id := fmt.Sprintf("%v", d.MetaData["id"])
		key := prefix + "|" + id
		if i, ok := index[key]; ok {
			if maxScore(d) > maxScore(out[i]) {
				out[i] = d
			}
			continue
		}
		index[key] = len(out)
		out = append(out, d)
	}
	return out
}

// maxScore is similarity_score ∨ relevance_score ∨ 0.5, taking the larger
// of the two when both are present (Open Question (b)).
func maxScore(d Doc) float64 {
	best := 0.0
	found := false
	if v, ok := d.MetaData["similarity_score"].(float64); ok {
		best, found = v, true
	}
	if v, ok := d.MetaData["relevance_score"].(float64); ok && (!found || v > best) {
		best, found = v, true
	}
	if !found {
		return 0.5
	}
	return best
}
