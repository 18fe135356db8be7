// Package resolver implements the six-level retrieval ladder, culminating
// in an LLM-driven sufficiency check that decides whether to fall back to
// loading all artifact text.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/memoryd/memoryd/internal/apperr"
	"github.com/memoryd/memoryd/internal/db"
	"github.com/memoryd/memoryd/internal/llm"
	"github.com/memoryd/memoryd/internal/persist"
	"github.com/memoryd/memoryd/internal/query"
	"github.com/memoryd/memoryd/internal/types"
)

// Level is one of the six resolution shapes.
type Level int

const (
	TypeOnly Level = iota
	MajorTypeAndName
	SelectedEntities
	SelectedEntitiesAndMutualRelations
	RelatedArtifactsData
	RelatedArtifactsText
)

func (l Level) String() string {
	switch l {
	case TypeOnly:
		return "TYPE_ONLY"
	case MajorTypeAndName:
		return "MAJOR_TYPE_AND_NAME"
	case SelectedEntities:
		return "SELECTED_ENTITIES"
	case SelectedEntitiesAndMutualRelations:
		return "SELECTED_ENTITIES_AND_MUTUAL_RELATIONS"
	case RelatedArtifactsData:
		return "RELATED_ARTIFACTS_DATA"
	case RelatedArtifactsText:
		return "RELATED_ARTIFACTS_TEXT"
	default:
		return "UNKNOWN"
	}
}

const majorTypeNameLimit = 100
const allArtifactsLimit = 10000

// Request is the resolver's input.
type Request struct {
	TenantID   string
	CompanyID  string
	Resolution *Level
	EntityIDs  []string
	Text       string
}

// ArtifactBundle pairs one artifact with its chunks.
type ArtifactBundle struct {
	Artifact *types.Artifact       `json:"artifact"`
	Chunks   []*types.ArtifactChunk `json:"chunks"`
}

// Result is the resolver's output shape, common to all six levels.
type Result struct {
	Entities  []*types.Entity  `json:"entities"`
	Relations []*types.Relation `json:"relations"`
	Artifacts []ArtifactBundle `json:"artifacts"`
	Context   string           `json:"context,omitempty"`
}

// Extractor is the slice of *llm.Extractor the resolver depends on.
type Extractor interface {
	ExtractEntities(ctx context.Context, text string, allowedTypes []string) []llm.ExtractedEntity
	ContentSufficiencyCheck(ctx context.Context, query, retrievedContent string) bool
}

// Embedder is the slice of *llm.Client the resolver depends on.
type Embedder interface {
	EmbedBatch(ctx context.Context, model string, inputs []string) ([][]float64, error)
}

// Resolver implements the six-level ladder over the persistence layer and
// query executor.
type Resolver struct {
	companies  *persist.Repository[types.Company, *types.Company]
	entities   *persist.Repository[types.Entity, *types.Entity]
	artifacts  *persist.Repository[types.Artifact, *types.Artifact]
	chunks     *persist.Repository[types.ArtifactChunk, *types.ArtifactChunk]
	edges      *persist.EdgeRepository
	exec       *db.Executor
	extractor  Extractor
	embed      Embedder
	embedModel string
}

// New wires a Resolver over one shared query executor, LLM extractor, and
// embedding client.
func New(exec *db.Executor, extractor Extractor, embed Embedder, embedModel string) *Resolver {
	return &Resolver{
		companies:  persist.NewRepository[types.Company, *types.Company](exec),
		entities:   persist.NewRepository[types.Entity, *types.Entity](exec),
		artifacts:  persist.NewRepository[types.Artifact, *types.Artifact](exec),
		chunks:     persist.NewRepository[types.ArtifactChunk, *types.ArtifactChunk](exec),
		edges:      persist.NewEdgeRepository(exec),
		exec:       exec,
		extractor:  extractor,
		embed:      embed,
		embedModel: embedModel,
	}
}

// inferLevel picks a default level from the request shape, checked in order:
// text wins over entity ids, entity ids win over the bare default.
func inferLevel(req Request) Level {
	if req.Text != "" {
		return RelatedArtifactsData
	}
	if len(req.EntityIDs) > 0 {
		return SelectedEntitiesAndMutualRelations
	}
	return MajorTypeAndName
}

// Resolve dispatches to the level named by req.Resolution, inferring one
// when absent.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	tenantID, company, err := r.resolveTenant(ctx, req)
	if err != nil {
		return nil, err
	}

	level := MajorTypeAndName
	if req.Resolution != nil {
		level = *req.Resolution
	} else {
		level = inferLevel(req)
	}

	switch level {
	case TypeOnly:
		return r.typeOnly(company), nil
	case MajorTypeAndName:
		return r.majorTypeAndName(ctx, tenantID, company)
	case SelectedEntities:
		return r.selectedEntities(ctx, tenantID, req.EntityIDs)
	case SelectedEntitiesAndMutualRelations:
		return r.selectedEntitiesAndMutualRelations(ctx, tenantID, req.EntityIDs)
	case RelatedArtifactsData:
		return r.relatedArtifactsData(ctx, tenantID, company, req.Text)
	case RelatedArtifactsText:
		return r.relatedArtifactsText(ctx, tenantID, company, req.Text)
	default:
		return nil, apperr.Validationf("unknown resolution level %v", level)
	}
}

func (r *Resolver) resolveTenant(ctx context.Context, req Request) (string, *types.Company, error) {
	if req.CompanyID != "" {
		company, err := r.companies.FindOne(ctx, map[string]any{"company_id": req.CompanyID})
		if err != nil {
			return "", nil, err
		}
		if company == nil {
			return "", nil, &apperr.NotFound{Table: "company", ID: req.CompanyID}
		}
		return company.ID, company, nil
	}
	company, _ := r.companies.FindOne(ctx, map[string]any{"tenant_id": req.TenantID})
	return req.TenantID, company, nil
}

// typeOnly is level 1: company intro plus allowed type lists.
func (r *Resolver) typeOnly(company *types.Company) *Result {
	var intro string
	if company != nil {
		intro = fmt.Sprintf("Company %q (%s). Allowed entity types: %v. Allowed relation types: %v.",
			company.Name, company.CompanyID, company.EntityTypes, company.RelationTypes)
	} else {
		intro = "No company metadata available; all entity and relation types are allowed."
	}
	return &Result{Entities: []*types.Entity{}, Relations: []*types.Relation{}, Artifacts: []ArtifactBundle{}, Context: intro}
}

// majorTypeAndName is level 2: for each entity type, up to 100 entities by
// name.
func (r *Resolver) majorTypeAndName(ctx context.Context, tenantID string, company *types.Company) (*Result, error) {
	var types_ []string
	if company != nil {
		types_ = company.EntityTypes
	}

	var entities []*types.Entity
	if types_ != nil {
		for _, et := range types_ {
			ents, err := r.entities.FindMany(ctx, 0, majorTypeNameLimit, map[string]any{"tenant_id": tenantID, "entity_type": et})
			if err != nil {
				return nil, err
			}
			entities = append(entities, ents...)
		}
	} else {
		entities = append(entities, r.distinctTypeSample(ctx, tenantID)...)
	}
	return &Result{Entities: entities, Relations: []*types.Relation{}, Artifacts: []ArtifactBundle{}}, nil
}

// distinctTypeSample handles the unrestricted-policy case (company.EntityTypes
// == nil): bucket a bounded sample of the tenant's entities by their
// occurring type, capped at 100 per type.
func (r *Resolver) distinctTypeSample(ctx context.Context, tenantID string) []*types.Entity {
	const sampleCap = 1000
	sample, err := r.entities.FindMany(ctx, 0, sampleCap, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil
	}
	buckets := map[string][]*types.Entity{}
	var order []string
	for _, e := range sample {
		if _, seen := buckets[e.EntityType]; !seen {
			order = append(order, e.EntityType)
		}
		if len(buckets[e.EntityType]) < majorTypeNameLimit {
			buckets[e.EntityType] = append(buckets[e.EntityType], e)
		}
	}
	var out []*types.Entity
	for _, t := range order {
		out = append(out, buckets[t]...)
	}
	return out
}

// selectedEntities is level 3: serialize each supplied entity, stripped of
// audit fields.
func (r *Resolver) selectedEntities(ctx context.Context, tenantID string, entityIDs []string) (*Result, error) {
	entities, err := r.loadEntities(ctx, entityIDs)
	if err != nil {
		return nil, err
	}
	return &Result{Entities: sanitizeEntities(entities), Relations: []*types.Relation{}, Artifacts: []ArtifactBundle{}}, nil
}

func (r *Resolver) loadEntities(ctx context.Context, ids []string) ([]*types.Entity, error) {
	out := make([]*types.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := r.entities.GetByID(ctx, id)
		if err != nil {
			if apperr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// sanitizeEntities clears the audit/lifecycle fields this level excludes,
// keeping id/type/name/aliases/data.
func sanitizeEntities(entities []*types.Entity) []*types.Entity {
	out := make([]*types.Entity, len(entities))
	for i, e := range entities {
		clean := *e
		clean.Record = types.Record{ID: e.ID}
		out[i] = &clean
	}
	return out
}

// selectedEntitiesAndMutualRelations is level 4: level 3 plus edges between
// supplied entities, plus artifacts edge-connected to >=2 of them (and
// artifacts connected to those artifacts, one hop further).
func (r *Resolver) selectedEntitiesAndMutualRelations(ctx context.Context, tenantID string, entityIDs []string) (*Result, error) {
	entities, err := r.loadEntities(ctx, entityIDs)
	if err != nil {
		return nil, err
	}

	entitySet := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		entitySet[e.ID] = struct{}{}
	}

	allRelations, err := r.edges.FindMany(ctx, tenantID, "", "", 0, 2000)
	if err != nil {
		return nil, err
	}

	var mutual []*types.Relation
	artifactEntityRefs := map[string]map[string]struct{}{}
	for _, rel := range allRelations {
		_, srcIsEntity := entitySet[rel.SourceID]
		_, tgtIsEntity := entitySet[rel.TargetID]
		if srcIsEntity && tgtIsEntity {
			mutual = append(mutual, rel)
			continue
		}
		if srcIsEntity && strings.HasPrefix(rel.TargetID, "artifact:") {
			addArtifactRef(artifactEntityRefs, rel.TargetID, rel.SourceID)
		}
		if tgtIsEntity && strings.HasPrefix(rel.SourceID, "artifact:") {
			addArtifactRef(artifactEntityRefs, rel.SourceID, rel.TargetID)
		}
	}

	qualifying := map[string]struct{}{}
	for artID, refs := range artifactEntityRefs {
		if len(refs) >= 2 {
			qualifying[artID] = struct{}{}
		}
	}

	secondary := map[string]struct{}{}
	for _, rel := range allRelations {
		_, srcQualifies := qualifying[rel.SourceID]
		_, tgtQualifies := qualifying[rel.TargetID]
		if srcQualifies && strings.HasPrefix(rel.TargetID, "artifact:") {
			if _, already := qualifying[rel.TargetID]; !already {
				secondary[rel.TargetID] = struct{}{}
			}
		}
		if tgtQualifies && strings.HasPrefix(rel.SourceID, "artifact:") {
			if _, already := qualifying[rel.SourceID]; !already {
				secondary[rel.SourceID] = struct{}{}
			}
		}
	}

	artifactIDs := make([]string, 0, len(qualifying)+len(secondary))
	for id := range qualifying {
		artifactIDs = append(artifactIDs, id)
	}
	for id := range secondary {
		artifactIDs = append(artifactIDs, id)
	}

	bundles, err := r.loadArtifactBundles(ctx, artifactIDs, false)
	if err != nil {
		return nil, err
	}

	return &Result{
		Entities:  sanitizeEntities(entities),
		Relations: mutual,
		Artifacts: bundles,
	}, nil
}

func addArtifactRef(refs map[string]map[string]struct{}, artifactID, entityID string) {
	if refs[artifactID] == nil {
		refs[artifactID] = map[string]struct{}{}
	}
	refs[artifactID][entityID] = struct{}{}
}

// loadArtifactBundles loads artifacts by id, optionally with their chunks.
func (r *Resolver) loadArtifactBundles(ctx context.Context, ids []string, withChunks bool) ([]ArtifactBundle, error) {
	out := make([]ArtifactBundle, 0, len(ids))
	for _, id := range ids {
		art, err := r.artifacts.GetByID(ctx, id)
		if err != nil {
			if apperr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		bundle := ArtifactBundle{Artifact: art}
		if withChunks {
			cs, err := r.chunks.FindMany(ctx, 0, 10000, map[string]any{"tenant_id": art.TenantID, "artifact_id": art.ID})
			if err != nil {
				return nil, err
			}
			bundle.Chunks = cs
		}
		out = append(out, bundle)
	}
	return out, nil
}

// relatedArtifactsData is level 5: LLM-extract entities from
// text, match against the store, embed text, run a combined query (exact +
// fulltext + vector over artifact-chunk; graph over the matched entities
// with depth in [1,2]), dedupe chunks by id (main first, then graph), group
// under artifact, serialize the bundle into context.
func (r *Resolver) relatedArtifactsData(ctx context.Context, tenantID string, company *types.Company, text string) (*Result, error) {
	var allowedTypes []string
	if company != nil {
		allowedTypes = company.EntityTypes
	}

	extracted := r.extractor.ExtractEntities(ctx, text, allowedTypes)
	matched, err := r.matchExtractedEntities(ctx, tenantID, extracted)
	if err != nil {
		return nil, err
	}

	vectors, err := r.embed.EmbedBatch(ctx, r.embedModel, []string{text})
	if err != nil {
		return nil, apperr.Transient("resolver: embed query text", err)
	}
	var vec []float64
	if len(vectors) > 0 {
		vec = vectors[0]
	}

	var g *query.GraphBuilder
	matchedIDs := make([]string, len(matched))
	for i, e := range matched {
		matchedIDs[i] = e.ID
	}
	if len(matchedIDs) > 0 {
		g = query.NewGraph("artifact", "relation").FromEntities(matchedIDs).DepthRange(1, 2).Limit(200)
	}

	combined, err := r.exec.ExecuteCombined(ctx, "artifact-chunk", tenantID, func(b *query.CombinedBuilder) {
		b.Search(text)
		if vec != nil {
			b.WithEmbeddingSimilarity(vec)
		}
		b.Limit(50)
	}, g)
	if err != nil {
		return nil, apperr.Transient("resolver: combined query", err)
	}

	mainChunks := decodeChunks(combined.MainRows)

	var graphChunks []*types.ArtifactChunk
	if len(combined.GraphRows) > 0 {
		artIDs := make([]string, 0, len(combined.GraphRows))
		for _, row := range combined.GraphRows {
			if id, ok := row["id"].(string); ok {
				artIDs = append(artIDs, id)
			}
		}
		for _, artID := range artIDs {
			cs, err := r.chunks.FindMany(ctx, 0, 10000, map[string]any{"tenant_id": tenantID, "artifact_id": artID})
			if err != nil {
				continue
			}
			graphChunks = append(graphChunks, cs...)
		}
	}

	chunks, artifactOrder := dedupeChunksByID(mainChunks, graphChunks)
	bundles, err := r.groupChunksByArtifact(ctx, chunks, artifactOrder)
	if err != nil {
		return nil, err
	}

	result := &Result{Entities: matched, Relations: []*types.Relation{}, Artifacts: bundles}
	ctxJSON, err := json.Marshal(result)
	if err == nil {
		result.Context = string(ctxJSON)
	}
	return result, nil
}

// matchExtractedEntities looks up each LLM-extracted (name, entity_type)
// pair against the store, falling back to alias matching when no entity
// carries the extracted name directly.
func (r *Resolver) matchExtractedEntities(ctx context.Context, tenantID string, extracted []llm.ExtractedEntity) ([]*types.Entity, error) {
	out := make([]*types.Entity, 0, len(extracted))
	for _, ex := range extracted {
		e, err := r.entities.FindOne(ctx, map[string]any{"tenant_id": tenantID, "name": ex.Name, "entity_type": ex.EntityType})
		if err != nil {
			return nil, err
		}
		if e == nil {
			e, err = r.matchByAlias(ctx, tenantID, ex)
			if err != nil {
				return nil, err
			}
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// matchByAlias resolves an extracted name against entity alias lists.
// CONTAINS is outside the builder's operator vocabulary, so this is a
// direct parameterized statement.
func (r *Resolver) matchByAlias(ctx context.Context, tenantID string, ex llm.ExtractedEntity) (*types.Entity, error) {
	sql := "SELECT * FROM entity WHERE tenant_id = $tenant_id AND is_deleted = false " +
		"AND entity_type = $entity_type AND aliases CONTAINS $name LIMIT 1"
	rows, err := r.exec.Execute(ctx, sql, map[string]any{
		"tenant_id": tenantID, "entity_type": ex.EntityType, "name": ex.Name,
	})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	b, err := json.Marshal(rows[0])
	if err != nil {
		return nil, nil
	}
	var e types.Entity
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, nil
	}
	return &e, nil
}

func decodeChunks(rows []map[string]any) []*types.ArtifactChunk {
	out := make([]*types.ArtifactChunk, 0, len(rows))
	for _, row := range rows {
		var c types.ArtifactChunk
		b, err := json.Marshal(row)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(b, &c); err != nil {
			continue
		}
		out = append(out, &c)
	}
	return out
}

// dedupeChunksByID keeps main results first, then graph results, dropping
// duplicates by id. It also returns the artifact ids in
// first-seen order, for grouping.
func dedupeChunksByID(main, graph []*types.ArtifactChunk) ([]*types.ArtifactChunk, []string) {
	seen := map[string]struct{}{}
	var out []*types.ArtifactChunk
	var artifactOrder []string
	artifactSeen := map[string]struct{}{}

	add := func(c *types.ArtifactChunk) {
		if _, ok := seen[c.ID]; ok {
			return
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
		if _, ok := artifactSeen[c.ArtifactID]; !ok {
			artifactSeen[c.ArtifactID] = struct{}{}
			artifactOrder = append(artifactOrder, c.ArtifactID)
		}
	}
	for _, c := range main {
		add(c)
	}
	for _, c := range graph {
		add(c)
	}
	return out, artifactOrder
}

// groupChunksByArtifact buckets chunks under their artifact and loads each
// artifact record, preserving artifactOrder.
func (r *Resolver) groupChunksByArtifact(ctx context.Context, chunks []*types.ArtifactChunk, artifactOrder []string) ([]ArtifactBundle, error) {
	byArtifact := map[string][]*types.ArtifactChunk{}
	for _, c := range chunks {
		byArtifact[c.ArtifactID] = append(byArtifact[c.ArtifactID], c)
	}
	out := make([]ArtifactBundle, 0, len(artifactOrder))
	for _, artID := range artifactOrder {
		art, err := r.artifacts.GetByID(ctx, artID)
		if err != nil {
			if apperr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, ArtifactBundle{Artifact: art, Chunks: byArtifact[artID]})
	}
	return out, nil
}

// relatedArtifactsText is level 6: run level 5, then ask the
// sufficiency check; on "no", load every non-deleted artifact for the
// tenant (up to 10000), fetch their chunks, and concatenate all artifact
// text ahead of level 5's bundle.
func (r *Resolver) relatedArtifactsText(ctx context.Context, tenantID string, company *types.Company, text string) (*Result, error) {
	base, err := r.relatedArtifactsData(ctx, tenantID, company, text)
	if err != nil {
		return nil, err
	}

	if r.extractor.ContentSufficiencyCheck(ctx, text, base.Context) {
		return base, nil
	}

	allArtifacts, err := r.artifacts.FindMany(ctx, 0, allArtifactsLimit, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}

	var allText strings.Builder
	bundles := make([]ArtifactBundle, 0, len(allArtifacts))
	for _, art := range allArtifacts {
		allText.WriteString(art.RawText)
		allText.WriteString("\n\n")
		cs, err := r.chunks.FindMany(ctx, 0, 10000, map[string]any{"tenant_id": tenantID, "artifact_id": art.ID})
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, ArtifactBundle{Artifact: art, Chunks: cs})
	}

	return &Result{
		Entities:  base.Entities,
		Relations: base.Relations,
		Artifacts: bundles,
		Context:   allText.String() + "\n\n" + base.Context,
	}, nil
}
