package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/memoryd/memoryd/internal/apperr"
	"github.com/memoryd/memoryd/internal/audit"
	"github.com/memoryd/memoryd/internal/db"
	"github.com/memoryd/memoryd/internal/persist"
	"github.com/memoryd/memoryd/internal/types"
)

// Enqueuer is the slice of *queue.Queue the pipeline depends on, narrowed
// to allow a fake in tests.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload map[string]any) error
}

// ContentInput is one payload.contents[] entry.
type ContentInput struct {
	ID        string          `json:"id,omitempty"`
	Text      string          `json:"text"`
	Relations []RelationInput `json:"relations,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
	MetaData  map[string]any  `json:"meta_data,omitempty"`
}

// EntityInput is one payload.entities[] entry. EntityID, when set and
// pointing at an existing record, takes the update path instead of create.
type EntityInput struct {
	ID         string          `json:"id,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	EntityType string          `json:"entity_type"`
	Name       string          `json:"name"`
	Aliases    []string        `json:"aliases,omitempty"`
	Data       map[string]any  `json:"data,omitempty"`
	Relations  []RelationInput `json:"relations,omitempty"`
}

// RelationInput names its endpoints by internal id, resolved against the
// content/entity mappings built during this same request.
type RelationInput struct {
	FromEntityID string         `json:"from_entity_id"`
	ToEntityID   string         `json:"to_entity_id"`
	RelationType string         `json:"relation_type"`
	Data         map[string]any `json:"data,omitempty"`
}

// Request is the full ingest payload.
type Request struct {
	TenantID   string          `json:"tenant_id,omitempty"`
	CompanyID  string          `json:"company_id,omitempty"`
	SensorName string          `json:"sensor_name"`
	URI        string          `json:"uri,omitempty"`
	Contents   []ContentInput  `json:"contents,omitempty"`
	Entities   []EntityInput   `json:"entities,omitempty"`
	Relations  []RelationInput `json:"relations,omitempty"`
}

// EntityResult reports the db id an internal entity id resolved to.
type EntityResult struct {
	InternalID string `json:"internal_id,omitempty"`
	EntityID   string `json:"entity_id"`
	Created    bool   `json:"created"`
}

// RelationResult reports a successfully upserted relation.
type RelationResult struct {
	SourceID     string `json:"source_id"`
	TargetID     string `json:"target_id"`
	RelationType string `json:"relation_type"`
	RelationID   string `json:"relation_id"`
}

// Result is the ingest endpoint's response body.
type Result struct {
	JobIDs    []string         `json:"job_ids"`
	Entities  []EntityResult   `json:"entities"`
	Relations []RelationResult `json:"relations"`
	Warnings  []string         `json:"warnings"`
}

// Pipeline implements the ingest request's normalization, ID resolution,
// and fan-out over the per-record repositories in internal/persist.
type Pipeline struct {
	companies *persist.Repository[types.Company, *types.Company]
	artifacts *persist.Repository[types.Artifact, *types.Artifact]
	entities  *persist.Repository[types.Entity, *types.Entity]
	events    *persist.Repository[types.Event, *types.Event]
	jobs      *persist.Repository[types.IngestJob, *types.IngestJob]
	edges     *persist.EdgeRepository
	queue     Enqueuer
}

// NewPipeline wires a Pipeline over one shared query executor and queue.
func NewPipeline(exec *db.Executor, q Enqueuer) *Pipeline {
	return &Pipeline{
		companies: persist.NewRepository[types.Company, *types.Company](exec),
		artifacts: persist.NewRepository[types.Artifact, *types.Artifact](exec),
		entities:  persist.NewRepository[types.Entity, *types.Entity](exec),
		events:    persist.NewRepository[types.Event, *types.Event](exec),
		jobs:      persist.NewRepository[types.IngestJob, *types.IngestJob](exec),
		edges:     persist.NewEdgeRepository(exec),
		queue:     q,
	}
}

// Ingest runs the fixed processing order: resolve tenant, create
// artifacts, upsert entities (parallel), resolve and upsert relations
// (parallel), enqueue one job per artifact.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	tenantID, company, err := p.resolveTenant(ctx, req)
	if err != nil {
		return nil, err
	}
	if company != nil {
		if err := validatePolicy(company.Policy(), req); err != nil {
			return nil, err
		}
	}

	result := &Result{Entities: []EntityResult{}, Relations: []RelationResult{}, Warnings: []string{}}

	contentMap, artifactIDs, err := p.createArtifacts(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	entityMap, err := p.upsertEntities(ctx, tenantID, req.Entities, artifactIDs, result)
	if err != nil {
		return nil, err
	}

	resolved := p.resolveRelations(ctx, req, entityMap, contentMap, result)

	if err := p.upsertRelations(ctx, tenantID, resolved, result); err != nil {
		return nil, err
	}

	if err := p.enqueueJobs(ctx, tenantID, artifactIDs, result); err != nil {
		return nil, err
	}

	entry := &audit.Entry{Kind: "ingest", TenantID: tenantID, Op: "ingest",
		Detail: fmt.Sprintf("artifacts=%d entities=%d relations=%d warnings=%d",
			len(artifactIDs), len(result.Entities), len(result.Relations), len(result.Warnings))}
	_, _ = audit.Append(entry) // best-effort: audit logging must never fail ingest

	return result, nil
}

// resolveTenant looks up company_id → db tenant id, 404ing if missing.
// When only tenant_id is supplied, the company record (if any) is still
// loaded so its type policy can be enforced.
func (p *Pipeline) resolveTenant(ctx context.Context, req Request) (string, *types.Company, error) {
	if req.CompanyID == "" {
		company, err := p.companies.FindOne(ctx, map[string]any{"id": req.TenantID})
		if err != nil {
			return "", nil, err
		}
		return req.TenantID, company, nil
	}
	company, err := p.companies.FindOne(ctx, map[string]any{"company_id": req.CompanyID})
	if err != nil {
		return "", nil, err
	}
	if company == nil {
		return "", nil, &apperr.NotFound{Table: "company", ID: req.CompanyID}
	}
	return company.ID, company, nil
}

// validatePolicy checks the request's sensor/entity/relation types against
// the tenant's allowed lists. The policy snapshot is passed in explicitly;
// nothing here reads shared tenant state.
func validatePolicy(policy types.Policy, req Request) error {
	if req.SensorName != "" && !policy.AllowsSensorType(req.SensorName) {
		return apperr.Validationf("sensor type %q is not allowed for this tenant", req.SensorName)
	}
	for _, e := range req.Entities {
		if !policy.AllowsEntityType(e.EntityType) {
			return apperr.Validationf("entity type %q is not allowed for this tenant", e.EntityType)
		}
	}
	check := func(rels []RelationInput) error {
		for _, r := range rels {
			if !policy.AllowsRelationType(r.RelationType) {
				return apperr.Validationf("relation type %q is not allowed for this tenant", r.RelationType)
			}
		}
		return nil
	}
	if err := check(req.Relations); err != nil {
		return err
	}
	for _, c := range req.Contents {
		if err := check(c.Relations); err != nil {
			return err
		}
	}
	for _, e := range req.Entities {
		if err := check(e.Relations); err != nil {
			return err
		}
	}
	return nil
}

// createArtifacts creates one Artifact per content, returning the
// internal_content_id → db_artifact_id mapping and the full ordered list
// of db ids.
func (p *Pipeline) createArtifacts(ctx context.Context, tenantID string, req Request) (map[string]string, []string, error) {
	contentMap := map[string]string{}
	artifactIDs := make([]string, 0, len(req.Contents))
	for _, c := range req.Contents {
		art := &types.Artifact{
			Tenant:     types.Tenant{TenantID: tenantID},
			URI:        req.URI,
			SensorName: req.SensorName,
			RawText:    c.Text,
			Data:       c.Data,
		}
		if err := p.artifacts.Save(ctx, art); err != nil {
			return nil, nil, err
		}
		if c.ID != "" {
			contentMap[c.ID] = art.ID
		}
		artifactIDs = append(artifactIDs, art.ID)
	}
	return contentMap, artifactIDs, nil
}

// upsertEntities creates or updates every entity in parallel, writing an
// Event per entity, and returns the internal_entity_id → db_entity_id
// mapping.
func (p *Pipeline) upsertEntities(ctx context.Context, tenantID string, inputs []EntityInput, artifactIDs []string, result *Result) (map[string]string, error) {
	entityMap := map[string]string{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, input := range inputs {
		input := input
		g.Go(func() error {
			dbID, created, err := p.upsertOneEntity(gctx, tenantID, input)
			if err != nil {
				return err
			}

			evType := types.EventEntityUpdated
			if created {
				evType = types.EventEntityCreated
			}
			ev := &types.Event{
				Tenant:      types.Tenant{TenantID: tenantID},
				EntityID:    dbID,
				ArtifactIDs: artifactIDs,
				EventType:   evType,
				Data:        map[string]any{"entity_type": input.EntityType, "name": input.Name, "data": input.Data},
			}
			if err := p.events.Save(gctx, ev); err != nil {
				return err
			}

			mu.Lock()
			if input.ID != "" {
				entityMap[input.ID] = dbID
			}
			result.Entities = append(result.Entities, EntityResult{InternalID: input.ID, EntityID: dbID, Created: created})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entityMap, nil
}

func (p *Pipeline) upsertOneEntity(ctx context.Context, tenantID string, input EntityInput) (dbID string, created bool, err error) {
	if input.EntityID != "" {
		if _, getErr := p.entities.GetByID(ctx, input.EntityID); getErr == nil {
			fields := map[string]any{
				"name": input.Name, "entity_type": input.EntityType, "data": input.Data,
			}
			if len(input.Aliases) > 0 {
				fields["aliases"] = input.Aliases
			}
			if _, err := p.entities.Update(ctx, input.EntityID, fields); err != nil {
				return "", false, err
			}
			return input.EntityID, false, nil
		}
	}

	ent := &types.Entity{
		Tenant:     types.Tenant{TenantID: tenantID},
		EntityType: input.EntityType,
		Name:       input.Name,
		Aliases:    input.Aliases,
		Data:       input.Data,
	}
	if err := p.entities.Save(ctx, ent); err != nil {
		return "", false, err
	}
	return ent.ID, true, nil
}

// resolveRelations collects relations from payload.relations, per-content
// relations and per-entity relations, resolving each endpoint against the entity
// mapping, then the artifact mapping, then the database. Unresolvable
// endpoints append a warning and are skipped.
func (p *Pipeline) resolveRelations(ctx context.Context, req Request, entityMap, contentMap map[string]string, result *Result) []resolvedRelation {
	var inputs []RelationInput
	inputs = append(inputs, req.Relations...)
	for _, c := range req.Contents {
		inputs = append(inputs, c.Relations...)
	}
	for _, e := range req.Entities {
		inputs = append(inputs, e.Relations...)
	}

	resolved := make([]resolvedRelation, 0, len(inputs))
	for _, in := range inputs {
		sourceID, ok := p.resolveEndpoint(ctx, in.FromEntityID, entityMap, contentMap)
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unresolvable relation endpoint: %s", in.FromEntityID))
			continue
		}
		targetID, ok := p.resolveEndpoint(ctx, in.ToEntityID, entityMap, contentMap)
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unresolvable relation endpoint: %s", in.ToEntityID))
			continue
		}
		resolved = append(resolved, resolvedRelation{RelationInput: in, sourceID: sourceID, targetID: targetID})
	}
	return resolved
}

type resolvedRelation struct {
	RelationInput
	sourceID string
	targetID string
}

// resolveEndpoint implements the entity-map → artifact-map → database
// fallback chain. A database lookup only applies when id already looks
// like a full "table:id" record id supplied directly by the caller.
func (p *Pipeline) resolveEndpoint(ctx context.Context, id string, entityMap, contentMap map[string]string) (string, bool) {
	if id == "" {
		return "", false
	}
	if dbID, ok := entityMap[id]; ok {
		return dbID, true
	}
	if dbID, ok := contentMap[id]; ok {
		return dbID, true
	}
	if strings.Contains(id, ":") {
		if _, err := p.entities.GetByID(ctx, id); err == nil {
			return id, true
		}
		if _, err := p.artifacts.GetByID(ctx, id); err == nil {
			return id, true
		}
	}
	return "", false
}

// upsertRelations upserts every resolved relation in parallel via the
// edge repository.
func (p *Pipeline) upsertRelations(ctx context.Context, tenantID string, resolved []resolvedRelation, result *Result) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, rr := range resolved {
		rr := rr
		g.Go(func() error {
			rel := &types.Relation{
				Tenant:       types.Tenant{TenantID: tenantID},
				SourceID:     rr.sourceID,
				TargetID:     rr.targetID,
				RelationType: rr.RelationType,
				Data:         rr.Data,
			}
			created, err := p.edges.Relate(gctx, rel)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Relations = append(result.Relations, RelationResult{
				SourceID: created.SourceID, TargetID: created.TargetID,
				RelationType: created.RelationType, RelationID: created.ID,
			})
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// enqueueJobs creates one IngestJob per artifact and LPUSHes its full
// field dump onto the ingestion queue.
func (p *Pipeline) enqueueJobs(ctx context.Context, tenantID string, artifactIDs []string, result *Result) error {
	for _, artID := range artifactIDs {
		job := &types.IngestJob{
			Tenant:     types.Tenant{TenantID: tenantID},
			Status:     types.JobQueued,
			ArtifactID: artID,
		}
		if err := p.jobs.Save(ctx, job); err != nil {
			return err
		}

		payload, err := jobPayload(job)
		if err != nil {
			return err
		}
		if err := p.queue.Enqueue(ctx, payload); err != nil {
			return err
		}
		result.JobIDs = append(result.JobIDs, job.ID)
	}
	return nil
}

func jobPayload(job *types.IngestJob) (map[string]any, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	m["id"] = job.ID
	return m, nil
}
