package types

import "github.com/memoryd/memoryd/internal/model"

// Event is an append-only audit trail entry per entity (entity_created,
// entity_updated, and similar lifecycle events).
type Event struct {
	Record
	Tenant
	EntityID    string         `json:"entity_id"`
	ArtifactIDs []string       `json:"artifact_ids,omitempty"`
	EventType   string         `json:"event_type"`
	Data        map[string]any `json:"data,omitempty"`
}

const (
	EventEntityCreated = "entity_created"
	EventEntityUpdated = "entity_updated"
)

func (Event) TableName() string { return "event" }

func (Event) Fields() []model.FieldDescriptor {
	return []model.FieldDescriptor{
		{Name: "id", Type: model.TypeString},
		{Name: "created_at", Type: model.TypeDatetime},
		{Name: "updated_at", Type: model.TypeDatetime},
		{Name: "is_deleted", Type: model.TypeBool},
		{Name: "meta_data", Type: model.TypeObject},
		{Name: "tenant_id", Type: model.TypeString, IndexName: "event_tenant_idx"},
		{Name: "entity_id", Type: model.TypeRecord, Ref: "entity", IndexName: "event_entity_idx"},
		{Name: "artifact_ids", Type: model.TypeArray, Inner: model.TypeString},
		{Name: "event_type", Type: model.TypeString},
		{Name: "data", Type: model.TypeObject},
	}
}

func init() {
	model.Register(model.Registration{Table: Event{}.TableName(), Fields: Event{}.Fields()})
}
