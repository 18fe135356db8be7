package types

import "github.com/memoryd/memoryd/internal/model"

// Entity is a graph node: a typed, named node in the knowledge graph.
// Aliases holds alternate names used for fuzzy relation-endpoint matching
// during ingestion.
type Entity struct {
	Record
	Tenant
	EntityType string         `json:"entity_type"`
	Name       string         `json:"name"`
	Aliases    []string       `json:"aliases,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func (Entity) TableName() string { return "entity" }

func (Entity) Fields() []model.FieldDescriptor {
	return []model.FieldDescriptor{
		{Name: "id", Type: model.TypeString, IsGraphNode: true},
		{Name: "created_at", Type: model.TypeDatetime},
		{Name: "updated_at", Type: model.TypeDatetime},
		{Name: "is_deleted", Type: model.TypeBool},
		{Name: "meta_data", Type: model.TypeObject},
		{Name: "tenant_id", Type: model.TypeString, IndexName: "entity_tenant_idx"},
		{Name: "entity_type", Type: model.TypeString, IndexName: "entity_type_idx"},
		{Name: "name", Type: model.TypeString, IndexName: "entity_name_idx"},
		{Name: "aliases", Type: model.TypeArray, Inner: model.TypeString},
		{Name: "data", Type: model.TypeObject},
	}
}

func init() {
	model.Register(model.Registration{Table: Entity{}.TableName(), Fields: Entity{}.Fields()})
}
