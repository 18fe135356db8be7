package types

import "github.com/memoryd/memoryd/internal/model"

// Relation is a directed labeled graph edge. SourceID/TargetID are the
// API-facing names; the edge store's own fields are out/in — translated at
// the edge repository boundary and never leaked above it.
// Confidence defaults to 1.0 for structured/explicit relations and is set
// by the LLM extractor otherwise.
type Relation struct {
	Record
	Tenant
	SourceID     string         `json:"source_id"`
	TargetID     string         `json:"target_id"`
	RelationType string         `json:"relation_type"`
	Confidence   float64        `json:"confidence"`
	Data         map[string]any `json:"data,omitempty"`
}

func (Relation) TableName() string { return "relation" }

func (Relation) Fields() []model.FieldDescriptor {
	return []model.FieldDescriptor{
		{Name: "id", Type: model.TypeString},
		{Name: "created_at", Type: model.TypeDatetime},
		{Name: "updated_at", Type: model.TypeDatetime},
		{Name: "is_deleted", Type: model.TypeBool},
		{Name: "meta_data", Type: model.TypeObject},
		{Name: "tenant_id", Type: model.TypeString, IndexName: "relation_tenant_idx"},
		{Name: "out", Type: model.TypeRecord, Ref: "entity", IsGraphEdge: true, IndexName: "relation_out_idx"},
		{Name: "in", Type: model.TypeRecord, Ref: "entity", IndexName: "relation_in_idx"},
		{Name: "relation_type", Type: model.TypeString, IndexName: "relation_type_idx"},
		{Name: "confidence", Type: model.TypeFloat},
		{Name: "data", Type: model.TypeObject},
	}
}

func init() {
	model.Register(model.Registration{Table: Relation{}.TableName(), Fields: Relation{}.Fields()})
}
