package types

import "github.com/memoryd/memoryd/internal/model"

// Company is the tenant root. SensorTypes/EntityTypes/RelationTypes are the
// tenant policy: nil means "all allowed".
type Company struct {
	Record
	CompanyID     string         `json:"company_id"`
	Name          string         `json:"name"`
	SensorTypes   []string       `json:"sensor_types"`
	EntityTypes   []string       `json:"entity_types,omitempty"`
	RelationTypes []string       `json:"relation_types,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

func (Company) TableName() string { return "company" }

func (Company) Fields() []model.FieldDescriptor {
	return []model.FieldDescriptor{
		{Name: "id", Type: model.TypeString},
		{Name: "created_at", Type: model.TypeDatetime},
		{Name: "updated_at", Type: model.TypeDatetime},
		{Name: "is_deleted", Type: model.TypeBool},
		{Name: "meta_data", Type: model.TypeObject},
		{Name: "company_id", Type: model.TypeString, IndexName: "company_company_id_idx"},
		{Name: "name", Type: model.TypeString},
		{Name: "sensor_types", Type: model.TypeArray, Inner: model.TypeString},
		{Name: "entity_types", Type: model.TypeArray, Inner: model.TypeString},
		{Name: "relation_types", Type: model.TypeArray, Inner: model.TypeString},
		{Name: "data", Type: model.TypeObject},
	}
}

func init() {
	model.Register(model.Registration{Table: Company{}.TableName(), Fields: Company{}.Fields()})
}

// Policy is the tenant's allowed-type policy snapshot, passed explicitly
// into validation functions rather than read from a process-global cache.
type Policy struct {
	SensorTypes   []string
	EntityTypes   []string
	RelationTypes []string
}

func (c *Company) Policy() Policy {
	return Policy{SensorTypes: c.SensorTypes, EntityTypes: c.EntityTypes, RelationTypes: c.RelationTypes}
}

// AllowsEntityType reports whether et is permitted by the policy. A nil
// list means unrestricted.
func (p Policy) AllowsEntityType(et string) bool {
	return allows(p.EntityTypes, et)
}

// AllowsRelationType reports whether rt is permitted by the policy.
func (p Policy) AllowsRelationType(rt string) bool {
	return allows(p.RelationTypes, rt)
}

// AllowsSensorType reports whether st is permitted by the policy.
func (p Policy) AllowsSensorType(st string) bool {
	return allows(p.SensorTypes, st)
}

func allows(list []string, v string) bool {
	if list == nil {
		return true
	}
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
