// Package model declares the record-type registry that drives schema
// generation and the query builder's field/table whitelist. Types register
// themselves explicitly at init() time rather than being discovered by
// walking a class hierarchy at runtime.
package model

// FieldType enumerates the declared SurrealDB-ish field types the schema
// generator understands.
type FieldType string

const (
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeBool     FieldType = "bool"
	TypeString   FieldType = "string"
	TypeDatetime FieldType = "datetime"
	TypeArray    FieldType = "array"
	TypeRecord   FieldType = "record"
	TypeObject   FieldType = "object"
	TypeOption   FieldType = "option"
)

// FieldDescriptor is the per-field metadata a record type declares. It
// drives both DDL emission and the query builder's whitelist.
type FieldDescriptor struct {
	Name  string
	Type  FieldType
	Ref   string // referenced table, only meaningful when Type == TypeRecord
	Inner FieldType // element/wrapped type, for TypeArray/TypeOption

	IndexName      string // non-empty => participates in DEFINE INDEX <IndexName>
	IsVectorField  bool
	IsFulltextField bool
	IsGraphNode    bool
	IsGraphEdge    bool
}

// Option wraps a field type as option<T>.
func Option(inner FieldType) FieldDescriptor {
	return FieldDescriptor{Type: TypeOption, Inner: inner}
}
