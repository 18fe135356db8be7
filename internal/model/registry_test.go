package model

import "testing"

func TestRegisterAndLookup(t *testing.T) {
	reset()
	Register(Registration{
		Table: "widget",
		Fields: []FieldDescriptor{
			{Name: "id", Type: TypeString, IsGraphNode: true},
			{Name: "name", Type: TypeString, IndexName: "widget_name_idx"},
		},
	})

	if !IsRegisteredTable("widget") {
		t.Fatalf("expected widget to be registered")
	}
	allowed := AllowedFields()
	if _, ok := allowed["name"]; !ok {
		t.Fatalf("expected name in allowed field set")
	}
	if _, ok := allowed["bogus"]; ok {
		t.Fatalf("did not expect bogus in allowed field set")
	}
}

func TestVectorTableRequiresExactlyOne(t *testing.T) {
	reset()
	if _, _, ok := VectorTable(); ok {
		t.Fatalf("expected no vector table when registry is empty")
	}
	Register(Registration{Table: "a", Fields: []FieldDescriptor{{Name: "embedding", IsVectorField: true}}})
	if table, field, ok := VectorTable(); !ok || table != "a" || field != "embedding" {
		t.Fatalf("expected single vector table a.embedding, got %s %s %v", table, field, ok)
	}
	Register(Registration{Table: "b", Fields: []FieldDescriptor{{Name: "embedding", IsVectorField: true}}})
	if _, _, ok := VectorTable(); ok {
		t.Fatalf("expected ambiguous vector table to report not-ok")
	}
}
