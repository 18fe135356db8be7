package model

import "sync"

// Record is implemented by every registered record type. Tables are named
// once at registration; nothing walks an inheritance hierarchy to find them.
type Record interface {
	TableName() string
	Fields() []FieldDescriptor
}

// Registration carries a Record's static metadata plus the abstract flag
// (abstract types are never emitted by the schema generator — they exist
// only to be embedded by concrete mixins).
type Registration struct {
	Table      string
	Fields     []FieldDescriptor
	Abstract   bool
	Schemafull bool // schemafull is optional; default SCHEMALESS
}

var (
	mu          sync.RWMutex
	registry    = map[string]Registration{}
	declOrder   []string
	allowedSet  map[string]struct{}
)

// Register adds a record type to the registry. Call from an init() in the
// file that declares the type; nothing is discovered by reflection.
func Register(r Registration) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[r.Table]; !exists {
		declOrder = append(declOrder, r.Table)
	}
	registry[r.Table] = r
	allowedSet = nil // invalidate cache
}

// Tables returns all registered table names in declaration order.
func Tables() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, len(declOrder))
	copy(out, declOrder)
	return out
}

// Lookup returns the registration for a table, if any.
func Lookup(table string) (Registration, bool) {
	mu.RLock()
	defer mu.RUnlock()
	r, ok := registry[table]
	return r, ok
}

// IsRegisteredTable reports whether table was registered (used for the
// query builder's "SHOULD be a registered table" warning).
func IsRegisteredTable(table string) bool {
	_, ok := Lookup(table)
	return ok
}

// AllowedFields computes, once per registry generation, the union of all
// declared fields across every registered record. This is the
// injection-defense whitelist the query builder validates against.
func AllowedFields() map[string]struct{} {
	mu.Lock()
	defer mu.Unlock()
	if allowedSet != nil {
		return allowedSet
	}
	set := make(map[string]struct{})
	for _, reg := range registry {
		for _, f := range reg.Fields {
			set[f.Name] = struct{}{}
		}
	}
	allowedSet = set
	return set
}

// FieldByName finds the descriptor for a field on a given table.
func FieldByName(table, field string) (FieldDescriptor, bool) {
	reg, ok := Lookup(table)
	if !ok {
		return FieldDescriptor{}, false
	}
	for _, f := range reg.Fields {
		if f.Name == field {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// VectorTable returns the sole table declaring a vector field, along with
// that field's name. Returns ok=false if zero or more than one table
// qualifies, so auto-selection stays unambiguous.
func VectorTable() (table, field string, ok bool) {
	return singleFieldTable(func(f FieldDescriptor) bool { return f.IsVectorField })
}

// FulltextTable returns the sole table declaring a fulltext field.
func FulltextTable() (table, field string, ok bool) {
	return singleFieldTable(func(f FieldDescriptor) bool { return f.IsFulltextField })
}

func singleFieldTable(pred func(FieldDescriptor) bool) (table, field string, ok bool) {
	mu.RLock()
	defer mu.RUnlock()
	matches := 0
	for _, t := range declOrder {
		reg := registry[t]
		for _, f := range reg.Fields {
			if pred(f) {
				table, field = t, f.Name
				matches++
			}
		}
	}
	return table, field, matches == 1
}

// GraphTables returns the node table and edge table auto-detected from
// registry metadata: the first table, in declaration order, with a field
// flagged IsGraphNode, and the first with a field flagged IsGraphEdge.
// Returns ok=false if either is missing; further matches are ignored.
func GraphTables() (node, edge string, ok bool) {
	mu.RLock()
	defer mu.RUnlock()
	var nodeMatches, edgeMatches []string
	for _, t := range declOrder {
		reg := registry[t]
		for _, f := range reg.Fields {
			if f.IsGraphNode {
				nodeMatches = append(nodeMatches, t)
			}
			if f.IsGraphEdge {
				edgeMatches = append(edgeMatches, t)
			}
		}
	}
	if len(nodeMatches) == 0 || len(edgeMatches) == 0 {
		return "", "", false
	}
	return nodeMatches[0], edgeMatches[0], true
}

// reset is test-only: clears the registry between table-driven tests.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = map[string]Registration{}
	declOrder = nil
	allowedSet = nil
}
