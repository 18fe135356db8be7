// Package persist implements the generic record repository:
// save/update/find/soft-delete over any registered table, plus the
// edge-specific RELATE semantics for Relation records.
package persist

import "github.com/google/uuid"

// newID generates a SurrealDB-style "table:uuid" record id.
func newID(table string) string {
	return table + ":" + uuid.New().String()
}
