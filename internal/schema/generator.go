// Package schema emits DEFINE TABLE / DEFINE INDEX DDL from the record
// registry at startup: one pass that walks registered metadata and produces
// DDL statements rather than hand-maintained migration files.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/memoryd/memoryd/internal/model"
)

var bareIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
var startsWithDigit = regexp.MustCompile(`^[0-9]`)

// quote backtick-quotes identifiers containing '-', a space, or a leading
// digit.
func quote(ident string) string {
	if bareIdent.MatchString(ident) && !startsWithDigit.MatchString(ident) {
		return ident
	}
	return "`" + ident + "`"
}

func fieldTypeExpr(f model.FieldDescriptor) string {
	switch f.Type {
	case model.TypeArray:
		if f.Inner != "" {
			return fmt.Sprintf("array<%s>", f.Inner)
		}
		return "array"
	case model.TypeRecord:
		if f.Ref != "" {
			return fmt.Sprintf("record<%s>", quote(f.Ref))
		}
		return "record"
	case model.TypeOption:
		if f.Inner != "" {
			return fmt.Sprintf("option<%s>", f.Inner)
		}
		return "option<any>"
	default:
		return string(f.Type)
	}
}

// Statement is one emitted DDL statement.
type Statement struct {
	Table string
	SQL   string
}

// Generate walks the registry (in declaration order) and returns, per
// non-abstract table: one DEFINE TABLE statement, followed by one DEFINE
// INDEX statement per distinct index_name, fields grouped in declaration
// order.
func Generate() []Statement {
	var out []Statement
	for _, table := range model.Tables() {
		reg, ok := model.Lookup(table)
		if !ok || reg.Abstract {
			continue
		}
		mode := "SCHEMALESS"
		if reg.Schemafull {
			mode = "SCHEMAFULL"
		}
		out = append(out, Statement{
			Table: table,
			SQL:   fmt.Sprintf("DEFINE TABLE %s %s", quote(table), mode),
		})

		if reg.Schemafull {
			for _, f := range reg.Fields {
				out = append(out, Statement{
					Table: table,
					SQL:   fmt.Sprintf("DEFINE FIELD %s ON %s TYPE %s", quote(f.Name), quote(table), fieldTypeExpr(f)),
				})
			}
		}

		var indexOrder []string
		grouped := map[string][]string{}
		for _, f := range reg.Fields {
			if f.IndexName == "" {
				continue
			}
			if _, seen := grouped[f.IndexName]; !seen {
				indexOrder = append(indexOrder, f.IndexName)
			}
			grouped[f.IndexName] = append(grouped[f.IndexName], f.Name)
		}
		for _, idxName := range indexOrder {
			fields := grouped[idxName]
			quotedFields := make([]string, len(fields))
			for i, f := range fields {
				quotedFields[i] = quote(f)
			}
			out = append(out, Statement{
				Table: table,
				SQL: fmt.Sprintf("DEFINE INDEX %s ON %s COLUMNS %s",
					quote(idxName), quote(table), strings.Join(quotedFields, ", ")),
			})
		}
	}
	return out
}

// Render joins all statements with a trailing semicolon and newline, suitable
// for handing to the executor at startup.
func Render() string {
	var b strings.Builder
	for _, s := range Generate() {
		b.WriteString(s.SQL)
		b.WriteString(";\n")
	}
	return b.String()
}
