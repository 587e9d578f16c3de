package schema

import (
	"context"
	"strings"

	"github.com/askdb/askdb/internal/database"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Snapshot is the live schema as seen at generation time.
type Snapshot struct {
	Dialect    database.Dialect `json:"dialect"`
	TableNames []string         `json:"table_names"`
	Tables     []Table          `json:"tables"`
}

// askdb's own tables. They never appear in a snapshot, even when the
// history database is also the queried one.
var internalTables = map[string]struct{}{
	"conversation_turn":       {},
	"askdb_schema_migrations": {},
}

func IsInternalTable(name string) bool {
	_, ok := internalTables[strings.ToLower(name)]
	return ok
}

type Accessor interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// TableInfo renders the snapshot as CREATE TABLE style text for prompts.
func (s Snapshot) TableInfo() string {
	var b strings.Builder
	for i, table := range s.Tables {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("CREATE TABLE ")
		b.WriteString(table.Name)
		b.WriteString(" (\n")
		for j, column := range table.Columns {
			b.WriteString("\t")
			b.WriteString(column.Name)
			if column.Type != "" {
				b.WriteString(" ")
				b.WriteString(column.Type)
			}
			if j < len(table.Columns)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(")")
	}
	return b.String()
}

func (s Snapshot) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return Table{}, false
}

// ColumnNames returns the lowercased column names of the named tables, or of
// every table when none are named.
func (s Snapshot) ColumnNames(tables ...string) []string {
	selected := s.Tables
	if len(tables) > 0 {
		selected = selected[:0:0]
		for _, name := range tables {
			if table, ok := s.Table(name); ok {
				selected = append(selected, table)
			}
		}
	}
	names := make([]string, 0)
	for _, table := range selected {
		for _, column := range table.Columns {
			names = append(names, strings.ToLower(column.Name))
		}
	}
	return names
}
