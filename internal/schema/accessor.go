package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/database"
)

type SQLAccessor struct {
	db      *sql.DB
	dialect database.Dialect
	schema  string
	allowed map[string]struct{}
}

// NewSQLAccessor reads information_schema on every call. An empty table
// list exposes every table in the schema except askdb's own.
func NewSQLAccessor(db *sql.DB, dialect database.Dialect, schemaName string, tables []string) *SQLAccessor {
	allowed := map[string]struct{}{}
	for _, table := range tables {
		table = strings.ToLower(strings.TrimSpace(table))
		if table != "" {
			allowed[table] = struct{}{}
		}
	}
	return &SQLAccessor{
		db:      db,
		dialect: dialect,
		schema:  strings.TrimSpace(schemaName),
		allowed: allowed,
	}
}

func ParseTableList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (a *SQLAccessor) Snapshot(ctx context.Context) (Snapshot, error) {
	if a == nil || a.db == nil {
		return Snapshot{}, fmt.Errorf("schema accessor is not configured")
	}
	query, args := a.columnsQuery()
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := Snapshot{Dialect: a.dialect, TableNames: []string{}, Tables: []Table{}}
	index := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return Snapshot{}, fmt.Errorf("scan column: %w", err)
		}
		if IsInternalTable(tableName) {
			continue
		}
		if len(a.allowed) > 0 {
			if _, ok := a.allowed[strings.ToLower(tableName)]; !ok {
				continue
			}
		}
		position, ok := index[tableName]
		if !ok {
			position = len(snapshot.Tables)
			index[tableName] = position
			snapshot.TableNames = append(snapshot.TableNames, tableName)
			snapshot.Tables = append(snapshot.Tables, Table{Name: tableName})
		}
		snapshot.Tables[position].Columns = append(snapshot.Tables[position].Columns, Column{
			Name: columnName,
			Type: strings.ToLower(dataType),
		})
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate columns: %w", err)
	}
	return snapshot, nil
}

func (a *SQLAccessor) columnsQuery() (string, []any) {
	const base = `SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = `
	const order = `
ORDER BY table_name, ordinal_position`

	switch a.dialect {
	case database.DialectMySQL:
		if a.schema == "" {
			return base + "DATABASE()" + order, nil
		}
		return base + "?" + order, []any{a.schema}
	case database.DialectDuckDB:
		return base + "$1" + order, []any{defaultString(a.schema, "main")}
	default:
		return base + "$1" + order, []any{defaultString(a.schema, "public")}
	}
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
