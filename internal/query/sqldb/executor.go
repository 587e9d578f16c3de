package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/query"
)

type Config struct {
	Timeout  time.Duration
	RowLimit int
}

// Executor runs approved queries read-only against the configured
// database. Postgres and MySQL use read-only transactions; DuckDB relies
// on the read-only connection mode set by database.Open.
type Executor struct {
	db       *sql.DB
	dialect  database.Dialect
	timeout  time.Duration
	rowLimit int
}

var _ query.Executor = (*Executor)(nil)

func NewExecutor(db *sql.DB, dialect database.Dialect, cfg Config) *Executor {
	return &Executor{db: db, dialect: dialect, timeout: cfg.Timeout, rowLimit: cfg.RowLimit}
}

func (e *Executor) Execute(ctx context.Context, sqlText string) query.Result {
	start := time.Now()
	result, err := e.execute(ctx, sqlText)
	if err != nil {
		return query.ErrorResult(err)
	}
	result.Duration = time.Since(start)
	return result
}

func (e *Executor) execute(ctx context.Context, sqlText string) (query.Result, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if e.rowLimit > 0 && e.dialect != database.DialectMySQL {
		// One extra row tells us whether the result was cut.
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, e.rowLimit+1)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var (
		rows *sql.Rows
		err  error
	)
	if e.dialect.ReadOnlyTx() {
		tx, beginErr := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if beginErr != nil {
			return query.Result{}, fmt.Errorf("begin read-only transaction: %w", beginErr)
		}
		defer func() { _ = tx.Rollback() }()
		rows, err = tx.QueryContext(ctx, sqlText)
	} else {
		rows, err = e.db.QueryContext(ctx, sqlText)
	}
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := query.Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if e.rowLimit > 0 && len(result.Rows) >= e.rowLimit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, err
	}
	return result, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.UTC().Format(time.RFC3339Nano)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(value string) string {
	value = strings.TrimSpace(value)
	for strings.HasSuffix(value, ";") {
		value = strings.TrimSpace(strings.TrimSuffix(value, ";"))
	}
	return value
}
