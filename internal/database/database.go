package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectDuckDB   Dialect = "duckdb"
)

func ParseDialect(raw string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(raw))) {
	case DialectPostgres:
		return DialectPostgres, nil
	case DialectMySQL:
		return DialectMySQL, nil
	case DialectDuckDB:
		return DialectDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", raw)
	}
}

func (d Dialect) driverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectMySQL:
		return "mysql"
	case DialectDuckDB:
		return "duckdb"
	default:
		return ""
	}
}

// ReadOnlyTx reports whether read-only access is enforced per transaction.
// DuckDB has no read-only transactions; its connection is opened in
// read-only access mode instead.
func (d Dialect) ReadOnlyTx() bool {
	return d == DialectPostgres || d == DialectMySQL
}

// Placeholder returns the bind parameter marker for position n (1-based).
func (d Dialect) Placeholder(n int) string {
	if d == DialectMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

type Config struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type DB struct {
	*sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, dialect: dialect}
}

func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	driver := cfg.Dialect.driverName()
	if driver == "" {
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}

	db, err := sql.Open(driver, dsnFor(cfg.Dialect, cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Dialect, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Dialect, err)
	}

	return New(db, cfg.Dialect), nil
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

func (d *DB) HealthCheck(ctx context.Context) error {
	if err := d.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s db: %w", d.dialect, err)
	}
	return nil
}

// dsnFor forces read-only access mode on DuckDB files.
func dsnFor(dialect Dialect, dsn string) string {
	if dialect != DialectDuckDB {
		return dsn
	}
	if strings.Contains(strings.ToLower(dsn), "access_mode=") {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + "access_mode=READ_ONLY"
}
