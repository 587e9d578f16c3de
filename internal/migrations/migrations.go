// Package migrations applies the embedded postgres schema for persisted
// conversation history.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	versionTable = "askdb_schema_migrations"
	// lockKey is the pg_advisory_lock key held while migrating so two
	// replicas starting together do not apply the same version twice.
	lockKey int64 = 0x61736b6462
)

var fileNamePattern = regexp.MustCompile(`^([0-9]+)_(.+)\.(up|down)\.sql$`)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// VersionStatus reports one known migration and whether it is applied.
type VersionStatus struct {
	Version int64
	Name    string
	Applied bool
}

// Up applies pending migrations in version order. steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	plan, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}

	count := 0
	err = r.withLock(ctx, db, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, item := range plan {
			if applied[item.Version] {
				continue
			}
			if steps > 0 && count >= steps {
				return nil
			}
			if err := runStep(ctx, conn, item.Version, item.UpSQL, true); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Down rolls back the newest applied migrations. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	plan, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int64]migration, len(plan))
	for _, item := range plan {
		byVersion[item.Version] = item
	}

	count := 0
	err = r.withLock(ctx, db, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		versions := make([]int64, 0, len(applied))
		for version := range applied {
			versions = append(versions, version)
		}
		slices.Sort(versions)
		slices.Reverse(versions)

		for _, version := range versions {
			if count >= steps {
				return nil
			}
			item, ok := byVersion[version]
			if !ok {
				return fmt.Errorf("applied migration %d is unknown to this binary", version)
			}
			if err := runStep(ctx, conn, item.Version, item.DownSQL, false); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Status lists every embedded migration with its applied state.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]VersionStatus, error) {
	plan, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := ensureVersionTable(ctx, conn); err != nil {
		return nil, err
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}
	out := make([]VersionStatus, 0, len(plan))
	for _, item := range plan {
		out = append(out, VersionStatus{Version: item.Version, Name: item.Name, Applied: applied[item.Version]})
	}
	return out, nil
}

func (r *Runner) withLock(ctx context.Context, db *sql.DB, fn func(conn *sql.Conn) error) (err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, unlockErr := conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("release migration lock: %w", unlockErr))
		}
	}()

	if err := ensureVersionTable(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func ensureVersionTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+versionTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("ensure %s: %w", versionTable, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]bool{}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return applied, nil
}

// runStep executes one script and records or forgets its version in the
// same transaction.
func runStep(ctx context.Context, conn *sql.Conn, version int64, script string, up bool) error {
	verb := "apply"
	bookkeeping := `INSERT INTO ` + versionTable + ` (version) VALUES ($1)`
	if !up {
		verb = "roll back"
		bookkeeping = `DELETE FROM ` + versionTable + ` WHERE version = $1`
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s migration %d: %w", verb, version, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("record migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", version, err)
	}
	return nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := fileNamePattern.FindStringSubmatch(path.Base(entry.Name()))
		if parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %q: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version, Name: parts[2]}
			byVersion[version] = item
		}
		if parts[3] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
	}

	plan := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		plan = append(plan, *item)
	}
	slices.SortFunc(plan, func(a, b migration) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	return plan, nil
}
