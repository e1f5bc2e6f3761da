// Package migrate applies engram's schema in strictly ordered, additive-only
// steps. Each script is packaged with go:embed the way
// _examples/tim-coutinho-agentops embeds its hooks/skills assets
// (embedded/embed.go), and applied the way
// _examples/Heikkila-Pty-Ltd-cortex's internal/store.migrate() adds columns
// defensively for existing databases.
//
// golang-migrate/migrate (used by _examples/codeready-toolchain-tarsy) was
// considered and dropped: it owns the schema_version bookkeeping itself,
// which conflicts with the spec's requirement that each migration script
// insert its own version row as part of its own transaction -- the
// self-recording contract is the point, not an implementation detail to
// delegate away.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var scripts embed.FS

const bootstrap = `CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);`

type script struct {
	version int
	name    string
	sql     string
}

func loadScripts() ([]script, error) {
	entries, err := fs.Glob(scripts, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("migrate: glob migrations: %w", err)
	}
	out := make([]script, 0, len(entries))
	for _, name := range entries {
		base := strings.TrimSuffix(name[strings.LastIndex(name, "/")+1:], ".sql")
		numPart := base
		if idx := strings.Index(base, "_"); idx >= 0 {
			numPart = base[:idx]
		}
		version, err := strconv.Atoi(numPart)
		if err != nil {
			return nil, fmt.Errorf("migrate: script %s has non-numeric prefix: %w", name, err)
		}
		content, err := scripts.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", name, err)
		}
		out = append(out, script{version: version, name: base, sql: string(content)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Run brings db up to the latest embedded schema version. Each script runs
// inside its own transaction and is responsible for recording its own
// version row in schema_version; Run never writes that row itself.
func Run(db *sql.DB) error {
	if _, err := db.Exec(bootstrap); err != nil {
		return fmt.Errorf("migrate: bootstrap schema_version: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}

	all, err := loadScripts()
	if err != nil {
		return err
	}

	for _, s := range all {
		if s.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate: begin %s: %w", s.name, err)
		}
		if _, err := tx.Exec(s.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: apply %s: %w", s.name, err)
		}
		var recorded int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM schema_version WHERE version = ?`, s.version).Scan(&recorded); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: verify %s recorded its version row: %w", s.name, err)
		}
		if recorded == 0 {
			tx.Rollback()
			return fmt.Errorf("migrate: %s did not record its own schema_version row", s.name)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate: commit %s: %w", s.name, err)
		}
		current = s.version
	}
	return nil
}

// CurrentVersion reports the highest applied schema version, used by
// `engram doctor` preflight checks.
func CurrentVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("migrate: read current version: %w", err)
	}
	return v, nil
}
