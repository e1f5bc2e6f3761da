// Package repo implements the Repository: engram's single point of access
// to persisted entities (spec §4.C). Every Add is idempotent (insert, or
// silently resolve to the existing row sharing the same content id); every
// mutation is mirrored to the audit log. Grounded in
// _examples/Heikkila-Pty-Ltd-cortex's internal/store/store.go CRUD surface
// (explicit SQL, no ORM, sql.Result.RowsAffected as the idempotency signal)
// with the corpus's sentinel/typed-error discipline layered on top via
// internal/errs.
package repo

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/engram-dev/engram/internal/audit"
	"github.com/engram-dev/engram/internal/dbstore"
	"github.com/engram-dev/engram/internal/errs"
)

// querier is the subset of *sql.DB / *sql.Tx the entity methods use, which
// lets the same method bodies run against either the pooled connection or
// a transaction scope (spec §9: "transaction scopes to the Repository"),
// grounded on the *sql.DB/*sql.Tx split internal/migrate.Run already relies
// on for its own per-script transactions.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Repository is the single read/write surface over engram's SQLite store.
type Repository struct {
	db    querier
	audit *audit.Log
}

// New builds a Repository over an already-migrated database handle. audit
// may be nil, in which case mutations are not mirrored (used by read-only
// commands like `engram apply`).
func New(db *dbstore.DB, auditLog *audit.Log) *Repository {
	return &Repository{db: db.Conn(), audit: auditLog}
}

// WithTx runs fn against a Repository scoped to a single transaction,
// committing on success and rolling back on error (spec §4.I, §9). Only
// valid on a pooled-connection Repository; nesting is not supported.
func (r *Repository) WithTx(fn func(tx *Repository) error) error {
	db, ok := r.db.(*sql.DB)
	if !ok {
		return fmt.Errorf("repo: WithTx called on a transaction-scoped repository")
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("repo: begin transaction: %w", err)
	}
	if err := fn(&Repository{db: tx, audit: r.audit}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Repository) logMutation(entryType string, data any) {
	if r.audit == nil {
		return
	}
	// The store row is the durable source of truth; the log is a replay
	// aid, so a failed mirror must never fail the caller's transaction.
	// It is still surfaced, since a silently missed mirror would weaken
	// the mutation guarantee invariant 3 describes (spec §3).
	if err := r.audit.Record(entryType, data); err != nil {
		slog.Warn("repo: audit mirror failed", "type", entryType, "error", err)
	}
}

// rowImage marshals v (an entity struct) through JSON into a map, the
// "complete JSON object" audit entries carry as their data field (spec
// §4.E step 4, §4.F), grounded on the same marshal-roundtrip toMap helper
// internal/adopt uses to shape entities for its own comparisons.
func rowImage(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("repo: marshal: %w", err)
	}
	return string(b), nil
}

func marshalStrings(xs []string) (string, error) {
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "", fmt.Errorf("repo: marshal strings: %w", err)
	}
	return string(b), nil
}

func unmarshalStrings(s string) []string {
	var out []string
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func jsonUnmarshalSlice(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}

func unmarshalMap(s string) map[string]any {
	out := map[string]any{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// rowExists is a small helper for "insert or ignore, then tell me which it
// was" call sites that need to decide whether to emit an audit entry.
func rowExists(res sql.Result) (inserted bool, err error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repo: rows affected: %w", err)
	}
	return n > 0, nil
}

func notFound(entity, id string) error {
	return &errs.NotFound{Entity: entity, ID: id}
}
