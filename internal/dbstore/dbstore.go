// Package dbstore owns the single embedded SQLite file engram persists to.
// It is grounded on _examples/Heikkila-Pty-Ltd-cortex's internal/store/store.go
// Open(), extended with the pragma set and connection registry the spec's
// concurrency model requires (spec §5: single writer, many readers, one
// process per engram root).
package dbstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/engram-dev/engram/internal/migrate"
)

// DB wraps the shared *sql.DB handle for one (path, readonly) pair.
type DB struct {
	conn     *sql.DB
	path     string
	readonly bool
}

func (d *DB) Conn() *sql.DB { return d.conn }
func (d *DB) Path() string  { return d.path }

func (d *DB) Close() error {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, registryKey{d.path, d.readonly})
	return d.conn.Close()
}

type registryKey struct {
	path     string
	readonly bool
}

var (
	registryMu sync.Mutex
	registry   = map[registryKey]*DB{}
)

// Open returns the shared *DB for path, creating the underlying directory,
// connection, and schema on first use. Subsequent Opens of the same
// (path, readonly) pair return the same handle so readers and the single
// writer share one pooled connection per process (spec §5).
func Open(path string, readonly bool) (*DB, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	key := registryKey{path, readonly}
	if existing, ok := registry[key]; ok {
		return existing, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("dbstore: create dir for %s: %w", path, err)
	}

	dsn := path + "?" + dsnParams(readonly)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbstore: open %s: %w", path, err)
	}

	if readonly {
		conn.SetMaxOpenConns(4)
	} else {
		// A single writer connection avoids SQLITE_BUSY storms under WAL;
		// readers elsewhere in the process open their own readonly DB.
		conn.SetMaxOpenConns(1)
	}

	db := &DB{conn: conn, path: path, readonly: readonly}

	if !readonly {
		if err := migrate.Run(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("dbstore: migrate %s: %w", path, err)
		}
	}

	registry[key] = db
	return db, nil
}

// dsnParams builds the pragma query string for a connection. Writable
// opens carry the full pragma set spec §4.C requires; read-only opens
// skip every writable pragma and only set busy_timeout and mode=ro, since
// a reader never needs WAL/synchronous/cache tuning it cannot itself
// trigger.
func dsnParams(readonly bool) string {
	if readonly {
		return "_pragma=busy_timeout(5000)&mode=ro"
	}
	params := []string{
		"_pragma=journal_mode(WAL)",
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(ON)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=wal_autocheckpoint(1000)",
		"_pragma=cache_size(-64000)",
		"_pragma=temp_store(MEMORY)",
	}
	joined := params[0]
	for _, p := range params[1:] {
		joined += "&" + p
	}
	return joined
}

// CloseAll tears down every registered connection; used by tests and by the
// CLI's shutdown path.
func CloseAll() error {
	registryMu.Lock()
	defer registryMu.Unlock()
	var firstErr error
	for key, db := range registry {
		if err := db.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(registry, key)
	}
	return firstErr
}
