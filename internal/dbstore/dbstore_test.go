package dbstore

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesSchemaAndIsSingleton(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "engram.db")

	db1, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer CloseAll()

	db2, err := Open(path, false)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if db1 != db2 {
		t.Error("expected Open to return the same *DB for the same (path, readonly) pair")
	}

	var count int
	if err := db1.Conn().QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		t.Fatalf("schema not migrated on open: %v", err)
	}
	if count == 0 {
		t.Error("expected at least one applied migration")
	}
}

func TestOpenReadonlySeesWriterMigratedSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.db")
	defer CloseAll()

	if _, err := Open(path, false); err != nil {
		t.Fatalf("writer Open: %v", err)
	}

	ro, err := Open(path, true)
	if err != nil {
		t.Fatalf("readonly Open: %v", err)
	}
	var count int
	if err := ro.Conn().QueryRow(`SELECT COUNT(*) FROM knowledge_items`).Scan(&count); err != nil {
		t.Fatalf("readonly connection cannot see migrated schema: %v", err)
	}
}
