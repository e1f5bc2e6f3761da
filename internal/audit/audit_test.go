package audit

import (
	"path/filepath"
	"testing"
)

func TestRecordAndScanRoundTrip(t *testing.T) {
	log, err := Open(filepath.Join(t.TempDir(), "nested", "audit.jsonl"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := log.Record("knowledge_item.add", map[string]any{"id": "abc"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := log.Record("insight.add", map[string]any{"id": "def"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := log.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Type != "knowledge_item.add" || entries[1].Type != "insight.add" {
		t.Errorf("unexpected entry types: %+v", entries)
	}
}

func TestFilterByType(t *testing.T) {
	log, _ := Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	log.Record("a", 1)
	log.Record("b", 2)
	log.Record("a", 3)

	onlyA, err := log.Filter("a")
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(onlyA) != 2 {
		t.Errorf("expected 2 'a' entries, got %d", len(onlyA))
	}

	count, err := log.Count("b")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 'b' entry, got %d", count)
	}
}

func TestScanMissingFileReturnsEmpty(t *testing.T) {
	log, _ := Open(filepath.Join(t.TempDir(), "never-written.jsonl"))
	entries, err := log.Scan()
	if err != nil {
		t.Fatalf("Scan on missing file: %v", err)
	}
	if entries != nil {
		t.Errorf("expected nil entries for missing file, got %v", entries)
	}
}
