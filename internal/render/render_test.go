package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/engram-dev/engram/internal/audit"
	"github.com/engram-dev/engram/internal/dbstore"
	"github.com/engram-dev/engram/internal/errs"
	"github.com/engram-dev/engram/internal/model"
	"github.com/engram-dev/engram/internal/repo"
)

func newTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	dir := t.TempDir()
	db, err := dbstore.Open(filepath.Join(dir, "engram.db"), false)
	if err != nil {
		t.Fatalf("dbstore.Open: %v", err)
	}
	t.Cleanup(func() { dbstore.CloseAll() })
	log, err := audit.Open(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	return repo.New(db, log)
}

func writeDoc(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "GUIDANCE.md")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	return path
}

func TestRunFailsWhenMarkersMissing(t *testing.T) {
	r := newTestRepo(t)
	dir := t.TempDir()
	path := writeDoc(t, dir, "# Guidance\n\nNo markers here.\n")

	_, err := Run(r, "proj1", path)
	if _, ok := err.(*errs.StateError); !ok {
		t.Fatalf("expected *errs.StateError, got %T (%v)", err, err)
	}
}

func TestRunFailsWhenMarkersMisordered(t *testing.T) {
	r := newTestRepo(t)
	dir := t.TempDir()
	// END appears before BEGIN in byte order.
	body := endMarker + "\n" + beginMarker + "\n"
	path := writeDoc(t, dir, body)

	_, err := Run(r, "proj1", path)
	if _, ok := err.(*errs.StateError); !ok {
		t.Fatalf("expected *errs.StateError, got %T (%v)", err, err)
	}
}

func TestRunRendersAndPreservesSurroundingContent(t *testing.T) {
	r := newTestRepo(t)
	r.AddKnowledgeItem(model.KnowledgeItem{Type: model.KnowledgeTypePattern, Text: "always close rows", Scope: "repo", Confidence: 0.9})
	r.UpsertWorkingMemory(model.WorkingMemory{ProjectID: "proj1", Type: model.WorkingMemoryInvariant, ContentText: "every migration requires a schema_version row"})

	dir := t.TempDir()
	body := "# Header\n\nBefore.\n\n" + beginMarker + "\nstale\n" + endMarker + "\n\nAfter.\n"
	path := writeDoc(t, dir, body)

	result, err := Run(r, "proj1", path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Rendered {
		t.Error("expected rendered=true on first run")
	}
	if result.KnowledgeCount != 1 || result.WorkingMemoryCount != 1 {
		t.Errorf("unexpected counts: %+v", result)
	}

	updated, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile: %v", err)
	}
	text := string(updated)
	if !strings.HasPrefix(text, "# Header\n\nBefore.\n\n"+beginMarker) {
		t.Errorf("expected prefix preserved, got: %s", text)
	}
	if !strings.HasSuffix(text, endMarker+"\n\nAfter.\n") {
		t.Errorf("expected suffix preserved, got: %s", text)
	}
	if !strings.Contains(text, "always close rows") {
		t.Error("expected knowledge item text in rendered region")
	}
	if !strings.Contains(text, "every migration requires a schema_version row") {
		t.Error("expected working memory text in rendered region")
	}
}

func TestRunIsNoopWhenUnchanged(t *testing.T) {
	r := newTestRepo(t)
	r.AddKnowledgeItem(model.KnowledgeItem{Type: model.KnowledgeTypePattern, Text: "always close rows", Scope: "repo", Confidence: 0.9})

	dir := t.TempDir()
	body := beginMarker + "\nstale\n" + endMarker
	path := writeDoc(t, dir, body)

	first, err := Run(r, "proj1", path)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if !first.Rendered {
		t.Fatal("expected first run to render")
	}

	second, err := Run(r, "proj1", path)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Rendered {
		t.Error("expected second run to be a no-op")
	}
}
