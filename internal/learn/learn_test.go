package learn

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

func newTestEnv(t *testing.T) (*repo.Repository, string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "engram.db")
	db, err := dbstore.Open(dbPath, false)
	if err != nil {
		t.Fatalf("dbstore.Open: %v", err)
	}
	t.Cleanup(func() { dbstore.CloseAll() })
	log, err := audit.Open(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}

	docPath := filepath.Join(dir, "GUIDANCE.md")
	if err := os.WriteFile(docPath, []byte(beginMarker+"\n"+endMarker+"\n"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	return repo.New(db, log), dbPath, docPath
}

func TestPreflightFailsWithoutDatabase(t *testing.T) {
	dir := t.TempDir()
	err := Preflight(filepath.Join(dir, "missing.db"), filepath.Join(dir, "GUIDANCE.md"))
	if _, ok := err.(*errs.StateError); !ok {
		t.Fatalf("expected *errs.StateError, got %T", err)
	}
}

func TestPreflightFailsWithoutMarkers(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "engram.db")
	if err := os.WriteFile(dbPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	docPath := filepath.Join(dir, "GUIDANCE.md")
	if err := os.WriteFile(docPath, []byte("no markers"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	err := Preflight(dbPath, docPath)
	if _, ok := err.(*errs.StateError); !ok {
		t.Fatalf("expected *errs.StateError, got %T", err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	r, dbPath, docPath := newTestEnv(t)

	for i := 0; i < 3; i++ {
		r.AddTrace(model.Trace{
			SubjectID: "svcA",
			Outcome:   model.OutcomeFailure,
			Executions: []model.Execution{{
				Runner: "go", Command: "go vet ./...", Status: model.StatusFail,
				Errors: []model.TraceError{{Tool: "vet", Severity: model.SeverityError, Message: "must always check ctx.Err()", File: "main.go"}},
			}},
		})
	}

	result, err := Run(r, dbPath, docPath, "proj1", 0.5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Reflect.Created) != 1 {
		t.Fatalf("expected reflect to create 1 insight, got %d", len(result.Reflect.Created))
	}
	if len(result.Curate.Promoted) != 1 {
		t.Fatalf("expected curate to promote 1 knowledge item, got %d", len(result.Curate.Promoted))
	}
	if !result.Apply.Rendered {
		t.Error("expected apply to render the guidance document")
	}

	doc, err := os.ReadFile(docPath)
	if err != nil {
		t.Fatalf("os.ReadFile: %v", err)
	}
	if want := "must always check ctx.Err()"; !strings.Contains(string(doc), want) {
		t.Errorf("expected guidance document to contain %q", want)
	}
}

func TestRunWrapsStepFailure(t *testing.T) {
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
	r := repo.New(db, log)
	dbPath := filepath.Join(dir, "engram.db")
	docPath := filepath.Join(dir, "GUIDANCE.md")
	os.WriteFile(docPath, []byte(beginMarker+"\n"+endMarker), 0o644)

	_, err = Run(r, dbPath, docPath, "proj1", -1)
	step, ok := err.(*errs.StepError)
	if !ok {
		t.Fatalf("expected *errs.StepError, got %T", err)
	}
	if step.Step != "curate" {
		t.Errorf("expected failure attributed to curate step, got %s", step.Step)
	}
}
