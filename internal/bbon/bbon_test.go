package bbon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/engram-dev/engram/internal/audit"
	"github.com/engram-dev/engram/internal/dbstore"
	"github.com/engram-dev/engram/internal/errs"
	"github.com/engram-dev/engram/internal/model"
	"github.com/engram-dev/engram/internal/repo"
)

const (
	beginMarker = "<!-- BEGIN: LEARNED_PATTERNS -->"
	endMarker   = "<!-- END: LEARNED_PATTERNS -->"
)

func newTestEnv(t *testing.T) (*repo.Repository, Options) {
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
	return repo.New(db, log), Options{N: 2, ProjectID: "proj1", DBPath: dbPath, DocPath: docPath, Tau: 0.8}
}

func TestRunRejectsMissingGoal(t *testing.T) {
	r, opts := newTestEnv(t)
	_, err := Run(r, TaskSpec{}, opts)
	if _, ok := err.(*errs.ValidationError); !ok {
		t.Fatalf("expected *errs.ValidationError, got %T", err)
	}
}

func TestRunCompletesAllAttempts(t *testing.T) {
	r, opts := newTestEnv(t)
	result, err := Run(r, TaskSpec{Goal: "fix flaky tests", SubjectID: "svcA"}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Run.N != 2 {
		t.Fatalf("expected N=2, got %d", result.Run.N)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(result.Attempts))
	}
	for i, a := range result.Attempts {
		if a.Status != model.AttemptCompleted {
			t.Errorf("attempt %d: expected completed, got %s", i, a.Status)
		}
		if a.CompletedAt == "" {
			t.Errorf("attempt %d: expected completedAt stamp", i)
		}
		steps, err := r.ListAttemptSteps(a.ID)
		if err != nil {
			t.Fatalf("ListAttemptSteps: %v", err)
		}
		if len(steps) != 2 {
			t.Fatalf("attempt %d: expected 2 steps, got %d", i, len(steps))
		}
		if steps[0].Kind != model.StepKindReflect || steps[1].Kind != model.StepKindLearnComplete {
			t.Errorf("attempt %d: unexpected step kinds: %s, %s", i, steps[0].Kind, steps[1].Kind)
		}
	}
}

func TestRunMarksAttemptFailedOnLearnError(t *testing.T) {
	r, opts := newTestEnv(t)
	opts.N = 1
	opts.DocPath = filepath.Join(t.TempDir(), "missing.md") // preflight will fail

	result, err := Run(r, TaskSpec{Goal: "fix flaky tests"}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(result.Attempts))
	}
	a := result.Attempts[0]
	if a.Status != model.AttemptFailed {
		t.Fatalf("expected failed status, got %s", a.Status)
	}

	steps, err := r.ListAttemptSteps(a.ID)
	if err != nil {
		t.Fatalf("ListAttemptSteps: %v", err)
	}
	if len(steps) != 2 || steps[1].Kind != model.StepKindError {
		t.Fatalf("expected error step logged, got %+v", steps)
	}
	if steps[1].Observation["error"] == nil {
		t.Error("expected observation.error to be populated")
	}
}

func TestRunDefaultsNAndSeed(t *testing.T) {
	r, opts := newTestEnv(t)
	opts.N = 0
	opts.Seed = 0
	result, err := Run(r, TaskSpec{Goal: "x"}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Run.N != DefaultN {
		t.Errorf("expected default N=%d, got %d", DefaultN, result.Run.N)
	}
	if result.Run.Seed == 0 {
		t.Error("expected a non-zero wall-clock seed")
	}
}
