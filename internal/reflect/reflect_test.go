package reflect

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/engram-dev/engram/internal/audit"
	"github.com/engram-dev/engram/internal/dbstore"
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

func failedTrace(subject, tool, file, message string) model.Trace {
	return model.Trace{
		SubjectID: subject,
		Outcome:   model.OutcomeFailure,
		Executions: []model.Execution{
			{Runner: "go", Command: "go test ./...", Status: model.StatusFail, Errors: []model.TraceError{
				{Tool: tool, Severity: model.SeverityError, Message: message, File: file},
			}},
		},
	}
}

func TestRunPromotesHighConfidenceGroups(t *testing.T) {
	r := newTestRepo(t)

	// 3 of 4 failed traces repeat the same (tool,file,message) -> confidence 0.75.
	// Each repeat comes from a different subject so the traces are distinct rows.
	for i := 0; i < 3; i++ {
		if _, err := r.AddTrace(failedTrace(fmt.Sprintf("svcA%d", i), "golint", "main.go", "unused import")); err != nil {
			t.Fatalf("add trace: %v", err)
		}
	}
	if _, err := r.AddTrace(failedTrace("svcB", "staticcheck", "other.go", "unreachable code")); err != nil {
		t.Fatalf("add trace: %v", err)
	}

	result, err := Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Created) != 1 {
		t.Fatalf("expected exactly 1 insight above threshold, got %d: %+v", len(result.Created), result.Created)
	}
	got := result.Created[0]
	if got.Pattern != "golint error in main.go" {
		t.Errorf("unexpected pattern: %s", got.Pattern)
	}
	if got.Confidence != 0.75 {
		t.Errorf("expected confidence 0.75, got %v", got.Confidence)
	}
	if got.Frequency != 3 {
		t.Errorf("expected frequency 3, got %d", got.Frequency)
	}
}

func TestRunSkipsExistingInsight(t *testing.T) {
	r := newTestRepo(t)
	for i := 0; i < 2; i++ {
		r.AddTrace(failedTrace("svcA", "golint", "main.go", "unused import"))
	}

	first, err := Run(r)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if len(first.Created) != 1 {
		t.Fatalf("expected 1 insight, got %d", len(first.Created))
	}

	second, err := Run(r)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(second.Created) != 0 {
		t.Errorf("expected no new insights on re-run, got %d", len(second.Created))
	}
}

func TestRunEmptyInputProducesEmptyOutput(t *testing.T) {
	r := newTestRepo(t)
	result, err := Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Created) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}
