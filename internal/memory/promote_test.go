package memory

import (
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

func TestClassify(t *testing.T) {
	cases := []struct {
		pattern, description string
		want                 string
	}{
		{"retry on timeout", "clients should always retry transient failures", model.WorkingMemoryDecision},
		{"schema check", "every migration requires a matching schema_version row", model.WorkingMemoryInvariant},
		{"log volume", "trace volume doubled after the new parser shipped", model.WorkingMemorySummary},
	}
	for _, c := range cases {
		if got := Classify(c.pattern, c.description); got != c.want {
			t.Errorf("Classify(%q, %q) = %s, want %s", c.pattern, c.description, got, c.want)
		}
	}
}

func TestPromoteClassifiesAndRecordsEvent(t *testing.T) {
	r := newTestRepo(t)
	in, err := r.AddInsight(model.Insight{
		Pattern:     "error handling",
		Description: "handlers must never swallow context cancellation errors",
		Confidence:  0.9,
		Frequency:   4,
	})
	if err != nil {
		t.Fatalf("AddInsight: %v", err)
	}

	result, err := Promote(r, "proj1", 0.8)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if len(result.Promoted) != 1 {
		t.Fatalf("expected 1 promoted entry, got %d", len(result.Promoted))
	}
	if result.Promoted[0].Type != model.WorkingMemoryDecision {
		t.Errorf("expected decision classification, got %s", result.Promoted[0].Type)
	}

	events, err := r.ListMemoryEventsBySubject(in.ID)
	if err != nil {
		t.Fatalf("ListMemoryEventsBySubject: %v", err)
	}
	if len(events) != 1 || events[0].Event != "promoted_to_working_memory" {
		t.Fatalf("expected one promoted_to_working_memory event, got %+v", events)
	}
}

func TestPromoteSkipsBelowThreshold(t *testing.T) {
	r := newTestRepo(t)
	r.AddInsight(model.Insight{Pattern: "p", Description: "low confidence note", Confidence: 0.3, Frequency: 1})

	result, err := Promote(r, "proj1", 0.8)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if len(result.Promoted) != 0 {
		t.Errorf("expected no promotions below threshold, got %d", len(result.Promoted))
	}
}

func TestPromoteIsIdempotentOnContentText(t *testing.T) {
	r := newTestRepo(t)
	r.AddInsight(model.Insight{Pattern: "p", Description: "always validate input at the boundary", Confidence: 0.9, Frequency: 2})

	first, err := Promote(r, "proj1", 0.8)
	if err != nil {
		t.Fatalf("first Promote: %v", err)
	}
	second, err := Promote(r, "proj1", 0.8)
	if err != nil {
		t.Fatalf("second Promote: %v", err)
	}
	if first.Promoted[0].ID != second.Promoted[0].ID {
		t.Errorf("expected same working memory id on repeated promotion of identical content")
	}

	list, err := r.ListWorkingMemory("proj1", "")
	if err != nil {
		t.Fatalf("ListWorkingMemory: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected a single working memory row, got %d", len(list))
	}
}
