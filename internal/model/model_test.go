package model

import (
	"testing"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/errs"
)

func TestKnowledgeItemCreationInputsExcludeCounters(t *testing.T) {
	base := KnowledgeItem{
		Type: KnowledgeTypeFact, Text: "uses go 1.23", Scope: "project",
		MetaTags: []string{"build"}, Confidence: 0.9,
	}
	withCounters := base
	withCounters.Helpful, withCounters.Harmful = 5, 2
	withCounters.CreatedAt, withCounters.UpdatedAt = "2026-01-01T00:00:00Z", "2026-06-01T00:00:00Z"

	id1 := canonical.MustID(base.CreationInputs())
	id2 := canonical.MustID(withCounters.CreationInputs())
	if id1 != id2 {
		t.Errorf("counters/timestamps changed the content id: %s vs %s", id1, id2)
	}
}

func TestKnowledgeItemValidate(t *testing.T) {
	bad := KnowledgeItem{Type: "nonsense", Confidence: 2}
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var ve *errs.ValidationError
	if !errorsAsValidation(err, &ve) {
		t.Fatalf("expected *errs.ValidationError, got %T", err)
	}
	if len(ve.Fields) < 3 {
		t.Errorf("expected multiple field errors, got %d", len(ve.Fields))
	}
}

func errorsAsValidation(err error, target **errs.ValidationError) bool {
	ve, ok := err.(*errs.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

func TestAttemptCreationInputsExcludeMutableFields(t *testing.T) {
	a1 := Attempt{RunID: "run1", Ordinal: 0, Status: AttemptPending}
	a2 := Attempt{RunID: "run1", Ordinal: 0, Status: AttemptCompleted, Result: map[string]any{"ok": true}, CompletedAt: "2026-01-01T00:00:00Z"}

	id1 := canonical.MustID(a1.CreationInputs())
	id2 := canonical.MustID(a2.CreationInputs())
	if id1 != id2 {
		t.Errorf("status/result/completedAt changed the content id: %s vs %s", id1, id2)
	}
}

func TestAttemptStateMachine(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{AttemptPending, AttemptRunning, true},
		{AttemptRunning, AttemptCompleted, true},
		{AttemptRunning, AttemptFailed, true},
		{AttemptPending, AttemptCompleted, false},
		{AttemptCompleted, AttemptRunning, false},
		{AttemptFailed, AttemptRunning, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
	if !IsTerminal(AttemptCompleted) || !IsTerminal(AttemptFailed) {
		t.Error("completed/failed must be terminal")
	}
	if IsTerminal(AttemptRunning) || IsTerminal(AttemptPending) {
		t.Error("running/pending must not be terminal")
	}
}

func TestShortTermMemoryIDIgnoresValue(t *testing.T) {
	m1 := ShortTermMemory{RunID: "r1", Key: "scratchpad", Value: map[string]any{"step": 1}}
	m2 := ShortTermMemory{RunID: "r1", Key: "scratchpad", Value: map[string]any{"step": 99}}
	if canonical.MustID(m1.CreationInputs()) != canonical.MustID(m2.CreationInputs()) {
		t.Error("upsert target id must depend only on (runId, key)")
	}
}

func TestWorkingMemoryIDIncludesContent(t *testing.T) {
	w1 := WorkingMemory{ProjectID: "p1", Type: WorkingMemoryInvariant, ContentText: "never vendor deps"}
	w2 := WorkingMemory{ProjectID: "p1", Type: WorkingMemoryInvariant, ContentText: "always vendor deps"}
	if canonical.MustID(w1.CreationInputs()) == canonical.MustID(w2.CreationInputs()) {
		t.Error("distinct contentText must yield distinct ids")
	}
}

func TestTraceValidateRejectsUnknownOutcome(t *testing.T) {
	tr := Trace{Outcome: "maybe"}
	if err := tr.Validate(); err == nil {
		t.Error("expected validation error for unknown outcome")
	}
}

func TestTaskValidateRequiresGoal(t *testing.T) {
	task := Task{SubjectID: "s1", Spec: map[string]any{}}
	if err := task.Validate(); err == nil {
		t.Error("expected validation error for missing spec.goal")
	}
	task.Spec["goal"] = "fix the flaky test"
	if err := task.Validate(); err != nil {
		t.Errorf("unexpected error once goal is present: %v", err)
	}
}

func TestJudgePairIDIsValidContentID(t *testing.T) {
	p := JudgePair{RunID: "r1", LeftAttemptID: "a1", RightAttemptID: "a2", PromptVersion: "v1"}
	id, err := canonical.ID(p.CreationInputs())
	if err != nil {
		t.Fatal(err)
	}
	if !canonical.Valid(id) {
		t.Errorf("expected valid content id, got %s", id)
	}
}
