package diff

import (
	"strings"
	"testing"

	"github.com/engram-dev/engram/internal/model"
)

func step(attemptID string, idx int, kind string, output map[string]any) model.AttemptStep {
	return model.AttemptStep{AttemptID: attemptID, StepIndex: idx, Kind: kind, Output: output}
}

func TestRunIsDeterministic(t *testing.T) {
	left := model.Attempt{ID: "a", Status: model.AttemptCompleted}
	right := model.Attempt{ID: "b", Status: model.AttemptFailed}
	leftSteps := []model.AttemptStep{step("a", 0, model.StepKindReflect, nil), step("a", 1, model.StepKindLearnComplete, map[string]any{"x": 1.0})}
	rightSteps := []model.AttemptStep{step("b", 0, model.StepKindReflect, nil), step("b", 1, model.StepKindError, nil)}

	first := Run(left, right, leftSteps, rightSteps)
	second := Run(left, right, leftSteps, rightSteps)
	if first.Summary != second.Summary {
		t.Errorf("expected deterministic summary, got %q vs %q", first.Summary, second.Summary)
	}
	if len(first.Deltas) != len(second.Deltas) {
		t.Errorf("expected deterministic deltas")
	}
}

func TestRunDetectsStatusAndErrorDeltas(t *testing.T) {
	left := model.Attempt{ID: "a", Status: model.AttemptCompleted}
	right := model.Attempt{ID: "b", Status: model.AttemptFailed}
	leftSteps := []model.AttemptStep{step("a", 0, model.StepKindReflect, nil), step("a", 1, model.StepKindLearnComplete, nil)}
	rightSteps := []model.AttemptStep{step("b", 0, model.StepKindReflect, nil), step("b", 1, model.StepKindError, nil)}

	result := Run(left, right, leftSteps, rightSteps)

	foundStatus, foundErrors := false, false
	for _, d := range result.Deltas {
		if strings.HasPrefix(d, "status:") {
			foundStatus = true
		}
		if strings.HasPrefix(d, "error steps:") {
			foundErrors = true
		}
	}
	if !foundStatus {
		t.Error("expected a status delta")
	}
	if !foundErrors {
		t.Error("expected an error-count delta")
	}
	if len(result.ProsCons.LeftPros) == 0 {
		t.Error("expected left side to accrue pros (fewer errors, completed status)")
	}
}

func TestRunAlignsStepsOfDifferentLength(t *testing.T) {
	left := model.Attempt{ID: "a", Status: model.AttemptCompleted}
	right := model.Attempt{ID: "b", Status: model.AttemptCompleted}
	leftSteps := []model.AttemptStep{step("a", 0, model.StepKindReflect, nil)}
	var rightSteps []model.AttemptStep

	result := Run(left, right, leftSteps, rightSteps)
	if len(result.AlignedSteps) != 1 {
		t.Fatalf("expected 1 aligned position, got %d", len(result.AlignedSteps))
	}
	if result.AlignedSteps[0].Right != nil {
		t.Error("expected right side absent")
	}
	if result.AlignedSteps[0].Delta == "" {
		t.Error("expected a delta noting the left-only step")
	}
}

func TestRunTieSummary(t *testing.T) {
	left := model.Attempt{ID: "a", Status: model.AttemptCompleted}
	right := model.Attempt{ID: "b", Status: model.AttemptCompleted}
	steps := []model.AttemptStep{step("x", 0, model.StepKindReflect, nil)}

	result := Run(left, right, steps, steps)
	if !strings.Contains(result.Summary, "tied") {
		t.Errorf("expected tie language in summary, got %q", result.Summary)
	}
}
