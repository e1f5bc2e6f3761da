// Package diff produces a pure, deterministic narrative comparison between
// two Attempts and their steps (spec §4.N). The position-aligned step
// comparison plus derived pros/cons is grounded on
// _examples/tim-coutinho-agentops's internal/vibecheck report builder,
// which aligns two runs step-by-step and narrates where they diverge.
package diff

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/model"
)

// AlignedStep is one position-indexed pairing of left/right steps.
type AlignedStep struct {
	Index int                `json:"index"`
	Left  *model.AttemptStep `json:"left,omitempty"`
	Right *model.AttemptStep `json:"right,omitempty"`
	Delta string             `json:"delta,omitempty"`
}

// ProsCons attributes pros/cons counts to the left and right side.
type ProsCons struct {
	LeftPros  []string `json:"leftPros"`
	LeftCons  []string `json:"leftCons"`
	RightPros []string `json:"rightPros"`
	RightCons []string `json:"rightCons"`
}

// Result is the full narrative diff (spec §4.N output).
type Result struct {
	AlignedSteps []AlignedStep `json:"alignedSteps"`
	Deltas       []string      `json:"deltas"`
	ProsCons     ProsCons      `json:"prosCons"`
	Summary      string        `json:"summary"`
}

// Run compares two attempts and their steps. Inputs must already be sorted
// by stepIndex ascending; the function is pure and deterministic.
func Run(left, right model.Attempt, leftSteps, rightSteps []model.AttemptStep) Result {
	aligned := alignSteps(leftSteps, rightSteps)
	deltas := buildDeltas(left, right, leftSteps, rightSteps)
	prosCons := buildProsCons(left, right, leftSteps, rightSteps)
	summary := buildSummary(left, right, deltas, prosCons)

	return Result{AlignedSteps: aligned, Deltas: deltas, ProsCons: prosCons, Summary: summary}
}

func alignSteps(left, right []model.AttemptStep) []AlignedStep {
	n := len(left)
	if len(right) > n {
		n = len(right)
	}
	out := make([]AlignedStep, 0, n)
	for i := 0; i < n; i++ {
		var l, r *model.AttemptStep
		if i < len(left) {
			l = &left[i]
		}
		if i < len(right) {
			r = &right[i]
		}
		out = append(out, AlignedStep{Index: i, Left: l, Right: r, Delta: stepDelta(l, r)})
	}
	return out
}

func stepDelta(l, r *model.AttemptStep) string {
	switch {
	case l == nil && r == nil:
		return ""
	case l == nil:
		return fmt.Sprintf("right-only step of kind %s", r.Kind)
	case r == nil:
		return fmt.Sprintf("left-only step of kind %s", l.Kind)
	case l.Kind != r.Kind:
		return fmt.Sprintf("kind differs: %s vs %s", l.Kind, r.Kind)
	case !reflect.DeepEqual(l.Output, r.Output) || !reflect.DeepEqual(l.Observation, r.Observation):
		return "outputs/observations differ"
	default:
		return ""
	}
}

func buildDeltas(left, right model.Attempt, leftSteps, rightSteps []model.AttemptStep) []string {
	var deltas []string
	if left.Status != right.Status {
		deltas = append(deltas, fmt.Sprintf("status: %s vs %s", left.Status, right.Status))
	}
	if len(leftSteps) != len(rightSteps) {
		deltas = append(deltas, fmt.Sprintf("steps.length: %d vs %d", len(leftSteps), len(rightSteps)))
	}
	leftErrs, rightErrs := countKind(leftSteps, model.StepKindError), countKind(rightSteps, model.StepKindError)
	if leftErrs != rightErrs {
		deltas = append(deltas, fmt.Sprintf("error steps: %d vs %d", leftErrs, rightErrs))
	}
	leftOut, rightOut := learnCompleteOutput(leftSteps), learnCompleteOutput(rightSteps)
	if !reflect.DeepEqual(leftOut, rightOut) {
		deltas = append(deltas, "learn_complete.output differs")
	}
	return deltas
}

func countKind(steps []model.AttemptStep, kind string) int {
	n := 0
	for _, s := range steps {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func learnCompleteOutput(steps []model.AttemptStep) map[string]any {
	for _, s := range steps {
		if s.Kind == model.StepKindLearnComplete {
			return s.Output
		}
	}
	return nil
}

// buildProsCons scores each side on fewer errors and fewer steps; the
// smaller count earns a pro on that side and a con on the other.
func buildProsCons(left, right model.Attempt, leftSteps, rightSteps []model.AttemptStep) ProsCons {
	var pc ProsCons

	leftErrs, rightErrs := countKind(leftSteps, model.StepKindError), countKind(rightSteps, model.StepKindError)
	switch {
	case leftErrs < rightErrs:
		pc.LeftPros = append(pc.LeftPros, "fewer error steps")
		pc.RightCons = append(pc.RightCons, "more error steps")
	case rightErrs < leftErrs:
		pc.RightPros = append(pc.RightPros, "fewer error steps")
		pc.LeftCons = append(pc.LeftCons, "more error steps")
	}

	switch {
	case len(leftSteps) < len(rightSteps):
		pc.LeftPros = append(pc.LeftPros, "fewer total steps")
		pc.RightCons = append(pc.RightCons, "more total steps")
	case len(rightSteps) < len(leftSteps):
		pc.RightPros = append(pc.RightPros, "fewer total steps")
		pc.LeftCons = append(pc.LeftCons, "more total steps")
	}

	if left.Status == model.AttemptCompleted && right.Status != model.AttemptCompleted {
		pc.LeftPros = append(pc.LeftPros, "reached completed status")
		pc.RightCons = append(pc.RightCons, "did not reach completed status")
	}
	if right.Status == model.AttemptCompleted && left.Status != model.AttemptCompleted {
		pc.RightPros = append(pc.RightPros, "reached completed status")
		pc.LeftCons = append(pc.LeftCons, "did not reach completed status")
	}

	return pc
}

func buildSummary(left, right model.Attempt, deltas []string, pc ProsCons) string {
	leftShort, rightShort := canonical.Short(left.ID), canonical.Short(right.ID)
	var b strings.Builder
	fmt.Fprintf(&b, "Comparing attempt %s against attempt %s.", leftShort, rightShort)

	if len(deltas) > 0 {
		n := len(deltas)
		if n > 3 {
			n = 3
		}
		b.WriteString(" Key differences: " + strings.Join(deltas[:n], "; ") + ".")
	} else {
		b.WriteString(" No material differences found.")
	}

	leftScore := len(pc.LeftPros) - len(pc.LeftCons)
	rightScore := len(pc.RightPros) - len(pc.RightCons)
	switch {
	case leftScore > rightScore:
		fmt.Fprintf(&b, " Attempt %s scores higher overall (%d vs %d).", leftShort, leftScore, rightScore)
	case rightScore > leftScore:
		fmt.Fprintf(&b, " Attempt %s scores higher overall (%d vs %d).", rightShort, rightScore, leftScore)
	default:
		b.WriteString(" The two attempts are tied overall.")
	}

	return b.String()
}
