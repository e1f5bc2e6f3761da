// Package bbon runs the Best-of-N exploration loop: N sequential Attempts
// against a single Task, each invoking the Learn orchestrator and logging
// its progress as AttemptSteps (spec §4.M). The sequential-attempts,
// step-logged-state-machine shape is grounded on
// _examples/tim-coutinho-agentops's internal/pool worker loop, adapted
// from concurrent job dispatch to the spec's deliberately sequential
// attempt execution (so the shared guidance document is never
// concurrently rewritten).
package bbon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/engram-dev/engram/internal/errs"
	"github.com/engram-dev/engram/internal/learn"
	"github.com/engram-dev/engram/internal/model"
	"github.com/engram-dev/engram/internal/repo"
)

const DefaultN = 3

// TaskSpec is the external task description (spec §6 "Task spec (bBoN)").
type TaskSpec struct {
	Goal        string         `json:"goal"`
	SubjectID   string         `json:"subjectId"`
	Constraints []string       `json:"constraints"`
	Context     map[string]any `json:"context"`
}

// Options configures a Run invocation.
type Options struct {
	N         int
	Seed      int64
	ProjectID string
	DBPath    string
	DocPath   string
	Tau       float64
}

// Result summarizes one bBoN run: the created Task, Run, and every
// Attempt's terminal state.
type Result struct {
	Task     model.Task      `json:"task"`
	Run      model.Run       `json:"run"`
	Attempts []model.Attempt `json:"attempts"`
}

// Run validates the task spec, creates a Task and Run, then executes N
// attempts sequentially, each invoking the Learn orchestrator.
func Run(r *repo.Repository, spec TaskSpec, opts Options) (Result, error) {
	if spec.Goal == "" {
		return Result{}, errs.NewValidation("TaskSpec", "goal", "required")
	}

	n := opts.N
	if n <= 0 {
		n = DefaultN
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	taskSpecMap := map[string]any{
		"goal":        spec.Goal,
		"constraints": toAnySlice(spec.Constraints),
		"context":     spec.Context,
	}
	task, err := r.AddTask(model.Task{SubjectID: spec.SubjectID, Spec: taskSpecMap})
	if err != nil {
		return Result{}, fmt.Errorf("bbon: create task: %w", err)
	}

	run, err := r.AddRun(model.Run{TaskID: task.ID, N: n, Seed: seed})
	if err != nil {
		return Result{}, fmt.Errorf("bbon: create run: %w", err)
	}

	attempts := make([]model.Attempt, 0, n)
	for ordinal := 0; ordinal < n; ordinal++ {
		attempt, err := runAttempt(r, run.ID, ordinal, taskSpecMap, opts)
		if err != nil {
			return Result{}, fmt.Errorf("bbon: attempt %d: %w", ordinal, err)
		}
		attempts = append(attempts, attempt)
	}

	return Result{Task: task, Run: run, Attempts: attempts}, nil
}

func runAttempt(r *repo.Repository, runID string, ordinal int, taskSpec map[string]any, opts Options) (model.Attempt, error) {
	attempt, err := r.AddAttempt(model.Attempt{RunID: runID, Ordinal: ordinal})
	if err != nil {
		return model.Attempt{}, err
	}
	attempt, err = r.UpdateAttempt(attempt.ID, model.AttemptRunning, nil)
	if err != nil {
		return model.Attempt{}, err
	}

	if _, err := r.AddAttemptStep(model.AttemptStep{
		AttemptID: attempt.ID, StepIndex: 0, Kind: model.StepKindReflect, Input: taskSpec,
	}); err != nil {
		return model.Attempt{}, err
	}

	learnResult, learnErr := learn.Run(r, opts.DBPath, opts.DocPath, opts.ProjectID, opts.Tau)

	if learnErr != nil {
		if _, err := r.AddAttemptStep(model.AttemptStep{
			AttemptID: attempt.ID, StepIndex: 1, Kind: model.StepKindError,
			Observation: map[string]any{"error": learnErr.Error()},
		}); err != nil {
			return model.Attempt{}, err
		}
		return r.UpdateAttempt(attempt.ID, model.AttemptFailed, nil)
	}

	learnOutput, err := toResultMap(learnResult)
	if err != nil {
		return model.Attempt{}, err
	}
	if _, err := r.AddAttemptStep(model.AttemptStep{
		AttemptID: attempt.ID, StepIndex: 1, Kind: model.StepKindLearnComplete, Output: learnOutput,
	}); err != nil {
		return model.Attempt{}, err
	}

	return r.UpdateAttempt(attempt.ID, model.AttemptCompleted, learnOutput)
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// toResultMap round-trips a LearnResult through JSON so it can be stored as
// an Attempt's result/AttemptStep's output (both plain map[string]any).
func toResultMap(result learn.Result) (map[string]any, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("bbon: marshal learn result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("bbon: unmarshal learn result: %w", err)
	}
	return out, nil
}
