// Package adopt implements the judge driver and adoption (spec §4.P): it
// runs the comparative judge over every unordered pair of completed
// attempts in a run, with cached reuse of prior outcomes, then elects a
// winner and pulls its knowledge through into the guidance document. The
// all-pairs-then-rank shape is grounded on
// _examples/tim-coutinho-agentops's internal/ratchet/gate.go, which also
// aggregates per-candidate scores and ranks before admitting a winner.
package adopt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/engram-dev/engram/internal/diff"
	"github.com/engram-dev/engram/internal/errs"
	"github.com/engram-dev/engram/internal/judge"
	"github.com/engram-dev/engram/internal/model"
	"github.com/engram-dev/engram/internal/render"
	"github.com/engram-dev/engram/internal/repo"
)

// DriveResult is the per-pair outcome list returned by Drive.
type DriveResult struct {
	Outcomes []model.JudgeOutcome `json:"outcomes"`
}

// Drive loads all completed attempts for a run, forms every unordered
// pair, and produces (or reuses) a JudgeOutcome for each (spec §4.P
// "Judge driver").
func Drive(ctx context.Context, r *repo.Repository, llm judge.Completer, runID string, opts judge.Options) (DriveResult, error) {
	attempts, err := completedAttempts(r, runID)
	if err != nil {
		return DriveResult{}, err
	}
	if len(attempts) < 2 {
		return DriveResult{}, &errs.StateError{Op: "judge.drive", Message: fmt.Sprintf("run %s has %d completed attempts, need at least 2", runID, len(attempts))}
	}

	var outcomes []model.JudgeOutcome
	for i := 0; i < len(attempts); i++ {
		for j := i + 1; j < len(attempts); j++ {
			left, right := attempts[i], attempts[j]

			pair, err := r.AddJudgePair(model.JudgePair{
				RunID: runID, LeftAttemptID: left.ID, RightAttemptID: right.ID, PromptVersion: opts.PromptVersion,
			})
			if err != nil {
				return DriveResult{}, fmt.Errorf("adopt: create judge pair: %w", err)
			}

			if existing, err := r.GetJudgeOutcomeByPair(pair.ID); err == nil {
				outcomes = append(outcomes, existing)
				continue
			}

			outcome, err := judgePair(ctx, r, llm, pair, left, right, opts)
			if err != nil {
				return DriveResult{}, err
			}
			outcomes = append(outcomes, outcome)
		}
	}

	return DriveResult{Outcomes: outcomes}, nil
}

func judgePair(ctx context.Context, r *repo.Repository, llm judge.Completer, pair model.JudgePair, left, right model.Attempt, opts judge.Options) (model.JudgeOutcome, error) {
	leftSteps, err := r.ListAttemptSteps(left.ID)
	if err != nil {
		return model.JudgeOutcome{}, fmt.Errorf("adopt: list left steps: %w", err)
	}
	rightSteps, err := r.ListAttemptSteps(right.ID)
	if err != nil {
		return model.JudgeOutcome{}, fmt.Errorf("adopt: list right steps: %w", err)
	}

	narrative := diff.Run(left, right, leftSteps, rightSteps)

	result, err := judge.Run(ctx, llm, left, right, narrative, opts)
	if err != nil {
		return model.JudgeOutcome{}, err
	}

	narrativeMap, err := toMap(narrative)
	if err != nil {
		return model.JudgeOutcome{}, fmt.Errorf("adopt: marshal narrative diff: %w", err)
	}

	outcome, _, err := r.AddJudgeOutcome(model.JudgeOutcome{
		PairID:          pair.ID,
		WinnerAttemptID: result.WinnerAttemptID,
		Confidence:      result.Confidence,
		Rationale:       result.Rationale,
		NarrativeDiff:   narrativeMap,
		Model:           opts.Model,
	})
	if err != nil {
		return model.JudgeOutcome{}, fmt.Errorf("adopt: persist judge outcome: %w", err)
	}
	return outcome, nil
}

func completedAttempts(r *repo.Repository, runID string) ([]model.Attempt, error) {
	all, err := r.ListAttemptsByRun(runID)
	if err != nil {
		return nil, fmt.Errorf("adopt: list attempts: %w", err)
	}
	out := make([]model.Attempt, 0, len(all))
	for _, a := range all {
		if a.Status == model.AttemptCompleted {
			out = append(out, a)
		}
	}
	return out, nil
}

// Result is the adoption outcome (spec §4.P "Adoption" step 5).
type Result struct {
	RunID            string  `json:"runId"`
	WinnerAttemptID  string  `json:"winnerAttemptId"`
	WinnerScore      float64 `json:"winnerScore"`
	KnowledgeApplied int     `json:"knowledgeApplied"`
}

// Adopt ranks completed attempts by win count then accumulated confidence
// score (ties broken by ascending ordinal), pulls the winner's curated
// knowledge through the Repository, and re-runs Apply.
func Adopt(r *repo.Repository, runID, projectID, docPath string) (Result, error) {
	pairs, err := r.ListJudgePairsByRun(runID)
	if err != nil {
		return Result{}, fmt.Errorf("adopt: list judge pairs: %w", err)
	}
	var outcomes []model.JudgeOutcome
	for _, p := range pairs {
		if o, err := r.GetJudgeOutcomeByPair(p.ID); err == nil {
			outcomes = append(outcomes, o)
		}
	}
	if len(outcomes) == 0 {
		return Result{}, &errs.StateError{Op: "adopt", Message: fmt.Sprintf("run %s has no judge outcomes", runID)}
	}

	attempts, err := completedAttempts(r, runID)
	if err != nil {
		return Result{}, err
	}
	if len(attempts) == 0 {
		return Result{}, &errs.StateError{Op: "adopt", Message: fmt.Sprintf("run %s has no completed attempts", runID)}
	}

	type tally struct {
		attempt model.Attempt
		wins    int
		score   float64
	}
	tallies := make(map[string]*tally, len(attempts))
	for _, a := range attempts {
		tallies[a.ID] = &tally{attempt: a}
	}
	for _, o := range outcomes {
		if t, ok := tallies[o.WinnerAttemptID]; ok {
			t.wins++
			t.score += o.Confidence
		}
	}

	ranked := make([]*tally, 0, len(tallies))
	for _, t := range tallies {
		ranked = append(ranked, t)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].wins != ranked[j].wins {
			return ranked[i].wins > ranked[j].wins
		}
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].attempt.Ordinal < ranked[j].attempt.Ordinal
	})

	winner := ranked[0]

	knowledgeApplied, err := pullThroughKnowledge(r, winner.attempt)
	if err != nil {
		return Result{}, err
	}

	if _, err := render.Run(r, projectID, docPath); err != nil {
		return Result{}, fmt.Errorf("adopt: apply: %w", err)
	}

	return Result{
		RunID:            runID,
		WinnerAttemptID:  winner.attempt.ID,
		WinnerScore:      winner.score,
		KnowledgeApplied: knowledgeApplied,
	}, nil
}

// pullThroughKnowledge loads the winning attempt's learn_complete step and
// creates a KnowledgeItem for each entry in its curate.promoted output
// (spec §4.P step 4; spec §9 open question 2: the orchestrator, not the
// renderer, is responsible for surfacing knowledgeItems on this path).
func pullThroughKnowledge(r *repo.Repository, winner model.Attempt) (int, error) {
	steps, err := r.ListAttemptSteps(winner.ID)
	if err != nil {
		return 0, fmt.Errorf("adopt: list winner steps: %w", err)
	}

	var promoted []map[string]any
	for _, s := range steps {
		if s.Kind != model.StepKindLearnComplete {
			continue
		}
		curateOut, ok := s.Output["curate"].(map[string]any)
		if !ok {
			continue
		}
		items, ok := curateOut["promoted"].([]any)
		if !ok {
			continue
		}
		for _, raw := range items {
			if m, ok := raw.(map[string]any); ok {
				promoted = append(promoted, m)
			}
		}
	}

	count := 0
	for _, m := range promoted {
		item, err := decodeKnowledgeItem(m)
		if err != nil {
			return count, fmt.Errorf("adopt: decode knowledge item: %w", err)
		}
		if _, err := r.AddKnowledgeItem(item); err != nil {
			return count, fmt.Errorf("adopt: add knowledge item: %w", err)
		}
		count++
	}
	return count, nil
}

func decodeKnowledgeItem(m map[string]any) (model.KnowledgeItem, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return model.KnowledgeItem{}, err
	}
	var item model.KnowledgeItem
	if err := json.Unmarshal(data, &item); err != nil {
		return model.KnowledgeItem{}, err
	}
	return item, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
