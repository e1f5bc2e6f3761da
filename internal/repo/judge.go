package repo

import (
	"database/sql"
	"fmt"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/model"
)

func (r *Repository) AddJudgePair(p model.JudgePair) (model.JudgePair, error) {
	if err := p.Validate(); err != nil {
		return model.JudgePair{}, err
	}
	id, err := canonical.ID(p.CreationInputs())
	if err != nil {
		return model.JudgePair{}, err
	}
	p.ID = id

	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO judge_pairs (id, run_id, left_attempt_id, right_attempt_id, prompt_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, p.RunID, p.LeftAttemptID, p.RightAttemptID, p.PromptVersion, model.NowISO(),
	)
	if err != nil {
		return model.JudgePair{}, fmt.Errorf("repo: add judge pair: %w", err)
	}
	inserted, err := rowExists(res)
	if err != nil {
		return model.JudgePair{}, err
	}
	stored, err := r.GetJudgePair(id)
	if err != nil {
		return model.JudgePair{}, err
	}
	if inserted {
		r.logMutation("judge_pair.add", rowImage(stored))
	}
	return stored, nil
}

func (r *Repository) GetJudgePair(id string) (model.JudgePair, error) {
	row := r.db.QueryRow(
		`SELECT id, run_id, left_attempt_id, right_attempt_id, prompt_version, created_at FROM judge_pairs WHERE id = ?`, id,
	)
	var p model.JudgePair
	err := row.Scan(&p.ID, &p.RunID, &p.LeftAttemptID, &p.RightAttemptID, &p.PromptVersion, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return model.JudgePair{}, notFound("JudgePair", id)
	}
	if err != nil {
		return model.JudgePair{}, fmt.Errorf("repo: scan judge pair: %w", err)
	}
	return p, nil
}

// ListJudgePairsByRun returns all pairs considered within a run.
func (r *Repository) ListJudgePairsByRun(runID string) ([]model.JudgePair, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, left_attempt_id, right_attempt_id, prompt_version, created_at FROM judge_pairs WHERE run_id = ?`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("repo: list judge pairs: %w", err)
	}
	defer rows.Close()
	var out []model.JudgePair
	for rows.Next() {
		var p model.JudgePair
		if err := rows.Scan(&p.ID, &p.RunID, &p.LeftAttemptID, &p.RightAttemptID, &p.PromptVersion, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan judge pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddJudgeOutcome enforces "at most one outcome per pair" (spec §3
// invariant 6) at the application level: if a row for pairId already
// exists, it is returned unchanged rather than re-evaluated, which is how
// the judge driver's cache-hit reuse is implemented (spec §4.P).
func (r *Repository) AddJudgeOutcome(o model.JudgeOutcome) (model.JudgeOutcome, bool, error) {
	if err := o.Validate(); err != nil {
		return model.JudgeOutcome{}, false, err
	}
	if existing, err := r.GetJudgeOutcomeByPair(o.PairID); err == nil {
		return existing, false, nil
	}

	id, err := canonical.ID(o.CreationInputs())
	if err != nil {
		return model.JudgeOutcome{}, false, err
	}
	o.ID = id

	diff, err := marshalJSON(o.NarrativeDiff)
	if err != nil {
		return model.JudgeOutcome{}, false, err
	}

	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO judge_outcomes (id, pair_id, winner_attempt_id, confidence, rationale, narrative_diff, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, o.PairID, o.WinnerAttemptID, o.Confidence, o.Rationale, diff, o.Model, model.NowISO(),
	)
	if err != nil {
		return model.JudgeOutcome{}, false, fmt.Errorf("repo: add judge outcome: %w", err)
	}
	if inserted, err := rowExists(res); err != nil {
		return model.JudgeOutcome{}, false, err
	} else if inserted {
		created, err := r.GetJudgeOutcomeByPair(o.PairID)
		if err != nil {
			return model.JudgeOutcome{}, false, err
		}
		r.logMutation("judge_outcome.add", rowImage(created))
		return created, true, nil
	}

	existing, err := r.GetJudgeOutcomeByPair(o.PairID)
	return existing, false, err
}

func (r *Repository) GetJudgeOutcomeByPair(pairID string) (model.JudgeOutcome, error) {
	row := r.db.QueryRow(
		`SELECT id, pair_id, winner_attempt_id, confidence, rationale, narrative_diff, model, created_at
		 FROM judge_outcomes WHERE pair_id = ?`, pairID,
	)
	var o model.JudgeOutcome
	var diff string
	err := row.Scan(&o.ID, &o.PairID, &o.WinnerAttemptID, &o.Confidence, &o.Rationale, &diff, &o.Model, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return model.JudgeOutcome{}, notFound("JudgeOutcome", pairID)
	}
	if err != nil {
		return model.JudgeOutcome{}, fmt.Errorf("repo: scan judge outcome: %w", err)
	}
	o.NarrativeDiff = unmarshalMap(diff)
	return o, nil
}
