package repo

import (
	"fmt"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/errs"
	"github.com/engram-dev/engram/internal/model"
)

// AddAttemptStep appends a step. stepIndex must be exactly the next index
// for the attempt (spec §5 ordering invariant; CountAttemptSteps reports
// it). The store enforces only that an index is not claimed twice, via
// the table's UNIQUE(attempt_id, step_index) constraint, surfaced as a
// ConflictError on violation; a gap in the indices is not detected.
func (r *Repository) AddAttemptStep(s model.AttemptStep) (model.AttemptStep, error) {
	if err := s.Validate(); err != nil {
		return model.AttemptStep{}, err
	}
	id, err := canonical.ID(s.CreationInputs())
	if err != nil {
		return model.AttemptStep{}, err
	}
	s.ID = id

	in, err := marshalJSON(s.Input)
	if err != nil {
		return model.AttemptStep{}, err
	}
	out, err := marshalJSON(s.Output)
	if err != nil {
		return model.AttemptStep{}, err
	}
	obs, err := marshalJSON(s.Observation)
	if err != nil {
		return model.AttemptStep{}, err
	}

	s.CreatedAt = model.NowISO()
	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO attempt_steps (id, attempt_id, step_index, kind, input, output, observation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.AttemptID, s.StepIndex, s.Kind, in, out, obs, s.CreatedAt,
	)
	if err != nil {
		return model.AttemptStep{}, fmt.Errorf("repo: add attempt step: %w", err)
	}
	inserted, err := rowExists(res)
	if err != nil {
		return model.AttemptStep{}, err
	}
	if inserted {
		r.logMutation("attempt_step.add", rowImage(s))
		return s, nil
	}

	// Not inserted: either the identical step already exists (idempotent
	// replay) or a different step already claimed this index (ordering
	// violation). Distinguish by id.
	var existingID string
	err = r.db.QueryRow(`SELECT id FROM attempt_steps WHERE attempt_id = ? AND step_index = ?`, s.AttemptID, s.StepIndex).Scan(&existingID)
	if err != nil {
		return model.AttemptStep{}, fmt.Errorf("repo: verify attempt step: %w", err)
	}
	if existingID != id {
		return model.AttemptStep{}, &errs.ConflictError{Entity: "AttemptStep", Detail: fmt.Sprintf("step index %d for attempt %s already recorded with different content", s.StepIndex, s.AttemptID)}
	}
	return s, nil
}

// CountAttemptSteps returns the number of steps logged for an attempt,
// which is also the next free stepIndex.
func (r *Repository) CountAttemptSteps(attemptID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM attempt_steps WHERE attempt_id = ?`, attemptID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repo: count attempt steps: %w", err)
	}
	return n, nil
}

// ListAttemptSteps returns every step for an attempt in strictly increasing
// stepIndex order.
func (r *Repository) ListAttemptSteps(attemptID string) ([]model.AttemptStep, error) {
	rows, err := r.db.Query(
		`SELECT id, attempt_id, step_index, kind, input, output, observation, created_at
		 FROM attempt_steps WHERE attempt_id = ? ORDER BY step_index ASC`, attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("repo: list attempt steps: %w", err)
	}
	defer rows.Close()

	var out []model.AttemptStep
	for rows.Next() {
		var s model.AttemptStep
		var in, op, obs string
		if err := rows.Scan(&s.ID, &s.AttemptID, &s.StepIndex, &s.Kind, &in, &op, &obs, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan attempt step: %w", err)
		}
		s.Input = unmarshalMap(in)
		s.Output = unmarshalMap(op)
		s.Observation = unmarshalMap(obs)
		out = append(out, s)
	}
	return out, rows.Err()
}
