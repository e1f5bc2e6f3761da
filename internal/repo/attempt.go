package repo

import (
	"database/sql"
	"fmt"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/errs"
	"github.com/engram-dev/engram/internal/model"
)

// AddAttempt creates an attempt row; id is derived from (runId, ordinal)
// only, so retrying the same ordinal resolves to the same row rather than
// duplicating it (model.Attempt.CreationInputs).
func (r *Repository) AddAttempt(a model.Attempt) (model.Attempt, error) {
	if err := a.Validate(); err != nil {
		return model.Attempt{}, err
	}
	id, err := canonical.ID(a.CreationInputs())
	if err != nil {
		return model.Attempt{}, err
	}
	a.ID = id
	if a.Status == "" {
		a.Status = model.AttemptPending
	}

	result, err := marshalJSON(a.Result)
	if err != nil {
		return model.Attempt{}, err
	}

	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO attempts (id, run_id, ordinal, status, result, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, '')`,
		id, a.RunID, a.Ordinal, a.Status, result, model.NowISO(),
	)
	if err != nil {
		return model.Attempt{}, fmt.Errorf("repo: add attempt: %w", err)
	}
	inserted, err := rowExists(res)
	if err != nil {
		return model.Attempt{}, err
	}
	stored, err := r.GetAttempt(id)
	if err != nil {
		return model.Attempt{}, err
	}
	if inserted {
		r.logMutation("attempt.add", rowImage(stored))
	}
	return stored, nil
}

func (r *Repository) GetAttempt(id string) (model.Attempt, error) {
	row := r.db.QueryRow(
		`SELECT id, run_id, ordinal, status, result, created_at, completed_at FROM attempts WHERE id = ?`, id,
	)
	return scanAttempt(row)
}

func scanAttempt(row *sql.Row) (model.Attempt, error) {
	var a model.Attempt
	var result string
	err := row.Scan(&a.ID, &a.RunID, &a.Ordinal, &a.Status, &result, &a.CreatedAt, &a.CompletedAt)
	if err == sql.ErrNoRows {
		return model.Attempt{}, notFound("Attempt", "")
	}
	if err != nil {
		return model.Attempt{}, fmt.Errorf("repo: scan attempt: %w", err)
	}
	a.Result = unmarshalMap(result)
	return a, nil
}

// ListAttemptsByRun returns every attempt for a run, ordered by ordinal.
func (r *Repository) ListAttemptsByRun(runID string) ([]model.Attempt, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, ordinal, status, result, created_at, completed_at FROM attempts WHERE run_id = ? ORDER BY ordinal ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("repo: list attempts: %w", err)
	}
	defer rows.Close()

	var out []model.Attempt
	for rows.Next() {
		var a model.Attempt
		var result string
		if err := rows.Scan(&a.ID, &a.RunID, &a.Ordinal, &a.Status, &result, &a.CreatedAt, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("repo: scan attempt: %w", err)
		}
		a.Result = unmarshalMap(result)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAttempt validates the status transition against model.CanTransition
// before patching status/result/completedAt (spec §4.E, §4.M state
// machine). Terminal states are absorbing: any transition attempted out of
// completed/failed is rejected as a StateError.
func (r *Repository) UpdateAttempt(id, newStatus string, result map[string]any) (model.Attempt, error) {
	current, err := r.GetAttempt(id)
	if err != nil {
		return model.Attempt{}, err
	}
	if model.IsTerminal(current.Status) {
		return model.Attempt{}, &errs.StateError{Op: "updateAttempt", Message: fmt.Sprintf("attempt %s is already terminal (%s)", id, current.Status)}
	}
	if !model.CanTransition(current.Status, newStatus) {
		return model.Attempt{}, &errs.StateError{Op: "updateAttempt", Message: fmt.Sprintf("illegal transition %s -> %s", current.Status, newStatus)}
	}

	resultJSON, err := marshalJSON(result)
	if err != nil {
		return model.Attempt{}, err
	}
	completedAt := ""
	if model.IsTerminal(newStatus) {
		completedAt = model.NowISO()
	}

	_, err = r.db.Exec(
		`UPDATE attempts SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		newStatus, resultJSON, completedAt, id,
	)
	if err != nil {
		return model.Attempt{}, fmt.Errorf("repo: update attempt: %w", err)
	}
	updated, err := r.GetAttempt(id)
	if err != nil {
		return model.Attempt{}, err
	}
	r.logMutation("attempt.update", rowImage(updated))
	return updated, nil
}
