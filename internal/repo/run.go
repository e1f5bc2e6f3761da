package repo

import (
	"database/sql"
	"fmt"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/model"
)

func (r *Repository) AddRun(run model.Run) (model.Run, error) {
	if err := run.Validate(); err != nil {
		return model.Run{}, err
	}
	id, err := canonical.ID(run.CreationInputs())
	if err != nil {
		return model.Run{}, err
	}
	run.ID = id

	cfg, err := marshalJSON(run.Config)
	if err != nil {
		return model.Run{}, err
	}

	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO runs (id, task_id, n, seed, config, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, run.TaskID, run.N, run.Seed, cfg, model.NowISO(),
	)
	if err != nil {
		return model.Run{}, fmt.Errorf("repo: add run: %w", err)
	}
	inserted, err := rowExists(res)
	if err != nil {
		return model.Run{}, err
	}
	stored, err := r.GetRun(id)
	if err != nil {
		return model.Run{}, err
	}
	if inserted {
		r.logMutation("run.add", rowImage(stored))
	}
	return stored, nil
}

func (r *Repository) GetRun(id string) (model.Run, error) {
	row := r.db.QueryRow(`SELECT id, task_id, n, seed, config, created_at FROM runs WHERE id = ?`, id)
	var run model.Run
	var cfg string
	err := row.Scan(&run.ID, &run.TaskID, &run.N, &run.Seed, &cfg, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return model.Run{}, notFound("Run", id)
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("repo: scan run: %w", err)
	}
	run.Config = unmarshalMap(cfg)
	return run, nil
}

// ListRunsByTask returns every run launched against a task, newest first.
func (r *Repository) ListRunsByTask(taskID string) ([]model.Run, error) {
	rows, err := r.db.Query(`SELECT id, task_id, n, seed, config, created_at FROM runs WHERE task_id = ? ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("repo: list runs: %w", err)
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		var run model.Run
		var cfg string
		if err := rows.Scan(&run.ID, &run.TaskID, &run.N, &run.Seed, &cfg, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan run: %w", err)
		}
		run.Config = unmarshalMap(cfg)
		out = append(out, run)
	}
	return out, rows.Err()
}
