package repo

import (
	"database/sql"
	"fmt"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/model"
)

func (r *Repository) AddTask(t model.Task) (model.Task, error) {
	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}
	id, err := canonical.ID(t.CreationInputs())
	if err != nil {
		return model.Task{}, err
	}
	t.ID = id

	spec, err := marshalJSON(t.Spec)
	if err != nil {
		return model.Task{}, err
	}

	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO tasks (id, subject_id, spec, created_at) VALUES (?, ?, ?, ?)`,
		id, t.SubjectID, spec, model.NowISO(),
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("repo: add task: %w", err)
	}
	inserted, err := rowExists(res)
	if err != nil {
		return model.Task{}, err
	}
	stored, err := r.GetTask(id)
	if err != nil {
		return model.Task{}, err
	}
	if inserted {
		r.logMutation("task.add", rowImage(stored))
	}
	return stored, nil
}

func (r *Repository) GetTask(id string) (model.Task, error) {
	row := r.db.QueryRow(`SELECT id, subject_id, spec, created_at FROM tasks WHERE id = ?`, id)
	var t model.Task
	var spec string
	err := row.Scan(&t.ID, &t.SubjectID, &spec, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return model.Task{}, notFound("Task", id)
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("repo: scan task: %w", err)
	}
	t.Spec = unmarshalMap(spec)
	return t, nil
}
