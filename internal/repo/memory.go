package repo

import (
	"database/sql"
	"fmt"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/model"
)

// UpsertShortTermMemory inserts or replaces the value at (runId, key). The
// row's id is derived from (runId, key) alone, so this is a true upsert:
// the same logical slot is reused regardless of how many times its value
// changes within a run (spec §4.E).
func (r *Repository) UpsertShortTermMemory(runID, key string, value map[string]any) (model.ShortTermMemory, error) {
	m := model.ShortTermMemory{RunID: runID, Key: key, Value: value}
	if err := m.Validate(); err != nil {
		return model.ShortTermMemory{}, err
	}
	id, err := canonical.ID(m.CreationInputs())
	if err != nil {
		return model.ShortTermMemory{}, err
	}
	m.ID = id

	valJSON, err := marshalJSON(value)
	if err != nil {
		return model.ShortTermMemory{}, err
	}

	_, err = r.db.Exec(
		`INSERT INTO short_term_memory (id, run_id, key, value, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, key) DO UPDATE SET value = excluded.value`,
		id, runID, key, valJSON, model.NowISO(),
	)
	if err != nil {
		return model.ShortTermMemory{}, fmt.Errorf("repo: upsert short term memory: %w", err)
	}
	stored, err := r.GetShortTermMemory(runID, key)
	if err != nil {
		return model.ShortTermMemory{}, err
	}
	r.logMutation("short_term_memory.upsert", rowImage(stored))
	return stored, nil
}

func (r *Repository) GetShortTermMemory(runID, key string) (model.ShortTermMemory, error) {
	row := r.db.QueryRow(`SELECT id, run_id, key, value, created_at FROM short_term_memory WHERE run_id = ? AND key = ?`, runID, key)
	var m model.ShortTermMemory
	var val string
	err := row.Scan(&m.ID, &m.RunID, &m.Key, &val, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return model.ShortTermMemory{}, notFound("ShortTermMemory", key)
	}
	if err != nil {
		return model.ShortTermMemory{}, fmt.Errorf("repo: scan short term memory: %w", err)
	}
	m.Value = unmarshalMap(val)
	return m, nil
}

// ClearShortTermMemory deletes every scratch entry for a run (spec §4.E).
// The bBoN orchestrator does not call it; clearing is left to the caller.
func (r *Repository) ClearShortTermMemory(runID string) error {
	res, err := r.db.Exec(`DELETE FROM short_term_memory WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("repo: clear short term memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.logMutation("short_term_memory.clear", map[string]any{"runId": runID, "deleted": n})
	}
	return nil
}

// UpsertWorkingMemory inserts a new row when contentText changes (the id
// includes contentText, per model.WorkingMemory.CreationInputs) and
// refreshes provenance/updatedAt in place when it is identical, matching
// the "edit creates a new row" design note (spec §3, design note 3).
func (r *Repository) UpsertWorkingMemory(w model.WorkingMemory) (model.WorkingMemory, error) {
	if err := w.Validate(); err != nil {
		return model.WorkingMemory{}, err
	}
	id, err := canonical.ID(w.CreationInputs())
	if err != nil {
		return model.WorkingMemory{}, err
	}
	w.ID = id

	prov, err := marshalJSON(w.Provenance)
	if err != nil {
		return model.WorkingMemory{}, err
	}
	now := model.NowISO()

	_, err = r.db.Exec(
		`INSERT INTO working_memory (id, project_id, type, content_text, provenance, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET provenance = excluded.provenance, updated_at = excluded.updated_at`,
		id, w.ProjectID, w.Type, w.ContentText, prov, now,
	)
	if err != nil {
		return model.WorkingMemory{}, fmt.Errorf("repo: upsert working memory: %w", err)
	}
	stored, err := r.GetWorkingMemory(id)
	if err != nil {
		return model.WorkingMemory{}, err
	}
	r.logMutation("working_memory.upsert", rowImage(stored))
	return stored, nil
}

func (r *Repository) GetWorkingMemory(id string) (model.WorkingMemory, error) {
	row := r.db.QueryRow(`SELECT id, project_id, type, content_text, provenance, updated_at FROM working_memory WHERE id = ?`, id)
	var w model.WorkingMemory
	var prov string
	err := row.Scan(&w.ID, &w.ProjectID, &w.Type, &w.ContentText, &prov, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.WorkingMemory{}, notFound("WorkingMemory", id)
	}
	if err != nil {
		return model.WorkingMemory{}, fmt.Errorf("repo: scan working memory: %w", err)
	}
	w.Provenance = unmarshalMap(prov)
	return w, nil
}

// ListWorkingMemory returns every working-memory row for a project,
// optionally filtered by type, the Apply/Renderer's read path (spec §4.K).
func (r *Repository) ListWorkingMemory(projectID, memType string) ([]model.WorkingMemory, error) {
	query := `SELECT id, project_id, type, content_text, provenance, updated_at FROM working_memory WHERE project_id = ?`
	args := []any{projectID}
	if memType != "" {
		query += ` AND type = ?`
		args = append(args, memType)
	}
	query += ` ORDER BY updated_at ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo: list working memory: %w", err)
	}
	defer rows.Close()

	var out []model.WorkingMemory
	for rows.Next() {
		var w model.WorkingMemory
		var prov string
		if err := rows.Scan(&w.ID, &w.ProjectID, &w.Type, &w.ContentText, &prov, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan working memory: %w", err)
		}
		w.Provenance = unmarshalMap(prov)
		out = append(out, w)
	}
	return out, rows.Err()
}

// AddMemoryEvent appends a provenance record. Events are never updated or
// deleted (spec §3): this is the only write this entity supports.
func (r *Repository) AddMemoryEvent(e model.MemoryEvent) (model.MemoryEvent, error) {
	if err := e.Validate(); err != nil {
		return model.MemoryEvent{}, err
	}
	id, err := canonical.ID(e.CreationInputs())
	if err != nil {
		return model.MemoryEvent{}, err
	}
	e.ID = id

	data, err := marshalJSON(e.Data)
	if err != nil {
		return model.MemoryEvent{}, err
	}

	e.CreatedAt = model.NowISO()
	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO memory_events (id, subject_id, subject_kind, event, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, e.SubjectID, e.SubjectKind, e.Event, data, e.CreatedAt,
	)
	if err != nil {
		return model.MemoryEvent{}, fmt.Errorf("repo: add memory event: %w", err)
	}
	if inserted, err := rowExists(res); err != nil {
		return model.MemoryEvent{}, err
	} else if inserted {
		r.logMutation("memory_event.add", rowImage(e))
	}
	return e, nil
}

// ListMemoryEventsBySubject returns every recorded event for a subject, in
// append order.
func (r *Repository) ListMemoryEventsBySubject(subjectID string) ([]model.MemoryEvent, error) {
	rows, err := r.db.Query(
		`SELECT id, subject_id, subject_kind, event, data, created_at FROM memory_events WHERE subject_id = ? ORDER BY created_at ASC`, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("repo: list memory events: %w", err)
	}
	defer rows.Close()

	var out []model.MemoryEvent
	for rows.Next() {
		var e model.MemoryEvent
		var data string
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.SubjectKind, &e.Event, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan memory event: %w", err)
		}
		e.Data = unmarshalMap(data)
		out = append(out, e)
	}
	return out, rows.Err()
}
