package repo

import (
	"database/sql"
	"fmt"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/model"
)

// AddTrace ingests a captured build/test/lint run (spec §4.G Capture).
func (r *Repository) AddTrace(tr model.Trace) (model.Trace, error) {
	if err := tr.Validate(); err != nil {
		return model.Trace{}, err
	}
	id, err := canonical.ID(tr.CreationInputs())
	if err != nil {
		return model.Trace{}, err
	}
	tr.ID = id

	execs, err := marshalJSON(executionsToAny(tr.Executions))
	if err != nil {
		return model.Trace{}, err
	}
	issues, err := marshalStrings(tr.DiscoveredIssues)
	if err != nil {
		return model.Trace{}, err
	}

	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO traces (id, subject_id, task_description, session_id, executions, outcome, discovered_issues, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, tr.SubjectID, tr.TaskDescription, tr.SessionID, execs, tr.Outcome, issues, model.NowISO(),
	)
	if err != nil {
		return model.Trace{}, fmt.Errorf("repo: add trace: %w", err)
	}
	inserted, err := rowExists(res)
	if err != nil {
		return model.Trace{}, err
	}
	stored, err := r.GetTrace(id)
	if err != nil {
		return model.Trace{}, err
	}
	if inserted {
		r.logMutation("trace.add", rowImage(stored))
	}
	return stored, nil
}

func executionsToAny(execs []model.Execution) []any {
	out := make([]any, len(execs))
	for i, ex := range execs {
		errs := make([]any, len(ex.Errors))
		for j, e := range ex.Errors {
			col := any(nil)
			if e.Column != nil {
				col = *e.Column
			}
			errs[j] = map[string]any{
				"tool": e.Tool, "severity": e.Severity, "message": e.Message,
				"file": e.File, "line": e.Line, "column": col,
			}
		}
		out[i] = map[string]any{
			"runner": ex.Runner, "command": ex.Command, "status": ex.Status, "errors": errs,
		}
	}
	return out
}

func (r *Repository) GetTrace(id string) (model.Trace, error) {
	row := r.db.QueryRow(
		`SELECT id, subject_id, task_description, session_id, executions, outcome, discovered_issues, created_at
		 FROM traces WHERE id = ?`, id,
	)
	return scanTrace(row)
}

func scanTrace(row *sql.Row) (model.Trace, error) {
	var tr model.Trace
	var execs, issues string
	err := row.Scan(&tr.ID, &tr.SubjectID, &tr.TaskDescription, &tr.SessionID, &execs, &tr.Outcome, &issues, &tr.CreatedAt)
	if err == sql.ErrNoRows {
		return model.Trace{}, notFound("Trace", "")
	}
	if err != nil {
		return model.Trace{}, fmt.Errorf("repo: scan trace: %w", err)
	}
	tr.Executions = decodeExecutions(execs)
	tr.DiscoveredIssues = unmarshalStrings(issues)
	return tr, nil
}

func decodeExecutions(s string) []model.Execution {
	var raw []map[string]any
	if s == "" {
		return nil
	}
	if err := jsonUnmarshalSlice(s, &raw); err != nil {
		return nil
	}
	out := make([]model.Execution, 0, len(raw))
	for _, m := range raw {
		ex := model.Execution{
			Runner:  stringField(m, "runner"),
			Command: stringField(m, "command"),
			Status:  stringField(m, "status"),
		}
		if errsRaw, ok := m["errors"].([]any); ok {
			for _, er := range errsRaw {
				em, ok := er.(map[string]any)
				if !ok {
					continue
				}
				te := model.TraceError{
					Tool:     stringField(em, "tool"),
					Severity: stringField(em, "severity"),
					Message:  stringField(em, "message"),
					File:     stringField(em, "file"),
				}
				if line, ok := em["line"].(float64); ok {
					te.Line = int(line)
				}
				if col, ok := em["column"].(float64); ok {
					c := int(col)
					te.Column = &c
				}
				ex.Errors = append(ex.Errors, te)
			}
		}
		out = append(out, ex)
	}
	return out
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// ListTracesByOutcome returns traces matching outcome, newest first, the
// Reflect step's input query (spec §4.H).
func (r *Repository) ListTracesByOutcome(outcome string) ([]model.Trace, error) {
	rows, err := r.db.Query(
		`SELECT id, subject_id, task_description, session_id, executions, outcome, discovered_issues, created_at
		 FROM traces WHERE outcome = ? ORDER BY created_at DESC`, outcome,
	)
	if err != nil {
		return nil, fmt.Errorf("repo: list traces: %w", err)
	}
	defer rows.Close()

	var out []model.Trace
	for rows.Next() {
		var tr model.Trace
		var execs, issues string
		if err := rows.Scan(&tr.ID, &tr.SubjectID, &tr.TaskDescription, &tr.SessionID, &execs, &tr.Outcome, &issues, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan trace: %w", err)
		}
		tr.Executions = decodeExecutions(execs)
		tr.DiscoveredIssues = unmarshalStrings(issues)
		out = append(out, tr)
	}
	return out, rows.Err()
}
