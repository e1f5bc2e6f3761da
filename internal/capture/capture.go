// Package capture resolves a Trace payload from a file path, standard
// input, or a literal argument, and writes it through the Repository
// (spec §4.G, §6 "Trace input (Capture)"). The preference-ordered input
// resolution is grounded on _examples/tim-coutinho-agentops's cmd/ao
// input handling, which accepts a path, "-" for stdin, or an inline
// value depending on what the caller supplies.
package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/engram-dev/engram/internal/model"
	"github.com/engram-dev/engram/internal/repo"
)

// Input bundles the three ways a trace payload may arrive. Exactly one
// source is used, in this preference order: FilePath, then Stdin, then
// Literal.
type Input struct {
	FilePath string
	Stdin    io.Reader
	Literal  string
}

// Resolve reads the raw JSON bytes for a capture request, honoring the
// file > stdin > literal preference order from spec §6.
func Resolve(in Input) ([]byte, error) {
	if in.FilePath != "" {
		data, err := os.ReadFile(in.FilePath)
		if err != nil {
			return nil, fmt.Errorf("capture: read file: %w", err)
		}
		return data, nil
	}
	if in.Stdin != nil {
		data, err := io.ReadAll(in.Stdin)
		if err != nil {
			return nil, fmt.Errorf("capture: read stdin: %w", err)
		}
		if len(data) > 0 {
			return data, nil
		}
	}
	if in.Literal != "" {
		return []byte(in.Literal), nil
	}
	return nil, fmt.Errorf("capture: no trace payload supplied")
}

type payload struct {
	SubjectID        string      `json:"subjectId"`
	TaskDescription  string      `json:"taskDescription"`
	SessionID        string      `json:"sessionId"`
	Executions       []execution `json:"executions"`
	Outcome          string      `json:"outcome"`
	DiscoveredIssues []string    `json:"discoveredIssues"`
}

type execution struct {
	Runner  string       `json:"runner"`
	Command string       `json:"command"`
	Status  string       `json:"status"`
	Errors  []traceError `json:"errors"`
}

type traceError struct {
	Tool     string `json:"tool"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   *int   `json:"column"`
}

// Decode parses raw trace JSON into the storage model.
func Decode(data []byte) (model.Trace, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.Trace{}, fmt.Errorf("capture: decode trace payload: %w", err)
	}

	execs := make([]model.Execution, len(p.Executions))
	for i, e := range p.Executions {
		errs := make([]model.TraceError, len(e.Errors))
		for j, te := range e.Errors {
			errs[j] = model.TraceError{
				Tool: te.Tool, Severity: te.Severity, Message: te.Message,
				File: te.File, Line: te.Line, Column: te.Column,
			}
		}
		execs[i] = model.Execution{Runner: e.Runner, Command: e.Command, Status: e.Status, Errors: errs}
	}

	return model.Trace{
		SubjectID:        p.SubjectID,
		TaskDescription:  p.TaskDescription,
		SessionID:        p.SessionID,
		Executions:       execs,
		Outcome:          p.Outcome,
		DiscoveredIssues: p.DiscoveredIssues,
	}, nil
}

// Run resolves, decodes, and idempotently stores a trace payload.
func Run(r *repo.Repository, in Input) (model.Trace, error) {
	data, err := Resolve(in)
	if err != nil {
		return model.Trace{}, err
	}
	tr, err := Decode(data)
	if err != nil {
		return model.Trace{}, err
	}
	return r.AddTrace(tr)
}
