// Package learn composes Reflect, Memory, Curate, and Apply into the single
// "learn" operation (spec §4.L). The preflight-then-pipeline shape is
// grounded on _examples/tim-coutinho-agentops's cmd/ao orchestration
// commands, which check preconditions before chaining a fixed sequence
// of steps and fail fast, by name, on the first broken one.
package learn

import (
	"os"
	"strings"

	"github.com/engram-dev/engram/internal/curate"
	"github.com/engram-dev/engram/internal/errs"
	"github.com/engram-dev/engram/internal/memory"
	"github.com/engram-dev/engram/internal/reflect"
	"github.com/engram-dev/engram/internal/render"
	"github.com/engram-dev/engram/internal/repo"
)

const (
	beginMarker = "<!-- BEGIN: LEARNED_PATTERNS -->"
	endMarker   = "<!-- END: LEARNED_PATTERNS -->"
)

// Result summarizes one Learn invocation, one step result per stage.
type Result struct {
	Reflect reflect.Result `json:"reflect"`
	Memory  memory.Result  `json:"memory"`
	Curate  curate.Result  `json:"curate"`
	Apply   render.Result  `json:"apply"`
}

// Preflight verifies the database is reachable and the guidance document
// exists and carries both markers in order, without mutating anything.
func Preflight(dbPath, docPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return &errs.StateError{Op: "preflight", Message: "database does not exist: " + dbPath}
	}
	data, err := os.ReadFile(docPath)
	if err != nil {
		return &errs.StateError{Op: "preflight", Message: "guidance document does not exist: " + docPath}
	}
	begin := strings.Index(string(data), beginMarker)
	end := strings.Index(string(data), endMarker)
	if begin < 0 || end < 0 || end < begin {
		return &errs.StateError{Op: "preflight", Message: "guidance document missing or misordered LEARNED_PATTERNS markers"}
	}
	return nil
}

// Run executes preflight, Reflect, Memory, Curate, and Apply in sequence. A failing
// step is wrapped with its name (spec §7 propagation policy); no earlier
// step's side effects are rolled back, since every step is independently
// idempotent.
func Run(r *repo.Repository, dbPath, docPath, projectID string, tau float64) (Result, error) {
	if err := Preflight(dbPath, docPath); err != nil {
		return Result{}, &errs.StepError{Step: "preflight", Err: err}
	}

	reflectResult, err := reflect.Run(r)
	if err != nil {
		return Result{}, &errs.StepError{Step: "reflect", Err: err}
	}

	// Memory promotion (spec §4.J) reads the same confidence-gated insight
	// set Curate is about to consume; it must run first because Curate
	// deletes every insight it promotes or deduplicates (spec §4.I steps
	// 2 and 4), and nothing would be left to classify afterward.
	memoryResult, err := memory.Promote(r, projectID, tau)
	if err != nil {
		return Result{}, &errs.StepError{Step: "memory", Err: err}
	}

	curateResult, err := curate.Run(r, tau)
	if err != nil {
		return Result{}, &errs.StepError{Step: "curate", Err: err}
	}

	applyResult, err := render.Run(r, projectID, docPath)
	if err != nil {
		return Result{}, &errs.StepError{Step: "apply", Err: err}
	}

	return Result{Reflect: reflectResult, Memory: memoryResult, Curate: curateResult, Apply: applyResult}, nil
}
