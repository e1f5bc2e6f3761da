// Package model defines engram's entity types (spec §3): the structured
// values the Repository persists, each content-addressed per
// internal/canonical. Types here are typed variants per call site where the
// enum is small (AttemptStep.Kind, Attempt.Status) and opaque
// map[string]any for the free-form columns the spec calls out as
// duck-typed in the source (spec, "design notes": spec, task, result,
// provenance).
package model

import (
	"fmt"
	"time"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/errs"
)

// NowISO returns the current instant as an ISO-8601 UTC string, the
// timestamp format every entity in spec §3 uses.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func omitEmpty(s string) any {
	if s == "" {
		return canonical.Omit
	}
	return s
}

func stringsToAny(xs []string) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

// --- KnowledgeItem ---------------------------------------------------

const (
	KnowledgeTypeFact      = "fact"
	KnowledgeTypePattern   = "pattern"
	KnowledgeTypeProcedure = "procedure"
	KnowledgeTypeDecision  = "decision"
)

var validKnowledgeTypes = map[string]bool{
	KnowledgeTypeFact: true, KnowledgeTypePattern: true,
	KnowledgeTypeProcedure: true, KnowledgeTypeDecision: true,
}

// KnowledgeItem is a curated, persistent project fact or pattern (spec §3).
type KnowledgeItem struct {
	ID         string
	Type       string
	Text       string
	Scope      string
	Module     string
	MetaTags   []string
	Confidence float64
	Helpful    int
	Harmful    int
	CreatedAt  string
	UpdatedAt  string
}

// CreationInputs returns the canonical map this entity's id is derived
// from. Helpful/Harmful/CreatedAt/UpdatedAt are excluded: they are
// mutable/stamped fields, never part of identity (spec invariant 2).
func (k KnowledgeItem) CreationInputs() map[string]any {
	return map[string]any{
		"type":       k.Type,
		"text":       k.Text,
		"scope":      k.Scope,
		"module":     omitEmpty(k.Module),
		"metaTags":   stringsToAny(k.MetaTags),
		"confidence": k.Confidence,
	}
}

func (k KnowledgeItem) Validate() error {
	var fields []errs.FieldError
	if !validKnowledgeTypes[k.Type] {
		fields = append(fields, errs.FieldError{Path: "type", Message: "must be one of fact,pattern,procedure,decision"})
	}
	if k.Text == "" {
		fields = append(fields, errs.FieldError{Path: "text", Message: "must not be empty"})
	}
	if k.Scope == "" {
		fields = append(fields, errs.FieldError{Path: "scope", Message: "must not be empty"})
	}
	if k.Confidence < 0 || k.Confidence > 1 {
		fields = append(fields, errs.FieldError{Path: "confidence", Message: "must be within [0,1]"})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Entity: "KnowledgeItem", Fields: fields}
	}
	return nil
}

// --- Insight -----------------------------------------------------------

// Insight is a candidate pattern extracted from failed traces (spec §3).
type Insight struct {
	ID               string
	Pattern          string
	Description      string
	Confidence       float64
	Frequency        int
	RelatedSubjects  []string
	MetaTags         []string
	CreatedAt        string
}

func (i Insight) CreationInputs() map[string]any {
	return map[string]any{
		"pattern":         i.Pattern,
		"description":     i.Description,
		"confidence":      i.Confidence,
		"frequency":       i.Frequency,
		"relatedSubjects": stringsToAny(i.RelatedSubjects),
		"metaTags":        stringsToAny(i.MetaTags),
	}
}

func (i Insight) Validate() error {
	var fields []errs.FieldError
	if i.Pattern == "" {
		fields = append(fields, errs.FieldError{Path: "pattern", Message: "must not be empty"})
	}
	if i.Description == "" {
		fields = append(fields, errs.FieldError{Path: "description", Message: "must not be empty"})
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		fields = append(fields, errs.FieldError{Path: "confidence", Message: "must be within [0,1]"})
	}
	if i.Frequency < 1 {
		fields = append(fields, errs.FieldError{Path: "frequency", Message: "must be >= 1"})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Entity: "Insight", Fields: fields}
	}
	return nil
}

// --- Trace ---------------------------------------------------------------

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"

	StatusPass = "pass"
	StatusFail = "fail"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)

// TraceError is one diagnostic emitted by a runner (spec §3, §6).
type TraceError struct {
	Tool     string
	Severity string
	Message  string
	File     string
	Line     int
	Column   *int
}

func (e TraceError) canonical() map[string]any {
	col := any(canonical.Omit)
	if e.Column != nil {
		col = *e.Column
	}
	return map[string]any{
		"tool": e.Tool, "severity": e.Severity, "message": e.Message,
		"file": e.File, "line": e.Line, "column": col,
	}
}

// Execution is one build/test/lint run captured in a Trace.
type Execution struct {
	Runner  string
	Command string
	Status  string
	Errors  []TraceError
}

func (ex Execution) canonical() map[string]any {
	errsList := make([]any, len(ex.Errors))
	for i, e := range ex.Errors {
		errsList[i] = e.canonical()
	}
	return map[string]any{
		"runner": ex.Runner, "command": ex.Command, "status": ex.Status, "errors": errsList,
	}
}

// Trace is one persistent record of a build/test/lint execution (spec §3).
type Trace struct {
	ID               string
	SubjectID        string
	TaskDescription  string
	SessionID        string
	Executions       []Execution
	Outcome          string
	DiscoveredIssues []string
	CreatedAt        string
}

func (t Trace) CreationInputs() map[string]any {
	execs := make([]any, len(t.Executions))
	for i, e := range t.Executions {
		execs[i] = e.canonical()
	}
	return map[string]any{
		"subjectId":        omitEmpty(t.SubjectID),
		"taskDescription":  omitEmpty(t.TaskDescription),
		"sessionId":        omitEmpty(t.SessionID),
		"executions":       execs,
		"outcome":          t.Outcome,
		"discoveredIssues": stringsToAny(t.DiscoveredIssues),
	}
}

func (t Trace) Validate() error {
	var fields []errs.FieldError
	switch t.Outcome {
	case OutcomeSuccess, OutcomeFailure, OutcomePartial:
	default:
		fields = append(fields, errs.FieldError{Path: "outcome", Message: "must be one of success,failure,partial"})
	}
	for i, ex := range t.Executions {
		if ex.Status != StatusPass && ex.Status != StatusFail {
			fields = append(fields, errs.FieldError{Path: fmt.Sprintf("executions[%d].status", i), Message: "must be pass or fail"})
		}
		for j, e := range ex.Errors {
			switch e.Severity {
			case SeverityError, SeverityWarning, SeverityInfo:
			default:
				fields = append(fields, errs.FieldError{Path: fmt.Sprintf("executions[%d].errors[%d].severity", i, j), Message: "must be error,warning,info"})
			}
		}
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Entity: "Trace", Fields: fields}
	}
	return nil
}

// --- Task ----------------------------------------------------------------

// Task is a bBoN task spec (spec §3, §6).
type Task struct {
	ID        string
	SubjectID string
	Spec      map[string]any
	CreatedAt string
}

func (t Task) CreationInputs() map[string]any {
	spec := t.Spec
	if spec == nil {
		spec = map[string]any{}
	}
	return map[string]any{
		"subjectId": omitEmpty(t.SubjectID),
		"spec":      spec,
	}
}

func (t Task) Validate() error {
	if goal, ok := t.Spec["goal"]; !ok || goal == "" {
		return errs.NewValidation("Task", "spec.goal", "required")
	}
	return nil
}

// --- Run -------------------------------------------------------------------

// Run is one bBoN exploration over a Task (spec §3).
type Run struct {
	ID        string
	TaskID    string
	N         int
	Seed      int64
	Config    map[string]any
	CreatedAt string
}

func (r Run) CreationInputs() map[string]any {
	cfg := r.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	return map[string]any{
		"taskId": r.TaskID,
		"n":      r.N,
		"seed":   r.Seed,
		"config": cfg,
	}
}

func (r Run) Validate() error {
	var fields []errs.FieldError
	if r.TaskID == "" {
		fields = append(fields, errs.FieldError{Path: "taskId", Message: "required"})
	}
	if r.N < 1 {
		fields = append(fields, errs.FieldError{Path: "n", Message: "must be a positive int"})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Entity: "Run", Fields: fields}
	}
	return nil
}

// --- Attempt ---------------------------------------------------------------

const (
	AttemptPending   = "pending"
	AttemptRunning   = "running"
	AttemptCompleted = "completed"
	AttemptFailed    = "failed"
)

// attemptTransitions encodes the state machine spec §4.M defines:
// pending -> running -> {completed, failed}; terminal states absorbing.
var attemptTransitions = map[string]map[string]bool{
	AttemptPending:   {AttemptRunning: true},
	AttemptRunning:   {AttemptCompleted: true, AttemptFailed: true},
	AttemptCompleted: {},
	AttemptFailed:    {},
}

// CanTransition reports whether from -> to is a legal Attempt state move.
func CanTransition(from, to string) bool {
	next, ok := attemptTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether status is an absorbing Attempt state.
func IsTerminal(status string) bool {
	return status == AttemptCompleted || status == AttemptFailed
}

// Attempt is one rollout of the learning pipeline inside a bBoN run (spec §3).
type Attempt struct {
	ID          string
	RunID       string
	Ordinal     int
	Status      string
	Result      map[string]any
	CreatedAt   string
	CompletedAt string
}

// CreationInputs derives identity from (runId, ordinal) only: status,
// result, and completedAt are mutated in place via updateAttempt and never
// participate in the content address (spec §4.E, §3 uniqueness note).
func (a Attempt) CreationInputs() map[string]any {
	return map[string]any{
		"runId":   a.RunID,
		"ordinal": a.Ordinal,
	}
}

func (a Attempt) Validate() error {
	var fields []errs.FieldError
	if a.RunID == "" {
		fields = append(fields, errs.FieldError{Path: "runId", Message: "required"})
	}
	if a.Ordinal < 0 {
		fields = append(fields, errs.FieldError{Path: "ordinal", Message: "must be >= 0"})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Entity: "Attempt", Fields: fields}
	}
	return nil
}

// --- AttemptStep -------------------------------------------------------

const (
	StepKindReflect      = "reflect"
	StepKindLearnComplete = "learn_complete"
	StepKindError        = "error"
)

// AttemptStep is one logged step within an Attempt (spec §3, §5 ordering).
type AttemptStep struct {
	ID          string
	AttemptID   string
	StepIndex   int
	Kind        string
	Input       map[string]any
	Output      map[string]any
	Observation map[string]any
	CreatedAt   string
}

func (s AttemptStep) CreationInputs() map[string]any {
	in, out, obs := s.Input, s.Output, s.Observation
	if in == nil {
		in = map[string]any{}
	}
	if out == nil {
		out = map[string]any{}
	}
	if obs == nil {
		obs = map[string]any{}
	}
	return map[string]any{
		"attemptId":   s.AttemptID,
		"stepIndex":   s.StepIndex,
		"kind":        s.Kind,
		"input":       in,
		"output":      out,
		"observation": obs,
	}
}

func (s AttemptStep) Validate() error {
	var fields []errs.FieldError
	if s.AttemptID == "" {
		fields = append(fields, errs.FieldError{Path: "attemptId", Message: "required"})
	}
	if s.StepIndex < 0 {
		fields = append(fields, errs.FieldError{Path: "stepIndex", Message: "must be >= 0"})
	}
	if s.Kind == "" {
		fields = append(fields, errs.FieldError{Path: "kind", Message: "required"})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Entity: "AttemptStep", Fields: fields}
	}
	return nil
}

// --- JudgePair / JudgeOutcome -------------------------------------------

// JudgePair names one unordered attempt pair considered within a run
// (spec §3; unique on (runId, leftAttemptId, rightAttemptId)).
type JudgePair struct {
	ID              string
	RunID           string
	LeftAttemptID   string
	RightAttemptID  string
	PromptVersion   string
	CreatedAt       string
}

func (p JudgePair) CreationInputs() map[string]any {
	return map[string]any{
		"runId":          p.RunID,
		"leftAttemptId":  p.LeftAttemptID,
		"rightAttemptId": p.RightAttemptID,
		"promptVersion":  p.PromptVersion,
	}
}

func (p JudgePair) Validate() error {
	var fields []errs.FieldError
	if p.RunID == "" {
		fields = append(fields, errs.FieldError{Path: "runId", Message: "required"})
	}
	if p.LeftAttemptID == "" || p.RightAttemptID == "" {
		fields = append(fields, errs.FieldError{Path: "attemptIds", Message: "both sides required"})
	}
	if p.PromptVersion == "" {
		fields = append(fields, errs.FieldError{Path: "promptVersion", Message: "required"})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Entity: "JudgePair", Fields: fields}
	}
	return nil
}

// JudgeOutcome is the persisted result of comparing one attempt pair
// (spec §3; at most one per pair).
type JudgeOutcome struct {
	ID              string
	PairID          string
	WinnerAttemptID string
	Confidence      float64
	Rationale       string
	NarrativeDiff   map[string]any
	Model           string
	CreatedAt       string
}

func (o JudgeOutcome) CreationInputs() map[string]any {
	nd := o.NarrativeDiff
	if nd == nil {
		nd = map[string]any{}
	}
	return map[string]any{
		"pairId":          o.PairID,
		"winnerAttemptId": o.WinnerAttemptID,
		"confidence":      o.Confidence,
		"rationale":       o.Rationale,
		"narrativeDiff":   nd,
		"model":           o.Model,
	}
}

func (o JudgeOutcome) Validate() error {
	var fields []errs.FieldError
	if o.PairID == "" {
		fields = append(fields, errs.FieldError{Path: "pairId", Message: "required"})
	}
	if o.WinnerAttemptID == "" {
		fields = append(fields, errs.FieldError{Path: "winnerAttemptId", Message: "required"})
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		fields = append(fields, errs.FieldError{Path: "confidence", Message: "must be within [0,1]"})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Entity: "JudgeOutcome", Fields: fields}
	}
	return nil
}

// --- ShortTermMemory / WorkingMemory / MemoryEvent -------------------------

// ShortTermMemory is a per-run scratch value (spec §3; unique on (runId,key)).
type ShortTermMemory struct {
	ID        string
	RunID     string
	Key       string
	Value     map[string]any
	CreatedAt string
}

// CreationInputs derives identity from (runId, key) only, so an upsert with
// a new value resolves to the same row (spec §4.E upsertShortTermMemory).
func (m ShortTermMemory) CreationInputs() map[string]any {
	return map[string]any{"runId": m.RunID, "key": m.Key}
}

func (m ShortTermMemory) Validate() error {
	var fields []errs.FieldError
	if m.RunID == "" {
		fields = append(fields, errs.FieldError{Path: "runId", Message: "required"})
	}
	if m.Key == "" {
		fields = append(fields, errs.FieldError{Path: "key", Message: "required"})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Entity: "ShortTermMemory", Fields: fields}
	}
	return nil
}

const (
	WorkingMemorySummary   = "summary"
	WorkingMemoryInvariant = "invariant"
	WorkingMemoryDecision  = "decision"
)

// WorkingMemory is a classified, promoted piece of project knowledge
// (spec §3, §4.J). Identity includes contentText, so an edit creates a new
// row rather than mutating in place (spec design note 3).
type WorkingMemory struct {
	ID          string
	ProjectID   string
	Type        string
	ContentText string
	Provenance  map[string]any
	UpdatedAt   string
}

func (w WorkingMemory) CreationInputs() map[string]any {
	return map[string]any{
		"projectId":   w.ProjectID,
		"type":        w.Type,
		"contentText": w.ContentText,
	}
}

func (w WorkingMemory) Validate() error {
	var fields []errs.FieldError
	switch w.Type {
	case WorkingMemorySummary, WorkingMemoryInvariant, WorkingMemoryDecision:
	default:
		fields = append(fields, errs.FieldError{Path: "type", Message: "must be summary,invariant,decision"})
	}
	if w.ContentText == "" {
		fields = append(fields, errs.FieldError{Path: "contentText", Message: "required"})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Entity: "WorkingMemory", Fields: fields}
	}
	return nil
}

// MemoryEvent is an append-only provenance record (spec §3).
type MemoryEvent struct {
	ID          string
	SubjectID   string
	SubjectKind string
	Event       string
	Data        map[string]any
	CreatedAt   string
}

func (e MemoryEvent) CreationInputs() map[string]any {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"subjectId":   e.SubjectID,
		"subjectKind": e.SubjectKind,
		"event":       e.Event,
		"data":        data,
	}
}

func (e MemoryEvent) Validate() error {
	var fields []errs.FieldError
	if e.SubjectID == "" {
		fields = append(fields, errs.FieldError{Path: "subjectId", Message: "required"})
	}
	if e.SubjectKind == "" {
		fields = append(fields, errs.FieldError{Path: "subjectKind", Message: "required"})
	}
	if e.Event == "" {
		fields = append(fields, errs.FieldError{Path: "event", Message: "required"})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Entity: "MemoryEvent", Fields: fields}
	}
	return nil
}
