// Package judge implements the comparative judge (spec §4.O): given two
// attempts and their narrative diff, it builds a prompt, invokes an
// external LLM capability at temperature 0, and parses the response into a
// verdict. The prompt-build/invoke/parse-with-cache-key shape is grounded
// on _examples/tim-coutinho-agentops's cmd/ao/rpi_verify.go, which also
// builds a structured prompt from intermediate state, calls out to an
// external model, and parses a constrained JSON response.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/diff"
	"github.com/engram-dev/engram/internal/errs"
	"github.com/engram-dev/engram/internal/model"
)

// PromptVersionV1 is the only defined prompt template (spec §6).
const PromptVersionV1 = "v1"

// Completer is the external LLM capability the core consumes (spec §1:
// the core treats LLM providers as an I/O edge). Implementations invoke
// whatever transport is configured and return the raw text response.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// Options configures one judge invocation.
type Options struct {
	Model         string
	PromptVersion string
}

// Verdict is the parsed, schema-validated LLM response (spec §6).
type Verdict struct {
	Winner     string  `json:"winner"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Result is the judge's return value (spec §4.O step 5).
type Result struct {
	WinnerAttemptID string
	Confidence      float64
	Rationale       string
	ContentHash     string
}

// Run builds the prompt, invokes llm, parses and validates the response,
// and maps A/B back onto the left/right attempt ids.
func Run(ctx context.Context, llm Completer, left, right model.Attempt, narrative diff.Result, opts Options) (Result, error) {
	if opts.PromptVersion != PromptVersionV1 {
		return Result{}, &errs.InvalidInput{Reason: fmt.Sprintf("judge: unknown prompt version %q", opts.PromptVersion)}
	}

	contentHash, err := canonical.ID(map[string]any{
		"leftAttemptId":  left.ID,
		"rightAttemptId": right.ID,
		"promptVersion":  opts.PromptVersion,
		"model":          opts.Model,
	})
	if err != nil {
		return Result{}, err
	}

	system, user := buildPromptV1(left, right, narrative)

	raw, err := llm.Complete(ctx, system, user, 0)
	if err != nil {
		return Result{}, &errs.ExternalError{Op: "judge.complete", Err: err}
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		return Result{}, &errs.ExternalError{Op: "judge.parse", Err: err}
	}

	var winnerID string
	switch verdict.Winner {
	case "A":
		winnerID = left.ID
	case "B":
		winnerID = right.ID
	default:
		return Result{}, &errs.ExternalError{Op: "judge.parse", Err: fmt.Errorf("winner must be A or B, got %q", verdict.Winner)}
	}

	return Result{
		WinnerAttemptID: winnerID,
		Confidence:      verdict.Confidence,
		Rationale:       verdict.Rationale,
		ContentHash:     contentHash,
	}, nil
}

// buildPromptV1 renders the v1 template (spec §6 "Judge prompt"): slots are
// the short ids of both attempts, their status, their result maps, and the
// narrative diff's pros/cons and delta list.
func buildPromptV1(left, right model.Attempt, narrative diff.Result) (system, user string) {
	system = "You are comparing two attempts at the same coding task. " +
		"Respond with JSON only, no prose outside the JSON object: " +
		`{"winner":"A"|"B","confidence":0..1,"rationale":string}.`

	leftResult, _ := json.Marshal(left.Result)
	rightResult, _ := json.Marshal(right.Result)

	var b strings.Builder
	fmt.Fprintf(&b, "Attempt A (#%s): status=%s result=%s\n", canonical.Short(left.ID), left.Status, leftResult)
	fmt.Fprintf(&b, "Attempt B (#%s): status=%s result=%s\n", canonical.Short(right.ID), right.Status, rightResult)
	b.WriteString("\nNarrative diff summary: " + narrative.Summary + "\n")
	if len(narrative.Deltas) > 0 {
		b.WriteString("Deltas:\n")
		for _, d := range narrative.Deltas {
			b.WriteString("- " + d + "\n")
		}
	}
	b.WriteString("Pros for A: " + strings.Join(narrative.ProsCons.LeftPros, "; ") + "\n")
	b.WriteString("Cons for A: " + strings.Join(narrative.ProsCons.LeftCons, "; ") + "\n")
	b.WriteString("Pros for B: " + strings.Join(narrative.ProsCons.RightPros, "; ") + "\n")
	b.WriteString("Cons for B: " + strings.Join(narrative.ProsCons.RightCons, "; ") + "\n")
	b.WriteString("\nWhich attempt (A or B) is the better outcome? Respond with the JSON object only.")

	return system, b.String()
}

// parseVerdict extracts the first fenced JSON block or the first {...}
// span from raw, then validates it against the response schema (spec
// §4.O step 4).
func parseVerdict(raw string) (Verdict, error) {
	block := extractJSON(raw)
	if block == "" {
		return Verdict{}, fmt.Errorf("no JSON object found in response")
	}

	var v Verdict
	if err := json.Unmarshal([]byte(block), &v); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if v.Winner != "A" && v.Winner != "B" {
		return Verdict{}, fmt.Errorf("winner must be \"A\" or \"B\", got %q", v.Winner)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return Verdict{}, fmt.Errorf("confidence must be within [0,1], got %v", v.Confidence)
	}
	if v.Rationale == "" {
		return Verdict{}, fmt.Errorf("rationale is required")
	}
	return v, nil
}

// extractJSON returns the first fenced ```json ... ``` block if present,
// otherwise the first balanced {...} span.
func extractJSON(raw string) string {
	if start := strings.Index(raw, "```json"); start >= 0 {
		rest := raw[start+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if start := strings.Index(raw, "```"); start >= 0 {
		rest := raw[start+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	depth := 0
	startIdx := -1
	for i, r := range raw {
		switch r {
		case '{':
			if depth == 0 {
				startIdx = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && startIdx >= 0 {
					return raw[startIdx : i+1]
				}
			}
		}
	}
	return ""
}
