// Package memory classifies high-confidence Insights into WorkingMemory
// entries (spec §4.J). The regex-driven classification is grounded on
// _examples/tim-coutinho-agentops's internal/taxonomy, which resolves free
// text into one of a fixed set of categories via ordered pattern matching.
package memory

import (
	"fmt"
	"regexp"

	"github.com/engram-dev/engram/internal/model"
	"github.com/engram-dev/engram/internal/repo"
)

var (
	decisionPattern  = regexp.MustCompile(`(?i)\b(should|must|prefer|avoid|never|always)\b`)
	invariantPattern = regexp.MustCompile(`(?i)\b(requires?|constraint|rule|law|guarantee)\b`)
)

// Classify returns the WorkingMemory type a pattern/description pair
// belongs to, per spec §4.J's ordered rule set.
func Classify(pattern, description string) string {
	text := pattern + " " + description
	switch {
	case decisionPattern.MatchString(text):
		return model.WorkingMemoryDecision
	case invariantPattern.MatchString(text):
		return model.WorkingMemoryInvariant
	default:
		return model.WorkingMemorySummary
	}
}

// Result summarizes one Promote invocation.
type Result struct {
	Promoted []model.WorkingMemory `json:"promoted"`
}

// Promote classifies every insight at or above tau and upserts it into
// WorkingMemory, recording a MemoryEvent for each.
func Promote(r *repo.Repository, projectID string, tau float64) (Result, error) {
	insights, err := r.ListInsightsAboveConfidence(tau)
	if err != nil {
		return Result{}, fmt.Errorf("memory: list insights: %w", err)
	}

	var out Result
	for _, in := range insights {
		memType := Classify(in.Pattern, in.Description)
		w, err := r.UpsertWorkingMemory(model.WorkingMemory{
			ProjectID:   projectID,
			Type:        memType,
			ContentText: in.Description,
			Provenance:  map[string]any{"insightId": in.ID, "pattern": in.Pattern},
		})
		if err != nil {
			return Result{}, fmt.Errorf("memory: upsert working memory: %w", err)
		}
		out.Promoted = append(out.Promoted, w)

		_, err = r.AddMemoryEvent(model.MemoryEvent{
			SubjectID:   in.ID,
			SubjectKind: "insight",
			Event:       "promoted_to_working_memory",
			Data: map[string]any{
				"type":       memType,
				"confidence": in.Confidence,
				"frequency":  in.Frequency,
			},
		})
		if err != nil {
			return Result{}, fmt.Errorf("memory: record memory event: %w", err)
		}
	}
	return out, nil
}
