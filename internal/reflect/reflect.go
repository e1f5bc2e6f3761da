// Package reflect extracts candidate Insights from failed traces (spec
// §4.H). Grounded on the grouping/confidence-scoring shape of
// _examples/tim-coutinho-agentops's internal/ratchet package (counting
// occurrences across a population and gating on a fraction), adapted from
// ratchet-maturity scoring to error-pattern confidence scoring.
package reflect

import (
	"fmt"
	"sort"

	"github.com/engram-dev/engram/internal/model"
	"github.com/engram-dev/engram/internal/repo"
)

// Result summarizes one Reflect invocation.
type Result struct {
	Created []model.Insight `json:"created"`
}

type groupKey struct {
	tool, file, message string
}

type group struct {
	key         groupKey
	occurrences int
	traceIDs    map[string]bool
	subjects    map[string]bool
}

// Run reads every trace with outcome=failure, groups error entries, and
// promotes qualifying groups into stored Insight rows.
func Run(r *repo.Repository) (Result, error) {
	traces, err := r.ListTracesByOutcome(model.OutcomeFailure)
	if err != nil {
		return Result{}, fmt.Errorf("reflect: list failed traces: %w", err)
	}
	if len(traces) == 0 {
		return Result{}, nil
	}

	groups := map[groupKey]*group{}
	for _, tr := range traces {
		for _, ex := range tr.Executions {
			for _, e := range ex.Errors {
				if e.Message == "" {
					continue
				}
				k := groupKey{tool: e.Tool, file: e.File, message: e.Message}
				g, ok := groups[k]
				if !ok {
					g = &group{key: k, traceIDs: map[string]bool{}, subjects: map[string]bool{}}
					groups[k] = g
				}
				g.occurrences++
				g.traceIDs[tr.ID] = true
				if tr.SubjectID != "" {
					g.subjects[tr.SubjectID] = true
				}
			}
		}
	}

	type candidate struct {
		pattern, description string
		confidence           float64
		frequency            int
		relatedSubjects      []string
	}
	var candidates []candidate
	total := float64(len(traces))
	for _, g := range groups {
		confidence := float64(len(g.traceIDs)) / total
		if confidence > 1.0 {
			confidence = 1.0
		}
		if confidence < 0.5 {
			continue
		}
		subjects := make([]string, 0, len(g.subjects))
		for s := range g.subjects {
			subjects = append(subjects, s)
		}
		sort.Strings(subjects)
		candidates = append(candidates, candidate{
			pattern:         fmt.Sprintf("%s error in %s", g.key.tool, g.key.file),
			description:     g.key.message,
			confidence:      confidence,
			frequency:       g.occurrences,
			relatedSubjects: subjects,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}
		return candidates[i].pattern < candidates[j].pattern
	})

	var out Result
	for _, c := range candidates {
		exists, err := insightExists(r, c.pattern, c.description)
		if err != nil {
			return Result{}, err
		}
		if exists {
			continue
		}
		var metaTags []string
		if tool := metaTagTool(c.pattern); tool != "" {
			metaTags = append(metaTags, tool)
		}
		metaTags = append(metaTags, "error-pattern")

		created, err := r.AddInsight(model.Insight{
			Pattern:         c.pattern,
			Description:     c.description,
			Confidence:      c.confidence,
			Frequency:       c.frequency,
			RelatedSubjects: c.relatedSubjects,
			MetaTags:        metaTags,
		})
		if err != nil {
			return Result{}, fmt.Errorf("reflect: add insight: %w", err)
		}
		out.Created = append(out.Created, created)
	}
	return out, nil
}

// metaTagTool recovers the tool name from a pattern string shaped
// "<tool> error in <file>"; empty tool names are dropped by the caller's
// meta tag filter per spec §4.H step 4.
func metaTagTool(pattern string) string {
	for i, r := range pattern {
		if r == ' ' {
			return pattern[:i]
		}
	}
	return pattern
}

func insightExists(r *repo.Repository, pattern, description string) (bool, error) {
	all, err := r.ListInsightsAboveConfidence(0)
	if err != nil {
		return false, err
	}
	for _, in := range all {
		if in.Pattern == pattern && in.Description == description {
			return true, nil
		}
	}
	return false, nil
}
