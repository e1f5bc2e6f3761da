// Package render composes the current KnowledgeItem and WorkingMemory sets
// into a delimited region of a project's guidance document (spec §4.K
// Apply/Renderer). The marker-bounded region-replace, preserve-everything-
// else approach is grounded on _examples/tim-coutinho-agentops's
// internal/formatter, which rewrites a named block of a larger document
// while leaving surrounding content untouched.
package render

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/engram-dev/engram/internal/canonical"
	"github.com/engram-dev/engram/internal/errs"
	"github.com/engram-dev/engram/internal/model"
	"github.com/engram-dev/engram/internal/repo"
)

const (
	beginMarker = "<!-- BEGIN: LEARNED_PATTERNS -->"
	endMarker   = "<!-- END: LEARNED_PATTERNS -->"

	minKnowledgeConfidence = 0.5
)

// Result summarizes one Apply invocation.
type Result struct {
	KnowledgeCount     int  `json:"knowledgeCount"`
	WorkingMemoryCount int  `json:"workingMemoryCount"`
	Rendered           bool `json:"rendered"`
}

// Run reads path, replaces the content between the LEARNED_PATTERNS
// markers with a freshly rendered region, and writes the file back only
// if it changed.
func Run(r *repo.Repository, projectID, path string) (Result, error) {
	items, err := r.ListKnowledgeItemsAboveConfidence(minKnowledgeConfidence)
	if err != nil {
		return Result{}, fmt.Errorf("render: list knowledge items: %w", err)
	}
	sortKnowledgeItems(items)

	memories, err := r.ListWorkingMemory(projectID, "")
	if err != nil {
		return Result{}, fmt.Errorf("render: list working memory: %w", err)
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("render: read guidance document: %w", err)
	}

	beginIdx := strings.Index(string(original), beginMarker)
	endIdx := strings.Index(string(original), endMarker)
	if beginIdx < 0 || endIdx < 0 || endIdx < beginIdx {
		return Result{}, &errs.StateError{Op: "apply", Message: "guidance document missing or misordered LEARNED_PATTERNS markers"}
	}

	region := renderRegion(items, memories)
	updated := string(original[:beginIdx]) + beginMarker + "\n" + region + endMarker + string(original[endIdx+len(endMarker):])

	result := Result{KnowledgeCount: len(items), WorkingMemoryCount: len(memories)}
	if updated == string(original) {
		return result, nil
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return Result{}, fmt.Errorf("render: write guidance document: %w", err)
	}
	result.Rendered = true
	return result, nil
}

func sortKnowledgeItems(items []model.KnowledgeItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Helpful != items[j].Helpful {
			return items[i].Helpful > items[j].Helpful
		}
		if items[i].Confidence != items[j].Confidence {
			return items[i].Confidence > items[j].Confidence
		}
		return items[i].Text < items[j].Text
	})
}

func renderRegion(items []model.KnowledgeItem, memories []model.WorkingMemory) string {
	var b strings.Builder
	b.WriteString("# Learned Patterns\n\n")

	knowledgeSections := []struct {
		heading string
		kind    string
	}{
		{"Patterns", model.KnowledgeTypePattern},
		{"Facts", model.KnowledgeTypeFact},
		{"Procedures", model.KnowledgeTypeProcedure},
		{"Decisions", model.KnowledgeTypeDecision},
	}
	for _, sec := range knowledgeSections {
		var lines []string
		for _, item := range items {
			if item.Type != sec.kind {
				continue
			}
			lines = append(lines, itemLine(item))
		}
		if len(lines) == 0 {
			continue
		}
		b.WriteString("## " + sec.heading + "\n\n")
		b.WriteString(strings.Join(lines, "\n\n"))
		b.WriteString("\n\n")
	}

	memSections := []struct {
		heading string
		kind    string
	}{
		{"Summaries", model.WorkingMemorySummary},
		{"Invariants", model.WorkingMemoryInvariant},
		{"Decisions", model.WorkingMemoryDecision},
	}
	var memLines []string
	for _, sec := range memSections {
		var lines []string
		for _, m := range memories {
			if m.Type != sec.kind {
				continue
			}
			lines = append(lines, fmt.Sprintf("[#%s] %s", canonical.Short(m.ID), m.ContentText))
		}
		if len(lines) == 0 {
			continue
		}
		memLines = append(memLines, "### "+sec.heading+"\n\n"+strings.Join(lines, "\n\n"))
	}
	if len(memLines) > 0 {
		b.WriteString("## Working Memory\n\n")
		b.WriteString(strings.Join(memLines, "\n\n"))
		b.WriteString("\n\n")
	}

	return b.String()
}

func itemLine(item model.KnowledgeItem) string {
	badge := feedbackBadge(item)
	if badge == "" {
		return fmt.Sprintf("[#%s] %s", canonical.Short(item.ID), item.Text)
	}
	return fmt.Sprintf("[#%s][%s] %s", canonical.Short(item.ID), badge, item.Text)
}

func feedbackBadge(item model.KnowledgeItem) string {
	var parts []string
	if item.Helpful > 0 {
		parts = append(parts, "+h")
	}
	if item.Harmful > 0 {
		parts = append(parts, "-a")
	}
	return strings.Join(parts, "")
}
