// Package curate deduplicates high-confidence Insights and promotes them to
// KnowledgeItems (spec §4.I). The group-then-dedup-then-promote shape is
// grounded on _examples/tim-coutinho-agentops's internal/ratchet promotion
// gating (a confidence threshold decides whether a candidate graduates),
// adapted from ratchet maturity levels to a single pattern/fact/procedure
// promotion step.
package curate

import (
	"math"
	"sort"

	"github.com/engram-dev/engram/internal/errs"
	"github.com/engram-dev/engram/internal/model"
	"github.com/engram-dev/engram/internal/repo"
)

const DefaultThreshold = 0.8

// Result summarizes one Curate invocation.
type Result struct {
	Promoted   []model.KnowledgeItem `json:"promoted"`
	Duplicates int                   `json:"duplicates"`
}

// Run groups insights at or above tau by (pattern, description), collapses
// duplicates, and promotes the first survivor of each group into a
// KnowledgeItem when no existing pattern item in the "repo" scope already
// carries that text; items in other scopes are not checked. The whole
// pass runs inside a single Repository transaction scope (spec §4.I, §9),
// so a failure partway through never leaves duplicates deleted without
// their promotion, or a promotion committed without its representative
// cleaned up.
func Run(r *repo.Repository, tau float64) (Result, error) {
	if math.IsNaN(tau) || math.IsInf(tau, 0) || tau < 0 || tau > 1 {
		return Result{}, &errs.InvalidInput{Reason: "curate: tau must be a finite number in [0,1]"}
	}

	var result Result
	err := r.WithTx(func(tx *repo.Repository) error {
		insights, err := tx.ListInsightsAboveConfidence(tau)
		if err != nil {
			return err
		}

		type key struct{ pattern, description string }
		groups := map[key][]model.Insight{}
		var order []key
		for _, in := range insights {
			k := key{in.Pattern, in.Description}
			if _, ok := groups[k]; !ok {
				order = append(order, k)
			}
			groups[k] = append(groups[k], in)
		}

		for _, k := range order {
			members := groups[k]
			sort.Slice(members, func(i, j int) bool { return members[i].CreatedAt < members[j].CreatedAt })
			rep := members[0]
			result.Duplicates += len(members) - 1

			for _, dup := range members[1:] {
				if err := tx.DeleteInsight(dup.ID); err != nil {
					return err
				}
			}

			promoted, err := promoteIfAbsent(tx, rep)
			if err != nil {
				return err
			}
			if promoted != nil {
				result.Promoted = append(result.Promoted, *promoted)
			}

			if err := tx.DeleteInsight(rep.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func promoteIfAbsent(r *repo.Repository, in model.Insight) (*model.KnowledgeItem, error) {
	existing, err := r.ListKnowledgeItems("repo", "")
	if err != nil {
		return nil, err
	}
	for _, item := range existing {
		if item.Type == model.KnowledgeTypePattern && item.Text == in.Description {
			return nil, nil
		}
	}
	item, err := r.AddKnowledgeItem(model.KnowledgeItem{
		Type:       model.KnowledgeTypePattern,
		Text:       in.Description,
		Scope:      "repo",
		MetaTags:   in.MetaTags,
		Confidence: in.Confidence,
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}
