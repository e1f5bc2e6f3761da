package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/learn"
)

var learnProjectID string
var learnTau float64

// learnCmd composes preflight + Reflect + Memory + Curate + Apply in sequence
// (spec §4.L).
var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "run the full reflect -> curate -> apply learning cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := resolvePaths()
		r, cleanup, err := openRepository(paths, true)
		if err != nil {
			return emit("learn", nil, err, "")
		}
		defer cleanup()

		result, err := learn.Run(r, paths.dbPath, paths.docPath, learnProjectID, learnTau)
		if err != nil {
			return emit("learn", nil, err, "")
		}
		return emit("learn", result, nil, fmt.Sprintf(
			"learn: %d insight(s), %d promoted, rendered=%v",
			len(result.Reflect.Created), len(result.Curate.Promoted), result.Apply.Rendered,
		))
	},
}

func init() {
	learnCmd.Flags().StringVar(&learnProjectID, "project", "default", "project id working memory is scoped to")
	learnCmd.Flags().Float64Var(&learnTau, "tau", 0.8, "confidence threshold shared by curate and memory promotion")
}
