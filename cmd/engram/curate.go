package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/curate"
)

var curateTau float64

// curateCmd deduplicates insights and promotes the survivors into
// knowledge items (spec §4.I).
var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "deduplicate and promote high-confidence insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := resolvePaths()
		r, cleanup, err := openRepository(paths, true)
		if err != nil {
			return emit("curate", nil, err, "")
		}
		defer cleanup()

		result, err := curate.Run(r, curateTau)
		if err != nil {
			return emit("curate", nil, err, "")
		}
		return emit("curate", result, nil, fmt.Sprintf("curate: promoted %d, deduplicated %d", len(result.Promoted), result.Duplicates))
	},
}

func init() {
	curateCmd.Flags().Float64Var(&curateTau, "tau", curate.DefaultThreshold, "confidence threshold for promotion")
}
