package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/render"
)

var applyProjectID string

// applyCmd renders curated knowledge and working memory into the
// guidance document's marked region (spec §4.K).
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "render knowledge into the guidance document",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := resolvePaths()
		r, cleanup, err := openRepository(paths, false)
		if err != nil {
			return emit("apply", nil, err, "")
		}
		defer cleanup()

		result, err := render.Run(r, applyProjectID, paths.docPath)
		if err != nil {
			return emit("apply", nil, err, "")
		}
		return emit("apply", result, nil, fmt.Sprintf("apply: rendered=%v", result.Rendered))
	},
}

func init() {
	applyCmd.Flags().StringVar(&applyProjectID, "project", "default", "project id working memory is scoped to")
}
