package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/reflect"
)

// reflectCmd runs pattern extraction over failed traces (spec §4.H).
var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "extract insight candidates from failed traces",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := resolvePaths()
		r, cleanup, err := openRepository(paths, true)
		if err != nil {
			return emit("reflect", nil, err, "")
		}
		defer cleanup()

		result, err := reflect.Run(r)
		if err != nil {
			return emit("reflect", nil, err, "")
		}
		return emit("reflect", result, nil, fmt.Sprintf("reflect: created %d insight(s)", len(result.Created)))
	},
}
