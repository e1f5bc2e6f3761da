package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/dbstore"
)

const guidanceTemplate = `# Project Guidance

<!-- BEGIN: LEARNED_PATTERNS -->
<!-- END: LEARNED_PATTERNS -->
`

// initCmd scaffolds .engram/ and a guidance document with the marker pair
// pre-inserted (spec §6), grounded in the teacher's cmd/ao/init.go
// directory-scaffolding style.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "scaffold .engram/ and the guidance document",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := resolvePaths()

		if dryRun {
			return emit("init", map[string]any{"baseDir": paths.baseDir, "doc": paths.docPath}, nil,
				fmt.Sprintf("would create %s and %s", paths.baseDir, paths.docPath))
		}

		db, err := dbstore.Open(paths.dbPath, false)
		if err != nil {
			return emit("init", nil, err, "")
		}
		defer db.Close()

		createdDoc := false
		if _, err := os.Stat(paths.docPath); os.IsNotExist(err) {
			if err := os.WriteFile(paths.docPath, []byte(guidanceTemplate), 0o644); err != nil {
				return emit("init", nil, err, "")
			}
			createdDoc = true
		}

		return emit("init", map[string]any{
			"baseDir":    paths.baseDir,
			"dbPath":     paths.dbPath,
			"doc":        paths.docPath,
			"createdDoc": createdDoc,
		}, nil, fmt.Sprintf("initialized %s", paths.baseDir))
	},
}
