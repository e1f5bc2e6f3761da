package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/capture"
)

var captureLiteral string

// captureCmd ingests one trace payload from a file path, stdin, or a
// literal argument (spec §4.G, §6). Preference order: file > stdin >
// literal.
var captureCmd = &cobra.Command{
	Use:   "capture [file]",
	Short: "ingest a build/test/lint execution trace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := capture.Input{Stdin: os.Stdin, Literal: captureLiteral}
		if len(args) == 1 {
			in.FilePath = args[0]
		}

		paths := resolvePaths()
		r, cleanup, err := openRepository(paths, true)
		if err != nil {
			return emit("capture", nil, err, "")
		}
		defer cleanup()

		trace, err := capture.Run(r, in)
		if err != nil {
			return emit("capture", nil, err, "")
		}
		verbosef("captured trace %s (outcome=%s)", trace.ID, trace.Outcome)
		return emit("capture", trace, nil, "trace captured: "+trace.ID)
	},
}

func init() {
	captureCmd.Flags().StringVar(&captureLiteral, "trace", "", "literal JSON trace payload")
}
