package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/audit"
	"github.com/engram-dev/engram/internal/config"
	"github.com/engram-dev/engram/internal/dbstore"
	"github.com/engram-dev/engram/internal/repo"
)

const apiVersion = "v1"

var (
	dryRun      bool
	verbose     bool
	output      string
	cfgFile     string
	docPath     string
	baseDirFlag string
	cfg         *config.Config
)

// rootCmd is the base command (spec §6 "CLI surface").
var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "engram: a self-improving coding-agent learning substrate",
	Long: `engram records build/test/lint executions, extracts recurring failure
patterns, promotes stable patterns into durable project knowledge, and
renders that knowledge into a guidance document future agents read. On
top of that it runs a Best-of-N explorer that launches N independent
learning attempts on a task and adopts the winner's knowledge.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			_ = os.Setenv("ENGRAM_CONFIG", cfgFile)
		}
		loaded, err := config.Load(&config.Config{Output: output, BaseDir: baseDirFlag, Verbose: verbose})
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	cfg = config.Default()
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose human-facing output on stderr")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .engram/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&docPath, "doc", "AGENTS.md", "path to the guidance document engram renders into")
	rootCmd.PersistentFlags().StringVar(&baseDirFlag, "base-dir", "", "engram data directory (default: .engram)")

	rootCmd.AddCommand(initCmd, doctorCmd, captureCmd, reflectCmd, curateCmd, applyCmd, learnCmd, bbonCmd)
}

// Execute runs the root command; exit code is 0 on success, non-zero on
// error (spec §6).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// envelope is the JSON output envelope every verb supports (spec §6).
type envelope struct {
	APIVersion string `json:"apiVersion"`
	Cmd        string `json:"cmd"`
	OK         bool   `json:"ok"`
	Data       any    `json:"data,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// emit writes the JSON envelope to stdout when JSON mode is selected, or
// a human-facing line to stderr otherwise (spec §6: "machine-facing
// output goes to the standard stream only when JSON mode is selected").
func emit(cmd string, data any, err error, human string) error {
	if output == "json" {
		env := envelope{APIVersion: apiVersion, Cmd: cmd, OK: err == nil, Data: data}
		if err != nil {
			env.Errors = []string{err.Error()}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetEscapeHTML(false)
		if encErr := enc.Encode(env); encErr != nil {
			return encErr
		}
		return err
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	fmt.Fprintln(os.Stderr, human)
	return nil
}

func verbosef(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// projectPaths resolves every per-project path engram touches, rooted at
// cfg.BaseDir (spec §6: "Per-project directory rooted at <cwd>/.engram/").
type projectPaths struct {
	baseDir   string
	dbPath    string
	auditPath string
	docPath   string
}

func resolvePaths() projectPaths {
	return projectPaths{
		baseDir:   cfg.BaseDir,
		dbPath:    filepath.Join(cfg.BaseDir, "engram.db"),
		auditPath: filepath.Join(cfg.BaseDir, "snapshots", fmt.Sprintf("audit-%s.jsonl", time.Now().UTC().Format("20060102T150405Z"))),
		docPath:   docPath,
	}
}

// openRepository opens the database (running migrations if writable) and
// wires a Repository with an audit log that mirrors every mutation
// (spec §4.F). Read-only callers (apply) pass writable=false and get a
// Repository with no audit log, per internal/repo.New's doc comment.
func openRepository(paths projectPaths, writable bool) (*repo.Repository, func(), error) {
	db, err := dbstore.Open(paths.dbPath, !writable)
	if err != nil {
		return nil, nil, err
	}

	var auditLog *audit.Log
	if writable {
		auditLog, err = audit.Open(paths.auditPath)
		if err != nil {
			return nil, nil, err
		}
	}

	r := repo.New(db, auditLog)
	cleanup := func() { _ = db.Close() }
	return r, cleanup, nil
}
