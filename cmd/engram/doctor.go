package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/dbstore"
	"github.com/engram-dev/engram/internal/migrate"
)

type doctorCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // pass, warn, fail
	Detail string `json:"detail"`
}

// doctorCmd validates the .engram/ directory exists, the DB opens and
// reports its applied schema version (not compared with the newest embedded
// migration), and the guidance document has both markers --
// the preflight checks the Learn orchestrator already requires
// (spec §4.L), exposed standalone for operators (grounded on the
// teacher's cmd/ao/doctor.go).
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "check engram's health in this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := resolvePaths()
		checks := []doctorCheck{checkBaseDir(paths), checkDatabase(paths), checkGuidanceDoc(paths)}

		result := "HEALTHY"
		for _, c := range checks {
			if c.Status == "fail" {
				result = "UNHEALTHY"
				break
			}
			if c.Status == "warn" && result == "HEALTHY" {
				result = "DEGRADED"
			}
		}

		var err error
		if result == "UNHEALTHY" {
			err = fmt.Errorf("engram doctor: unhealthy")
		}
		return emit("doctor", map[string]any{"checks": checks, "result": result}, err,
			fmt.Sprintf("doctor: %s", result))
	},
}

func checkBaseDir(paths projectPaths) doctorCheck {
	if _, err := os.Stat(paths.baseDir); err != nil {
		return doctorCheck{Name: "base-dir", Status: "fail", Detail: fmt.Sprintf("%s does not exist (run `engram init`)", paths.baseDir)}
	}
	return doctorCheck{Name: "base-dir", Status: "pass", Detail: paths.baseDir}
}

func checkDatabase(paths projectPaths) doctorCheck {
	db, err := dbstore.Open(paths.dbPath, true)
	if err != nil {
		return doctorCheck{Name: "database", Status: "fail", Detail: err.Error()}
	}
	defer db.Close()

	v, err := migrate.CurrentVersion(db.Conn())
	if err != nil {
		return doctorCheck{Name: "database", Status: "fail", Detail: err.Error()}
	}
	return doctorCheck{Name: "database", Status: "pass", Detail: fmt.Sprintf("schema version %d", v)}
}

func checkGuidanceDoc(paths projectPaths) doctorCheck {
	data, err := os.ReadFile(paths.docPath)
	if err != nil {
		return doctorCheck{Name: "guidance-doc", Status: "fail", Detail: fmt.Sprintf("%s does not exist (run `engram init`)", paths.docPath)}
	}
	text := string(data)
	begin := strings.Index(text, "<!-- BEGIN: LEARNED_PATTERNS -->")
	end := strings.Index(text, "<!-- END: LEARNED_PATTERNS -->")
	if begin < 0 || end < 0 || end < begin {
		return doctorCheck{Name: "guidance-doc", Status: "fail", Detail: "missing or misordered LEARNED_PATTERNS markers"}
	}
	return doctorCheck{Name: "guidance-doc", Status: "pass", Detail: paths.docPath}
}
