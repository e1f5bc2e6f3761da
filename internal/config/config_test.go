package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Output != "table" {
		t.Errorf("expected default output table, got %s", cfg.Output)
	}
	if cfg.BaseDir != ".engram" {
		t.Errorf("expected default base dir .engram, got %s", cfg.BaseDir)
	}
	if cfg.BBoN.DefaultN != 3 {
		t.Errorf("expected default bbon n=3, got %d", cfg.BBoN.DefaultN)
	}
	if cfg.LLM.Provider != "stub" {
		t.Errorf("expected default llm provider stub, got %s", cfg.LLM.Provider)
	}
}

func TestLoadProjectOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, ".engram")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yamlContent := "output: json\nllm:\n  provider: anthropic\n  judge_model: judge-x\n"
	if err := os.WriteFile(filepath.Join(projectDir, "config.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ENGRAM_CONFIG", filepath.Join(projectDir, "config.yaml"))
	t.Setenv("HOME", dir)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output != "json" {
		t.Errorf("expected output json, got %s", cfg.Output)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected llm provider anthropic, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.JudgeModel != "judge-x" {
		t.Errorf("expected judge model judge-x, got %s", cfg.LLM.JudgeModel)
	}
	// Untouched fields keep their defaults.
	if cfg.BBoN.DefaultN != 3 {
		t.Errorf("expected bbon default n unchanged at 3, got %d", cfg.BBoN.DefaultN)
	}
}

func TestApplyEnvOverridesLoadedConfig(t *testing.T) {
	t.Setenv("ENGRAM_OUTPUT", "json")
	t.Setenv("ENGRAM_BASE_DIR", "/tmp/custom-engram")
	t.Setenv("ENGRAM_VERBOSE", "1")
	t.Setenv("ENGRAM_LLM_PROVIDER", "anthropic")

	cfg := applyEnv(Default())
	if cfg.Output != "json" || cfg.BaseDir != "/tmp/custom-engram" || !cfg.Verbose {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected llm provider override, got %s", cfg.LLM.Provider)
	}
}

func TestResolvePrecedenceFlagWins(t *testing.T) {
	rc := Resolve("json", "", false)
	if rc.Output.Value != "json" || rc.Output.Source != SourceFlag {
		t.Errorf("expected flag to win for output, got %+v", rc.Output)
	}
	if rc.BaseDir.Source != SourceDefault {
		t.Errorf("expected default source for unset base dir, got %s", rc.BaseDir.Source)
	}
}

func TestMergeRetrievalMapsAdditively(t *testing.T) {
	dst := Default()
	src := &Config{Retrieval: map[string]string{"vector": "on"}}
	merged := merge(dst, src)
	if merged.Retrieval["vector"] != "on" {
		t.Errorf("expected retrieval.vector=on after merge, got %+v", merged.Retrieval)
	}
}
