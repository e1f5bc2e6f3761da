// Package config provides configuration management for engram.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (ENGRAM_*)
// 3. Project config (.engram/config.yaml in cwd)
// 4. Home config (~/.engram/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all engram configuration.
type Config struct {
	// Output controls the default output format (table, json).
	Output string `yaml:"output" json:"output"`

	// BaseDir is the engram data directory (default: .engram).
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// Verbose enables verbose human-facing output on stderr.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// LLM configures the external judge transport (spec §6).
	LLM LLMConfig `yaml:"llm" json:"llm"`

	// Retrieval configures optional, non-core retrieval backends.
	Retrieval map[string]string `yaml:"retrieval" json:"retrieval"`

	// BBoN configures default Best-of-N exploration parameters.
	BBoN BBoNConfig `yaml:"bbon" json:"bbon"`
}

// LLMConfig holds the external LLM transport settings.
type LLMConfig struct {
	// Provider names which LLM transport to invoke (e.g. "anthropic", "stub").
	Provider string `yaml:"provider" json:"provider"`

	// JudgeModel is the model identifier passed to the comparative judge.
	JudgeModel string `yaml:"judge_model" json:"judge_model"`
}

// BBoNConfig holds Best-of-N orchestrator defaults.
type BBoNConfig struct {
	// DefaultN is the number of attempts launched per run when unspecified.
	DefaultN int `yaml:"default_n" json:"default_n"`

	// PromptVersion is the judge prompt template version used by default.
	PromptVersion string `yaml:"prompt_version" json:"prompt_version"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput  = "table"
	defaultBaseDir = ".engram"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:  defaultOutput,
		BaseDir: defaultBaseDir,
		Verbose: false,
		LLM: LLMConfig{
			Provider:   "stub",
			JudgeModel: "judge-default",
		},
		Retrieval: map[string]string{},
		BBoN: BBoNConfig{
			DefaultN:      3,
			PromptVersion: "v1",
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if homeConfig, _ := loadFromPath(homeConfigPath()); homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	if projectConfig, _ := loadFromPath(projectConfigPath()); projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".engram", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("ENGRAM_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".engram", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("ENGRAM_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("ENGRAM_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("ENGRAM_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("ENGRAM_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("ENGRAM_LLM_JUDGE_MODEL"); v != "" {
		cfg.LLM.JudgeModel = v
	}
	return cfg
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.BaseDir != "" {
		dst.BaseDir = src.BaseDir
	}
	if src.Verbose {
		dst.Verbose = true
	}
	if src.LLM.Provider != "" {
		dst.LLM.Provider = src.LLM.Provider
	}
	if src.LLM.JudgeModel != "" {
		dst.LLM.JudgeModel = src.LLM.JudgeModel
	}
	for k, v := range src.Retrieval {
		if dst.Retrieval == nil {
			dst.Retrieval = map[string]string{}
		}
		dst.Retrieval[k] = v
	}
	if src.BBoN.DefaultN != 0 {
		dst.BBoN.DefaultN = src.BBoN.DefaultN
	}
	if src.BBoN.PromptVersion != "" {
		dst.BBoN.PromptVersion = src.BBoN.PromptVersion
	}
	return dst
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.engram/config.yaml"
	SourceProject Source = ".engram/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// resolved pairs a resolved value with the layer that produced it.
type resolved struct {
	Value  interface{} `json:"value"`
	Source Source      `json:"source"`
}

// ResolvedConfig shows config values with their sources.
type ResolvedConfig struct {
	Output        resolved `json:"output"`
	BaseDir       resolved `json:"base_dir"`
	Verbose       resolved `json:"verbose"`
	LLMProvider   resolved `json:"llm_provider"`
	LLMJudgeModel resolved `json:"llm_judge_model"`
}

func resolveStringField(home, project, env, flag, def string) resolved {
	result := resolved{Value: def, Source: SourceDefault}
	if home != "" {
		result = resolved{Value: home, Source: SourceHome}
	}
	if project != "" {
		result = resolved{Value: project, Source: SourceProject}
	}
	if env != "" {
		result = resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = resolved{Value: flag, Source: SourceFlag}
	}
	return result
}

// Resolve returns configuration with source tracking, following the same
// precedence chain as Load: flags > env > project > home > defaults.
func Resolve(flagOutput, flagBaseDir string, flagVerbose bool) *ResolvedConfig {
	homeConfig, _ := loadFromPath(homeConfigPath())
	projectConfig, _ := loadFromPath(projectConfigPath())

	var homeOutput, homeBaseDir, homeProvider, homeModel string
	var homeVerbose bool
	if homeConfig != nil {
		homeOutput, homeBaseDir = homeConfig.Output, homeConfig.BaseDir
		homeVerbose = homeConfig.Verbose
		homeProvider, homeModel = homeConfig.LLM.Provider, homeConfig.LLM.JudgeModel
	}

	var projectOutput, projectBaseDir, projectProvider, projectModel string
	var projectVerbose bool
	if projectConfig != nil {
		projectOutput, projectBaseDir = projectConfig.Output, projectConfig.BaseDir
		projectVerbose = projectConfig.Verbose
		projectProvider, projectModel = projectConfig.LLM.Provider, projectConfig.LLM.JudgeModel
	}

	envOutput := os.Getenv("ENGRAM_OUTPUT")
	envBaseDir := os.Getenv("ENGRAM_BASE_DIR")
	envVerboseRaw := os.Getenv("ENGRAM_VERBOSE")
	envVerbose := envVerboseRaw == "true" || envVerboseRaw == "1"
	envProvider := os.Getenv("ENGRAM_LLM_PROVIDER")
	envModel := os.Getenv("ENGRAM_LLM_JUDGE_MODEL")

	rc := &ResolvedConfig{
		Output:        resolveStringField(homeOutput, projectOutput, envOutput, flagOutput, defaultOutput),
		BaseDir:       resolveStringField(homeBaseDir, projectBaseDir, envBaseDir, flagBaseDir, defaultBaseDir),
		Verbose:       resolved{Value: false, Source: SourceDefault},
		LLMProvider:   resolveStringField(homeProvider, projectProvider, envProvider, "", "stub"),
		LLMJudgeModel: resolveStringField(homeModel, projectModel, envModel, "", "judge-default"),
	}

	if homeVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceHome}
	}
	if projectVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceProject}
	}
	if envVerboseRaw != "" && envVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceEnv}
	}
	if flagVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceFlag}
	}

	return rc
}
