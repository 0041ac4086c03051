// Package config loads the scholard manifest (scholar.yaml).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all scholard configuration.
type Config struct {
	// SafeMode is informational only: it is forwarded into every agent
	// prompt header but never changes control flow.
	SafeMode bool `yaml:"safe_mode"`

	// MultiAgent controls the specialist fan-out.
	MultiAgent MultiAgentConfig `yaml:"multi_agent"`

	// TutorPaths / TutorStudyPaths form the SOP allowlist used as context
	// in tutor mode.
	TutorPaths      []string `yaml:"tutor_paths"`
	TutorStudyPaths []string `yaml:"tutor_study_paths"`

	// TelemetrySnapshot configures the study-database snapshot.
	TelemetrySnapshot TelemetryConfig `yaml:"telemetry_snapshot"`

	// Paths locates external directories and files.
	Paths PathsConfig `yaml:"paths"`

	// CLI configures the external LLM CLI.
	CLI CLIConfig `yaml:"cli"`

	// Digest configures the optional HTTP LLM API used by the weekly digest.
	Digest DigestConfig `yaml:"digest"`

	// Logging controls the category debug logs (not the run log).
	Logging LoggingConfig `yaml:"logging"`
}

// MultiAgentConfig controls specialist dispatch.
type MultiAgentConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxConcurrency int  `yaml:"max_concurrency"` // clamped to [1,6]
}

// TelemetryConfig configures snapshot building.
type TelemetryConfig struct {
	Enabled    *bool `yaml:"enabled"` // default true in brain mode
	DaysRecent int   `yaml:"days_recent"`
}

// PathsConfig locates the directories scholard reads and writes.
type PathsConfig struct {
	OutputsDir     string `yaml:"outputs_dir"`      // run artifacts root
	DatabasePath   string `yaml:"database_path"`    // study.db (read-only)
	SOPLibraryDir  string `yaml:"sop_library_dir"`  // SOP markdown library
	SessionLogsDir string `yaml:"session_logs_dir"` // ingested session logs
	PromptsDir     string `yaml:"prompts_dir"`      // agent prompt templates
}

// CLIConfig configures the external LLM CLI invocation.
type CLIConfig struct {
	Binary         string `yaml:"binary"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	AuthFile       string `yaml:"auth_file"` // CLI token cache; default ~/.codex/auth.json
}

// DigestConfig configures the chat-completions endpoint for digests.
type DigestConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	Timeout   string `yaml:"timeout"`
}

// LoggingConfig mirrors the section read by internal/logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SafeMode: true,
		MultiAgent: MultiAgentConfig{
			Enabled:        true,
			MaxConcurrency: 3,
		},
		TelemetrySnapshot: TelemetryConfig{
			DaysRecent: 30,
		},
		Paths: PathsConfig{
			OutputsDir:     "scholar_outputs",
			DatabasePath:   filepath.Join("data", "study.db"),
			SOPLibraryDir:  filepath.Join("sop", "library"),
			SessionLogsDir: filepath.Join("data", "session_logs"),
			PromptsDir:     "prompts",
		},
		CLI: CLIConfig{
			Binary:         "codex",
			TimeoutSeconds: 120,
		},
		Digest: DigestConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "SCHOLAR_DIGEST_API_KEY",
			Timeout:   "60s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets the environment win over the manifest.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCHOLAR_OUTPUTS_DIR"); v != "" {
		c.Paths.OutputsDir = v
	}
	if v := os.Getenv("SCHOLAR_DB_PATH"); v != "" {
		c.Paths.DatabasePath = v
	}
	if v := os.Getenv("SCHOLAR_CLI_BIN"); v != "" {
		c.CLI.Binary = v
	}
	if v := os.Getenv("SCHOLAR_SOP_DIR"); v != "" {
		c.Paths.SOPLibraryDir = v
	}
}

// Validate checks for configuration problems that should stop startup.
func (c *Config) Validate() error {
	if c.Paths.OutputsDir == "" {
		return fmt.Errorf("paths.outputs_dir is required")
	}
	if c.CLI.Binary == "" {
		return fmt.Errorf("cli.binary is required")
	}
	if c.CLI.TimeoutSeconds < 0 {
		return fmt.Errorf("cli.timeout_seconds must be >= 0")
	}
	return nil
}

// MaxConcurrency returns the specialist concurrency cap clamped to [1,6].
func (c *Config) MaxConcurrency() int {
	n := c.MultiAgent.MaxConcurrency
	if n < 1 {
		return 1
	}
	if n > 6 {
		return 6
	}
	return n
}

// TelemetryEnabled reports whether the snapshot should be built.
// Defaults to true when the manifest omits the field.
func (c *Config) TelemetryEnabled() bool {
	if c.TelemetrySnapshot.Enabled == nil {
		return true
	}
	return *c.TelemetrySnapshot.Enabled
}

// DaysRecent returns the telemetry window, defaulting to 30.
func (c *Config) DaysRecent() int {
	if c.TelemetrySnapshot.DaysRecent <= 0 {
		return 30
	}
	return c.TelemetrySnapshot.DaysRecent
}

// CLITimeout returns the per-subprocess timeout.
func (c *Config) CLITimeout() time.Duration {
	if c.CLI.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.CLI.TimeoutSeconds) * time.Second
}

// DigestTimeout parses the digest HTTP timeout, defaulting to 60s.
func (c *Config) DigestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Digest.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// AuthFilePath resolves the CLI token cache location.
func (c *Config) AuthFilePath() string {
	if c.CLI.AuthFile != "" {
		return c.CLI.AuthFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codex", "auth.json")
}

// SOPAllowlist merges tutor_paths and tutor_study_paths, preserving order.
func (c *Config) SOPAllowlist() []string {
	out := make([]string, 0, len(c.TutorPaths)+len(c.TutorStudyPaths))
	out = append(out, c.TutorPaths...)
	out = append(out, c.TutorStudyPaths...)
	return out
}
