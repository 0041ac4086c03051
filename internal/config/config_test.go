package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.SafeMode {
		t.Error("SafeMode default should be true")
	}
	if cfg.MaxConcurrency() != 3 {
		t.Errorf("MaxConcurrency = %d, want 3", cfg.MaxConcurrency())
	}
	if cfg.DaysRecent() != 30 {
		t.Errorf("DaysRecent = %d, want 30", cfg.DaysRecent())
	}
	if !cfg.TelemetryEnabled() {
		t.Error("TelemetryEnabled default should be true")
	}
}

func TestLoadParsesManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scholar.yaml")
	manifest := `
safe_mode: false
multi_agent:
  enabled: true
  max_concurrency: 12
telemetry_snapshot:
  enabled: false
  days_recent: 7
tutor_paths: ["sop/a.md"]
tutor_study_paths: ["sop/b.md"]
cli:
  binary: fakecli
  timeout_seconds: 5
`
	if err := os.WriteFile(path, []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SafeMode {
		t.Error("SafeMode should parse false")
	}
	if cfg.MaxConcurrency() != 6 {
		t.Errorf("MaxConcurrency = %d, want clamp to 6", cfg.MaxConcurrency())
	}
	if cfg.TelemetryEnabled() {
		t.Error("TelemetryEnabled should be false")
	}
	if cfg.DaysRecent() != 7 {
		t.Errorf("DaysRecent = %d, want 7", cfg.DaysRecent())
	}
	if got := cfg.SOPAllowlist(); len(got) != 2 || got[0] != "sop/a.md" || got[1] != "sop/b.md" {
		t.Errorf("SOPAllowlist = %v", got)
	}
	if cfg.CLITimeout() != 5*time.Second {
		t.Errorf("CLITimeout = %v", cfg.CLITimeout())
	}
}

func TestConcurrencyClampLowerBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MultiAgent.MaxConcurrency = -4
	if cfg.MaxConcurrency() != 1 {
		t.Errorf("MaxConcurrency = %d, want 1", cfg.MaxConcurrency())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCHOLAR_CLI_BIN", "alt-cli")
	t.Setenv("SCHOLAR_DB_PATH", "/tmp/alt.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CLI.Binary != "alt-cli" {
		t.Errorf("Binary = %q", cfg.CLI.Binary)
	}
	if cfg.Paths.DatabasePath != "/tmp/alt.db" {
		t.Errorf("DatabasePath = %q", cfg.Paths.DatabasePath)
	}
}
