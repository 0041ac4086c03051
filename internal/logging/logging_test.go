package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// The manifest lives wherever --config points, not inside the outputs
// root, so Initialize must take its path rather than rederiving it.
func TestInitializeReadsManifestAtGivenPath(t *testing.T) {
	root := t.TempDir()
	manifest := filepath.Join(t.TempDir(), "scholar.yaml")
	content := "logging:\n  debug_mode: true\n  level: debug\n"
	if err := os.WriteFile(manifest, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(root, manifest); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(CloseAll)

	Run("hello from %s", "test")

	matches, err := filepath.Glob(filepath.Join(root, "logs", "*_run.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("run log files = %v (err %v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log content = %q", data)
	}
}

func TestInitializeMissingManifestDisablesCategoryLogs(t *testing.T) {
	root := t.TempDir()

	if err := Initialize(root, filepath.Join(root, "nope.yaml")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(CloseAll)

	Run("should go nowhere")

	if _, err := os.Stat(filepath.Join(root, "logs")); !os.IsNotExist(err) {
		t.Error("logs directory created without debug mode")
	}
}
