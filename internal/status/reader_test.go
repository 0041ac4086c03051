package status

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"scholard/internal/config"
	"scholard/internal/run"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Paths.OutputsDir = filepath.Join(t.TempDir(), "outputs")
	cfg.Paths.SOPLibraryDir = filepath.Join(t.TempDir(), "sop")
	cfg.Paths.SessionLogsDir = filepath.Join(t.TempDir(), "session_logs")
	return cfg
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestBuildScholarStatsEmptyTree(t *testing.T) {
	r := NewReader(testConfig(t))

	stats := r.BuildScholarStats()

	if !stats.SafeMode {
		t.Error("default config is safe-mode")
	}
	if len(stats.OpenQuestions) != 0 {
		t.Errorf("open questions on empty tree: %v", stats.OpenQuestions)
	}
	if stats.Proposals.Pending+stats.Proposals.Approved+stats.Proposals.Rejected != 0 {
		t.Errorf("proposal counts on empty tree: %+v", stats.Proposals)
	}
	if !stats.Readiness.Ready {
		t.Error("brain readiness should be true with no previous run")
	}
	if got := stats.Readiness.Reasons; len(got) != 1 || got[0] != "no_previous_run" {
		t.Errorf("reasons = %v", got)
	}
}

func TestBuildScholarStatsPopulatedTree(t *testing.T) {
	cfg := testConfig(t)
	r := NewReader(cfg)
	paths := run.Paths{Root: cfg.Paths.OutputsDir}
	require.NoError(t, paths.EnsureDirs())

	mustWrite(t, paths.FinalReport("2026-08-30_120000"), "# Scholar Report\n\nbody")
	mustWrite(t, paths.QuestionsNeeded("2026-08-30_120000"), `Q: Is cardio volume sufficient?
A: (pending)
Q: Keep the Friday slot?
A: Yes, it works.
`)
	mustWrite(t, filepath.Join(paths.PromotionQueueDir(), "p1.md"), "pending")
	mustWrite(t, filepath.Join(paths.ApprovedDir(), "a1.md"), "approved")
	mustWrite(t, filepath.Join(paths.ApprovedDir(), "a2.md"), "approved")
	mustWrite(t, filepath.Join(paths.ResearchDir(), "note.md"), "# Gait analysis refresher\n\n- detail")
	mustWrite(t, filepath.Join(paths.DossiersDir(), "msk.md"), `# MSK Dossier

## Gaps

- Shoulder special tests untested

## Improvements

- Add eccentric loading drills
`)
	mustWrite(t, filepath.Join(paths.ReportsDir(), coverageChecklist), `| Topic | Status |
|---|---|
| Anatomy | [x] |
| Neuro | [ ] |
| Cardio | [x] |
`)
	mustWrite(t, paths.StatusSummary(), "Last run: 2026-08-30_120000")

	stats := r.BuildScholarStats()

	if len(stats.OpenQuestions) != 2 {
		t.Fatalf("open questions = %d, want 2", len(stats.OpenQuestions))
	}
	if stats.OpenQuestions[0].Answered {
		t.Error("pending question marked answered")
	}
	if !stats.OpenQuestions[1].Answered {
		t.Error("answered question marked open")
	}
	if stats.Proposals.Pending != 1 || stats.Proposals.Approved != 2 || stats.Proposals.Rejected != 0 {
		t.Errorf("proposals = %+v", stats.Proposals)
	}
	if stats.Coverage.Total != 3 || stats.Coverage.Covered != 2 {
		t.Errorf("coverage = %+v", stats.Coverage)
	}
	if len(stats.RecentRuns) != 1 || stats.RecentRuns[0].Name != "unattended_final_2026-08-30_120000.md" {
		t.Errorf("recent runs = %+v", stats.RecentRuns)
	}
	if len(stats.ResearchTopics) != 1 || stats.ResearchTopics[0] != "Gait analysis refresher" {
		t.Errorf("research topics = %v", stats.ResearchTopics)
	}
	if len(stats.GapItems) != 1 || stats.GapItems[0] != "Shoulder special tests untested" {
		t.Errorf("gap items = %v", stats.GapItems)
	}
	if len(stats.ImprovementItems) != 1 || stats.ImprovementItems[0] != "Add eccentric loading drills" {
		t.Errorf("improvement items = %v", stats.ImprovementItems)
	}
	if stats.LastUpdated.IsZero() {
		t.Error("last updated not read from status summary")
	}
	if inv := stats.Artifacts["research_notebook"]; inv.Count != 1 {
		t.Errorf("research inventory = %+v", inv)
	}
}

func TestRunPreviewTruncatedAt500Chars(t *testing.T) {
	cfg := testConfig(t)
	r := NewReader(cfg)
	paths := run.Paths{Root: cfg.Paths.OutputsDir}
	require.NoError(t, paths.EnsureDirs())

	// Multibyte content: the cut must land on a rune boundary.
	mustWrite(t, paths.FinalReport("2026-08-30_120000"), strings.Repeat("脊柱", 400))

	stats := r.BuildScholarStats()
	require.Len(t, stats.RecentRuns, 1)
	preview := stats.RecentRuns[0].Preview
	if got := utf8.RuneCountInString(preview); got != 500 {
		t.Errorf("preview rune count = %d, want 500", got)
	}
	if !utf8.ValidString(preview) {
		t.Error("preview is not valid UTF-8")
	}
}

func TestBrainReadinessNewSessionLogs(t *testing.T) {
	cfg := testConfig(t)
	r := NewReader(cfg)
	paths := run.Paths{Root: cfg.Paths.OutputsDir}
	require.NoError(t, paths.EnsureDirs())

	old := time.Now().Add(-2 * time.Hour)
	final := paths.FinalReport("2026-08-30_120000")
	mustWrite(t, final, "report")
	require.NoError(t, os.Chtimes(final, old, old))

	rd := r.GetRunReadiness(run.ModeBrain)
	if rd.Ready {
		t.Fatalf("ready with no session logs: %+v", rd)
	}
	if rd.Reasons[0] != "no_new_session_logs" {
		t.Errorf("reasons = %v", rd.Reasons)
	}

	mustWrite(t, filepath.Join(cfg.Paths.SessionLogsDir, "session_1.md"), "fresh log")

	rd = r.GetRunReadiness(run.ModeBrain)
	if !rd.Ready {
		t.Fatalf("not ready with fresh session log: %+v", rd)
	}
	if rd.Reasons[0] != "new_session_logs" {
		t.Errorf("reasons = %v", rd.Reasons)
	}
	if rd.LatestSessionLog != "session_1.md" {
		t.Errorf("latest session log = %q", rd.LatestSessionLog)
	}
}

func TestTutorReadinessNeedsSOPFiles(t *testing.T) {
	cfg := testConfig(t)
	r := NewReader(cfg)

	rd := r.GetRunReadiness(run.ModeTutor)
	if rd.Ready {
		t.Fatalf("ready with empty SOP library: %+v", rd)
	}
	if rd.Reasons[0] != "no_sop_library_files" {
		t.Errorf("reasons = %v", rd.Reasons)
	}

	mustWrite(t, filepath.Join(cfg.Paths.SOPLibraryDir, "wrap_protocol.md"), "# WRAP")

	rd = r.GetRunReadiness(run.ModeTutor)
	if !rd.Ready || rd.Reasons[0] != "sop_library_available" {
		t.Errorf("readiness = %+v", rd)
	}
}

func TestStatsCallReclaimsStaleLocks(t *testing.T) {
	cfg := testConfig(t)
	r := NewReader(cfg)
	paths := run.Paths{Root: cfg.Paths.OutputsDir}
	require.NoError(t, paths.EnsureDirs())

	stale := paths.Marker("2026-08-25_090000")
	mustWrite(t, stale, "running")
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := paths.Marker("2026-08-30_090000")
	mustWrite(t, fresh, "running")

	r.BuildScholarStats()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale marker survived a stats read")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh marker removed by a stats read")
	}
}
