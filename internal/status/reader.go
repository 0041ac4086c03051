// Package status provides the read-only aggregate view over the outputs
// tree: dashboard stats, run readiness, and the weekly digest flow. Apart
// from reclaiming stale lock files it never mutates run artifacts.
package status

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"scholard/internal/config"
	"scholard/internal/logging"
	"scholard/internal/questions"
	"scholard/internal/run"
)

const (
	recentRunLimit   = 5
	runPreviewChars  = 500
	researchLimit    = 5
	dossierScanLimit = 3
)

// coverageChecklist is the markdown table the coverage counts come from,
// relative to the reports directory.
const coverageChecklist = "coverage_checklist.md"

// RunSummary is one recent run as shown on the dashboard.
type RunSummary struct {
	Name    string    `json:"name"`
	Preview string    `json:"preview"`
	ModTime time.Time `json:"mtime"`
}

// Inventory counts the artifacts in one outputs subfolder.
type Inventory struct {
	Count  int       `json:"count"`
	Newest time.Time `json:"newest,omitempty"`
}

// ProposalCounts breaks proposals down by review state.
type ProposalCounts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// CoverageCounts summarizes the coverage checklist table.
type CoverageCounts struct {
	Covered int `json:"covered"`
	Total   int `json:"total"`
}

// Readiness reports whether a new run is warranted for a mode.
type Readiness struct {
	Ready                 bool     `json:"ready"`
	Reasons               []string `json:"reasons"`
	LatestSessionLog      string   `json:"latest_session_log,omitempty"`
	LatestOrchestratorRun string   `json:"latest_orchestrator_run,omitempty"`
}

// ScholarStats is the aggregate dashboard structure.
type ScholarStats struct {
	LastUpdated      time.Time            `json:"last_updated,omitempty"`
	SafeMode         bool                 `json:"safe_mode"`
	OpenQuestions    []questions.QA       `json:"open_questions"`
	Proposals        ProposalCounts       `json:"proposals"`
	Coverage         CoverageCounts       `json:"coverage"`
	RecentRuns       []RunSummary         `json:"recent_runs"`
	Artifacts        map[string]Inventory `json:"artifacts"`
	ResearchTopics   []string             `json:"research_topics"`
	GapItems         []string             `json:"gap_items"`
	ImprovementItems []string             `json:"improvement_items"`
	Readiness        Readiness            `json:"readiness"`
}

// Reader walks the outputs tree.
type Reader struct {
	cfg   *config.Config
	paths run.Paths
}

func NewReader(cfg *config.Config) *Reader {
	return &Reader{cfg: cfg, paths: run.Paths{Root: cfg.Paths.OutputsDir}}
}

// BuildScholarStats assembles the dashboard view. Every call first
// reclaims stale lock files in the run directory. Missing folders and
// unreadable files degrade to empty fields rather than errors.
func (r *Reader) BuildScholarStats() *ScholarStats {
	if n := run.ReclaimStaleLocks(r.paths.RunDir()); n > 0 {
		logging.Status("reclaimed %d stale lock file(s)", n)
	}

	stats := &ScholarStats{
		SafeMode:  r.cfg.SafeMode,
		Artifacts: map[string]Inventory{},
	}

	if info, err := os.Stat(r.paths.StatusSummary()); err == nil {
		stats.LastUpdated = info.ModTime()
	}

	if data, path := newestFile(r.paths.RunDir(), "questions_needed_*.md"); path != "" {
		stats.OpenQuestions = questions.ParsePairs(data)
	}

	stats.Proposals = ProposalCounts{
		Pending:  countFiles(r.paths.PromotionQueueDir()),
		Approved: countFiles(r.paths.ApprovedDir()),
		Rejected: countFiles(r.paths.RejectedDir()),
	}

	stats.Coverage = r.readCoverage()
	stats.RecentRuns = r.recentRuns()
	stats.ResearchTopics = r.researchTopics()
	stats.GapItems, stats.ImprovementItems = r.dossierItems()

	for name, dir := range map[string]string{
		"telemetry":              r.paths.TelemetryDir(),
		"plan_updates":           r.paths.PlanUpdatesDir(),
		"proposal_seeds":         r.paths.ProposalSeedsDir(),
		"digests":                r.paths.DigestsDir(),
		"promotion_queue":        r.paths.PromotionQueueDir(),
		"research_notebook":      r.paths.ResearchDir(),
		"module_dossiers":        r.paths.DossiersDir(),
		"gap_analysis":           r.paths.GapAnalysisDir(),
		"reports":                r.paths.ReportsDir(),
		"implementation_bundles": r.paths.BundlesDir(),
	} {
		stats.Artifacts[name] = inventory(dir)
	}

	stats.Readiness = r.GetRunReadiness(run.ModeBrain)
	return stats
}

// GetRunReadiness decides whether a new run for the mode would have fresh
// input to work on. Brain mode is ready when no prior run exists or a
// session log is newer than the latest orchestrator run; tutor mode is
// ready when the SOP library holds at least one file.
func (r *Reader) GetRunReadiness(mode run.Mode) Readiness {
	if n := run.ReclaimStaleLocks(r.paths.RunDir()); n > 0 {
		logging.Status("reclaimed %d stale lock file(s)", n)
	}

	if mode == run.ModeTutor {
		if countFiles(r.cfg.Paths.SOPLibraryDir) > 0 {
			return Readiness{Ready: true, Reasons: []string{"sop_library_available"}}
		}
		return Readiness{Ready: false, Reasons: []string{"no_sop_library_files"}}
	}

	latestRun, runTime := newestEntry(r.paths.RunDir(), "unattended_final_*.md")
	latestLog, logTime := newestEntry(r.cfg.Paths.SessionLogsDir, "*")

	var rd Readiness
	if latestLog != "" {
		rd.LatestSessionLog = filepath.Base(latestLog)
	}
	if latestRun != "" {
		rd.LatestOrchestratorRun = filepath.Base(latestRun)
	}
	switch {
	case latestRun == "":
		rd.Ready = true
		rd.Reasons = []string{"no_previous_run"}
	case latestLog != "" && logTime.After(runTime):
		rd.Ready = true
		rd.Reasons = []string{"new_session_logs"}
	default:
		rd.Ready = false
		rd.Reasons = []string{"no_new_session_logs"}
	}
	return rd
}

// readCoverage parses the checklist table in reports/. A row counts as
// covered when its status cell is checked.
func (r *Reader) readCoverage() CoverageCounts {
	data, err := os.ReadFile(filepath.Join(r.paths.ReportsDir(), coverageChecklist))
	if err != nil {
		return CoverageCounts{}
	}

	var cov CoverageCounts
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		inner := strings.Trim(line, "|")
		// Skip the header and the |---|---| divider.
		if strings.Contains(inner, "---") {
			continue
		}
		cells := strings.Split(inner, "|")
		if len(cells) < 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(cells[0]), "topic") {
			continue
		}
		cov.Total++
		lower := strings.ToLower(line)
		if strings.Contains(lower, "[x]") || strings.Contains(lower, "covered") {
			cov.Covered++
		}
	}
	return cov
}

func (r *Reader) recentRuns() []RunSummary {
	entries := sortedByMtime(r.paths.RunDir(), "unattended_final_*.md")
	if len(entries) > recentRunLimit {
		entries = entries[:recentRunLimit]
	}

	var runs []RunSummary
	for _, e := range entries {
		data, err := os.ReadFile(e.path)
		if err != nil {
			continue
		}
		// First 500 characters, never splitting a rune.
		preview := string(data)
		if runes := []rune(preview); len(runes) > runPreviewChars {
			preview = string(runes[:runPreviewChars])
		}
		runs = append(runs, RunSummary{
			Name:    filepath.Base(e.path),
			Preview: preview,
			ModTime: e.mtime,
		})
	}
	return runs
}

// researchTopics returns the first heading of each of the newest research
// notes, falling back to the filename when a note has no heading.
func (r *Reader) researchTopics() []string {
	entries := sortedByMtime(r.paths.ResearchDir(), "*.md")
	if len(entries) > researchLimit {
		entries = entries[:researchLimit]
	}

	var topics []string
	for _, e := range entries {
		data, err := os.ReadFile(e.path)
		if err != nil {
			continue
		}
		title := strings.TrimSuffix(filepath.Base(e.path), ".md")
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "#") {
				title = strings.TrimSpace(strings.TrimLeft(line, "# "))
				break
			}
		}
		topics = append(topics, title)
	}
	return topics
}

// dossierItems scrapes gap and improvement bullets from the newest module
// dossiers.
func (r *Reader) dossierItems() (gaps, improvements []string) {
	entries := sortedByMtime(r.paths.DossiersDir(), "*.md")
	if len(entries) > dossierScanLimit {
		entries = entries[:dossierScanLimit]
	}
	for _, e := range entries {
		data, err := os.ReadFile(e.path)
		if err != nil {
			continue
		}
		text := string(data)
		gaps = append(gaps, run.BulletsUnder(text, "gaps", "gap analysis", "knowledge gaps")...)
		improvements = append(improvements, run.BulletsUnder(text, "improvements", "improvement candidates")...)
	}
	return gaps, improvements
}

type fileEntry struct {
	path  string
	mtime time.Time
}

func sortedByMtime(dir, pattern string) []fileEntry {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil
	}
	var entries []fileEntry
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		entries = append(entries, fileEntry{path: m, mtime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime.After(entries[j].mtime) })
	return entries
}

func newestEntry(dir, pattern string) (string, time.Time) {
	entries := sortedByMtime(dir, pattern)
	if len(entries) == 0 {
		return "", time.Time{}
	}
	return entries[0].path, entries[0].mtime
}

func newestFile(dir, pattern string) (content, path string) {
	p, _ := newestEntry(dir, pattern)
	if p == "" {
		return "", ""
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", ""
	}
	return string(data), p
}

func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

func inventory(dir string) Inventory {
	entries := sortedByMtime(dir, "*")
	inv := Inventory{Count: len(entries)}
	if len(entries) > 0 {
		inv.Newest = entries[0].mtime
	}
	return inv
}
