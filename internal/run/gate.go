package run

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"scholard/internal/questions"
)

// Gate derives follow-on artifacts after the supervisor stage and emits the
// verification report. It is advisory: a MISSING item never fails the run
// or blocks a later one.
type Gate struct {
	Paths Paths
}

// Fixed prompts copied into every plan-update draft.
var improvementQuestions = []string{
	"What single change would most improve retention next week?",
	"Which SOP step is skipped most often, and what makes it expensive?",
	"Where does the tutor most need better source material?",
}

// Fixed file paths the draft targets; humans apply edits there manually.
var planTargets = []string{
	"plans/study_plan.md",
	"plans/weekly_schedule.md",
}

// WritePlanUpdate parses the final report and drafts plan edits for human
// review at plan_updates/plan_update_<id>.md.
func (g Gate) WritePlanUpdate(id, finalText string) error {
	actions := BulletsUnder(finalText, "action items", "next steps")
	warnings := BulletsUnder(finalText, "warnings", "blockers")

	// Resolved answers from this run's directory feed the draft as inputs
	// a human already signed off on.
	for _, pair := range g.collectResolved() {
		actions = append(actions, fmt.Sprintf("Apply answer: %s -> %s", pair[0], pair[1]))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Plan Update Draft\n\n")
	fmt.Fprintf(&b, "- Source run: %s\n", id)
	fmt.Fprintf(&b, "- Generated: %s\n", time.Now().Format(time.RFC3339))

	writeBulletSection(&b, "Priority Actions", actions)
	writeBulletSection(&b, "System Health Notes", warnings)
	writeBulletSection(&b, "Improvement Questions", improvementQuestions)
	writeBulletSection(&b, "Plan Targets", planTargets)

	b.WriteString("\n## Draft Plan Edits (human-in-the-loop)\n\n")
	b.WriteString("- (review the sections above and draft concrete edits here)\n")

	return os.WriteFile(g.Paths.PlanUpdate(id), []byte(b.String()), 0644)
}

func (g Gate) collectResolved() [][2]string {
	matches, _ := filepath.Glob(filepath.Join(g.Paths.RunDir(), "questions_resolved_*.md"))
	sort.Strings(matches)

	var pairs [][2]string
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		pairs = append(pairs, questions.ParseResolved(string(data))...)
	}
	return pairs
}

// check is one row of the verification report.
type check struct {
	kind        string
	required    bool
	recentFiles int
}

func (c check) status() string {
	if !c.required {
		return "OK (not required)"
	}
	if c.recentFiles > 0 {
		return "OK"
	}
	return "MISSING"
}

// WriteVerificationReport audits the run's required artifacts and writes
// verification_report_<id>.md. "Since the run started" means mtime at or
// after the time parsed from the run id; an unparseable id degrades to
// "now" as a permissive fallback.
func (g Gate) WriteVerificationReport(id string) error {
	start, err := ParseRunID(id)
	if err != nil {
		start = time.Now()
	}

	questionsRequired := g.questionsRequired(id)

	checks := []check{
		{
			kind:        "plan_update",
			required:    true,
			recentFiles: countRecent(g.Paths.PlanUpdatesDir(), "plan_update_*.md", start),
		},
		{
			kind:        "questions_answered",
			required:    questionsRequired,
			recentFiles: countRecent(g.Paths.RunDir(), "questions_resolved_*.md", start),
		},
		{
			kind:        "research_notes",
			required:    questionsRequired,
			recentFiles: countRecent(g.Paths.ResearchDir(), "*.md", start),
		},
		{
			kind:     "proposals_drafted",
			required: true,
			recentFiles: countRecent(g.Paths.PromotionQueueDir(), "*", start) +
				countRecent(g.Paths.ApprovedDir(), "*", start) +
				countRecent(g.Paths.RejectedDir(), "*", start),
		},
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Verification Report - %s\n\n", id)
	for _, c := range checks {
		fmt.Fprintf(&b, "- %s: %s\n", c.kind, c.status())
	}

	b.WriteString("\n## Details\n\n")
	fmt.Fprintf(&b, "- questions_required: %v\n", questionsRequired)
	for _, c := range checks {
		fmt.Fprintf(&b, "- %s recent files: %d\n", c.kind, c.recentFiles)
	}

	return os.WriteFile(g.Paths.VerificationReport(id), []byte(b.String()), 0644)
}

// questionsRequired reports whether this run left real open questions, which
// makes answers and research notes required follow-ups.
func (g Gate) questionsRequired(id string) bool {
	data, err := os.ReadFile(g.Paths.QuestionsNeeded(id))
	if err != nil {
		return false
	}
	return len(questions.ParseOpen(string(data))) > 0
}

// countRecent counts files in dir matching pattern with mtime >= since.
func countRecent(dir, pattern string, since time.Time) int {
	matches, _ := filepath.Glob(filepath.Join(dir, pattern))
	n := 0
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if !info.ModTime().Before(since) {
			n++
		}
	}
	return n
}

// BulletsUnder collects bullet items beneath any heading whose text
// contains one of the given names (case-insensitive).
func BulletsUnder(text string, headings ...string) []string {
	text = strings.TrimPrefix(text, "\ufeff")
	var out []string
	in := false
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "#") {
			lower := strings.ToLower(line)
			in = false
			for _, h := range headings {
				if strings.Contains(lower, h) {
					in = true
					break
				}
			}
			continue
		}
		if !in {
			continue
		}
		for _, p := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(line, p) {
				item := strings.TrimSpace(strings.TrimPrefix(line, p))
				if item != "" {
					out = append(out, item)
				}
				break
			}
		}
	}
	return out
}

func writeBulletSection(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "\n## %s\n\n", title)
	if len(items) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
