package run

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newGate(t *testing.T) Gate {
	t.Helper()
	g := Gate{Paths: Paths{Root: t.TempDir()}}
	if err := g.Paths.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestBulletsUnder(t *testing.T) {
	text := `# Report

## Next Steps

- first action
* second action

## Warnings

- watch the load

## Other

- ignored
`
	got := BulletsUnder(text, "action items", "next steps")
	want := []string{"first action", "second action"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}

	got = BulletsUnder(text, "warnings", "blockers")
	want = []string{"watch the load"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestWritePlanUpdateSections(t *testing.T) {
	g := newGate(t)
	id := "2026-02-03_101112"

	resolved := filepath.Join(g.Paths.RunDir(), "questions_resolved_old.md")
	if err := os.WriteFile(resolved, []byte("Q: Why X?\nA: Because Z.\n"), 0644); err != nil {
		t.Fatal(err)
	}

	final := "## Action Items\n\n- act one\n\n## Blockers\n\n- blocked on calendar sync\n"
	if err := g.WritePlanUpdate(id, final); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(g.Paths.PlanUpdate(id))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	for _, want := range []string{
		"- Source run: " + id,
		"## Priority Actions",
		"- act one",
		"- Apply answer: Why X? -> Because Z.",
		"## System Health Notes",
		"- blocked on calendar sync",
		"## Improvement Questions",
		"## Plan Targets",
		"- plans/study_plan.md",
		"## Draft Plan Edits (human-in-the-loop)",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("plan update missing %q:\n%s", want, content)
		}
	}
}

func TestWritePlanUpdateEmptyReport(t *testing.T) {
	g := newGate(t)
	if err := g.WritePlanUpdate("2026-02-03_101112", ""); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(g.Paths.PlanUpdate("2026-02-03_101112"))
	if !strings.Contains(string(data), "## Priority Actions\n\n- (none)") {
		t.Errorf("empty sections should render (none):\n%s", data)
	}
}

func TestVerificationReportStatuses(t *testing.T) {
	g := newGate(t)
	id := FormatRunID(time.Now().Add(-time.Minute))

	// questions_needed has a real open question, so answers and research
	// notes are required.
	if err := os.WriteFile(g.Paths.QuestionsNeeded(id), []byte("Q: open?\nA: (pending)\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// A plan update written after run start satisfies plan_update.
	if err := os.WriteFile(g.Paths.PlanUpdate(id), []byte("draft"), 0644); err != nil {
		t.Fatal(err)
	}
	// A fresh promotion-queue file satisfies proposals_drafted.
	if err := os.WriteFile(filepath.Join(g.Paths.PromotionQueueDir(), "rfc_001.md"), []byte("seed"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := g.WriteVerificationReport(id); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(g.Paths.VerificationReport(id))
	content := string(data)

	for _, want := range []string{
		"- plan_update: OK",
		"- questions_answered: MISSING",
		"- research_notes: MISSING",
		"- proposals_drafted: OK",
		"- questions_required: true",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("report missing %q:\n%s", want, content)
		}
	}
}

func TestVerificationReportQuestionsNotRequired(t *testing.T) {
	g := newGate(t)
	id := FormatRunID(time.Now().Add(-time.Minute))

	if err := os.WriteFile(g.Paths.QuestionsNeeded(id), []byte("(none)\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := g.WriteVerificationReport(id); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(g.Paths.VerificationReport(id))
	content := string(data)

	if !strings.Contains(content, "- questions_answered: OK (not required)") {
		t.Errorf("expected not-required status:\n%s", content)
	}
	if !strings.Contains(content, "- questions_required: false") {
		t.Errorf("details missing:\n%s", content)
	}
}

func TestVerificationReportStaleArtifactsAreMissing(t *testing.T) {
	g := newGate(t)
	id := FormatRunID(time.Now())

	// A plan update older than run start does not count.
	stale := g.Paths.PlanUpdate("2025-01-01_000000")
	if err := os.WriteFile(stale, []byte("old draft"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	if err := g.WriteVerificationReport(id); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(g.Paths.VerificationReport(id))
	if !strings.Contains(string(data), "- plan_update: MISSING") {
		t.Errorf("stale plan update should not satisfy the check:\n%s", data)
	}
}

func TestVerificationProposalSeedsDoNotCountAsDrafted(t *testing.T) {
	g := newGate(t)
	id := FormatRunID(time.Now().Add(-time.Minute))

	// Seeds feed the proposal pipeline but are not drafted proposals.
	if err := os.WriteFile(g.Paths.ProposalSeeds(id), []byte("- seed"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := g.WriteVerificationReport(id); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(g.Paths.VerificationReport(id))

	if !strings.Contains(string(data), "- proposals_drafted: MISSING") {
		t.Errorf("seed file satisfied proposals_drafted:\n%s", data)
	}
}

func TestBulletsUnderToleratesBOM(t *testing.T) {
	got := BulletsUnder("\ufeff## Action Items\n\n- first\n", "action items")
	if len(got) != 1 || got[0] != "first" {
		t.Errorf("got %v", got)
	}
}
