// Package run owns Scholar run identity and the end-to-end orchestration
// sequence: telemetry snapshot, specialist dispatch, supervisor synthesis,
// question preservation, and the post-run gate.
package run

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// runPrefix is the filename prefix shared by run-owned artifacts.
const runPrefix = "unattended"

// runIDLayout is the timestamp format of a run id.
const runIDLayout = "2006-01-02_150405"

// Paths resolves every file and directory under the outputs root. The
// orchestrator directory holds per-run artifacts keyed by run id; the
// adjacent directories are observed by the status reader.
type Paths struct {
	Root string
}

func (p Paths) RunDir() string            { return filepath.Join(p.Root, "orchestrator") }
func (p Paths) TelemetryDir() string      { return filepath.Join(p.Root, "telemetry") }
func (p Paths) PlanUpdatesDir() string    { return filepath.Join(p.Root, "plan_updates") }
func (p Paths) ProposalSeedsDir() string  { return filepath.Join(p.Root, "proposal_seeds") }
func (p Paths) DigestsDir() string        { return filepath.Join(p.Root, "digests") }
func (p Paths) PromotionQueueDir() string { return filepath.Join(p.Root, "promotion_queue") }
func (p Paths) ProposalsDir() string      { return filepath.Join(p.Root, "proposals") }
func (p Paths) ApprovedDir() string       { return filepath.Join(p.ProposalsDir(), "approved") }
func (p Paths) RejectedDir() string       { return filepath.Join(p.ProposalsDir(), "rejected") }
func (p Paths) ResearchDir() string       { return filepath.Join(p.Root, "research_notebook") }
func (p Paths) DossiersDir() string       { return filepath.Join(p.Root, "module_dossiers") }
func (p Paths) GapAnalysisDir() string    { return filepath.Join(p.Root, "gap_analysis") }
func (p Paths) ReportsDir() string        { return filepath.Join(p.Root, "reports") }
func (p Paths) BundlesDir() string        { return filepath.Join(p.Root, "implementation_bundles") }
func (p Paths) StatusSummary() string     { return filepath.Join(p.Root, "status_summary.md") }

func (p Paths) RunLog(id string) string {
	return filepath.Join(p.RunDir(), fmt.Sprintf("%s_%s.log", runPrefix, id))
}

func (p Paths) Marker(id string) string {
	return filepath.Join(p.RunDir(), fmt.Sprintf("%s_%s.running", runPrefix, id))
}

func (p Paths) PIDFile(id string) string {
	return filepath.Join(p.RunDir(), fmt.Sprintf("%s_%s.pid", runPrefix, id))
}

func (p Paths) AgentOutput(name, id string) string {
	return filepath.Join(p.RunDir(), fmt.Sprintf("agent_%s_%s.md", name, id))
}

func (p Paths) AgentLog(name, id string) string {
	return filepath.Join(p.RunDir(), fmt.Sprintf("agent_%s_%s.log", name, id))
}

func (p Paths) FinalReport(id string) string {
	return filepath.Join(p.RunDir(), fmt.Sprintf("%s_final_%s.md", runPrefix, id))
}

func (p Paths) QuestionsNeeded(id string) string {
	return filepath.Join(p.RunDir(), fmt.Sprintf("questions_needed_%s.md", id))
}

func (p Paths) VerificationReport(id string) string {
	return filepath.Join(p.RunDir(), fmt.Sprintf("verification_report_%s.md", id))
}

func (p Paths) PlanUpdate(id string) string {
	return filepath.Join(p.PlanUpdatesDir(), fmt.Sprintf("plan_update_%s.md", id))
}

func (p Paths) ProposalSeeds(id string) string {
	return filepath.Join(p.ProposalSeedsDir(), fmt.Sprintf("proposal_seeds_%s.md", id))
}

// EnsureDirs creates the outputs tree.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{
		p.RunDir(), p.TelemetryDir(), p.PlanUpdatesDir(), p.ProposalSeedsDir(),
		p.DigestsDir(), p.PromotionQueueDir(), p.ApprovedDir(), p.RejectedDir(),
		p.ResearchDir(), p.DossiersDir(), p.GapAnalysisDir(), p.ReportsDir(),
		p.BundlesDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ParseRunID parses a run id back into its start time (local).
func ParseRunID(id string) (time.Time, error) {
	return time.ParseInLocation(runIDLayout, id, time.Local)
}

// FormatRunID renders a timestamp as a run id.
func FormatRunID(t time.Time) string {
	return t.Format(runIDLayout)
}
