package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"scholard/internal/config"
	"scholard/internal/dispatch"
	"scholard/internal/logging"
	"scholard/internal/prompt"
	"scholard/internal/questions"
	"scholard/internal/telemetry"
)

// Mode selects the audit flavor.
type Mode string

const (
	ModeBrain Mode = "brain" // telemetry snapshot as context
	ModeTutor Mode = "tutor" // SOP allowlist as context
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBrain, ModeTutor:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want brain or tutor)", s)
}

// specialistOutputLimit caps how much of each specialist artifact is fed to
// the supervisor.
const specialistOutputLimit = 18_000

// sopFileLimit caps each SOP file included as tutor-mode context.
const sopFileLimit = 4_000

// Descriptor is returned to the caller as soon as a run is accepted, before
// any subprocess has finished.
type Descriptor struct {
	OK                      bool   `json:"ok"`
	RunID                   string `json:"run_id"`
	Mode                    Mode   `json:"mode"`
	LogFile                 string `json:"log_file"`
	FinalFile               string `json:"final_file"`
	PreservedQuestions      int    `json:"preserved_questions"`
	RequiresManualExecution bool   `json:"requires_manual_execution,omitempty"`
}

// Controller owns run identity, the lock protocol, and the orchestration
// sequence. One controller serves a process; runs execute in background
// goroutines so callers return immediately.
type Controller struct {
	cfg   *config.Config
	paths Paths

	// workDir is the directory handed to the LLM CLI as its sandbox root.
	workDir string

	mu     sync.Mutex
	lastID string
	runs   map[string]chan struct{}
}

// NewController creates a Controller rooted at the configured outputs dir.
// workDir is the repository root the CLI operates in; empty means cwd.
func NewController(cfg *config.Config, workDir string) *Controller {
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	return &Controller{
		cfg:     cfg,
		paths:   Paths{Root: cfg.Paths.OutputsDir},
		workDir: workDir,
		runs:    make(map[string]chan struct{}),
	}
}

// Paths exposes the outputs layout to callers (CLI, status surface).
func (c *Controller) Paths() Paths { return c.paths }

// newRunID generates the next run id. Starts are serialized under the
// controller mutex; if the wall clock has not advanced past the previous id,
// the timestamp is bumped one second so ids stay unique and strictly
// monotonic at second resolution.
func (c *Controller) newRunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := FormatRunID(time.Now())
	if c.lastID != "" && id <= c.lastID {
		if prev, err := ParseRunID(c.lastID); err == nil {
			id = FormatRunID(prev.Add(time.Second))
		}
	}
	c.lastID = id
	return id
}

// Start accepts a run and returns its descriptor. The run itself executes
// in a background worker; callers observe progress through the status
// surface. The only synchronous failure is filesystem setup.
func (c *Controller) Start(ctx context.Context, mode Mode) (Descriptor, error) {
	if err := c.paths.EnsureDirs(); err != nil {
		return Descriptor{}, err
	}

	id := c.newRunID()
	preserved := questions.CollectUnanswered(c.paths.RunDir())

	desc := Descriptor{
		OK:                 true,
		RunID:              id,
		Mode:               mode,
		LogFile:            c.paths.RunLog(id),
		FinalFile:          c.paths.FinalReport(id),
		PreservedQuestions: len(preserved),
	}

	log := dispatch.NewLog(desc.LogFile)
	d := dispatch.NewDispatcher(c.cfg.CLI.Binary, c.workDir, c.cfg.CLITimeout(), log)

	if !d.Available() {
		// Environment error: no subprocesses are launched. The run still
		// produces a log and a placeholder final artifact, and is surfaced
		// as "requires manual execution" rather than as a failure.
		desc.RequiresManualExecution = true
		log.Append("NOTE: '%s' command not found.", c.cfg.CLI.Binary)
		log.Append("Install the CLI or run the audit manually, then place the report at %s", desc.FinalFile)
		placeholder := fmt.Sprintf(
			"# Scholar run %s (manual execution required)\n\n"+
				"The LLM CLI '%s' was not found on PATH. No agents were dispatched.\n",
			id, c.cfg.CLI.Binary)
		if err := os.WriteFile(desc.FinalFile, []byte(placeholder), 0644); err != nil {
			log.Append("ERROR: could not write placeholder final artifact: %v", err)
		}
		logging.RunWarn("run %s: CLI %s missing, manual execution required", id, c.cfg.CLI.Binary)
		return desc, nil
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.runs[id] = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.worker(ctx, id, mode, preserved, d, log)
	}()

	logging.Run("run %s started (mode %s, preserved %d)", id, mode, len(preserved))
	return desc, nil
}

// Wait blocks until the given run's background worker finishes. Used by
// the CLI (which wants synchronous completion) and tests; the dashboard
// never calls it.
func (c *Controller) Wait(runID string) {
	c.mu.Lock()
	done, ok := c.runs[runID]
	c.mu.Unlock()
	if ok {
		<-done
	}
}

// worker runs the full audit sequence. No error escapes: every failure is
// appended to the run log, and the marker and pid files are always removed.
func (c *Controller) worker(ctx context.Context, id string, mode Mode, preserved []string, d *dispatch.Dispatcher, log *dispatch.Log) {
	marker := c.paths.Marker(id)
	pidFile := c.paths.PIDFile(id)

	if err := writeMarker(marker); err != nil {
		log.Append("ERROR: could not write running marker: %v", err)
	}
	// The single-agent flavor records the CLI subprocess pid, not ours;
	// the dispatcher writes it once the child starts.
	singleAgent := !c.cfg.MultiAgent.Enabled

	defer func() {
		if r := recover(); r != nil {
			log.Append("ERROR: run worker panicked: %v\n%s", r, debug.Stack())
			logging.RunError("run %s panicked: %v", id, r)
		}
		removeBestEffort(marker)
		removeBestEffort(pidFile)
	}()

	log.Append("Run %s starting (mode=%s, safe_mode=%v, multi_agent=%v)",
		id, mode, c.cfg.SafeMode, c.cfg.MultiAgent.Enabled)

	blocks := c.buildContextBlocks(id, mode, preserved, log)

	var finalText string
	if singleAgent {
		finalText = c.runSingleAgent(ctx, id, mode, blocks, d, log)
	} else {
		finalText = c.runMultiAgent(ctx, id, mode, blocks, d, log)
	}

	// Follow-up questions: extract from the final report, then carry the
	// preserved backlog forward.
	extracted := questions.ExtractFromReport(finalText)
	if err := questions.WriteFile(c.paths.QuestionsNeeded(id), extracted, preserved); err != nil {
		log.Append("ERROR: could not write questions file: %v", err)
	} else {
		log.Append("Questions written: %d new, %d preserved", len(extracted), len(preserved))
	}

	gate := Gate{Paths: c.paths}
	if err := gate.WritePlanUpdate(id, finalText); err != nil {
		log.Append("ERROR: plan update draft failed: %v", err)
	}
	if err := gate.WriteVerificationReport(id); err != nil {
		log.Append("ERROR: verification report failed: %v", err)
	}

	c.writeStatusSummary(id, mode)
	log.Append("Run %s complete", id)
	logging.Run("run %s complete", id)
}

// buildContextBlocks assembles the mode-specific context shared by every
// specialist prompt.
func (c *Controller) buildContextBlocks(id string, mode Mode, preserved []string, log *dispatch.Log) []prompt.ContextBlock {
	var blocks []prompt.ContextBlock

	if mode == ModeBrain && c.cfg.TelemetryEnabled() {
		reader := telemetry.NewReader(c.cfg.Paths.DatabasePath, c.paths.TelemetryDir())
		snapPath, err := reader.BuildSnapshot(id, c.cfg.DaysRecent())
		if err != nil {
			log.Append("ERROR: telemetry snapshot failed: %v", err)
		} else if data, err := os.ReadFile(snapPath); err == nil {
			blocks = append(blocks, prompt.ContextBlock{Name: "Telemetry Snapshot", Text: string(data)})
			log.Append("Telemetry snapshot attached (%d bytes)", len(data))
		}
	}

	if mode == ModeTutor {
		blocks = append(blocks, prompt.ContextBlock{Name: "SOP Allowlist", Text: c.sopAllowlistBlock()})
	}

	if len(preserved) > 0 {
		var b strings.Builder
		for _, q := range preserved {
			fmt.Fprintf(&b, "- %s\n", q)
		}
		blocks = append(blocks, prompt.ContextBlock{Name: "Preserved Questions", Text: b.String()})
	}

	return blocks
}

// sopAllowlistBlock renders the tutor-mode SOP context: the allowlisted
// paths, each followed by its content when readable.
func (c *Controller) sopAllowlistBlock() string {
	allow := c.cfg.SOPAllowlist()
	if len(allow) == 0 {
		return "(no SOP paths configured)"
	}

	var b strings.Builder
	for _, rel := range allow {
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.cfg.Paths.SOPLibraryDir, rel)
		}
		fmt.Fprintf(&b, "- %s\n", rel)
		if data, err := os.ReadFile(path); err == nil {
			b.WriteString(prompt.Truncate(string(data), sopFileLimit))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (c *Controller) headerLines(id string, mode Mode, agent string) []string {
	return []string{
		fmt.Sprintf("- Run: %s", id),
		fmt.Sprintf("- Mode: %s", mode),
		fmt.Sprintf("- Safe mode: %v", c.cfg.SafeMode),
		fmt.Sprintf("- Agent: %s", agent),
		"- This is a READ-ONLY audit. Propose changes; never apply them.",
	}
}

func (c *Controller) templatePath(agent string) string {
	if c.cfg.Paths.PromptsDir == "" {
		return ""
	}
	return filepath.Join(c.cfg.Paths.PromptsDir, agent+".md")
}

// runMultiAgent dispatches the four specialists under the concurrency cap,
// then synthesizes their outputs through the supervisor. Returns the final
// report text ("" when the supervisor produced nothing).
func (c *Controller) runMultiAgent(ctx context.Context, id string, mode Mode, blocks []prompt.ContextBlock, d *dispatch.Dispatcher, log *dispatch.Log) string {
	jobs := make([]dispatch.AgentJob, 0, len(dispatch.Specialists))
	for _, name := range dispatch.Specialists {
		jobs = append(jobs, dispatch.AgentJob{
			Name:         string(name),
			TemplatePath: c.templatePath(string(name)),
			OutputPath:   c.paths.AgentOutput(string(name), id),
			LogPath:      c.paths.AgentLog(string(name), id),
			HeaderLines:  c.headerLines(id, mode, string(name)),
			Context:      blocks,
		})
	}

	d.Dispatch(ctx, jobs, c.cfg.MaxConcurrency())

	// Supervisor context: specialist outputs in job-list order, then the
	// shared blocks. Missing or empty outputs are tolerated and noted.
	supBlocks := make([]prompt.ContextBlock, 0, len(jobs)+len(blocks))
	for _, job := range jobs {
		text := "(no output produced)"
		if data, err := os.ReadFile(job.OutputPath); err == nil && len(data) > 0 {
			text = prompt.Truncate(string(data), specialistOutputLimit)
		} else {
			log.Append("supervisor: no output from %s", job.Name)
		}
		supBlocks = append(supBlocks, prompt.ContextBlock{
			Name: titleCase(job.Name) + " Output",
			Text: text,
		})
	}
	supBlocks = append(supBlocks, blocks...)

	log.Append("Supervisor stage starting")
	res := d.DispatchOne(ctx, dispatch.AgentJob{
		Name:         "supervisor",
		TemplatePath: c.templatePath("supervisor"),
		OutputPath:   c.paths.FinalReport(id),
		LogPath:      c.paths.AgentLog("supervisor", id),
		HeaderLines:  c.headerLines(id, mode, "supervisor"),
		Context:      supBlocks,
	})
	if res.Err != nil {
		log.Append("supervisor: failed: %v", res.Err)
	}

	data, err := os.ReadFile(c.paths.FinalReport(id))
	if err != nil {
		return ""
	}
	return string(data)
}

// runSingleAgent is the single-call flavor: one CLI invocation writes the
// final report directly. Its pid is externally observable via the pid file.
func (c *Controller) runSingleAgent(ctx context.Context, id string, mode Mode, blocks []prompt.ContextBlock, d *dispatch.Dispatcher, log *dispatch.Log) string {
	res := d.DispatchOne(ctx, dispatch.AgentJob{
		Name:         "scholar",
		TemplatePath: c.templatePath("scholar"),
		OutputPath:   c.paths.FinalReport(id),
		LogPath:      c.paths.AgentLog("scholar", id),
		HeaderLines:  c.headerLines(id, mode, "scholar"),
		Context:      blocks,
		PIDFile:      c.paths.PIDFile(id),
	})
	if res.Err != nil {
		log.Append("scholar: failed: %v", res.Err)
	}

	data, err := os.ReadFile(c.paths.FinalReport(id))
	if err != nil {
		return ""
	}
	return string(data)
}

// writeStatusSummary refreshes the dashboard's last-updated source.
func (c *Controller) writeStatusSummary(id string, mode Mode) {
	content := fmt.Sprintf("# Scholar Status\n\n- Last run: %s\n- Mode: %s\n- Updated: %s\n- Safe mode: %v\n",
		id, mode, time.Now().Format(time.RFC3339), c.cfg.SafeMode)
	_ = os.WriteFile(c.paths.StatusSummary(), []byte(content), 0644)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}
