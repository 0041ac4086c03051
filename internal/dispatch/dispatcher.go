// Package dispatch runs LLM CLI subprocesses for Scholar agents under a
// bounded concurrency cap and joins all of them before returning.
//
// The invocation contract per job: start the CLI with flags that select the
// read-only sandbox and bypass interactive approval, set the working
// directory, and direct the final message to the job's artifact path. The
// composed prompt is written to stdin, stdin is closed, and the artifact
// path is never touched until the process exits. A non-zero exit is logged
// but never aborts peers; downstream stages tolerate missing output.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"scholard/internal/logging"
	"scholard/internal/prompt"
)

// AgentName identifies a specialist agent. The supervisor is a distinct
// final stage and deliberately not part of this set.
type AgentName string

const (
	AgentTelemetry AgentName = "telemetry"
	AgentSOP       AgentName = "sop"
	AgentPedagogy  AgentName = "pedagogy"
	AgentResearch  AgentName = "research"
)

// Specialists is the closed specialist set in dispatch order.
var Specialists = []AgentName{AgentTelemetry, AgentSOP, AgentPedagogy, AgentResearch}

// Caps on the specialist concurrency clamp.
const (
	MinConcurrency = 1
	MaxConcurrency = 6
)

// AgentJob describes one LLM invocation. Jobs are immutable once built.
type AgentJob struct {
	Name         string
	TemplatePath string
	OutputPath   string
	LogPath      string
	HeaderLines  []string
	Context      []prompt.ContextBlock
	Budget       int

	// PIDFile, when set, receives the subprocess pid as soon as the CLI
	// starts, for external liveness checks. Cleanup is the caller's job.
	PIDFile string
}

// Result records the outcome of one job.
type Result struct {
	Name       string
	OutputPath string
	ExitCode   int
	Err        error
}

// Dispatcher launches CLI subprocesses for agent jobs.
type Dispatcher struct {
	binary  string
	workDir string
	timeout time.Duration
	log     *Log
}

// NewDispatcher creates a dispatcher for the given CLI binary. The log is
// the run's dispatcher log; it may be nil (lines are dropped).
func NewDispatcher(binary, workDir string, timeout time.Duration, log *Log) *Dispatcher {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Dispatcher{binary: binary, workDir: workDir, timeout: timeout, log: log}
}

// Available reports whether the CLI binary can be found on PATH.
func (d *Dispatcher) Available() bool {
	_, err := exec.LookPath(d.binary)
	return err == nil
}

// Binary returns the configured CLI binary name.
func (d *Dispatcher) Binary() string { return d.binary }

// Dispatch runs all jobs under the concurrency cap and returns a mapping
// from job name to output artifact path once every subprocess has exited.
// The cap is clamped to [1,6]. This is a strict join barrier: no caller
// code observes partial completion.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []AgentJob, maxConcurrency int) map[string]string {
	limit := maxConcurrency
	if limit < MinConcurrency {
		limit = MinConcurrency
	}
	if limit > MaxConcurrency {
		limit = MaxConcurrency
	}

	logging.Dispatch("dispatching %d jobs (cap %d)", len(jobs), limit)
	d.log.Append("Dispatching %d agents (max concurrency %d)", len(jobs), limit)

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup

	outputs := make(map[string]string, len(jobs))
	for _, job := range jobs {
		outputs[job.Name] = job.OutputPath
	}

	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				d.log.Append("agent %s: not started (%v)", job.Name, err)
				return
			}
			defer sem.Release(1)
			d.runJob(ctx, job)
		}()
	}

	wg.Wait()
	d.log.Append("All %d agents joined", len(jobs))
	return outputs
}

// DispatchOne runs a single job to completion. Used for the supervisor
// stage, which must start only after Dispatch has returned.
func (d *Dispatcher) DispatchOne(ctx context.Context, job AgentJob) Result {
	return d.runJob(ctx, job)
}

func (d *Dispatcher) runJob(ctx context.Context, job AgentJob) Result {
	invocation := uuid.NewString()[:8]
	d.log.Append("agent %s [%s]: start", job.Name, invocation)
	logging.DispatchDebug("agent %s [%s]: binary=%s out=%s", job.Name, invocation, d.binary, job.OutputPath)

	res := Result{Name: job.Name, OutputPath: job.OutputPath, ExitCode: -1}

	promptText := d.composePrompt(job)

	logFile, err := os.OpenFile(job.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		d.log.Append("agent %s [%s]: cannot open log: %v", job.Name, invocation, err)
		res.Err = err
		return res
	}
	defer logFile.Close()

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := []string{
		"exec",
		"--sandbox", "read-only",
		"--skip-git-repo-check",
		"--cd", d.workDir,
		"--output-last-message", job.OutputPath,
		"-",
	}
	cmd := exec.CommandContext(execCtx, d.binary, args...)
	cmd.Dir = d.workDir
	cmd.Stdin = strings.NewReader(promptText)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	start := time.Now()
	err = cmd.Start()
	if err == nil {
		if job.PIDFile != "" {
			if werr := os.WriteFile(job.PIDFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0644); werr != nil {
				d.log.Append("agent %s [%s]: cannot write pid file: %v", job.Name, invocation, werr)
			}
		}
		err = cmd.Wait()
	}
	elapsed := time.Since(start).Round(time.Millisecond)

	switch {
	case err == nil:
		res.ExitCode = 0
		d.log.Append("agent %s [%s]: done exit=0 (%v)", job.Name, invocation, elapsed)
	case execCtx.Err() == context.DeadlineExceeded:
		res.Err = fmt.Errorf("timeout after %s", d.timeout)
		if cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
		}
		d.log.Append("agent %s [%s]: done exit=%d KILLED (%v over %s)", job.Name, invocation, res.ExitCode, res.Err, elapsed)
		logging.DispatchWarn("agent %s timed out after %s", job.Name, d.timeout)
	default:
		res.Err = err
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		}
		d.log.Append("agent %s [%s]: done exit=%d err=%v (%v)", job.Name, invocation, res.ExitCode, err, elapsed)
		logging.DispatchWarn("agent %s exited non-zero: %v", job.Name, err)
	}

	return res
}

// composePrompt loads the job template and assembles the final prompt.
// A missing template degrades to a minimal built-in instruction so a
// misconfigured prompts directory never fails the run.
func (d *Dispatcher) composePrompt(job AgentJob) string {
	body := fallbackTemplate(job.Name)
	if job.TemplatePath != "" {
		if data, err := os.ReadFile(job.TemplatePath); err == nil {
			body = string(data)
		} else {
			d.log.Append("agent %s: template missing at %s, using built-in", job.Name, job.TemplatePath)
		}
	}
	return prompt.Compose(body, job.HeaderLines, job.Context, job.Budget)
}

func fallbackTemplate(name string) string {
	return fmt.Sprintf(
		"You are the %s auditor for a physical therapy student's study system.\n"+
			"Review the context below and produce a concise markdown report with\n"+
			"concrete findings and a `## Questions Needed` section if anything is\n"+
			"unclear. This is a read-only audit: propose, never apply.", name)
}
