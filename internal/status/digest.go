package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scholard/internal/config"
	"scholard/internal/logging"
	"scholard/internal/questions"
	"scholard/internal/run"
)

// DigestResult is returned by GenerateWeeklyDigest.
type DigestResult struct {
	OK             bool   `json:"ok"`
	Digest         string `json:"digest"`
	Period         string `json:"period"`
	RunsCount      int    `json:"runs_count"`
	AIPowered      bool   `json:"ai_powered"`
	ContextSummary string `json:"context_summary"`
}

// chatClient posts aggregated digest context to a chat-completions
// endpoint. It is nil when no API key is configured.
type chatClient struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func newChatClient(cfg config.DigestConfig, timeout time.Duration) *chatClient {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil
	}
	return &chatClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     key,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Complete sends a system/user message pair and returns the first choice.
func (c *chatClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   4096,
		Temperature: 0.2,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	return parsed.Choices[0].Message.Content, nil
}

// digestContext is the material scraped from the outputs tree for one
// digest window.
type digestContext struct {
	completed    []string
	next         []string
	blockers     []string
	improvements []string
	findings     []string
	pending      []string
	resolved     [][2]string
	runsCount    int
}

// GenerateWeeklyDigest scans the last N days of run artifacts, composes a
// markdown digest (via the chat-completions API when a key is configured,
// locally otherwise), writes it under digests/, and drops proposal seeds
// for any resolved Q→A pairs found in the window.
func (r *Reader) GenerateWeeklyDigest(ctx context.Context, days int) (*DigestResult, error) {
	if days <= 0 {
		days = 7
	}
	if n := run.ReclaimStaleLocks(r.paths.RunDir()); n > 0 {
		logging.Status("reclaimed %d stale lock file(s)", n)
	}

	now := time.Now()
	since := now.AddDate(0, 0, -days)
	period := fmt.Sprintf("%s to %s", since.Format("2006-01-02"), now.Format("2006-01-02"))

	dc := r.collectDigestContext(since)
	summary := fmt.Sprintf("%d run(s), %d completed item(s), %d blocker(s), %d pending question(s)",
		dc.runsCount, len(dc.completed), len(dc.blockers), len(dc.pending))
	logging.Digest("digest window %s: %s", period, summary)

	contextMD := renderDigestContext(period, dc)

	digest := ""
	aiPowered := false
	if client := newChatClient(r.cfg.Digest, r.cfg.DigestTimeout()); client != nil {
		out, err := client.Complete(ctx, digestSystemPrompt, contextMD)
		if err != nil {
			logging.DigestWarn("chat API unavailable, using local digest: %v", err)
		} else {
			digest = out
			aiPowered = true
		}
	}
	if digest == "" {
		digest = contextMD
	}

	if err := os.MkdirAll(r.paths.DigestsDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create digests dir: %w", err)
	}
	outPath := filepath.Join(r.paths.DigestsDir(), fmt.Sprintf("weekly_digest_%s.md", now.Format("2006-01-02")))
	if err := os.WriteFile(outPath, []byte(digest), 0644); err != nil {
		return nil, fmt.Errorf("failed to write digest: %w", err)
	}

	if len(dc.resolved) > 0 {
		r.writeProposalSeeds(now, dc.resolved)
	}

	return &DigestResult{
		OK:             true,
		Digest:         digest,
		Period:         period,
		RunsCount:      dc.runsCount,
		AIPowered:      aiPowered,
		ContextSummary: summary,
	}, nil
}

const digestSystemPrompt = "You are a study-progress summarizer for a physical therapy student. " +
	"Given the aggregated run context below, write a concise weekly digest in markdown: " +
	"what was accomplished, what is next, open blockers, and suggested focus areas. " +
	"Do not invent facts not present in the context."

func (r *Reader) collectDigestContext(since time.Time) digestContext {
	var dc digestContext

	for _, e := range sortedByMtime(r.paths.RunDir(), "unattended_final_*.md") {
		if e.mtime.Before(since) {
			continue
		}
		data, err := os.ReadFile(e.path)
		if err != nil {
			continue
		}
		text := string(data)
		dc.runsCount++
		dc.completed = append(dc.completed, run.BulletsUnder(text, "completed", "what was done", "accomplished")...)
		dc.next = append(dc.next, run.BulletsUnder(text, "next steps", "action items")...)
		dc.blockers = append(dc.blockers, run.BulletsUnder(text, "blockers", "warnings")...)
	}

	for _, e := range sortedByMtime(r.paths.DossiersDir(), "*.md") {
		if e.mtime.Before(since) {
			continue
		}
		data, err := os.ReadFile(e.path)
		if err != nil {
			continue
		}
		dc.improvements = append(dc.improvements, run.BulletsUnder(string(data), "improvements", "improvement candidates")...)
	}

	for _, e := range sortedByMtime(r.paths.ResearchDir(), "*.md") {
		if e.mtime.Before(since) {
			continue
		}
		data, err := os.ReadFile(e.path)
		if err != nil {
			continue
		}
		dc.findings = append(dc.findings, run.BulletsUnder(string(data), "findings", "key findings")...)
	}

	dc.pending = questions.CollectUnanswered(r.paths.RunDir())

	for _, e := range sortedByMtime(r.paths.RunDir(), "questions_resolved_*.md") {
		if e.mtime.Before(since) {
			continue
		}
		data, err := os.ReadFile(e.path)
		if err != nil {
			continue
		}
		dc.resolved = append(dc.resolved, questions.ParseResolved(string(data))...)
	}

	return dc
}

func renderDigestContext(period string, dc digestContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Weekly Digest (%s)\n\n", period)
	fmt.Fprintf(&b, "Runs in window: %d\n\n", dc.runsCount)
	writeDigestSection(&b, "Completed", dc.completed)
	writeDigestSection(&b, "Next Steps", dc.next)
	writeDigestSection(&b, "Blockers", dc.blockers)
	writeDigestSection(&b, "Improvement Candidates", dc.improvements)
	writeDigestSection(&b, "Research Findings", dc.findings)
	writeDigestSection(&b, "Pending Questions", dc.pending)
	return b.String()
}

func writeDigestSection(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if len(items) == 0 {
		b.WriteString("- (none)\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

// writeProposalSeeds turns resolved Q→A pairs into seed bullets for the
// proposal pipeline. Failures are logged, not returned; seeds are a
// best-effort side product of the digest.
func (r *Reader) writeProposalSeeds(now time.Time, resolved [][2]string) {
	if err := os.MkdirAll(r.paths.ProposalSeedsDir(), 0755); err != nil {
		logging.DigestWarn("failed to create proposal_seeds dir: %v", err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Proposal Seeds (%s)\n\n", now.Format("2006-01-02"))
	b.WriteString("Derived from resolved questions in the digest window.\n\n")
	for _, qa := range resolved {
		fmt.Fprintf(&b, "- %s -> %s\n", qa[0], qa[1])
	}

	path := r.paths.ProposalSeeds(run.FormatRunID(now))
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		logging.DigestWarn("failed to write proposal seeds: %v", err)
	}
}
