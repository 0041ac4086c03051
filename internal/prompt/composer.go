// Package prompt assembles the text sent to the LLM CLI for each agent.
//
// A composed prompt has three regions separated by `---` rules: a header of
// bullet lines identifying the run, the agent's template body, and a context
// region where each block is introduced by a `## Name` heading. Composition
// is deterministic: the same inputs always yield the same bytes.
package prompt

import (
	"strings"
)

// DefaultBudget is the character cap applied to a composed prompt.
const DefaultBudget = 100_000

// TruncationSentinel is appended whenever content had to be cut.
const TruncationSentinel = "[... context truncated ...]"

// boundaryWindow is how far back from the cut point Truncate will look
// for a newline before giving up and cutting mid-line.
const boundaryWindow = 500

// ContextBlock is a named piece of context appended to a prompt.
type ContextBlock struct {
	Name string
	Text string
}

// Compose merges the header lines, template body, and context blocks into a
// single prompt, then enforces the character budget. A budget <= 0 means
// DefaultBudget.
func Compose(templateBody string, headerLines []string, blocks []ContextBlock, budget int) string {
	if budget <= 0 {
		budget = DefaultBudget
	}

	var b strings.Builder
	for _, line := range headerLines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n---\n\n")
	b.WriteString(strings.TrimRight(templateBody, "\n"))
	b.WriteString("\n")

	if len(blocks) > 0 {
		b.WriteString("\n---\n\n")
		for _, blk := range blocks {
			b.WriteString("## ")
			b.WriteString(blk.Name)
			b.WriteString("\n\n")
			b.WriteString(strings.TrimRight(blk.Text, "\n"))
			b.WriteString("\n\n")
		}
	}

	return Truncate(b.String(), budget)
}

// Truncate cuts s to at most max characters, preferring the last newline in
// the final boundaryWindow characters of the kept region so the cut lands on
// a line boundary. The sentinel line is appended when a cut occurred, so the
// result may exceed max by len(TruncationSentinel)+1.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}

	cut := s[:max]
	searchFrom := len(cut) - boundaryWindow
	if searchFrom < 0 {
		searchFrom = 0
	}
	if idx := strings.LastIndex(cut[searchFrom:], "\n"); idx >= 0 {
		cut = cut[:searchFrom+idx]
	}

	return cut + "\n" + TruncationSentinel
}
