// Package questions parses and writes the open-question files that carry
// unanswered items across Scholar runs.
//
// Two file shapes are understood. The Q/A form alternates `Q:` and `A:`
// lines; a question whose answer is missing or a sentinel is still open.
// The plain-list form is a bullet list of question lines. All parsing is
// defensive: inconsistent whitespace, BOM bytes, and mixed bullet glyphs are
// tolerated, and no parse error ever propagates.
package questions

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PreservedHeader introduces the carried-forward block in a questions file.
const PreservedHeader = "# Preserved:"

// NoneSentinel is written when a run produced no open questions.
const NoneSentinel = "(none)"

var bulletPrefixes = []string{"- ", "* ", "\u2022 "}

// IsSentinelAnswer reports whether an answer string counts as "no answer".
func IsSentinelAnswer(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "(pending)", "(none)":
		return true
	}
	return false
}

// CollectUnanswered inspects questions_needed_*.md files in runDir, newest
// first by modification time, and returns the open questions from the newest
// one. Errors degrade to an empty list.
func CollectUnanswered(runDir string) []string {
	matches, err := filepath.Glob(filepath.Join(runDir, "questions_needed_*.md"))
	if err != nil || len(matches) == 0 {
		return nil
	}

	type entry struct {
		path  string
		mtime int64
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: m, mtime: info.ModTime().UnixNano()})
	}
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime > entries[j].mtime })

	data, err := os.ReadFile(entries[0].path)
	if err != nil {
		return nil
	}
	return ParseOpen(string(data))
}

// ParseOpen extracts the open questions from a questions file body,
// handling both accepted shapes.
func ParseOpen(content string) []string {
	content = strings.TrimPrefix(content, "\ufeff")
	lines := strings.Split(content, "\n")

	if hasQAForm(lines) {
		return parseQA(lines)
	}
	return parsePlainList(lines)
}

func hasQAForm(lines []string) bool {
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "Q:") {
			return true
		}
	}
	return false
}

// parseQA walks alternating Q:/A: lines. Continuation lines between a Q:
// and the next A: are folded into the question with single spaces.
func parseQA(lines []string) []string {
	var open []string
	var current []string
	pending := false
	inPreserved := false

	flush := func(answered bool, answer string) {
		if !pending {
			return
		}
		q := strings.TrimSpace(strings.Join(current, " "))
		if q != "" && (!answered || IsSentinelAnswer(answer)) {
			open = append(open, q)
		}
		current = nil
		pending = false
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "Q:"):
			flush(false, "")
			current = []string{strings.TrimSpace(strings.TrimPrefix(line, "Q:"))}
			pending = true
		case strings.HasPrefix(line, "A:"):
			flush(true, strings.TrimSpace(strings.TrimPrefix(line, "A:")))
		case strings.HasPrefix(line, "#"):
			// A Preserved block holds questions carried from earlier
			// runs; its bullets are still open.
			inPreserved = line == PreservedHeader
		case line == "":
			// Blank lines end nothing; a question stays pending until
			// its A: arrives.
		default:
			if pending {
				current = append(current, line)
			} else if inPreserved {
				if q := bulletText(line); q != "" {
					open = append(open, q)
				}
			}
		}
	}
	flush(false, "")
	return open
}

// parsePlainList treats non-empty, non-header lines as questions, stripping
// leading bullet and numeric prefixes. Q:/A: lines belong to the other
// shape and are skipped here.
func parsePlainList(lines []string) []string {
	var open []string
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || line == NoneSentinel || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "A:") || strings.HasPrefix(line, "Q:") {
			continue
		}
		line = stripListPrefix(line)
		if line != "" {
			open = append(open, line)
		}
	}
	return open
}

func stripListPrefix(line string) string {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(line, p) {
			return strings.TrimSpace(strings.TrimPrefix(line, p))
		}
	}
	// Numeric prefix: "1. ", "12. "
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(line) && line[i] == '.' && line[i+1] == ' ' {
		return strings.TrimSpace(line[i+2:])
	}
	return strings.TrimSpace(line)
}

// ExtractFromReport scans a final report for follow-up questions: bullets
// beneath a "## Questions Needed" heading, falling back to any `Q:` line.
func ExtractFromReport(text string) []string {
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.Split(text, "\n")

	var out []string
	inSection := false
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "#") {
			inSection = strings.Contains(strings.ToLower(line), "questions needed")
			continue
		}
		if !inSection {
			continue
		}
		if q := bulletText(line); q != "" {
			out = append(out, q)
		}
	}

	if len(out) > 0 {
		return out
	}

	// Fallback: bare Q: lines anywhere in the report.
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "Q:") {
			if q := strings.TrimSpace(strings.TrimPrefix(line, "Q:")); q != "" {
				out = append(out, q)
			}
		}
	}
	return out
}

func bulletText(line string) string {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(line, p) {
			return strings.TrimSpace(strings.TrimPrefix(line, p))
		}
	}
	return ""
}

// WriteFile writes a questions_needed file: Q:/A: (pending) pairs for the
// newly extracted questions (or the (none) sentinel), then the preserved
// block. Preserved entries are trimmed and empty ones dropped.
func WriteFile(path string, extracted, preserved []string) error {
	var b strings.Builder

	if len(extracted) == 0 {
		b.WriteString(NoneSentinel)
		b.WriteString("\n")
	} else {
		for _, q := range extracted {
			fmt.Fprintf(&b, "Q: %s\nA: (pending)\n\n", strings.TrimSpace(q))
		}
	}

	seen := make(map[string]bool, len(extracted))
	for _, q := range extracted {
		seen[strings.TrimSpace(q)] = true
	}
	kept := make([]string, 0, len(preserved))
	for _, q := range preserved {
		t := strings.TrimSpace(q)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		kept = append(kept, t)
	}
	if len(kept) > 0 {
		b.WriteString("\n")
		b.WriteString(PreservedHeader)
		b.WriteString("\n")
		for _, q := range kept {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}

// QA is one question/answer pair from a Q/A-form file. A sentinel or
// missing answer leaves Answered false.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
	Answered bool   `json:"answered"`
}

// ParsePairs extracts every Q/A pair from a questions file, including
// preserved bullets (which are unanswered by definition).
func ParsePairs(content string) []QA {
	content = strings.TrimPrefix(content, "\ufeff")
	lines := strings.Split(content, "\n")

	var pairs []QA
	var q string
	inPreserved := false
	flush := func(answer string) {
		if q == "" {
			return
		}
		pairs = append(pairs, QA{
			Question: q,
			Answer:   strings.TrimSpace(answer),
			Answered: !IsSentinelAnswer(answer),
		})
		q = ""
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "Q:"):
			flush("")
			q = strings.TrimSpace(strings.TrimPrefix(line, "Q:"))
		case strings.HasPrefix(line, "A:"):
			flush(strings.TrimPrefix(line, "A:"))
		case strings.HasPrefix(line, "#"):
			inPreserved = line == PreservedHeader
		default:
			if inPreserved && q == "" {
				if b := bulletText(line); b != "" {
					pairs = append(pairs, QA{Question: b})
				}
			}
		}
	}
	flush("")
	return pairs
}

// ParseResolved extracts Q→A pairs with real answers from a
// questions_resolved file. Used by the digest flow for proposal seeds.
func ParseResolved(content string) [][2]string {
	content = strings.TrimPrefix(content, "\ufeff")
	lines := strings.Split(content, "\n")

	var pairs [][2]string
	var q string
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "Q:"):
			q = strings.TrimSpace(strings.TrimPrefix(line, "Q:"))
		case strings.HasPrefix(line, "A:"):
			a := strings.TrimSpace(strings.TrimPrefix(line, "A:"))
			if q != "" && !IsSentinelAnswer(a) {
				pairs = append(pairs, [2]string{q, a})
			}
			q = ""
		}
	}
	return pairs
}
