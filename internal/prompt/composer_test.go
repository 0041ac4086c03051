package prompt

import (
	"strings"
	"testing"
)

func TestComposeRegions(t *testing.T) {
	out := Compose(
		"Do the audit.",
		[]string{"- Run: 2026-01-02_030405", "- Agent: sop"},
		[]ContextBlock{
			{Name: "Telemetry Snapshot", Text: "42 sessions"},
			{Name: "Preserved Questions", Text: "- Why X?"},
		},
		0,
	)

	if !strings.HasPrefix(out, "- Run: 2026-01-02_030405\n- Agent: sop\n") {
		t.Fatalf("header missing: %q", out[:60])
	}
	if strings.Count(out, "\n---\n") != 2 {
		t.Errorf("want two region rules, got %d", strings.Count(out, "\n---\n"))
	}
	if !strings.Contains(out, "## Telemetry Snapshot\n\n42 sessions") {
		t.Errorf("telemetry block missing:\n%s", out)
	}
	if !strings.Contains(out, "## Preserved Questions") {
		t.Errorf("questions block missing:\n%s", out)
	}

	// Block order follows caller order.
	if strings.Index(out, "## Telemetry Snapshot") > strings.Index(out, "## Preserved Questions") {
		t.Error("blocks reordered")
	}
}

func TestComposeDeterministic(t *testing.T) {
	blocks := []ContextBlock{{Name: "A", Text: "aaa"}, {Name: "B", Text: "bbb"}}
	a := Compose("body", []string{"- h"}, blocks, 500)
	b := Compose("body", []string{"- h"}, blocks, 500)
	if a != b {
		t.Error("compose is not deterministic")
	}
}

func TestComposeNoBlocksOmitsContextRegion(t *testing.T) {
	out := Compose("body", []string{"- h"}, nil, 0)
	if strings.Count(out, "\n---\n") != 1 {
		t.Errorf("want one region rule, got:\n%s", out)
	}
}

func TestTruncateBudgetProperty(t *testing.T) {
	line := strings.Repeat("x", 80) + "\n"
	s := strings.Repeat(line, 200) // 16200 chars

	for _, budget := range []int{100, 1000, 5000, len(s) - 1, len(s), len(s) + 1} {
		out := Truncate(s, budget)
		limit := budget + len(TruncationSentinel) + 1
		if budget >= len(s) {
			if out != s {
				t.Errorf("budget %d: unexpected truncation", budget)
			}
			continue
		}
		if len(out) > limit {
			t.Errorf("budget %d: len=%d exceeds %d", budget, len(out), limit)
		}
		if !strings.HasSuffix(out, TruncationSentinel) {
			t.Errorf("budget %d: missing sentinel", budget)
		}
	}
}

func TestTruncateCutsAtNewline(t *testing.T) {
	s := strings.Repeat("abcdefgh\n", 100)
	out := Truncate(s, 450)
	body := strings.TrimSuffix(out, "\n"+TruncationSentinel)
	if strings.HasSuffix(body, "abcd") {
		t.Errorf("cut mid-line: %q", body[len(body)-10:])
	}
	if !strings.HasSuffix(body, "abcdefgh") {
		t.Errorf("expected line-boundary cut, got %q", body[len(body)-10:])
	}
}

func TestTruncateNoNewlineInWindow(t *testing.T) {
	s := strings.Repeat("z", 2000)
	out := Truncate(s, 1000)
	if !strings.HasSuffix(out, TruncationSentinel) {
		t.Fatal("missing sentinel")
	}
	if len(out) > 1000+len(TruncationSentinel)+1 {
		t.Errorf("len=%d", len(out))
	}
}
