package questions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseOpenQAForm(t *testing.T) {
	content := "Q: Why X?\nA: (pending)\n\nQ: Why Y?\nA: done\n\nQ: Why Z?\nA:\n"
	got := ParseOpen(content)
	want := []string{"Why X?", "Why Z?"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseOpen mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOpenMultilineQuestion(t *testing.T) {
	content := "Q: Is spaced repetition\nworking for anatomy\nterms?\nA: (pending)\n"
	got := ParseOpen(content)
	want := []string{"Is spaced repetition working for anatomy terms?"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOpenTrailingQuestionWithoutAnswer(t *testing.T) {
	got := ParseOpen("Q: Answered one\nA: yes\nQ: Dangling one\n")
	want := []string{"Dangling one"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOpenPlainList(t *testing.T) {
	content := "# Open questions\n\n- Why does recall drop on Fridays?\n* Mixed glyph line\n• Unicode bullet\n3. Numbered item\nBare line\nA: stray answer\n"
	got := ParseOpen(content)
	want := []string{
		"Why does recall drop on Fridays?",
		"Mixed glyph line",
		"Unicode bullet",
		"Numbered item",
		"Bare line",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOpenSentinelsAndBOM(t *testing.T) {
	if got := ParseOpen("(none)\n"); len(got) != 0 {
		t.Errorf("(none) file: got %v", got)
	}
	if got := ParseOpen(""); len(got) != 0 {
		t.Errorf("empty file: got %v", got)
	}
	got := ParseOpen("\ufeffQ: bommed?\nA: (pending)\n")
	if len(got) != 1 || got[0] != "bommed?" {
		t.Errorf("BOM file: got %v", got)
	}
}

func TestParseOpenIdempotent(t *testing.T) {
	content := "Q: Why X?\nA: (pending)\nQ: Why Y?\nA: done\n"
	a := ParseOpen(content)
	b := ParseOpen(content)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("not idempotent:\n%s", diff)
	}
}

func TestCollectUnansweredPicksNewest(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "questions_needed_2026-01-01_000000.md")
	newer := filepath.Join(dir, "questions_needed_2026-01-02_000000.md")

	if err := os.WriteFile(old, []byte("Q: old question?\nA: (pending)\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, []byte("Q: new question?\nA: (pending)\n"), 0644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	got := CollectUnanswered(dir)
	want := []string{"new question?"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectUnansweredMissingDir(t *testing.T) {
	if got := CollectUnanswered(filepath.Join(t.TempDir(), "absent")); len(got) != 0 {
		t.Errorf("got %v", got)
	}
}

func TestExtractFromReportSection(t *testing.T) {
	report := `# Audit

## Findings

- something

## Questions Needed

- Should WRAP phases be shorter?
- Is the Anki deck stale?

## Next Steps

- do things
`
	got := ExtractFromReport(report)
	want := []string{"Should WRAP phases be shorter?", "Is the Anki deck stale?"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractFromReportQLineFallback(t *testing.T) {
	report := "No sections here.\nQ: fallback question?\n"
	got := ExtractFromReport(report)
	if len(got) != 1 || got[0] != "fallback question?" {
		t.Errorf("got %v", got)
	}
}

func TestWriteFileShapes(t *testing.T) {
	dir := t.TempDir()

	t.Run("none_with_preserved", func(t *testing.T) {
		path := filepath.Join(dir, "questions_needed_a.md")
		if err := WriteFile(path, nil, []string{" Why X? ", "", "Why W?"}); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(path)
		want := "(none)\n\n# Preserved:\n- Why X?\n- Why W?\n"
		if string(data) != want {
			t.Errorf("got:\n%q\nwant:\n%q", data, want)
		}
	})

	t.Run("pairs_no_preserved", func(t *testing.T) {
		path := filepath.Join(dir, "questions_needed_b.md")
		if err := WriteFile(path, []string{"One?"}, nil); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(path)
		want := "Q: One?\nA: (pending)\n\n"
		if string(data) != want {
			t.Errorf("got %q, want %q", data, want)
		}
	})
}

func TestWriteThenCollectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "questions_needed_2026-03-01_120000.md")
	if err := WriteFile(path, []string{"Open one?"}, []string{"Carried one?"}); err != nil {
		t.Fatal(err)
	}

	got := CollectUnanswered(dir)
	want := []string{"Open one?", "Carried one?"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteFileDedupsPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions_needed_c.md")
	err := WriteFile(path, []string{"Why X?"}, []string{"Why X?", "Why W?", "Why W?"})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	want := "Q: Why X?\nA: (pending)\n\n\n# Preserved:\n- Why W?\n"
	if string(data) != want {
		t.Errorf("got:\n%q\nwant:\n%q", data, want)
	}
}

func TestParseResolved(t *testing.T) {
	content := "Q: Why X?\nA: Because of Y.\nQ: Open?\nA: (pending)\n"
	pairs := ParseResolved(content)
	if len(pairs) != 1 || pairs[0][0] != "Why X?" || pairs[0][1] != "Because of Y." {
		t.Errorf("got %v", pairs)
	}
}

func TestParsePairsMixedAnsweredAndPreserved(t *testing.T) {
	content := `Q: Why X?
A: (pending)
Q: Why Y?
A: Because of Z.


# Preserved:
- Why W?
`
	pairs := ParsePairs(content)
	if len(pairs) != 3 {
		t.Fatalf("got %d pairs, want 3: %v", len(pairs), pairs)
	}
	if pairs[0].Question != "Why X?" || pairs[0].Answered {
		t.Errorf("pending pair parsed as %+v", pairs[0])
	}
	if pairs[1].Question != "Why Y?" || !pairs[1].Answered || pairs[1].Answer != "Because of Z." {
		t.Errorf("answered pair parsed as %+v", pairs[1])
	}
	if pairs[2].Question != "Why W?" || pairs[2].Answered {
		t.Errorf("preserved bullet parsed as %+v", pairs[2])
	}
}
