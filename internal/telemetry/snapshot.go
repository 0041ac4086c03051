// Package telemetry builds the markdown study-database snapshot used as
// agent context in brain mode.
//
// The reader is strictly read-only: it opens a short-lived connection,
// issues SELECT statements only, and degrades instead of failing. A missing
// database yields a header plus an `- Exists: false` marker; a missing table
// yields a "table not found" line. No error from the database ever fails a
// run.
package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scholard/internal/logging"
	"scholard/internal/prompt"
)

// SubBudget caps the snapshot size before it is used as agent context.
const SubBudget = 20_000

// sentinel answers/markers that do not count as populated values.
func isSentinel(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "(pending)", "(none)":
		return true
	}
	return false
}

// Reader builds snapshots from the study database.
type Reader struct {
	dbPath string
	outDir string
}

// NewReader creates a Reader for the given database and output directory.
func NewReader(dbPath, outDir string) *Reader {
	return &Reader{dbPath: dbPath, outDir: outDir}
}

// BuildSnapshot writes telemetry_snapshot_<runID>.md under the output
// directory and returns its path. It never fails the run: database problems
// degrade to textual markers inside the snapshot.
func (r *Reader) BuildSnapshot(runID string, daysRecent int) (string, error) {
	timer := logging.StartTimer(logging.CategoryTelemetry, "snapshot build")
	defer timer.Stop()

	if daysRecent <= 0 {
		daysRecent = 30
	}

	if err := os.MkdirAll(r.outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create telemetry dir: %w", err)
	}
	outPath := filepath.Join(r.outDir, fmt.Sprintf("telemetry_snapshot_%s.md", runID))

	var b strings.Builder
	fmt.Fprintf(&b, "# Telemetry Snapshot - %s\n\n", runID)
	b.WriteString("## Database\n\n")
	fmt.Fprintf(&b, "- Path: %s\n", r.dbPath)

	if _, err := os.Stat(r.dbPath); err != nil {
		b.WriteString("- Exists: false\n")
		logging.TelemetryWarn("study database absent at %s", r.dbPath)
		return outPath, os.WriteFile(outPath, []byte(b.String()), 0644)
	}
	b.WriteString("- Exists: true\n")

	db, err := sql.Open("sqlite", r.dbPath)
	if err != nil {
		fmt.Fprintf(&b, "- Open error: %v\n", err)
		return outPath, os.WriteFile(outPath, []byte(b.String()), 0644)
	}
	defer db.Close()

	cutoff := time.Now().AddDate(0, 0, -daysRecent).UTC().Format("2006-01-02 15:04:05")

	r.writeSessions(db, &b, cutoff, daysRecent)
	r.writeTutorTurns(db, &b, cutoff, daysRecent)
	r.writeTopicMastery(db, &b)
	r.writeStudyTasks(db, &b)
	r.writeRAGDocs(db, &b)
	r.writeCardDrafts(db, &b)
	r.writeCoursesAndEvents(db, &b)

	content := prompt.Truncate(b.String(), SubBudget)
	if err := os.WriteFile(outPath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	logging.Telemetry("snapshot written: %s", outPath)
	return outPath, nil
}

func (r *Reader) writeSessions(db *sql.DB, b *strings.Builder, cutoff string, days int) {
	b.WriteString("\n## Sessions\n\n")
	if !tableExists(db, "sessions") {
		b.WriteString("- table not found\n")
		return
	}

	total := scalarInt(db, `SELECT COUNT(*) FROM sessions`)
	recent := scalarInt(db, `SELECT COUNT(*) FROM sessions WHERE started_at >= ?`, cutoff)
	fmt.Fprintf(b, "- Total: %d\n", total)
	fmt.Fprintf(b, "- Last %d days: %d\n", days, recent)

	fmt.Fprintf(b, "- Avg understanding: %s\n", scalarAvg(db, `SELECT AVG(understanding) FROM sessions`))
	fmt.Fprintf(b, "- Avg retention: %s\n", scalarAvg(db, `SELECT AVG(retention) FROM sessions`))
	fmt.Fprintf(b, "- Avg performance: %s\n", scalarAvg(db, `SELECT AVG(performance) FROM sessions`))
	fmt.Fprintf(b, "- Avg duration (min): %s\n", scalarAvg(db, `SELECT AVG(duration_minutes) FROM sessions`))

	wrapDone := scalarInt(db, `SELECT COUNT(*) FROM sessions WHERE wrap_completed = 1`)
	if total > 0 {
		fmt.Fprintf(b, "- WRAP completion: %d/%d (%.0f%%)\n", wrapDone, total, 100*float64(wrapDone)/float64(total))
	} else {
		fmt.Fprintf(b, "- WRAP completion: 0/0 (0%%)\n")
	}

	fmt.Fprintf(b, "- Sessions with errors: %d\n", r.countSessionErrors(db))

	if tableExists(db, "glossary_terms") {
		fmt.Fprintf(b, "- Glossary terms: %d\n", scalarInt(db, `SELECT COUNT(*) FROM glossary_terms`))
	} else {
		b.WriteString("- Glossary terms: table not found\n")
	}
	if tableExists(db, "anki_cards") {
		fmt.Fprintf(b, "- Anki cards: %d\n", scalarInt(db, `SELECT COUNT(*) FROM anki_cards`))
	} else {
		b.WriteString("- Anki cards: table not found\n")
	}
}

// countSessionErrors counts sessions whose error field holds a real value
// (sentinels and empty strings do not count).
func (r *Reader) countSessionErrors(db *sql.DB) int {
	rows, err := db.Query(`SELECT COALESCE(error_notes, '') FROM sessions`)
	if err != nil {
		return 0
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var v string
		if rows.Scan(&v) == nil && !isSentinel(v) {
			n++
		}
	}
	return n
}

func (r *Reader) writeTutorTurns(db *sql.DB, b *strings.Builder, cutoff string, days int) {
	b.WriteString("\n## Tutor Turns\n\n")
	if !tableExists(db, "tutor_turns") {
		b.WriteString("- table not found\n")
		return
	}

	total := scalarInt(db, `SELECT COUNT(*) FROM tutor_turns`)
	fmt.Fprintf(b, "- Total: %d\n", total)

	recent := scalarInt(db, `SELECT COUNT(*) FROM tutor_turns WHERE created_at >= ?`, cutoff)
	unverified := scalarInt(db, `SELECT COUNT(*) FROM tutor_turns WHERE created_at >= ? AND COALESCE(verified, 0) = 0`, cutoff)
	if recent > 0 {
		fmt.Fprintf(b, "- Unverified (last %d days): %d/%d (%.0f%%)\n", days, unverified, recent, 100*float64(unverified)/float64(recent))
	} else {
		fmt.Fprintf(b, "- Unverified (last %d days): 0/0 (0%%)\n", days)
	}

	fmt.Fprintf(b, "- Citations per turn: %.2f\n", r.citationsPerTurn(db, total))
}

// citationsPerTurn decodes the JSON citations column defensively; malformed
// JSON counts as zero items.
func (r *Reader) citationsPerTurn(db *sql.DB, total int) float64 {
	if total == 0 {
		return 0
	}
	rows, err := db.Query(`SELECT COALESCE(citations, '') FROM tutor_turns`)
	if err != nil {
		return 0
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var raw string
		if rows.Scan(&raw) != nil || strings.TrimSpace(raw) == "" {
			continue
		}
		var items []json.RawMessage
		if json.Unmarshal([]byte(raw), &items) == nil {
			count += len(items)
		}
	}
	return float64(count) / float64(total)
}

func (r *Reader) writeTopicMastery(db *sql.DB, b *strings.Builder) {
	b.WriteString("\n## Topic Mastery\n\n")
	if !tableExists(db, "topic_mastery") {
		b.WriteString("- table not found\n")
		return
	}

	fmt.Fprintf(b, "- Total topics: %d\n", scalarInt(db, `SELECT COUNT(*) FROM topic_mastery`))

	staleCutoff := time.Now().AddDate(0, 0, -14).UTC().Format("2006-01-02 15:04:05")
	stale := scalarInt(db, `SELECT COUNT(*) FROM topic_mastery WHERE COALESCE(last_reviewed_at, '') < ?`, staleCutoff)
	fmt.Fprintf(b, "- Stale (14d): %d\n", stale)

	rows, err := db.Query(`SELECT topic, COALESCE(understanding, 0) FROM topic_mastery ORDER BY understanding ASC LIMIT 5`)
	if err != nil {
		return
	}
	defer rows.Close()

	b.WriteString("- Lowest understanding:\n")
	for rows.Next() {
		var topic string
		var u float64
		if rows.Scan(&topic, &u) == nil {
			fmt.Fprintf(b, "  - %s: %.2f\n", topic, u)
		}
	}
}

func (r *Reader) writeStudyTasks(db *sql.DB, b *strings.Builder) {
	b.WriteString("\n## Study Tasks\n\n")
	if !tableExists(db, "study_tasks") {
		b.WriteString("- table not found\n")
		return
	}

	writeStatusCounts(db, b, `SELECT COALESCE(status, 'unknown'), COUNT(*) FROM study_tasks GROUP BY status ORDER BY status`)

	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	week := time.Now().AddDate(0, 0, 7).UTC().Format("2006-01-02 15:04:05")
	upcoming := scalarInt(db, `SELECT COUNT(*) FROM study_tasks WHERE due_at >= ? AND due_at <= ?`, now, week)
	fmt.Fprintf(b, "- Upcoming (7d): %d\n", upcoming)
}

func (r *Reader) writeRAGDocs(db *sql.DB, b *strings.Builder) {
	b.WriteString("\n## RAG Docs\n\n")
	if !tableExists(db, "rag_docs") {
		b.WriteString("- table not found\n")
		return
	}

	fmt.Fprintf(b, "- Total: %d\n", scalarInt(db, `SELECT COUNT(*) FROM rag_docs`))
	fmt.Fprintf(b, "- Enabled: %d\n", scalarInt(db, `SELECT COUNT(*) FROM rag_docs WHERE COALESCE(enabled, 0) = 1`))

	rows, err := db.Query(`SELECT COALESCE(corpus_tag, 'untagged'), COUNT(*) FROM rag_docs GROUP BY corpus_tag ORDER BY corpus_tag`)
	if err != nil {
		return
	}
	defer rows.Close()

	b.WriteString("- By corpus:\n")
	for rows.Next() {
		var tag string
		var n int
		if rows.Scan(&tag, &n) == nil {
			fmt.Fprintf(b, "  - %s: %d\n", tag, n)
		}
	}
}

func (r *Reader) writeCardDrafts(db *sql.DB, b *strings.Builder) {
	b.WriteString("\n## Card Drafts\n\n")
	if !tableExists(db, "card_drafts") {
		b.WriteString("- table not found\n")
		return
	}
	writeStatusCounts(db, b, `SELECT COALESCE(status, 'unknown'), COUNT(*) FROM card_drafts GROUP BY status ORDER BY status`)
}

func (r *Reader) writeCoursesAndEvents(db *sql.DB, b *strings.Builder) {
	b.WriteString("\n## Courses and Events\n\n")
	if tableExists(db, "courses") {
		fmt.Fprintf(b, "- Courses: %d\n", scalarInt(db, `SELECT COUNT(*) FROM courses`))
	} else {
		b.WriteString("- Courses: table not found\n")
	}
	if tableExists(db, "events") {
		fmt.Fprintf(b, "- Events: %d\n", scalarInt(db, `SELECT COUNT(*) FROM events`))
	} else {
		b.WriteString("- Events: table not found\n")
	}
}

func writeStatusCounts(db *sql.DB, b *strings.Builder, query string) {
	rows, err := db.Query(query)
	if err != nil {
		b.WriteString("- query error\n")
		return
	}
	defer rows.Close()

	b.WriteString("- By status:\n")
	for rows.Next() {
		var status string
		var n int
		if rows.Scan(&status, &n) == nil {
			fmt.Fprintf(b, "  - %s: %d\n", status, n)
		}
	}
}

func tableExists(db *sql.DB, name string) bool {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	return err == nil && n > 0
}

func scalarInt(db *sql.DB, query string, args ...interface{}) int {
	var n sql.NullInt64
	if err := db.QueryRow(query, args...).Scan(&n); err != nil || !n.Valid {
		return 0
	}
	return int(n.Int64)
}

// scalarAvg renders an AVG() result; empty tables render as "0".
func scalarAvg(db *sql.DB, query string, args ...interface{}) string {
	var f sql.NullFloat64
	if err := db.QueryRow(query, args...).Scan(&f); err != nil || !f.Valid {
		return "0"
	}
	return fmt.Sprintf("%.2f", f.Float64)
}
