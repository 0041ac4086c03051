package dispatch

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Log is the run's dispatcher log (unattended_<id>.log): an append-only
// text file written continuously during a run. Unlike the category debug
// logs, it is a run artifact and is always written.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog creates (or reopens) the dispatcher log at path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the log file location.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one timestamped line. Errors are swallowed: logging must
// never fail a run. Safe for concurrent use and nil receivers.
func (l *Log) Append(format string, args ...interface{}) {
	if l == nil || l.path == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
}

// Tail returns the last n lines of the log, for dashboard display.
func (l *Log) Tail(n int) []string {
	if l == nil || l.path == "" || n <= 0 {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	lines := splitLines(string(data))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
