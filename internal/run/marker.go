package run

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"scholard/internal/logging"
)

// StaleMarkerAge is the age at which a .running marker is considered
// abandoned and reclaimable. Policy knob, not a correctness constant.
const StaleMarkerAge = 2 * time.Hour

// writeMarker creates the liveness marker for a run.
func writeMarker(path string) error {
	return os.WriteFile(path, []byte("running"), 0644)
}

// removeBestEffort unlinks a file, ignoring all errors. Marker cleanup must
// never mask the real run outcome.
func removeBestEffort(path string) {
	_ = os.Remove(path)
}

// pidAlive reports whether the process referenced by a .pid file still
// exists. Unreadable or garbage files count as dead.
func pidAlive(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without touching the process.
	return proc.Signal(syscall.Signal(0)) == nil
}

// ReclaimStaleLocks removes abandoned lock files from the run directory:
// .pid files whose process is gone, and .running markers older than
// StaleMarkerAge. Called by every status read so crashed runs do not pin
// the "running" state forever.
func ReclaimStaleLocks(runDir string) int {
	reclaimed := 0

	pids, _ := filepath.Glob(filepath.Join(runDir, runPrefix+"_*.pid"))
	for _, p := range pids {
		if !pidAlive(p) {
			removeBestEffort(p)
			reclaimed++
			logging.Status("reclaimed dead pid file %s", filepath.Base(p))
		}
	}

	markers, _ := filepath.Glob(filepath.Join(runDir, runPrefix+"_*.running"))
	for _, m := range markers {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) >= StaleMarkerAge {
			removeBestEffort(m)
			reclaimed++
			logging.Status("reclaimed stale marker %s", filepath.Base(m))
		}
	}

	return reclaimed
}

// ActiveMarkers returns the run ids with a live .running marker.
func ActiveMarkers(runDir string) []string {
	markers, _ := filepath.Glob(filepath.Join(runDir, runPrefix+"_*.running"))
	ids := make([]string, 0, len(markers))
	for _, m := range markers {
		base := filepath.Base(m)
		id := strings.TrimSuffix(strings.TrimPrefix(base, runPrefix+"_"), ".running")
		ids = append(ids, id)
	}
	return ids
}
