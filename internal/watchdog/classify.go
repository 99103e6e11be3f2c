package watchdog

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ferrost/warden/internal/crash"
	"github.com/ferrost/warden/internal/session"
)

// oomMarkers are the console-log patterns that indicate the server died from
// memory exhaustion.
var oomMarkers = [][]byte{
	[]byte("OutOfMemoryError"),
	[]byte("Out of memory"),
	[]byte("Cannot allocate memory"),
}

const oomTailBytes = 64 * 1024

// classifyDeath attributes a confirmed process death. Precedence: a fresh
// crash-report artifact wins, then an OOM pattern in the console log tail,
// otherwise plain ProcessDeath.
func classifyDeath(spec session.Spec, since time.Time) (crash.Kind, string) {
	if report := freshCrashReport(spec.CrashReportDir, since); report != "" {
		return crash.CrashReport, report
	}
	if line := oomEvidence(spec.Log.ConsolePath(spec.Name)); line != "" {
		return crash.OutOfMemory, line
	}
	return crash.ProcessDeath, ""
}

// freshCrashReport returns the name of the newest crash-report file written
// after since, or empty string.
func freshCrashReport(dir string, since time.Time) string {
	if dir == "" {
		return ""
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var newest string
	var newestAt time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().After(since) && fi.ModTime().After(newestAt) {
			newest = e.Name()
			newestAt = fi.ModTime()
		}
	}
	if newest == "" {
		return ""
	}
	return filepath.Base(newest)
}

// oomEvidence scans the tail of the console log for an OOM marker and
// returns the matching line.
func oomEvidence(consolePath string) string {
	if consolePath == "" {
		return ""
	}
	f, err := os.Open(consolePath)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return ""
	}
	off := fi.Size() - oomTailBytes
	if off < 0 {
		off = 0
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return ""
	}
	tail, err := io.ReadAll(io.LimitReader(f, oomTailBytes))
	if err != nil {
		return ""
	}
	for _, line := range bytes.Split(tail, []byte{'\n'}) {
		for _, marker := range oomMarkers {
			if bytes.Contains(line, marker) {
				return string(bytes.TrimSpace(line))
			}
		}
	}
	return ""
}
