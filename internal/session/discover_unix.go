//go:build !windows

package session

import (
	"bufio"
	"bytes"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// scanSessions walks /proc and returns every live process carrying the
// session environment marker. Zombies are skipped: a dead-but-unreaped
// server is not a usable session.
func scanSessions() []Info {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue
		}
		name, ok := procEnvValue(pid, EnvMarker)
		if !ok || name == "" {
			continue
		}
		if isZombie(pid) {
			continue
		}
		out = append(out, Info{
			Name:      name,
			PID:       pid,
			SessionID: procSessionID(pid),
			StartUnix: procStartUnix(pid),
		})
	}
	return out
}

// procEnvValue reads /proc/<pid>/environ and extracts the value of key.
func procEnvValue(pid int, key string) (string, bool) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/environ")
	if err != nil {
		return "", false
	}
	prefix := []byte(key + "=")
	for _, kv := range bytes.Split(b, []byte{0}) {
		if bytes.HasPrefix(kv, prefix) {
			return string(kv[len(prefix):]), true
		}
	}
	return "", false
}

// procSessionID returns the session id from /proc/<pid>/stat (field 6),
// or 0 when unavailable.
func procSessionID(pid int) int {
	rest, ok := procStatFields(pid)
	if !ok || len(rest) < 4 {
		return 0
	}
	sid, err := strconv.Atoi(rest[3])
	if err != nil {
		return 0
	}
	return sid
}

// procStartUnix returns the process start time as Unix seconds using
// platform-native methods. Returns 0 when unavailable or on error.
func procStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		return procStartUnixLinux(pid)
	}
	// Best-effort for Darwin/BSD via gopsutil (sysctl under the hood).
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// procStartUnixLinux reads /proc to compute a stable start time without
// spawning external processes.
func procStartUnixLinux(pid int) int64 {
	rest, ok := procStatFields(pid)
	if !ok || len(rest) < 20 {
		return 0
	}
	// starttime is field 22 overall, in clock ticks since boot.
	startTicks, err := strconv.ParseInt(rest[19], 10, 64)
	if err != nil || startTicks <= 0 {
		return 0
	}

	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	var btime int64
	s := bufio.NewScanner(f)
	for s.Scan() {
		text := s.Text()
		if strings.HasPrefix(text, "btime ") {
			v := strings.TrimSpace(strings.TrimPrefix(text, "btime "))
			if bt, err := strconv.ParseInt(v, 10, 64); err == nil {
				btime = bt
				break
			}
		}
	}
	if btime == 0 {
		return 0
	}

	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return btime + (startTicks / int64(clk))
}

// procStatFields returns the /proc/<pid>/stat fields after the comm field,
// which can itself contain spaces and parentheses.
func procStatFields(pid int) ([]string, bool) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return nil, false
	}
	line := string(b)
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return nil, false
	}
	return strings.Fields(strings.TrimSpace(line[end+2:])), true
}

// pidAlive reports whether pid refers to a live, non-zombie process.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// isZombie returns true if /proc/<pid>/status reports a zombie state (Z).
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// parsePIDFile parses "pid startUnix" from a PID file written at spawn
// time. The start time lets callers reject a recycled pid.
func parsePIDFile(b []byte) (pid int, startUnix int64, ok bool) {
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, 0, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return 0, 0, false
	}
	if len(fields) > 1 {
		startUnix, _ = strconv.ParseInt(fields[1], 10, 64)
	}
	return pid, startUnix, true
}
