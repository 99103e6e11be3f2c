package session

import (
	"os/exec"
	"strings"
	"time"

	"github.com/ferrost/warden/internal/logger"
)

// Spec describes a game server to be run inside a detached session.
type Spec struct {
	Name           string        `json:"name" mapstructure:"name"`
	Command        string        `json:"command" mapstructure:"command"`               // launch command (shell syntax allowed)
	WorkDir        string        `json:"work_dir" mapstructure:"work_dir"`             // server working directory
	Env            []string      `json:"env" mapstructure:"env"`                       // extra KEY=VALUE entries
	RunAsUID       int           `json:"run_as_uid" mapstructure:"run_as_uid"`         // run as this uid when > 0
	RunAsGID       int           `json:"run_as_gid" mapstructure:"run_as_gid"`         // run as this gid when > 0
	StopCommands   []string      `json:"stop_commands" mapstructure:"stop_commands"`   // console lines sent for a graceful stop
	StopWait       time.Duration `json:"stop_wait" mapstructure:"stop_wait"`           // grace period before SIGTERM/SIGKILL escalation
	PingAddress    string        `json:"ping_address" mapstructure:"ping_address"`     // host:port of the server status endpoint
	CrashReportDir string        `json:"crash_report_dir" mapstructure:"crash_report_dir"` // directory the server writes crash reports to
	Log            logger.Config `json:"log" mapstructure:"log"`                       // merged console log destination
}

// BuildCommand constructs an *exec.Cmd for the spec's launch command.
// It avoids invoking a shell when not necessary and respects an explicit
// shell invocation already present in the command string, avoiding
// double-wrapping with another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// Always use absolute shell path to avoid PATH dependency when Env is overridden.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
