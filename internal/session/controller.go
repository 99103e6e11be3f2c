package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// EnvMarker is injected into every spawned server's environment so sessions
// can be rediscovered from /proc after a supervisor restart.
const EnvMarker = "WARDEN_SERVER"

// Info is an ephemeral snapshot of a live session. It is recomputed on
// demand and never cached across calls.
type Info struct {
	Name      string `json:"name"`
	PID       int    `json:"pid"`
	SessionID int    `json:"session_id"`
	StartUnix int64  `json:"start_unix"`
}

type ownedSession struct {
	spec     Spec
	cmd      *exec.Cmd
	console  io.WriteCloser
	fifo     *os.File
	waitDone chan struct{}
	exitErr  error
}

// Controller spawns game servers as detached session leaders and resolves
// live sessions by scanning /proc, so it keeps working across restarts of
// the supervising process.
type Controller struct {
	mu     sync.Mutex
	runDir string
	specs  map[string]Spec
	owned  map[string]*ownedSession
}

// NewController creates a controller using runDir for console FIFOs and PID
// files.
func NewController(runDir string) *Controller {
	return &Controller{
		runDir: runDir,
		specs:  make(map[string]Spec),
		owned:  make(map[string]*ownedSession),
	}
}

// Register stores the spec so later Stop/Start calls can resolve stop
// commands and launch parameters by name.
func (c *Controller) Register(spec Spec) {
	c.mu.Lock()
	c.specs[spec.Name] = spec
	c.mu.Unlock()
}

// SpecFor returns the registered spec for name.
func (c *Controller) SpecFor(name string) (Spec, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.specs[name]
	return s, ok
}

func (c *Controller) fifoPath(name string) string {
	return filepath.Join(c.runDir, name+".console")
}

func (c *Controller) pidFilePath(name string) string {
	return filepath.Join(c.runDir, name+".pid")
}

// StartSession launches the server described by spec inside a new session,
// running as the configured uid/gid, with stdin wired to the per-server
// console FIFO and stdout/stderr merged into the rotating console log.
func (c *Controller) StartSession(spec Spec) (Info, error) {
	if spec.Name == "" {
		return Info{}, &SpawnError{Name: spec.Name, Err: errors.New("spec.name required")}
	}
	if info, ok := c.Discover(spec.Name); ok {
		return Info{}, &SpawnError{Name: spec.Name, Err: fmt.Errorf("session already running (pid %d)", info.PID)}
	}
	c.Register(spec)

	if err := os.MkdirAll(c.runDir, 0o750); err != nil {
		return Info{}, &SpawnError{Name: spec.Name, Err: err}
	}
	fifo, err := openConsoleFIFO(c.fifoPath(spec.Name))
	if err != nil {
		return Info{}, &SpawnError{Name: spec.Name, Err: err}
	}

	console, err := spec.Log.ConsoleWriter(spec.Name)
	if err != nil {
		_ = fifo.Close()
		return Info{}, &SpawnError{Name: spec.Name, Err: err}
	}

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Env = append(cmd.Env, EnvMarker+"="+spec.Name)
	cmd.Stdin = fifo
	if console != nil {
		cmd.Stdout = console
		cmd.Stderr = console
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}
	configureSysProcAttr(cmd, spec)

	if err := cmd.Start(); err != nil {
		_ = fifo.Close()
		if console != nil {
			_ = console.Close()
		}
		return Info{}, &SpawnError{Name: spec.Name, Err: err}
	}

	pid := cmd.Process.Pid
	start := procStartUnix(pid)
	c.writePIDFile(spec.Name, pid, start)

	owned := &ownedSession{
		spec:     spec,
		cmd:      cmd,
		console:  console,
		fifo:     fifo,
		waitDone: make(chan struct{}),
	}
	c.mu.Lock()
	c.owned[spec.Name] = owned
	c.mu.Unlock()

	go c.reap(spec.Name, owned)

	return Info{Name: spec.Name, PID: pid, SessionID: procSessionID(pid), StartUnix: start}, nil
}

// reap waits for an owned child to exit so it never lingers as a zombie.
func (c *Controller) reap(name string, s *ownedSession) {
	err := s.cmd.Wait()
	c.mu.Lock()
	s.exitErr = err
	close(s.waitDone)
	if cur, ok := c.owned[name]; ok && cur == s {
		delete(c.owned, name)
	}
	c.mu.Unlock()
	_ = s.fifo.Close()
	if s.console != nil {
		_ = s.console.Close()
	}
	c.removePIDFile(name, s.cmd.Process.Pid)
}

// SendCommand writes one console line to the named server's FIFO. Returns
// SessionNotFoundError when no live session exists.
func (c *Controller) SendCommand(name, line string) error {
	if _, ok := c.Discover(name); !ok {
		return &SessionNotFoundError{Name: name}
	}
	f, err := os.OpenFile(c.fifoPath(name), os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		// ENXIO means the read side is gone: the session died between the
		// discovery check and the open.
		if errors.Is(err, syscall.ENXIO) || os.IsNotExist(err) {
			return &SessionNotFoundError{Name: name}
		}
		return fmt.Errorf("open console for %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write console for %s: %w", name, err)
	}
	return nil
}

// IsRunning reports whether a live, non-zombie session exists for name.
func (c *Controller) IsRunning(name string) bool {
	_, ok := c.Discover(name)
	return ok
}

// Discover resolves the named server's session from live state. The result
// is recomputed on every call; nothing is trusted from previous runs.
func (c *Controller) Discover(name string) (Info, bool) {
	// Fast path: a child we spawned ourselves.
	c.mu.Lock()
	s, ok := c.owned[name]
	c.mu.Unlock()
	if ok && s.cmd.Process != nil {
		pid := s.cmd.Process.Pid
		if pidAlive(pid) {
			return Info{Name: name, PID: pid, SessionID: procSessionID(pid), StartUnix: procStartUnix(pid)}, true
		}
	}
	// Fall back to scanning /proc for the environment marker. This finds
	// sessions spawned by a previous supervisor instance.
	for _, info := range scanSessions() {
		if info.Name == name {
			return info, true
		}
	}
	return Info{}, false
}

// DiscoverAll returns every live session carrying the environment marker.
func (c *Controller) DiscoverAll() []Info {
	return scanSessions()
}

// Stop performs a graceful shutdown: the registered stop command lines are
// sent to the console first, then the session is signaled with SIGTERM and
// finally SIGKILL. A missing session is not an error.
func (c *Controller) Stop(name string, wait time.Duration) error {
	info, ok := c.Discover(name)
	if !ok {
		return nil
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	if spec, ok := c.SpecFor(name); ok && len(spec.StopCommands) > 0 {
		for _, line := range spec.StopCommands {
			_ = c.SendCommand(name, line)
		}
		if c.waitGone(name, wait) {
			return nil
		}
	}
	_ = syscall.Kill(-info.PID, syscall.SIGTERM)
	if c.waitGone(name, wait) {
		return nil
	}
	_ = syscall.Kill(-info.PID, syscall.SIGKILL)
	c.waitGone(name, 2*time.Second)
	return nil
}

// Kill delivers SIGKILL to the session's process group. A dead pid is a
// no-op so repeated kills are idempotent.
func (c *Controller) Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(pid, 0); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		if errors.Is(err, syscall.EPERM) {
			return fmt.Errorf("kill pid %d: %w", pid, err)
		}
		return nil
	}
	// Session leaders have pgid == pid; killing the group takes child
	// helpers (wrapper scripts, JVM forks) down with it.
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}

// KillServer resolves the named session and kills its process group.
func (c *Controller) KillServer(name string) error {
	info, ok := c.Discover(name)
	if !ok {
		return nil
	}
	return c.Kill(info.PID)
}

// ExitError returns the recorded exit error for an owned session after it
// has been reaped, or nil.
func (c *Controller) ExitError(name string) error {
	c.mu.Lock()
	s, ok := c.owned[name]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-s.waitDone:
		return s.exitErr
	default:
		return nil
	}
}

func (c *Controller) waitGone(name string, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if _, ok := c.Discover(name); !ok {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	_, ok := c.Discover(name)
	return !ok
}

func (c *Controller) writePIDFile(name string, pid int, startUnix int64) {
	path := c.pidFilePath(name)
	data := strconv.Itoa(pid) + " " + strconv.FormatInt(startUnix, 10) + "\n"
	_ = os.WriteFile(path, []byte(data), 0o600)
}

func (c *Controller) removePIDFile(name string, pid int) {
	path := c.pidFilePath(name)
	b, err := os.ReadFile(path)
	if err != nil {
		return
	}
	// Only remove the file if it still refers to our pid; a newer session
	// may have overwritten it already.
	cur, _, _ := parsePIDFile(b)
	if cur == pid {
		_ = os.Remove(path)
	}
}
