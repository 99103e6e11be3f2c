//go:build !windows

package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ferrost/warden/internal/crash"
	"github.com/ferrost/warden/internal/session"
)

type memRecorder struct {
	mu     sync.Mutex
	nextID int64
	events []crash.Event
}

func (m *memRecorder) RecordCrash(_ context.Context, e *crash.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	m.events = append(m.events, *e)
	return nil
}

func (m *memRecorder) MarkRestartOutcome(_ context.Context, id int64, attemptAt time.Time, succeeded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].RestartAttemptAt = attemptAt
			m.events[i].AutoRestartSucceeded = succeeded
		}
	}
	return nil
}

func (m *memRecorder) ListCrashes(_ context.Context, server string, limit int) ([]crash.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []crash.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if server != "" && m.events[i].Server != server {
			continue
		}
		out = append(out, m.events[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memRecorder) ClearCrashes(_ context.Context, server string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []crash.Event
	for _, e := range m.events {
		if server != "" && e.Server != server {
			kept = append(kept, e)
		}
	}
	m.events = kept
	return nil
}

func (m *memRecorder) all() []crash.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]crash.Event, len(m.events))
	copy(out, m.events)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func newTestWatchdog(t *testing.T, cfg Config) (*Watchdog, *session.Controller, *memRecorder) {
	t.Helper()
	ctl := session.NewController(t.TempDir())
	rec := &memRecorder{}
	return New(ctl, cfg, rec, nil, nil), ctl, rec
}

func TestRestartBudgetExhaustion(t *testing.T) {
	ctx := context.Background()
	wd, ctl, rec := newTestWatchdog(t, Config{ProbeMisses: 1})

	// Every start spawns a command that exits immediately, so each restart
	// attempt produces the next crash.
	spec := session.Spec{Name: "budget", Command: "true"}
	wd.Enroll(spec, RestartPolicy{Enabled: true, MaxAttempts: 3, Cooldown: time.Millisecond})

	if _, err := wd.StartServer("budget"); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return !ctl.IsRunning("budget") })

	for i := 0; i < 4; i++ {
		time.Sleep(5 * time.Millisecond) // clear the cooldown window
		wd.Tick(ctx)                     // confirm the death; restart runs in the same cycle
		if i < 3 {
			waitFor(t, 3*time.Second, func() bool { return !ctl.IsRunning("budget") })
		}
	}

	st, _ := wd.Status("budget")
	if st.State != StateExhausted {
		t.Fatalf("state=%s want Exhausted", st.State)
	}
	if st.Attempts != 3 {
		t.Fatalf("attempts=%d want 3", st.Attempts)
	}

	events := rec.all()
	if len(events) != 4 {
		t.Fatalf("got %d crash events, want 4", len(events))
	}
	for i, e := range events[:3] {
		if !e.AutoRestartAttempted || !e.AutoRestartSucceeded || e.RestartAttemptAt.IsZero() {
			t.Fatalf("event %d: attempted=%v succeeded=%v at=%v, want a resolved attempt",
				i, e.AutoRestartAttempted, e.AutoRestartSucceeded, e.RestartAttemptAt)
		}
	}
	if events[3].AutoRestartAttempted {
		t.Fatalf("final event: AutoRestartAttempted=true, want false")
	}
	if events[3].AutoRestartSucceeded || !events[3].RestartAttemptAt.IsZero() {
		t.Fatalf("final event carries a restart outcome: %+v", events[3])
	}

	// Exhausted is sticky: further ticks must not record or restart.
	wd.Tick(ctx)
	wd.Tick(ctx)
	if got := len(rec.all()); got != 4 {
		t.Fatalf("events after exhaustion=%d want 4", got)
	}
}

func TestNeverStartedServerIsLeftAlone(t *testing.T) {
	ctx := context.Background()
	wd, ctl, rec := newTestWatchdog(t, Config{ProbeMisses: 1})

	// Configured but never started: its absence is not a crash and the
	// restart policy must not launch it on its own.
	wd.Enroll(session.Spec{Name: "idle", Command: "sleep 60"},
		RestartPolicy{Enabled: true, MaxAttempts: 3, Cooldown: time.Millisecond})

	for i := 0; i < 3; i++ {
		wd.Tick(ctx)
	}
	if got := len(rec.all()); got != 0 {
		t.Fatalf("got %d crash events for a never-started server, want 0", got)
	}
	if ctl.IsRunning("idle") {
		t.Fatalf("watchdog launched a server the operator never started")
	}
	st, _ := wd.Status("idle")
	if st.State != StateDisabled {
		t.Fatalf("state=%s want Disabled until observed running", st.State)
	}
	if st.Attempts != 0 {
		t.Fatalf("attempts=%d want 0", st.Attempts)
	}
}

func TestFirstCrashRestartsImmediately(t *testing.T) {
	ctx := context.Background()
	wd, ctl, rec := newTestWatchdog(t, Config{ProbeMisses: 1})

	spec := session.Spec{Name: "prompt", Command: "sleep 60"}
	wd.Enroll(spec, RestartPolicy{Enabled: true, MaxAttempts: 3, Cooldown: time.Hour})

	if _, err := wd.StartServer("prompt"); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	info, found := ctl.Discover("prompt")
	if !found {
		t.Fatalf("Discover: session not found")
	}
	if err := ctl.Kill(info.PID); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return !ctl.IsRunning("prompt") })

	// No prior restart attempt exists, so the hour-long cooldown must not
	// delay the first restart: it runs in the confirming cycle.
	wd.Tick(ctx)
	if !ctl.IsRunning("prompt") {
		t.Fatalf("first crash was not restarted in the same cycle")
	}
	st, _ := wd.Status("prompt")
	if st.State != StateMonitoring || st.Attempts != 1 {
		t.Fatalf("state=%s attempts=%d want Monitoring/1", st.State, st.Attempts)
	}
	if st.LastRestartAttempt.IsZero() {
		t.Fatalf("last_restart_attempt missing from status")
	}
	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d crash events, want 1", len(events))
	}
	if !events[0].AutoRestartAttempted || !events[0].AutoRestartSucceeded || events[0].RestartAttemptAt.IsZero() {
		t.Fatalf("first event not reconciled with its restart outcome: %+v", events[0])
	}

	// A second crash inside the cooldown window is deferred, measured from
	// the last restart attempt.
	info, found = ctl.Discover("prompt")
	if !found {
		t.Fatalf("Discover after restart: session not found")
	}
	if err := ctl.Kill(info.PID); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return !ctl.IsRunning("prompt") })
	wd.Tick(ctx)

	st, _ = wd.Status("prompt")
	if st.State != StateCooldownWait {
		t.Fatalf("state=%s want CooldownWait inside the cooldown window", st.State)
	}
	if st.Attempts != 1 {
		t.Fatalf("attempts=%d want 1, no restart inside the window", st.Attempts)
	}
	if got := st.CooldownUntil.Sub(st.LastRestartAttempt); got != time.Hour {
		t.Fatalf("cooldown_until - last_restart_attempt = %v, want 1h", got)
	}
	if ctl.IsRunning("prompt") {
		t.Fatalf("restarted inside the cooldown window")
	}
	events = rec.all()
	if len(events) != 2 {
		t.Fatalf("got %d crash events, want 2", len(events))
	}
	if !events[1].AutoRestartAttempted || events[1].AutoRestartSucceeded || !events[1].RestartAttemptAt.IsZero() {
		t.Fatalf("deferred event should have no outcome yet: %+v", events[1])
	}

	// Still waiting: further ticks inside the window do nothing.
	wd.Tick(ctx)
	if ctl.IsRunning("prompt") || len(rec.all()) != 2 {
		t.Fatalf("cooldown wait was not honored")
	}
}

func TestExpectedStopIsNotACrash(t *testing.T) {
	ctx := context.Background()
	wd, ctl, rec := newTestWatchdog(t, Config{ProbeMisses: 1})

	spec := session.Spec{Name: "graceful", Command: "sleep 60"}
	wd.Enroll(spec, RestartPolicy{Enabled: true, MaxAttempts: 3, Cooldown: time.Millisecond})

	if _, err := wd.StartServer("graceful"); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	wd.Tick(ctx)

	if err := wd.StopServer("graceful", 2*time.Second); err != nil {
		t.Fatalf("StopServer: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return !ctl.IsRunning("graceful") })

	wd.Tick(ctx)
	wd.Tick(ctx)
	if got := len(rec.all()); got != 0 {
		t.Fatalf("got %d crash events after deliberate stop, want 0", got)
	}
	st, _ := wd.Status("graceful")
	if !st.ExpectedDown {
		t.Fatalf("expected_down=false after StopServer")
	}
	if st.State == StateCooldownWait || st.State == StateExhausted {
		t.Fatalf("state=%s after deliberate stop", st.State)
	}
}

func TestUnexpectedExitRecordedOnce(t *testing.T) {
	ctx := context.Background()
	wd, ctl, rec := newTestWatchdog(t, Config{ProbeMisses: 1})

	spec := session.Spec{Name: "oneshot", Command: "sleep 60"}
	wd.Enroll(spec, RestartPolicy{Enabled: false})

	if _, err := wd.StartServer("oneshot"); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	info, found := ctl.Discover("oneshot")
	if !found {
		t.Fatalf("Discover: session not found")
	}
	if err := ctl.Kill(info.PID); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return !ctl.IsRunning("oneshot") })

	for i := 0; i < 5; i++ {
		wd.Tick(ctx)
	}
	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d crash events, want exactly 1", len(events))
	}
	if events[0].Kind != crash.ProcessDeath {
		t.Fatalf("kind=%s want %s", events[0].Kind, crash.ProcessDeath)
	}
	if events[0].AutoRestartAttempted {
		t.Fatalf("AutoRestartAttempted=true with restarts disabled")
	}
	st, _ := wd.Status("oneshot")
	if st.State != StateDisabled {
		t.Fatalf("state=%s want Disabled", st.State)
	}
}

func TestDeathNeedsConsecutiveMisses(t *testing.T) {
	ctx := context.Background()
	wd, ctl, rec := newTestWatchdog(t, Config{ProbeMisses: 2})

	wd.Enroll(session.Spec{Name: "debounced", Command: "true"}, RestartPolicy{Enabled: false})

	// The command exits immediately, leaving a server that was observed
	// running and is now gone.
	if _, err := wd.StartServer("debounced"); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return !ctl.IsRunning("debounced") })

	wd.Tick(ctx)
	if got := len(rec.all()); got != 0 {
		t.Fatalf("crash recorded after a single miss")
	}
	wd.Tick(ctx)
	if got := len(rec.all()); got != 1 {
		t.Fatalf("got %d crash events after second miss, want 1", got)
	}
}

func TestClassifyDeathPrecedence(t *testing.T) {
	dir := t.TempDir()
	reportDir := filepath.Join(dir, "crash-reports")
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	console := filepath.Join(dir, "server.console.log")
	oomLine := "[12:00:01] [Server thread/ERROR]: java.lang.OutOfMemoryError: Java heap space\n"
	if err := os.WriteFile(console, []byte("starting up\n"+oomLine), 0o644); err != nil {
		t.Fatalf("write console: %v", err)
	}

	spec := session.Spec{Name: "server", CrashReportDir: reportDir}
	spec.Log.Path = console

	mark := time.Now().Add(-time.Minute)

	// No report yet: the OOM line in the console tail wins.
	kind, detail := classifyDeath(spec, mark)
	if kind != crash.OutOfMemory {
		t.Fatalf("kind=%s want %s", kind, crash.OutOfMemory)
	}
	if detail == "" {
		t.Fatalf("expected the matching console line as detail")
	}

	// A fresh report outranks the OOM evidence.
	report := filepath.Join(reportDir, "crash-2026-08-25_12.00.02-server.txt")
	if err := os.WriteFile(report, []byte("---- Crash Report ----\n"), 0o644); err != nil {
		t.Fatalf("write report: %v", err)
	}
	kind, detail = classifyDeath(spec, mark)
	if kind != crash.CrashReport {
		t.Fatalf("kind=%s want %s", kind, crash.CrashReport)
	}
	if detail != filepath.Base(report) {
		t.Fatalf("detail=%q want %q", detail, filepath.Base(report))
	}

	// A report older than the mark does not count.
	kind, _ = classifyDeath(spec, time.Now().Add(time.Hour))
	if kind != crash.OutOfMemory {
		t.Fatalf("stale report: kind=%s want %s", kind, crash.OutOfMemory)
	}

	// Nothing at all: plain process death.
	plain := session.Spec{Name: "plain"}
	kind, detail = classifyDeath(plain, mark)
	if kind != crash.ProcessDeath || detail != "" {
		t.Fatalf("kind=%s detail=%q want %s with empty detail", kind, detail, crash.ProcessDeath)
	}
}

func TestAttemptResetClearsBudget(t *testing.T) {
	ctx := context.Background()
	wd, ctl, _ := newTestWatchdog(t, Config{ProbeMisses: 1})

	spec := session.Spec{Name: "stable", Command: "sleep 60"}
	wd.Enroll(spec, RestartPolicy{Enabled: true, MaxAttempts: 3, Cooldown: time.Millisecond, AttemptReset: 50 * time.Millisecond})

	if _, err := wd.StartServer("stable"); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	info, found := ctl.Discover("stable")
	if !found {
		t.Fatalf("Discover: session not found")
	}
	if err := ctl.Kill(info.PID); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return !ctl.IsRunning("stable") })

	// One crash/restart cycle leaves attempts at 1.
	wd.Tick(ctx)
	waitFor(t, 3*time.Second, func() bool { return ctl.IsRunning("stable") })
	st, _ := wd.Status("stable")
	if st.Attempts != 1 {
		t.Fatalf("attempts=%d want 1", st.Attempts)
	}

	// After the stability window passes with the server alive, the
	// counter resets.
	time.Sleep(60 * time.Millisecond)
	wd.Tick(ctx)
	st, _ = wd.Status("stable")
	if st.Attempts != 0 {
		t.Fatalf("attempts=%d want 0 after stability window", st.Attempts)
	}

	_ = wd.KillServer("stable")
}
