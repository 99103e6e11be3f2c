package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ferrost/warden/internal/crash"
	"github.com/ferrost/warden/internal/history"
	"github.com/ferrost/warden/internal/metrics"
	"github.com/ferrost/warden/internal/notify"
	"github.com/ferrost/warden/internal/probe"
	"github.com/ferrost/warden/internal/session"
)

// Config tunes the supervision loop.
type Config struct {
	Interval    time.Duration `toml:"interval" json:"interval" mapstructure:"interval"`             // tick cadence
	ProbeMisses int           `toml:"probe_misses" json:"probe_misses" mapstructure:"probe_misses"` // consecutive liveness misses before a death is confirmed
	PingMisses  int           `toml:"ping_misses" json:"ping_misses" mapstructure:"ping_misses"`    // consecutive ping failures before a Timeout crash
	PingTimeout time.Duration `toml:"ping_timeout" json:"ping_timeout" mapstructure:"ping_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.ProbeMisses <= 0 {
		// One inconclusive probe is not evidence; require a second
		// consecutive miss before classifying a crash.
		c.ProbeMisses = 2
	}
	if c.PingMisses <= 0 {
		c.PingMisses = 3
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 2 * time.Second
	}
}

// entry is the per-server supervision record. opMu serializes ticks against
// manual operations: a tick that cannot take it is skipped, never queued.
// mu guards the snapshot fields and is only held for short sections.
type entry struct {
	opMu sync.Mutex
	mu   sync.Mutex

	spec   session.Spec
	policy RestartPolicy

	state         State
	attempts      int
	misses        int
	pingMisses    int
	wasRunning    bool // observed alive at least once; absence before that is not a crash
	expected      bool // deliberate stop in effect; deaths are not crashes
	downRecorded  bool // current death already recorded, do not re-record
	lastCrashAt   time.Time
	lastKind      crash.Kind
	lastRestartAt time.Time // when the most recent restart attempt ran
	cooldownUntil time.Time
	reportMark    time.Time // crash reports newer than this are "fresh"
	pending       *crash.Event // crash awaiting its deferred restart attempt
}

// Watchdog supervises enrolled servers: it confirms deaths, classifies
// them, records crash events, notifies operators and drives the restart
// policy state machine.
type Watchdog struct {
	ctl      *session.Controller
	cfg      Config
	rec      crash.Recorder
	notifier notify.Notifier
	sinks    []history.Sink

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a watchdog. rec, notifier and sinks may be nil/empty.
func New(ctl *session.Controller, cfg Config, rec crash.Recorder, notifier notify.Notifier, sinks []history.Sink) *Watchdog {
	cfg.applyDefaults()
	return &Watchdog{
		ctl:      ctl,
		cfg:      cfg,
		rec:      rec,
		notifier: notifier,
		sinks:    sinks,
		entries:  make(map[string]*entry),
	}
}

// Enroll registers a server for supervision. Re-enrolling replaces the spec
// and policy but keeps the current state.
func (w *Watchdog) Enroll(spec session.Spec, policy RestartPolicy) {
	w.ctl.Register(spec)
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[spec.Name]; ok {
		e.mu.Lock()
		e.spec = spec
		e.policy = policy
		e.mu.Unlock()
		return
	}
	// A server enters Monitoring only once it is observed running; until
	// then nothing it does (or fails to do) is a crash.
	wasRunning := w.ctl.IsRunning(spec.Name)
	state := StateDisabled
	if policy.Enabled && wasRunning {
		state = StateMonitoring
	}
	w.entries[spec.Name] = &entry{
		spec:       spec,
		policy:     policy,
		state:      state,
		wasRunning: wasRunning,
		reportMark: time.Now(),
	}
	metrics.SetWatchdogState(spec.Name, string(state), true)
}

// Remove drops a server from supervision. The session itself is untouched.
func (w *Watchdog) Remove(name string) {
	w.mu.Lock()
	delete(w.entries, name)
	w.mu.Unlock()
}

func (w *Watchdog) entry(name string) *entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries[name]
}

// Status returns a snapshot for one server.
func (w *Watchdog) Status(name string) (Status, bool) {
	e := w.entry(name)
	if e == nil {
		return Status{}, false
	}
	return w.snapshot(name, e), true
}

// Statuses returns snapshots for all enrolled servers, sorted by name.
func (w *Watchdog) Statuses() []Status {
	w.mu.Lock()
	names := make([]string, 0, len(w.entries))
	es := make([]*entry, 0, len(w.entries))
	for n, e := range w.entries {
		names = append(names, n)
		es = append(es, e)
	}
	w.mu.Unlock()

	out := make([]Status, len(names))
	for i := range names {
		out[i] = w.snapshot(names[i], es[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Server < out[j].Server })
	return out
}

func (w *Watchdog) snapshot(name string, e *entry) Status {
	alive := w.ctl.IsRunning(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Server:             name,
		State:              e.state,
		Alive:              alive,
		Attempts:           e.attempts,
		LastCrashKind:      string(e.lastKind),
		LastCrashAt:        e.lastCrashAt,
		LastRestartAttempt: e.lastRestartAt,
		CooldownUntil:      e.cooldownUntil,
		ExpectedDown:       e.expected,
	}
}

// Run drives the supervision loop until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick performs one supervision pass over all enrolled servers.
func (w *Watchdog) Tick(ctx context.Context) {
	w.mu.Lock()
	es := make([]*entry, 0, len(w.entries))
	for _, e := range w.entries {
		es = append(es, e)
	}
	w.mu.Unlock()
	for _, e := range es {
		w.tickEntry(ctx, e)
	}
}

func (w *Watchdog) tickEntry(ctx context.Context, e *entry) {
	// A manual operation holds opMu for its whole duration; skip this
	// server rather than queue behind it.
	if !e.opMu.TryLock() {
		return
	}
	defer e.opMu.Unlock()

	e.mu.Lock()
	name := e.spec.Name
	e.mu.Unlock()

	alive := w.ctl.IsRunning(name)
	now := time.Now()

	if alive {
		w.tickAlive(ctx, e, now)
		return
	}

	e.mu.Lock()
	switch {
	case e.expected:
		// Deliberate stop; not a crash.
		e.mu.Unlock()
	case e.downRecorded:
		e.mu.Unlock()
	case e.state == StateCooldownWait:
		due := now.After(e.cooldownUntil)
		var ev *crash.Event
		if due {
			ev = e.pending
			e.pending = nil
		}
		e.mu.Unlock()
		if due {
			w.attemptRestart(ctx, e, now, ev)
		}
	case e.state == StateExhausted:
		e.mu.Unlock()
	case !e.wasRunning:
		// Never observed running; a configured-but-unstarted server is
		// not a crash.
		e.mu.Unlock()
	default: // unexpectedly absent after having run
		e.misses++
		confirmed := e.misses >= w.cfg.ProbeMisses
		if confirmed {
			e.misses = 0
		}
		spec := e.spec
		mark := e.reportMark
		e.mu.Unlock()
		if confirmed {
			kind, detail := classifyDeath(spec, mark)
			w.handleCrash(ctx, e, kind, detail, now)
		}
	}
}

func (w *Watchdog) tickAlive(ctx context.Context, e *entry, now time.Time) {
	e.mu.Lock()
	e.misses = 0
	e.downRecorded = false
	e.wasRunning = true
	if e.state == StateCooldownWait {
		// Someone brought it back before the cooldown ran out.
		e.state = StateMonitoring
		e.pending = nil
		metrics.SetWatchdogState(e.spec.Name, string(StateMonitoring), true)
	}
	if e.state == StateDisabled && e.policy.Enabled {
		// First observation of the server running promotes it.
		e.state = StateMonitoring
		metrics.SetWatchdogState(e.spec.Name, string(StateMonitoring), true)
	}
	if e.attempts > 0 && e.policy.AttemptReset > 0 && !e.lastRestartAt.IsZero() &&
		now.Sub(e.lastRestartAt) >= e.policy.AttemptReset {
		e.attempts = 0
	}
	name := e.spec.Name
	addr := e.spec.PingAddress
	checkPing := addr != "" && e.state == StateMonitoring
	e.mu.Unlock()

	if !checkPing {
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, w.cfg.PingTimeout)
	_, err := probe.Ping(pingCtx, addr)
	cancel()

	e.mu.Lock()
	if err == nil {
		e.pingMisses = 0
		e.mu.Unlock()
		return
	}
	e.pingMisses++
	frozen := e.pingMisses >= w.cfg.PingMisses
	if frozen {
		e.pingMisses = 0
	}
	e.mu.Unlock()

	if frozen {
		// Alive but unresponsive: take it down and run the crash path.
		slog.Warn("server unresponsive to pings, killing", "server", name)
		_ = w.ctl.KillServer(name)
		w.handleCrash(ctx, e, crash.Timeout, "unresponsive to status pings", now)
	}
}

// handleCrash records a confirmed crash and advances the restart state
// machine. AutoRestartAttempted reflects whether the policy will act. A
// restart runs in the same cycle unless the last attempt was less than
// one cooldown ago, in which case it is deferred to CooldownWait.
func (w *Watchdog) handleCrash(ctx context.Context, e *entry, kind crash.Kind, detail string, now time.Time) {
	e.mu.Lock()
	name := e.spec.Name
	willRestart := e.policy.Enabled && e.state != StateExhausted &&
		(e.policy.MaxAttempts == 0 || e.attempts < e.policy.MaxAttempts)
	inCooldown := willRestart && !e.lastRestartAt.IsZero() &&
		now.Sub(e.lastRestartAt) < e.policy.Cooldown
	notifyCrash := e.policy.NotifyOnCrash
	attempts := e.attempts
	e.lastCrashAt = now
	e.lastKind = kind
	e.reportMark = now
	prevState := e.state
	var newState State
	switch {
	case inCooldown:
		newState = StateCooldownWait
		e.cooldownUntil = e.lastRestartAt.Add(e.policy.Cooldown)
	case willRestart:
		newState = prevState // restart attempted below, in this same cycle
	case e.policy.Enabled:
		newState = StateExhausted
		e.downRecorded = true
	default:
		newState = e.state // Disabled stays Disabled
		e.downRecorded = true
	}
	e.state = newState
	e.mu.Unlock()

	slog.Error("server crash confirmed", "server", name, "kind", kind, "detail", detail, "auto_restart", willRestart)

	ev := &crash.Event{
		Server:               name,
		Kind:                 kind,
		Detail:               detail,
		OccurredAt:           now,
		AutoRestartAttempted: willRestart,
	}
	if w.rec != nil {
		if err := w.rec.RecordCrash(ctx, ev); err != nil {
			slog.Error("failed to record crash event", "server", name, "error", err)
		}
	}
	metrics.IncCrash(name, string(kind))
	if prevState != newState {
		metrics.SetWatchdogState(name, string(prevState), false)
		metrics.SetWatchdogState(name, string(newState), true)
	}
	w.emit(ctx, history.Event{Type: history.EventCrash, Server: name, Kind: string(kind), Detail: detail, Attempt: attempts, OccurredAt: now})

	if notifyCrash && w.notifier != nil {
		msg := fmt.Sprintf("%s crashed (%s)", name, kind)
		if detail != "" {
			msg += ": " + detail
		}
		if err := w.notifier.Notify(ctx, notify.Notification{Server: name, Subject: "crash", Message: msg, At: now}); err != nil {
			slog.Warn("crash notification failed", "server", name, "error", err)
		}
	}

	if newState == StateExhausted {
		metrics.IncExhaustion(name)
		w.emit(ctx, history.Event{Type: history.EventExhausted, Server: name, Attempt: attempts, OccurredAt: now})
	}

	if willRestart {
		if inCooldown {
			e.mu.Lock()
			e.pending = ev
			e.mu.Unlock()
			return
		}
		w.attemptRestart(ctx, e, now, ev)
	}
}

// attemptRestart consumes one restart attempt and reconciles the crash
// event that triggered it with the attempt's outcome.
func (w *Watchdog) attemptRestart(ctx context.Context, e *entry, now time.Time, ev *crash.Event) {
	e.mu.Lock()
	e.attempts++
	attempt := e.attempts
	name := e.spec.Name
	spec := e.spec
	prevState := e.state
	e.lastRestartAt = now
	e.cooldownUntil = now.Add(e.policy.Cooldown)
	notifyRestart := e.policy.NotifyOnRestart
	e.mu.Unlock()

	slog.Info("attempting automatic restart", "server", name, "attempt", attempt)
	metrics.IncRestart(name)
	w.emit(ctx, history.Event{Type: history.EventRestart, Server: name, Attempt: attempt, OccurredAt: now})
	if notifyRestart && w.notifier != nil {
		msg := fmt.Sprintf("restarting %s (attempt %d)", name, attempt)
		if err := w.notifier.Notify(ctx, notify.Notification{Server: name, Subject: "restart", Message: msg, At: now}); err != nil {
			slog.Warn("restart notification failed", "server", name, "error", err)
		}
	}

	_, err := w.ctl.StartSession(spec)

	if ev != nil {
		ev.RestartAttemptAt = now
		ev.AutoRestartSucceeded = err == nil
		if w.rec != nil && ev.ID != 0 {
			if uerr := w.rec.MarkRestartOutcome(ctx, ev.ID, now, err == nil); uerr != nil {
				slog.Warn("failed to record restart outcome", "server", name, "error", uerr)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		slog.Error("automatic restart failed", "server", name, "attempt", attempt, "error", err)
		if e.policy.MaxAttempts == 0 || e.attempts < e.policy.MaxAttempts {
			e.state = StateCooldownWait
			e.cooldownUntil = now.Add(e.policy.Cooldown)
			e.pending = ev // the next attempt still answers this crash
			if prevState != StateCooldownWait {
				metrics.SetWatchdogState(name, string(prevState), false)
				metrics.SetWatchdogState(name, string(StateCooldownWait), true)
			}
			return
		}
		e.state = StateExhausted
		e.downRecorded = true
		metrics.SetWatchdogState(name, string(prevState), false)
		metrics.SetWatchdogState(name, string(StateExhausted), true)
		metrics.IncExhaustion(name)
		w.emit(ctx, history.Event{Type: history.EventExhausted, Server: name, Attempt: e.attempts, OccurredAt: now})
		return
	}
	e.state = StateMonitoring
	e.misses = 0
	e.downRecorded = false
	e.wasRunning = true
	if prevState != StateMonitoring {
		metrics.SetWatchdogState(name, string(prevState), false)
		metrics.SetWatchdogState(name, string(StateMonitoring), true)
	}
}

// StartServer launches the enrolled server and resets the restart budget.
// It clears the expected-transition flag so the watchdog resumes treating
// deaths as crashes.
func (w *Watchdog) StartServer(name string) (session.Info, error) {
	e := w.entry(name)
	if e == nil {
		return session.Info{}, fmt.Errorf("server %q not enrolled", name)
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	spec := e.spec
	e.mu.Unlock()

	info, err := w.ctl.StartSession(spec)
	if err != nil {
		return session.Info{}, err
	}

	e.mu.Lock()
	e.expected = false
	e.downRecorded = false
	e.wasRunning = true
	e.misses = 0
	e.pingMisses = 0
	e.attempts = 0
	e.lastRestartAt = time.Time{}
	e.cooldownUntil = time.Time{}
	e.pending = nil
	if e.policy.Enabled {
		e.state = StateMonitoring
	} else {
		e.state = StateDisabled
	}
	metrics.SetWatchdogState(name, string(e.state), true)
	e.mu.Unlock()
	return info, nil
}

// StopServer flags the coming death as expected before stopping, so it is
// never classified as a crash.
func (w *Watchdog) StopServer(name string, wait time.Duration) error {
	e := w.entry(name)
	if e == nil {
		return w.ctl.Stop(name, wait)
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	e.expected = true
	e.mu.Unlock()
	return w.ctl.Stop(name, wait)
}

// KillServer force-kills the session; like StopServer the transition is
// expected and does not count as a crash.
func (w *Watchdog) KillServer(name string) error {
	e := w.entry(name)
	if e == nil {
		return w.ctl.KillServer(name)
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	e.expected = true
	e.mu.Unlock()
	return w.ctl.KillServer(name)
}

// SendCommand forwards one console line to the server's session.
func (w *Watchdog) SendCommand(name, line string) error {
	return w.ctl.SendCommand(name, line)
}

func (w *Watchdog) emit(ctx context.Context, ev history.Event) {
	for _, s := range w.sinks {
		if err := s.Send(ctx, ev); err != nil {
			slog.Warn("history sink send failed", "server", ev.Server, "event", ev.Type, "error", err)
		}
	}
}
