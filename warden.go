// Package warden supervises game server processes: it launches them in
// detached sessions, watches them for crashes, restarts them under a
// configurable policy, and runs background jobs such as backups. The
// package is embeddable; the warden binary in cmd/warden is a thin CLI
// over the same API.
package warden

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ferrost/warden/internal/backup"
	"github.com/ferrost/warden/internal/config"
	"github.com/ferrost/warden/internal/crash"
	"github.com/ferrost/warden/internal/history"
	"github.com/ferrost/warden/internal/history/clickhouse"
	"github.com/ferrost/warden/internal/job"
	"github.com/ferrost/warden/internal/logger"
	"github.com/ferrost/warden/internal/metrics"
	"github.com/ferrost/warden/internal/notify"
	"github.com/ferrost/warden/internal/probe"
	"github.com/ferrost/warden/internal/server"
	"github.com/ferrost/warden/internal/session"
	"github.com/ferrost/warden/internal/store"
	"github.com/ferrost/warden/internal/watchdog"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Spec = session.Spec

type SessionInfo = session.Info

type RestartPolicy = watchdog.RestartPolicy

type WatchdogConfig = watchdog.Config

type ServerStatus = watchdog.Status

type CrashEvent = crash.Event

type Sample = probe.Sample

type JobSnapshot = job.Snapshot

type BackupPolicy = backup.Policy

type HistorySink = history.Sink

type Config = config.FileConfig

// LoadConfig parses and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Daemon wires the supervision core together: session controller,
// watchdog, heartbeat prober, job runner, crash store, history sinks and
// the optional management API.
type Daemon struct {
	cfg    *Config
	ctl    *session.Controller
	wd     *watchdog.Watchdog
	prober *probe.Prober
	jobs   *job.Runner
	st     store.Store
	sinks  []history.Sink
	http   *http.Server
	cancel context.CancelFunc
}

// NewDaemon builds a daemon from config. It connects the store and
// history sinks but does not start any server until Start is called.
func NewDaemon(cfg *Config) (*Daemon, error) {
	runDir := cfg.RunDir
	if runDir == "" {
		runDir = "/var/run/warden"
	}
	logger.Setup(cfg.LogLevel, cfg.LogColor)

	ctl := session.NewController(runDir)
	d := &Daemon{
		cfg:    cfg,
		ctl:    ctl,
		jobs:   job.NewRunner(cfg.Jobs.MaxConcurrent),
		prober: probe.NewProber(ctl, cfg.Heartbeat.Interval, cfg.Heartbeat.PingTimeout),
	}

	if cfg.Store != nil {
		st, err := store.CreateStore(*cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to open crash store: %w", err)
		}
		d.st = st
	}

	if cfg.History != nil {
		if cfg.History.DSN != "" {
			sink, err := history.NewSQLSinkFromDSN(cfg.History.DSN)
			if err != nil {
				d.closeAll()
				return nil, fmt.Errorf("failed to open history sink: %w", err)
			}
			d.sinks = append(d.sinks, sink)
		}
		if cfg.History.ClickHouseDSN != "" {
			table := cfg.History.ClickHouseTable
			if table == "" {
				table = "server_history"
			}
			sink, err := clickhouse.New(cfg.History.ClickHouseDSN, table)
			if err != nil {
				d.closeAll()
				return nil, fmt.Errorf("failed to open clickhouse sink: %w", err)
			}
			d.sinks = append(d.sinks, sink)
		}
	}

	notifier := notify.Multi{notify.SlogNotifier{}}
	if cfg.Notify != nil && cfg.Notify.WebhookURL != "" {
		notifier = append(notifier, notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
	}

	var rec crash.Recorder
	if d.st != nil {
		rec = d.st
	}
	d.wd = watchdog.New(d.ctl, cfg.Watchdog, rec, notifier, d.sinks)
	for _, entry := range cfg.Servers {
		d.wd.Enroll(cfg.Spec(entry), entry.Restart)
	}
	return d, nil
}

// Start launches the supervision loop and, when configured, the
// management API. It returns immediately; Stop shuts everything down.
func (d *Daemon) Start(ctx context.Context) error {
	if d.cfg.Metrics != nil && d.cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.wd.Run(loopCtx)

	if d.cfg.Server != nil && d.cfg.Server.Listen != "" {
		deps := server.Deps{
			Watchdog:    d.wd,
			Prober:      d.prober,
			Jobs:        d.jobs,
			StartBackup: d.StartBackup,
		}
		if d.st != nil {
			deps.Crashes = d.st
		}
		if d.cfg.Metrics != nil && d.cfg.Metrics.Enabled {
			deps.Metrics = metrics.Handler()
		}
		d.http = server.NewServer(d.cfg.Server.Listen, d.cfg.Server.BasePath, deps)
	}
	return nil
}

// Stop shuts the daemon down: the HTTP listener first, then the
// supervision loop, then store and sinks. Running game servers are left
// alive; they are rediscovered on the next start.
func (d *Daemon) Stop(ctx context.Context) error {
	var firstErr error
	if d.http != nil {
		if err := d.http.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if d.cancel != nil {
		d.cancel()
	}
	if err := d.closeAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (d *Daemon) closeAll() error {
	var firstErr error
	if d.st != nil {
		if err := d.st.Close(); err != nil {
			firstErr = err
		}
	}
	for _, s := range d.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// StartBackup enqueues a backup job for a configured server and returns
// the job id.
func (d *Daemon) StartBackup(ctx context.Context, name string) (string, error) {
	pol, ok := d.cfg.BackupPolicy(name)
	if !ok {
		return "", fmt.Errorf("no backup policy configured for server %q", name)
	}
	for _, snap := range d.jobs.ListActive(backup.JobType) {
		if snap.Server == name {
			return "", fmt.Errorf("backup already in progress for server %q (job %s)", name, snap.ID)
		}
	}
	spec, ok := d.ctl.SpecFor(name)
	if !ok {
		return "", fmt.Errorf("unknown server %q", name)
	}
	dest, err := backup.NewDestination(pol.Dest)
	if err != nil {
		return "", err
	}
	fn := backup.NewJob(name, spec.WorkDir, pol, dest, d.ctl)
	wrapped := func(ctx context.Context, report func(int, string)) error {
		defer func() { _ = dest.Close() }()
		return fn(ctx, report)
	}
	return d.jobs.Enqueue(ctx, backup.JobType, name, wrapped), nil
}

// Watchdog exposes the supervision state machine for embedding.
func (d *Daemon) Watchdog() *watchdog.Watchdog { return d.wd }

// Jobs exposes the background job runner.
func (d *Daemon) Jobs() *job.Runner { return d.jobs }

// Prober exposes the heartbeat sampler.
func (d *Daemon) Prober() *probe.Prober { return d.prober }

// Router returns the management API handler for mounting in an external
// HTTP server.
func (d *Daemon) Router(basePath string) http.Handler {
	deps := server.Deps{
		Watchdog:    d.wd,
		Prober:      d.prober,
		Jobs:        d.jobs,
		StartBackup: d.StartBackup,
	}
	if d.st != nil {
		deps.Crashes = d.st
	}
	return server.NewRouter(deps, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It blocks in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
