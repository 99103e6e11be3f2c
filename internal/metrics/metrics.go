package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	crashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "watchdog",
			Name:      "crashes_total",
			Help:      "Number of classified crashes per server and kind.",
		}, []string{"server", "kind"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "watchdog",
			Name:      "restarts_total",
			Help:      "Number of automatic restart attempts.",
		}, []string{"server"},
	)
	exhaustions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "watchdog",
			Name:      "exhaustions_total",
			Help:      "Number of times the restart budget ran out.",
		}, []string{"server"},
	)
	watchdogState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "watchdog",
			Name:      "state",
			Help:      "Current watchdog state per server (1 = active state, 0 = inactive).",
		}, []string{"server", "state"},
	)
	jobsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "job",
			Name:      "started_total",
			Help:      "Number of jobs started, by job type.",
		}, []string{"type"},
	)
	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "job",
			Name:      "finished_total",
			Help:      "Number of jobs finished, by job type and terminal status.",
		}, []string{"type", "status"},
	)
	activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "job",
			Name:      "active",
			Help:      "Number of currently queued or running jobs.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{crashes, restarts, exhaustions, watchdogState, jobsStarted, jobsFinished, activeJobs}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route and server.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncCrash(server, kind string) {
	if regOK.Load() {
		crashes.WithLabelValues(server, kind).Inc()
	}
}

func IncRestart(server string) {
	if regOK.Load() {
		restarts.WithLabelValues(server).Inc()
	}
}

func IncExhaustion(server string) {
	if regOK.Load() {
		exhaustions.WithLabelValues(server).Inc()
	}
}

func SetWatchdogState(server, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		watchdogState.WithLabelValues(server, state).Set(value)
	}
}

func IncJobStarted(jobType string) {
	if regOK.Load() {
		jobsStarted.WithLabelValues(jobType).Inc()
	}
}

func IncJobFinished(jobType, status string) {
	if regOK.Load() {
		jobsFinished.WithLabelValues(jobType, status).Inc()
	}
}

func SetActiveJobs(n int) {
	if regOK.Load() {
		activeJobs.Set(float64(n))
	}
}
