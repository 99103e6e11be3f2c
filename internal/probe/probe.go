package probe

import (
	"context"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/ferrost/warden/internal/session"
)

// Sample is one observation of a server's health. Liveness comes from the
// session controller; the optional game ping and memory figures are
// best-effort and absent when unavailable.
type Sample struct {
	Name      string      `json:"name"`
	At        time.Time   `json:"at"`
	Alive     bool        `json:"alive"`
	PID       int         `json:"pid,omitempty"`
	MemoryRSS uint64      `json:"memory_rss,omitempty"`
	Ping      *PingResult `json:"ping,omitempty"`
	PingErr   string      `json:"ping_err,omitempty"`
}

// Prober produces heartbeat samples for servers managed by a session
// controller. It holds no per-server state; every sample is derived fresh.
type Prober struct {
	ctl         *session.Controller
	interval    time.Duration
	pingTimeout time.Duration
}

// NewProber creates a prober polling at interval. pingTimeout bounds each
// game ping attempt; zero disables the deadline.
func NewProber(ctl *session.Controller, interval, pingTimeout time.Duration) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	return &Prober{ctl: ctl, interval: interval, pingTimeout: pingTimeout}
}

// Interval returns the configured polling interval.
func (p *Prober) Interval() time.Duration { return p.interval }

// SampleOnce produces a single sample for the named server.
func (p *Prober) SampleOnce(ctx context.Context, name string) Sample {
	s := Sample{Name: name, At: time.Now()}
	info, ok := p.ctl.Discover(name)
	if !ok {
		return s
	}
	s.Alive = true
	s.PID = info.PID
	if proc, err := gopsproc.NewProcess(int32(info.PID)); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			s.MemoryRSS = mem.RSS
		}
	}
	if spec, ok := p.ctl.SpecFor(name); ok && spec.PingAddress != "" {
		pingCtx, cancel := context.WithTimeout(ctx, p.pingTimeout)
		res, err := Ping(pingCtx, spec.PingAddress)
		cancel()
		if err != nil {
			s.PingErr = err.Error()
		} else {
			s.Ping = res
		}
	}
	return s
}

// Stream returns a channel delivering one sample per poll interval until
// ctx is canceled, at which point the channel is closed. The stream never
// ends on its own; consumers decide when to stop listening.
func (p *Prober) Stream(ctx context.Context, name string) <-chan Sample {
	out := make(chan Sample, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		// Emit an immediate first sample so subscribers are not left
		// waiting a full interval for initial state.
		select {
		case out <- p.SampleOnce(ctx, name):
		case <-ctx.Done():
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- p.SampleOnce(ctx, name):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
