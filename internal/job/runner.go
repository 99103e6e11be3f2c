package job

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ferrost/warden/internal/metrics"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "Queued"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Snapshot is an immutable view of a job at a point in time.
type Snapshot struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Server     string    `json:"server,omitempty"`
	Status     Status    `json:"status"`
	Progress   int       `json:"progress"` // 0..100
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Fn is the body of a job. report publishes progress (0..100) with an
// optional human-readable message; calls with a lower percentage than the
// last report are ignored so observers always see monotonic progress.
type Fn func(ctx context.Context, report func(pct int, msg string)) error

const subscriberBuffer = 16

type jobState struct {
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// Runner executes jobs asynchronously with bounded concurrency and fans
// progress out to subscribers.
type Runner struct {
	mu   sync.Mutex
	jobs map[string]*jobState
	sem  chan struct{}
}

// NewRunner creates a runner executing at most maxConcurrent jobs at once
// (0 or negative means 4).
func NewRunner(maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Runner{
		jobs: make(map[string]*jobState),
		sem:  make(chan struct{}, maxConcurrent),
	}
}

// Enqueue registers a job and schedules it for execution. The returned id
// can be used with Status and Subscribe immediately.
func (r *Runner) Enqueue(ctx context.Context, typ, server string, fn Fn) string {
	id := uuid.NewString()
	st := &jobState{
		snap: Snapshot{
			ID:        id,
			Type:      typ,
			Server:    server,
			Status:    StatusQueued,
			CreatedAt: time.Now(),
		},
		subs: make(map[int]chan Snapshot),
	}
	r.mu.Lock()
	r.jobs[id] = st
	active := r.activeLocked()
	r.mu.Unlock()
	metrics.SetActiveJobs(active)

	go r.run(ctx, id, typ, fn)
	return id
}

func (r *Runner) run(ctx context.Context, id, typ string, fn Fn) {
	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	r.update(id, func(s *Snapshot) {
		s.Status = StatusRunning
		s.StartedAt = time.Now()
	})
	metrics.IncJobStarted(typ)
	slog.Info("job started", "job", id, "type", typ)

	report := func(pct int, msg string) {
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		r.update(id, func(s *Snapshot) {
			if pct > s.Progress {
				s.Progress = pct
			}
			if msg != "" {
				s.Message = msg
			}
		})
	}

	err := r.invoke(ctx, fn, report)

	status := StatusCompleted
	r.update(id, func(s *Snapshot) {
		s.FinishedAt = time.Now()
		if err != nil {
			status = StatusFailed
			s.Status = StatusFailed
			s.Error = err.Error()
		} else {
			s.Status = StatusCompleted
			s.Progress = 100
		}
	})
	metrics.IncJobFinished(typ, string(status))
	if err != nil {
		slog.Error("job failed", "job", id, "type", typ, "error", err)
	} else {
		slog.Info("job completed", "job", id, "type", typ)
	}

	r.mu.Lock()
	st := r.jobs[id]
	for _, ch := range st.subs {
		close(ch)
	}
	st.subs = make(map[int]chan Snapshot)
	active := r.activeLocked()
	r.mu.Unlock()
	metrics.SetActiveJobs(active)
}

// invoke runs fn and converts a panic into an error so one bad job cannot
// take the process down.
func (r *Runner) invoke(ctx context.Context, fn Fn, report func(int, string)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return fn(ctx, report)
}

func (r *Runner) update(id string, mutate func(*Snapshot)) {
	r.mu.Lock()
	st, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	mutate(&st.snap)
	snap := st.snap
	for _, ch := range st.subs {
		sendDropOldest(ch, snap)
	}
	r.mu.Unlock()
}

// sendDropOldest delivers snap to ch without blocking; if the buffer is
// full the oldest queued snapshot is discarded first. Later snapshots
// supersede earlier ones, so losing stale ones is safe.
func sendDropOldest(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Status returns the current snapshot for a job.
func (r *Runner) Status(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return st.snap, true
}

// Subscribe returns a channel that first delivers the job's current
// snapshot and then every subsequent change. The channel is closed when
// the job reaches a terminal state or cancel is called. A slow consumer
// loses the oldest buffered snapshots, never the newest.
func (r *Runner) Subscribe(id string) (<-chan Snapshot, func(), bool) {
	r.mu.Lock()
	st, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, nil, false
	}
	ch := make(chan Snapshot, subscriberBuffer)
	ch <- st.snap
	if st.snap.Status.Terminal() {
		close(ch)
		r.mu.Unlock()
		return ch, func() {}, true
	}
	key := st.nextSub
	st.nextSub++
	st.subs[key] = ch
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, live := st.subs[key]; live {
			delete(st.subs, key)
			close(cur)
		}
	}
	return ch, cancel, true
}

// ListActive returns snapshots of all queued and running jobs, newest
// first. A non-empty typeFilter restricts the result to jobs of that
// type.
func (r *Runner) ListActive(typeFilter string) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Snapshot
	for _, st := range r.jobs {
		if st.snap.Status.Terminal() {
			continue
		}
		if typeFilter != "" && st.snap.Type != typeFilter {
			continue
		}
		out = append(out, st.snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// List returns snapshots of all known jobs, newest first, at most limit
// entries (0 means all).
func (r *Runner) List(limit int) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.jobs))
	for _, st := range r.jobs {
		out = append(out, st.snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *Runner) activeLocked() int {
	n := 0
	for _, st := range r.jobs {
		if !st.snap.Status.Terminal() {
			n++
		}
	}
	return n
}
