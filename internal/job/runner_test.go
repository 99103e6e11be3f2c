package job

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitStatus(t *testing.T, r *Runner, id string, want Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := r.Status(id); ok && snap.Status == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap, _ := r.Status(id)
	t.Fatalf("job %s never reached %s (last: %s)", id, want, snap.Status)
	return Snapshot{}
}

func TestJobCompletesWithProgress(t *testing.T) {
	r := NewRunner(2)
	release := make(chan struct{})
	id := r.Enqueue(context.Background(), "modpack-install", "alpha", func(_ context.Context, report func(int, string)) error {
		report(25, "downloading")
		report(50, "verifying")
		<-release
		report(100, "done")
		return nil
	})

	ch, cancel, ok := r.Subscribe(id)
	if !ok {
		t.Fatalf("Subscribe: job not found")
	}
	defer cancel()

	// The first delivery is always the current snapshot, even before any
	// progress report arrives.
	first := <-ch
	if first.ID != id {
		t.Fatalf("first event id=%s want %s", first.ID, id)
	}

	close(release)
	last := first
	for snap := range ch {
		if snap.Progress < last.Progress {
			t.Fatalf("progress went backwards: %d -> %d", last.Progress, snap.Progress)
		}
		last = snap
	}
	if last.Status != StatusCompleted {
		t.Fatalf("final status=%s want Completed", last.Status)
	}
	if last.Progress != 100 {
		t.Fatalf("final progress=%d want 100", last.Progress)
	}
}

func TestJobFailureCarriesError(t *testing.T) {
	r := NewRunner(1)
	id := r.Enqueue(context.Background(), "backup", "alpha", func(context.Context, func(int, string)) error {
		return errors.New("disk full")
	})
	snap := waitStatus(t, r, id, StatusFailed)
	if snap.Error != "disk full" {
		t.Fatalf("error=%q want %q", snap.Error, "disk full")
	}
	if snap.FinishedAt.IsZero() {
		t.Fatalf("finished_at not set")
	}
}

func TestJobPanicIsContained(t *testing.T) {
	r := NewRunner(1)
	id := r.Enqueue(context.Background(), "backup", "", func(context.Context, func(int, string)) error {
		panic("boom")
	})
	snap := waitStatus(t, r, id, StatusFailed)
	if snap.Error == "" {
		t.Fatalf("expected panic to surface as job error")
	}

	// The runner keeps working after a panic.
	id2 := r.Enqueue(context.Background(), "backup", "", func(context.Context, func(int, string)) error {
		return nil
	})
	waitStatus(t, r, id2, StatusCompleted)
}

func TestSubscribeAfterCompletion(t *testing.T) {
	r := NewRunner(1)
	id := r.Enqueue(context.Background(), "backup", "", func(context.Context, func(int, string)) error {
		return nil
	})
	waitStatus(t, r, id, StatusCompleted)

	ch, cancel, ok := r.Subscribe(id)
	if !ok {
		t.Fatalf("Subscribe: job not found")
	}
	defer cancel()
	snap, open := <-ch
	if !open || snap.Status != StatusCompleted {
		t.Fatalf("expected terminal snapshot, got open=%v status=%s", open, snap.Status)
	}
	if _, open = <-ch; open {
		t.Fatalf("channel should be closed after the terminal snapshot")
	}
}

func TestListActiveExcludesFinished(t *testing.T) {
	r := NewRunner(2)
	release := make(chan struct{})
	running := r.Enqueue(context.Background(), "modpack-install", "alpha", func(context.Context, func(int, string)) error {
		<-release
		return nil
	})
	done := r.Enqueue(context.Background(), "backup", "beta", func(context.Context, func(int, string)) error {
		return nil
	})
	waitStatus(t, r, done, StatusCompleted)

	active := r.ListActive("")
	if len(active) != 1 || active[0].ID != running {
		t.Fatalf("active=%v want exactly the running job %s", active, running)
	}
	if got := r.ListActive("backup"); len(got) != 0 {
		t.Fatalf("active backups=%d want 0", len(got))
	}
	if got := r.ListActive("modpack-install"); len(got) != 1 {
		t.Fatalf("active installs=%d want 1", len(got))
	}

	close(release)
	waitStatus(t, r, running, StatusCompleted)
	if got := r.ListActive(""); len(got) != 0 {
		t.Fatalf("active after completion=%d want 0", len(got))
	}
}

func TestSlowSubscriberKeepsNewest(t *testing.T) {
	r := NewRunner(1)
	start := make(chan struct{})
	finish := make(chan struct{})
	id := r.Enqueue(context.Background(), "backup", "", func(_ context.Context, report func(int, string)) error {
		<-start
		for i := 1; i <= subscriberBuffer*3; i++ {
			report(i, "")
		}
		<-finish
		return nil
	})
	ch, cancel, ok := r.Subscribe(id)
	if !ok {
		t.Fatalf("Subscribe: job not found")
	}
	defer cancel()
	<-ch // snapshot-first delivery
	close(start)

	// Let the reports flood a consumer that is not reading.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, _ := r.Status(id); snap.Progress == subscriberBuffer*3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(finish)
	waitStatus(t, r, id, StatusCompleted)

	var last Snapshot
	for snap := range ch {
		last = snap
	}
	// Oldest snapshots were dropped, but the newest made it through.
	if last.Status != StatusCompleted {
		t.Fatalf("final status=%s want Completed", last.Status)
	}
}
