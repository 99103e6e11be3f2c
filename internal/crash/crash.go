package crash

import (
	"context"
	"time"
)

// Kind classifies why a server went down. The set is closed; everything the
// watchdog cannot attribute more precisely is a ProcessDeath.
type Kind string

const (
	ProcessDeath Kind = "ProcessDeath" // process vanished with no other evidence
	CrashReport  Kind = "CrashReport"  // fresh crash-report artifact found on disk
	OutOfMemory  Kind = "OutOfMemory"  // OOM pattern in the console log tail
	Timeout      Kind = "Timeout"      // alive but unresponsive to pings
)

// Event is one recorded crash. AutoRestartAttempted is false when the
// restart policy declined to act (disabled or attempts exhausted). The
// restart outcome fields are filled in after the attempt resolves:
// RestartAttemptAt stays zero until a restart was actually tried.
type Event struct {
	ID                   int64     `json:"id"`
	Server               string    `json:"server"`
	Kind                 Kind      `json:"kind"`
	Detail               string    `json:"detail,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
	AutoRestartAttempted bool      `json:"auto_restart_attempted"`
	AutoRestartSucceeded bool      `json:"auto_restart_succeeded"`
	RestartAttemptAt     time.Time `json:"restart_attempt_at,omitzero"`
}

// Recorder is the persistence collaborator for crash events.
// Implementations must be safe for concurrent use.
type Recorder interface {
	RecordCrash(ctx context.Context, e *Event) error
	// MarkRestartOutcome reconciles a previously recorded event once the
	// restart attempt it announced has run.
	MarkRestartOutcome(ctx context.Context, id int64, attemptAt time.Time, succeeded bool) error
	ListCrashes(ctx context.Context, server string, limit int) ([]Event, error)
	ClearCrashes(ctx context.Context, server string) error
}
