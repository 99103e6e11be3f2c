package client

import "time"

// ServerStatus mirrors the watchdog's supervision snapshot.
type ServerStatus struct {
	Server             string    `json:"server"`
	State              string    `json:"state"`
	Alive              bool      `json:"alive"`
	Attempts           int       `json:"attempts"`
	LastCrashKind      string    `json:"last_crash_kind,omitempty"`
	LastCrashAt        time.Time `json:"last_crash_at,omitzero"`
	LastRestartAttempt time.Time `json:"last_restart_attempt,omitzero"`
	CooldownUntil      time.Time `json:"cooldown_until,omitzero"`
	ExpectedDown       bool      `json:"expected_down"`
}

// SessionInfo describes a launched server session.
type SessionInfo struct {
	Name      string `json:"name"`
	PID       int    `json:"pid"`
	SessionID int    `json:"session_id"`
	StartUnix int64  `json:"start_unix"`
}

// CrashEvent is one recorded crash.
type CrashEvent struct {
	ID                   int64     `json:"id"`
	Server               string    `json:"server"`
	Kind                 string    `json:"kind"`
	Detail               string    `json:"detail,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
	AutoRestartAttempted bool      `json:"auto_restart_attempted"`
	AutoRestartSucceeded bool      `json:"auto_restart_succeeded"`
	RestartAttemptAt     time.Time `json:"restart_attempt_at,omitzero"`
}

// JobSnapshot is one background job's state.
type JobSnapshot struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Server     string    `json:"server,omitempty"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

type jobStartedResponse struct {
	JobID string `json:"job_id"`
}
