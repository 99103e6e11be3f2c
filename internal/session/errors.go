package session

import "fmt"

// SpawnError reports a failure to launch a server session. Err carries the
// underlying cause (missing binary, permission denied, collision with a live
// session, ...).
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// SessionNotFoundError is returned when an operation requires a live console
// session and none exists for the named server.
type SessionNotFoundError struct {
	Name string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("no live session for server %q", e.Name)
}
