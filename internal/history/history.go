package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventCrash     EventType = "crash"
	EventRestart   EventType = "restart"
	EventExhausted EventType = "exhausted"
)

// Event represents a watchdog lifecycle event to be exported to external
// analytics systems. Kind carries the crash classification for crash
// events and is empty otherwise; Attempt is the restart attempt counter at
// the time of the event.
type Event struct {
	Type       EventType `json:"type"`
	Server     string    `json:"server"`
	Kind       string    `json:"kind,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Attempt    int       `json:"attempt"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
