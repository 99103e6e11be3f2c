package watchdog

import "time"

// State is the restart-supervision state of a single server.
type State string

const (
	StateDisabled     State = "Disabled"     // crashes recorded, never restarted
	StateMonitoring   State = "Monitoring"   // healthy or awaiting evidence
	StateCooldownWait State = "CooldownWait" // crashed, waiting out the cooldown before a restart
	StateExhausted    State = "Exhausted"    // restart budget spent, manual intervention required
)

// RestartPolicy governs automatic restarts for one server.
type RestartPolicy struct {
	Enabled         bool          `toml:"enabled" json:"enabled" mapstructure:"enabled"`
	MaxAttempts     int           `toml:"max_attempts" json:"max_attempts" mapstructure:"max_attempts"` // 0 means unlimited
	Cooldown        time.Duration `toml:"cooldown" json:"cooldown" mapstructure:"cooldown"`
	AttemptReset    time.Duration `toml:"attempt_reset" json:"attempt_reset" mapstructure:"attempt_reset"` // stability window that clears the attempt counter
	NotifyOnCrash   bool          `toml:"notify_on_crash" json:"notify_on_crash" mapstructure:"notify_on_crash"`
	NotifyOnRestart bool          `toml:"notify_on_restart" json:"notify_on_restart" mapstructure:"notify_on_restart"`
}

// Status is a read-only snapshot of one supervised server.
type Status struct {
	Server             string    `json:"server"`
	State              State     `json:"state"`
	Alive              bool      `json:"alive"`
	Attempts           int       `json:"attempts"`
	LastCrashKind      string    `json:"last_crash_kind,omitempty"`
	LastCrashAt        time.Time `json:"last_crash_at,omitzero"`
	LastRestartAttempt time.Time `json:"last_restart_attempt,omitzero"`
	CooldownUntil      time.Time `json:"cooldown_until,omitzero"`
	ExpectedDown       bool      `json:"expected_down"`
}
