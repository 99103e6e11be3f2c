package store

import (
	"context"
	"time"

	"github.com/ferrost/warden/internal/crash"
)

// Config selects and parameterizes a crash-event store backend.
type Config struct {
	Type string `toml:"type" json:"type" mapstructure:"type"` // "sqlite", "postgres"

	// SQLite specific
	Path string `toml:"path,omitempty" json:"path,omitempty" mapstructure:"path"`

	// PostgreSQL specific
	Host     string `toml:"host,omitempty" json:"host,omitempty" mapstructure:"host"`
	Port     int    `toml:"port,omitempty" json:"port,omitempty" mapstructure:"port"`
	Database string `toml:"database,omitempty" json:"database,omitempty" mapstructure:"database"`
	Username string `toml:"username,omitempty" json:"username,omitempty" mapstructure:"username"`
	Password string `toml:"password,omitempty" json:"password,omitempty" mapstructure:"password"`
	SSLMode  string `toml:"ssl_mode,omitempty" json:"ssl_mode,omitempty" mapstructure:"ssl_mode"`

	// Connection pooling
	MaxOpenConns int           `toml:"max_open_conns,omitempty" json:"max_open_conns,omitempty" mapstructure:"max_open_conns"`
	MaxIdleConns int           `toml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty" mapstructure:"max_idle_conns"`
	ConnMaxAge   time.Duration `toml:"conn_max_age,omitempty" json:"conn_max_age,omitempty" mapstructure:"conn_max_age"`
}

// Store persists crash events for the watchdog and serves them back to the
// API and CLI.
type Store interface {
	crash.Recorder
	Ping(ctx context.Context) error
	Close() error
}
