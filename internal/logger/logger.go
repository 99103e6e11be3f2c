package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for server console logs.
const (
	DefaultMaxSizeMB  = 50 // MB
	DefaultMaxBackups = 5  // number of backup files
	DefaultMaxAgeDays = 14 // days
)

// Config describes the console log destination for a game server.
// Stdout and stderr of the server process are merged into a single
// rotating file. If Path is empty and Dir is set, the file will be
// Dir/<name>.console.log. Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `toml:"dir" json:"dir" mapstructure:"dir"`
	Path       string `toml:"path" json:"path" mapstructure:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" mapstructure:"compress"`
}

// ConsolePath resolves the console log file path for the given server name.
// Returns empty string when logging is not configured.
func (c Config) ConsolePath(name string) string {
	if c.Path != "" {
		return c.Path
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, fmt.Sprintf("%s.console.log", name))
	}
	return ""
}

// ConsoleWriter returns an io.WriteCloser for the merged console stream of
// the named server, or nil when no destination is configured.
func (c Config) ConsoleWriter(name string) (io.WriteCloser, error) {
	path := c.ConsolePath(name)
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}, nil
}

// Setup installs the daemon-wide slog default handler. Level accepts
// "debug", "info", "warn", "error"; anything else means info.
func Setup(level string, color bool) {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if color {
		h = NewColorTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
