package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/ferrost/warden/internal/backup"
	"github.com/ferrost/warden/internal/logger"
	"github.com/ferrost/warden/internal/session"
	"github.com/ferrost/warden/internal/store"
	"github.com/ferrost/warden/internal/watchdog"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	RunDir   string         `toml:"run_dir" mapstructure:"run_dir"` // pid files and console FIFOs
	LogLevel string         `toml:"log_level" mapstructure:"log_level"`
	LogColor bool           `toml:"log_color" mapstructure:"log_color"`
	Log      *logger.Config `toml:"log" mapstructure:"log"` // console log defaults for all servers

	Watchdog  watchdog.Config `toml:"watchdog" mapstructure:"watchdog"`
	Heartbeat HeartbeatConfig `toml:"heartbeat" mapstructure:"heartbeat"`
	Jobs      JobsConfig      `toml:"jobs" mapstructure:"jobs"`

	Store   *store.Config  `toml:"store" mapstructure:"store"`
	History *HistoryConfig `toml:"history" mapstructure:"history"`
	Notify  *NotifyConfig  `toml:"notify" mapstructure:"notify"`
	Server  *HTTPConfig    `toml:"server" mapstructure:"server"`
	Metrics *MetricsConfig `toml:"metrics" mapstructure:"metrics"`

	Servers []ServerEntry `toml:"servers" mapstructure:"servers"`
}

// HeartbeatConfig tunes the sample stream exposed over the API.
type HeartbeatConfig struct {
	Interval    time.Duration `toml:"interval" mapstructure:"interval"`
	PingTimeout time.Duration `toml:"ping_timeout" mapstructure:"ping_timeout"`
}

// JobsConfig tunes the background job runner.
type JobsConfig struct {
	MaxConcurrent int `toml:"max_concurrent" mapstructure:"max_concurrent"`
}

// HistoryConfig selects where durable history events are shipped.
type HistoryConfig struct {
	DSN             string `toml:"dsn" mapstructure:"dsn"`                             // sqlite:// or postgres:// sink
	ClickHouseDSN   string `toml:"clickhouse_dsn" mapstructure:"clickhouse_dsn"`       // optional ClickHouse sink
	ClickHouseTable string `toml:"clickhouse_table" mapstructure:"clickhouse_table"`   // defaults to server_history
}

// NotifyConfig configures operator notifications.
type NotifyConfig struct {
	WebhookURL string        `toml:"webhook_url" mapstructure:"webhook_url"`
	Timeout    time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// HTTPConfig configures the management API listener.
type HTTPConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// MetricsConfig configures the Prometheus endpoint on the management API.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"` // defaults to /metrics
}

// ServerEntry is one [[servers]] block.
type ServerEntry struct {
	Name           string        `toml:"name" mapstructure:"name"`
	Command        string        `toml:"command" mapstructure:"command"`
	WorkDir        string        `toml:"work_dir" mapstructure:"work_dir"`
	Env            []string      `toml:"env" mapstructure:"env"`
	RunAsUID       int           `toml:"run_as_uid" mapstructure:"run_as_uid"`
	RunAsGID       int           `toml:"run_as_gid" mapstructure:"run_as_gid"`
	StopCommands   []string      `toml:"stop_commands" mapstructure:"stop_commands"`
	StopWait       time.Duration `toml:"stop_wait" mapstructure:"stop_wait"`
	PingAddress    string        `toml:"ping_address" mapstructure:"ping_address"`
	CrashReportDir string        `toml:"crash_report_dir" mapstructure:"crash_report_dir"`

	Log     *logger.Config         `toml:"log" mapstructure:"log"`
	Restart watchdog.RestartPolicy `toml:"restart" mapstructure:"restart"`
	Backup  *backup.Policy         `toml:"backup" mapstructure:"backup"`
}

// Load parses and validates a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) validate() error {
	seen := make(map[string]struct{}, len(fc.Servers))
	for _, e := range fc.Servers {
		if e.Name == "" {
			return fmt.Errorf("server entry requires a name")
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("duplicate server name %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		if e.Command == "" {
			return fmt.Errorf("server %s requires a command", e.Name)
		}
		if e.Backup != nil {
			switch e.Backup.Dest.Type {
			case "", "local", "s3", "sftp":
			default:
				return fmt.Errorf("server %s: unsupported backup destination type %q", e.Name, e.Backup.Dest.Type)
			}
		}
	}
	return nil
}

// Spec builds the session spec for one entry, merging the top-level log
// defaults with the per-server overrides.
func (fc *FileConfig) Spec(e ServerEntry) session.Spec {
	var logCfg logger.Config
	if fc.Log != nil {
		logCfg = *fc.Log
	}
	if e.Log != nil {
		if e.Log.Dir != "" {
			logCfg.Dir = e.Log.Dir
		}
		if e.Log.Path != "" {
			logCfg.Path = e.Log.Path
		}
		if e.Log.MaxSizeMB != 0 {
			logCfg.MaxSizeMB = e.Log.MaxSizeMB
		}
		if e.Log.MaxBackups != 0 {
			logCfg.MaxBackups = e.Log.MaxBackups
		}
		if e.Log.MaxAgeDays != 0 {
			logCfg.MaxAgeDays = e.Log.MaxAgeDays
		}
		if e.Log.Compress {
			logCfg.Compress = true
		}
	}
	return session.Spec{
		Name:           e.Name,
		Command:        e.Command,
		WorkDir:        e.WorkDir,
		Env:            e.Env,
		RunAsUID:       e.RunAsUID,
		RunAsGID:       e.RunAsGID,
		StopCommands:   e.StopCommands,
		StopWait:       e.StopWait,
		PingAddress:    e.PingAddress,
		CrashReportDir: e.CrashReportDir,
		Log:            logCfg,
	}
}

// Specs returns the session specs for all configured servers.
func (fc *FileConfig) Specs() []session.Spec {
	out := make([]session.Spec, 0, len(fc.Servers))
	for _, e := range fc.Servers {
		out = append(out, fc.Spec(e))
	}
	return out
}

// BackupPolicy returns the backup policy for a server, if configured.
func (fc *FileConfig) BackupPolicy(name string) (backup.Policy, bool) {
	for _, e := range fc.Servers {
		if e.Name == name && e.Backup != nil {
			return *e.Backup, true
		}
	}
	return backup.Policy{}, false
}
