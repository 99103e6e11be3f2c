package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
run_dir = "/var/run/warden"
log_level = "debug"
log_color = true

[log]
dir = "/var/log/warden"
max_size_mb = 100

[watchdog]
interval = "10s"
probe_misses = 3

[heartbeat]
interval = "5s"

[jobs]
max_concurrent = 2

[store]
type = "sqlite"
path = "/var/lib/warden/warden.db"

[history]
dsn = "sqlite:///var/lib/warden/history.db"
clickhouse_dsn = "clickhouse://localhost:9000/warden"

[notify]
webhook_url = "https://hooks.example.com/warden"
timeout = "3s"

[server]
listen = "127.0.0.1:8080"
base_path = "/api"

[metrics]
enabled = true

[[servers]]
name = "alpha"
command = "java -Xmx4G -jar server.jar nogui"
work_dir = "/srv/alpha"
env = ["JAVA_HOME=/opt/java"]
stop_commands = ["stop"]
stop_wait = "30s"
ping_address = "127.0.0.1:25565"
crash_report_dir = "/srv/alpha/crash-reports"

[servers.restart]
enabled = true
max_attempts = 3
cooldown = "15s"
attempt_reset = "10m"
notify_on_crash = true

[servers.log]
max_size_mb = 200

[servers.backup]
exclude = ["logs", "*.tmp"]
pre_commands = ["save-off", "save-all"]
post_commands = ["save-on"]
settle_delay = "2s"

[servers.backup.dest]
type = "s3"
path = "backups/alpha"
s3_bucket = "game-backups"
s3_region = "us-east-1"

[[servers]]
name = "beta"
command = "/srv/beta/run.sh"
`)

	fc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fc.RunDir != "/var/run/warden" {
		t.Fatalf("run_dir=%q", fc.RunDir)
	}
	if fc.Watchdog.Interval != 10*time.Second || fc.Watchdog.ProbeMisses != 3 {
		t.Fatalf("watchdog=%+v", fc.Watchdog)
	}
	if fc.Store == nil || fc.Store.Type != "sqlite" {
		t.Fatalf("store=%+v", fc.Store)
	}
	if fc.History == nil || fc.History.ClickHouseDSN == "" {
		t.Fatalf("history=%+v", fc.History)
	}
	if fc.Notify == nil || fc.Notify.Timeout != 3*time.Second {
		t.Fatalf("notify=%+v", fc.Notify)
	}
	if len(fc.Servers) != 2 {
		t.Fatalf("servers=%d want 2", len(fc.Servers))
	}

	alpha := fc.Servers[0]
	if !alpha.Restart.Enabled || alpha.Restart.MaxAttempts != 3 || alpha.Restart.Cooldown != 15*time.Second {
		t.Fatalf("restart=%+v", alpha.Restart)
	}
	if alpha.Backup == nil || alpha.Backup.Dest.Type != "s3" || alpha.Backup.SettleDelay != 2*time.Second {
		t.Fatalf("backup=%+v", alpha.Backup)
	}

	spec := fc.Spec(alpha)
	if spec.StopWait != 30*time.Second || spec.PingAddress != "127.0.0.1:25565" {
		t.Fatalf("spec=%+v", spec)
	}
	// Per-server log overrides are layered on the top-level defaults.
	if spec.Log.Dir != "/var/log/warden" || spec.Log.MaxSizeMB != 200 {
		t.Fatalf("merged log=%+v", spec.Log)
	}

	pol, ok := fc.BackupPolicy("alpha")
	if !ok || pol.Dest.S3Bucket != "game-backups" {
		t.Fatalf("backup policy=%+v ok=%v", pol, ok)
	}
	if _, ok := fc.BackupPolicy("beta"); ok {
		t.Fatalf("beta should have no backup policy")
	}

	if got := len(fc.Specs()); got != 2 {
		t.Fatalf("Specs=%d want 2", got)
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	path := writeConfig(t, `
[[servers]]
name = "alpha"
command = "run"

[[servers]]
name = "alpha"
command = "run"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestLoadRejectsMissingCommand(t *testing.T) {
	path := writeConfig(t, `
[[servers]]
name = "alpha"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected missing command error")
	}
}

func TestLoadRejectsUnknownBackupDest(t *testing.T) {
	path := writeConfig(t, `
[[servers]]
name = "alpha"
command = "run"

[servers.backup.dest]
type = "carrier-pigeon"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unsupported destination error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
