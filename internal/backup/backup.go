// Package backup archives server data directories and ships them to a
// configured destination. Archives are created as tar.gz files and the
// whole operation runs as a tracked job with progress reporting.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ferrost/warden/internal/job"
	"github.com/ferrost/warden/internal/session"
)

// Policy is the per-server backup configuration.
type Policy struct {
	Dest         DestConfig    `toml:"dest" json:"dest" mapstructure:"dest"`
	Exclude      []string      `toml:"exclude" json:"exclude" mapstructure:"exclude"`
	PreCommands  []string      `toml:"pre_commands" json:"pre_commands" mapstructure:"pre_commands"`    // console commands before archiving, e.g. save-off, save-all
	PostCommands []string      `toml:"post_commands" json:"post_commands" mapstructure:"post_commands"` // console commands after archiving, e.g. save-on
	SettleDelay  time.Duration `toml:"settle_delay" json:"settle_delay" mapstructure:"settle_delay"`    // wait after pre-commands so the server finishes flushing
}

// CommandSender delivers console lines to a running server.
type CommandSender interface {
	SendCommand(name, line string) error
}

// JobType is the job runner type label for backups.
const JobType = "backup"

// NewJob builds the job body for one backup run of server's dataDir.
// sender may be nil when console coordination is not needed; pre/post
// commands are skipped for servers that are not running.
func NewJob(server, dataDir string, pol Policy, dest Destination, sender CommandSender) job.Fn {
	return func(ctx context.Context, report func(int, string)) error {
		if dataDir == "" {
			return fmt.Errorf("server %q has no data directory configured", server)
		}

		sendAll(sender, server, pol.PreCommands)
		if len(pol.PreCommands) > 0 && pol.SettleDelay > 0 {
			select {
			case <-time.After(pol.SettleDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		defer sendAll(sender, server, pol.PostCommands)

		name := ArchiveName(server, time.Now())
		tmp := filepath.Join(os.TempDir(), name)
		defer func() { _ = os.Remove(tmp) }()

		report(0, "archiving")
		info, err := CreateArchive(ctx, dataDir, tmp, pol.Exclude, func(done, total int64) {
			if total > 0 {
				// Archiving covers the first 80% of the bar, upload the rest.
				report(int(done*80/total), "archiving")
			}
		})
		if err != nil {
			return err
		}

		report(80, "uploading")
		f, err := os.Open(tmp)
		if err != nil {
			return fmt.Errorf("failed to reopen archive: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := dest.Store(ctx, name, f, info.SizeBytes); err != nil {
			return err
		}
		report(100, fmt.Sprintf("stored %s (%d bytes)", name, info.SizeBytes))
		slog.Info("backup complete", "server", server, "archive", name, "bytes", info.SizeBytes, "files", info.FileCount, "dest", dest.Type())
		return nil
	}
}

func sendAll(sender CommandSender, server string, lines []string) {
	if sender == nil {
		return
	}
	for _, line := range lines {
		if err := sender.SendCommand(server, line); err != nil {
			var nf *session.SessionNotFoundError
			if errors.As(err, &nf) {
				return // server not running, nothing to coordinate
			}
			slog.Warn("backup console command failed", "server", server, "command", line, "error", err)
		}
	}
}
