package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}
	stopFlags := &StopFlags{}
	sendFlags := &SendFlags{}
	crashesFlags := &CrashesFlags{}
	jobsFlags := &JobsFlags{}
	backupFlags := &BackupFlags{}
	serveFlags := &ServeFlags{}

	wardenCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createStatusCommand(wardenCommand, statusFlags),
		createStartCommand(wardenCommand, statusFlags),
		createStopCommand(wardenCommand, stopFlags),
		createKillCommand(wardenCommand, statusFlags),
		createSendCommand(wardenCommand, sendFlags),
		createCrashesCommand(wardenCommand, crashesFlags),
		createJobsCommand(wardenCommand, jobsFlags),
		createBackupCommand(wardenCommand, backupFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Game server supervision and job orchestration",
		Long: `Warden launches game servers in detached sessions, watches them for
crashes, restarts them under a configurable policy and runs background
jobs such as backups.

Examples:
  warden serve --config=warden.toml      # Start the daemon
  warden status                          # Supervision status of all servers
  warden send --name=alpha --command="say restarting soon"
  warden crashes --name=alpha --limit=10`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default http://127.0.0.1:8080/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return root
}

func createStatusCommand(c command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervision status",
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Status(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "server name (all servers when omitted)")
	return cmd
}

func createStartCommand(c command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Start(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "server name (required)")
	mustMarkRequired(cmd, "name")
	return cmd
}

func createStopCommand(c command, flags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop a server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Stop(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "server name (required)")
	cmd.Flags().DurationVar(&flags.Wait, "wait", 30*time.Second, "grace period before escalation")
	mustMarkRequired(cmd, "name")
	return cmd
}

func createKillCommand(c command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Force-kill a server session",
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Kill(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "server name (required)")
	mustMarkRequired(cmd, "name")
	return cmd
}

func createSendCommand(c command, flags *SendFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a console command to a running server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Send(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "server name (required)")
	cmd.Flags().StringVar(&flags.Command, "command", "", "console line to send (required)")
	mustMarkRequired(cmd, "name")
	mustMarkRequired(cmd, "command")
	return cmd
}

func createCrashesCommand(c command, flags *CrashesFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crashes",
		Short: "List or clear recorded crash events",
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Crashes(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "server name (required)")
	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "maximum number of events")
	cmd.Flags().BoolVar(&flags.Clear, "clear", false, "clear the crash history instead of listing it")
	mustMarkRequired(cmd, "name")
	return cmd
}

func createJobsCommand(c command, flags *JobsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List background jobs",
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Jobs(*flags)
		},
	}
	cmd.Flags().BoolVar(&flags.All, "all", false, "include finished jobs")
	cmd.Flags().StringVar(&flags.JobID, "id", "", "show a single job by id")
	return cmd
}

func createBackupCommand(c command, flags *BackupFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Enqueue a backup job for a server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Backup(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "server name (required)")
	mustMarkRequired(cmd, "name")
	return cmd
}

func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the warden daemon",
		Long: `Start the warden daemon. All configuration is loaded from the TOML
config file.

Examples:
  warden serve --config=warden.toml
  warden serve warden.toml`,
		RunE: func(_ *cobra.Command, args []string) error {
			configPath := serveFlags.ConfigPath
			if configPath == "" {
				configPath = globalFlags.ConfigPath
			}
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&serveFlags.ConfigPath, "config", "", "path to TOML config file")
	return cmd
}

func mustMarkRequired(cmd *cobra.Command, name string) {
	if err := cmd.MarkFlagRequired(name); err != nil {
		panic(err)
	}
}
