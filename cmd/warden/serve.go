package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferrost/warden"
)

func runServe(configPath string) error {
	if configPath == "" {
		return fmt.Errorf("config file required. Use --config=warden.toml or provide it as an argument")
	}
	cfg, err := warden.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	daemon, err := warden.NewDaemon(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := daemon.Start(ctx); err != nil {
		return err
	}
	if cfg.Server != nil && cfg.Server.Listen != "" {
		slog.Info("management API listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)
	}
	slog.Info("warden daemon started", "servers", len(cfg.Servers), "config", configPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return daemon.Stop(shutdownCtx)
}
