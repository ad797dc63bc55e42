// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grammata/grammata/internal/auth"
	authpg "github.com/grammata/grammata/internal/auth/postgres"
	"github.com/grammata/grammata/internal/config"
	"github.com/grammata/grammata/internal/logging"
	"github.com/grammata/grammata/internal/store"
)

// NewSweepCmd creates the sweep subcommand. Expired reset tokens are
// already unredeemable; the sweep reclaims their rows.
func NewSweepCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired password-reset tokens",
		Long: `Delete password-reset tokens whose validity window has closed.
Runs once by default; with --interval it keeps sweeping until
interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, nil)
			if err != nil {
				return err
			}
			logging.SetDefault("grammata-sweep", version, cfg.Log.Format, cfg.Log.Level)
			return runSweep(cmd.Context(), cfg, cmd, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "sweep repeatedly at this interval (0 = run once)")
	return cmd
}

func runSweep(ctx context.Context, cfg *config.Config, cmd *cobra.Command, interval time.Duration) error {
	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	tokens := authpg.NewTokenStore(pool)
	clock := auth.SystemClock{}

	if interval <= 0 {
		removed, err := tokens.DeleteExpired(ctx, clock.Now())
		if err != nil {
			return err
		}
		cmd.Printf("Removed %d expired token(s)\n", removed)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("sweep loop started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		removed, err := tokens.DeleteExpired(ctx, clock.Now())
		if err != nil {
			slog.Error("sweep failed", "error", err)
		} else {
			slog.Info("sweep completed", "removed", removed)
		}

		select {
		case <-ctx.Done():
			slog.Info("sweep loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}
