// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/grammata/grammata/internal/auth"
	authpg "github.com/grammata/grammata/internal/auth/postgres"
	authredis "github.com/grammata/grammata/internal/auth/redis"
	"github.com/grammata/grammata/internal/config"
	"github.com/grammata/grammata/internal/httpapi"
	"github.com/grammata/grammata/internal/logging"
	"github.com/grammata/grammata/internal/notify"
	"github.com/grammata/grammata/internal/observability"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication API server",
		Long: `Start the HTTP API server together with its observability
endpoints. Configuration comes from the config file, GRAMMATA_
environment variables, and flags.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, nil)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps starts the server with injectable dependencies.
// A nil deps uses the default implementations.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.applyDefaults()

	logging.SetDefault("grammata", version, cfg.Log.Format, cfg.Log.Level)

	slog.Info("starting server",
		"addr", cfg.Server.Addr,
		"metrics_addr", cfg.Server.MetricsAddr,
	)

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("SERVE_DB_FAILED").Wrap(err)
	}
	defer pool.Close()
	slog.Info("connected to database")

	if cfg.Database.AutoMigrate {
		migrator, err := deps.MigratorFactory(cfg.Database.URL)
		if err != nil {
			return oops.Code("SERVE_MIGRATE_FAILED").Wrap(err)
		}
		if err := migrator.Up(); err != nil {
			_ = migrator.Close() //nolint:errcheck // migration error takes precedence
			return oops.Code("SERVE_MIGRATE_FAILED").Wrap(err)
		}
		if err := migrator.Close(); err != nil {
			return oops.Code("SERVE_MIGRATE_FAILED").Wrap(err)
		}
		slog.Info("migrations applied")
	}

	sessionStore, closeSessions, err := deps.SessionStoreFactory(ctx, cfg.Redis)
	if err != nil {
		return oops.Code("SERVE_REDIS_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := closeSessions(); closeErr != nil {
			slog.Debug("error closing session store", "error", closeErr)
		}
	}()
	slog.Info("connected to session store", "addr", cfg.Redis.Addr)

	notifier, err := deps.NotifierFactory(cfg.Notify)
	if err != nil {
		return oops.Code("SERVE_NOTIFIER_FAILED").Wrap(err)
	}

	core, err := buildCore(pool, sessionStore, notifier, cfg.Auth)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Observability first so readiness reflects the API server coming up.
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	var apiUp atomic.Bool
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, apiUp.Load)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_OBSERVABILITY_FAILED").Wrap(err)
		}
		metrics = obsServer.Metrics()
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	apiServer, err := httpapi.NewServer(httpapi.Config{
		Addr:         cfg.Server.Addr,
		CookieName:   cfg.Server.CookieName,
		CookieSecure: cfg.Server.CookieSecure,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}, core.validator, core.sessions, core.resets, metrics, slog.Default())
	if err != nil {
		return err
	}

	apiErrCh, err := apiServer.Start()
	if err != nil {
		stopServers(nil, obsServer)
		return oops.Code("SERVE_API_FAILED").Wrap(err)
	}
	apiUp.Store(true)
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	cmd.Println("Server started on " + apiServer.Addr())
	slog.Info("server ready", "addr", apiServer.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")
	stopServers(apiServer, obsServer)
	slog.Info("shutdown complete")
	return nil
}

// coreServices bundles the wired domain core.
type coreServices struct {
	validator *auth.CredentialValidator
	sessions  *auth.SessionManager
	resets    *auth.PasswordResetCoordinator
}

// buildCore wires the domain services over the given stores.
func buildCore(pool *pgxpool.Pool, sessionStore auth.SessionStore, notifier auth.Notifier, cfg config.AuthConfig) (*coreServices, error) {
	users := authpg.NewUserStore(pool)
	tokens := authpg.NewTokenStore(pool)

	hasher := auth.NewArgon2idHasher()
	source, err := auth.NewPasswordSource(hasher)
	if err != nil {
		return nil, err
	}

	clock := auth.SystemClock{}
	lockout, err := auth.NewLockoutPolicy(users, clock, cfg.LockoutThreshold, cfg.LockoutDuration)
	if err != nil {
		return nil, err
	}
	validator, err := auth.NewCredentialValidator(users, source, lockout)
	if err != nil {
		return nil, err
	}

	sessions, err := auth.NewSessionManager(sessionStore, clock, cfg.SessionIdleTTL, cfg.SessionMaxDuration)
	if err != nil {
		return nil, err
	}

	resets, err := auth.NewPasswordResetCoordinator(
		users, tokens, sessions, source, notifier, clock, cfg.ResetTokenValidity, slog.Default())
	if err != nil {
		return nil, err
	}

	return &coreServices{validator: validator, sessions: sessions, resets: resets}, nil
}

// newRedisSessionStore connects a redis client and verifies it responds.
func newRedisSessionStore(ctx context.Context, cfg config.RedisConfig) (auth.SessionStore, func() error, error) {
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // ping error takes precedence
		return nil, nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Addr).Wrap(err)
	}
	return authredis.NewSessionStore(client), client.Close, nil
}

// newNotifier selects the notifier implementation from config.
func newNotifier(cfg config.NotifyConfig) (auth.Notifier, error) {
	if cfg.Mode == "smtp" {
		return notify.NewSMTPNotifier(cfg)
	}
	return notify.NewLogNotifier(slog.Default(), cfg.ResetURL), nil
}

// stopServers shuts down whichever servers are running, API first.
func stopServers(api APIServer, obs ObservabilityServer) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if api != nil {
		if err := api.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping api server", "error", err)
		}
	}
	if obs != nil {
		if err := obs.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}
}

// monitorServerErrors cancels the run context when a server reports a
// fatal error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server failed", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
