// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grammata/grammata/internal/auth"
	"github.com/grammata/grammata/internal/config"
	"github.com/grammata/grammata/internal/observability"
	"github.com/grammata/grammata/internal/store"
)

// ObservabilityServer abstracts observability.Server for testing.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// APIServer abstracts the HTTP API server's shutdown for testing.
type APIServer interface {
	Stop(ctx context.Context) error
}

// AutoMigrator abstracts store.Migrator for startup migrations.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ServeDeps contains injectable dependencies for the serve command.
// Nil fields use their default implementations.
type ServeDeps struct {
	// PoolFactory connects the database pool. Default: store.Connect.
	PoolFactory func(ctx context.Context, url string) (*pgxpool.Pool, error)

	// MigratorFactory creates the startup migrator. Default: store.NewMigrator.
	MigratorFactory func(url string) (AutoMigrator, error)

	// SessionStoreFactory connects the session store and returns a
	// closer. Default: newRedisSessionStore.
	SessionStoreFactory func(ctx context.Context, cfg config.RedisConfig) (auth.SessionStore, func() error, error)

	// NotifierFactory selects the reset notifier. Default: newNotifier.
	NotifierFactory func(cfg config.NotifyConfig) (auth.Notifier, error)

	// ObservabilityServerFactory creates the metrics/health server.
	// Default: observability.NewServer.
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

func (d *ServeDeps) applyDefaults() {
	if d.PoolFactory == nil {
		d.PoolFactory = store.Connect
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if d.SessionStoreFactory == nil {
		d.SessionStoreFactory = newRedisSessionStore
	}
	if d.NotifierFactory == nil {
		d.NotifierFactory = newNotifier
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
}
