// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/notify"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the PostgreSQL pool.
	// Default: store.NewPool
	PoolFactory func(ctx context.Context, url string, cfg store.PoolConfig) (Pool, error)

	// MigratorFactory opens a schema migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// SenderFactory builds the outbound mail sender.
	// Default: SMTP when smtp.host is set, otherwise the log sender
	SenderFactory func(cfg config.SMTPConfig, logger *slog.Logger) (notify.Sender, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// OnReady is called with the API address once every listener is up.
	OnReady func(apiAddr string)
}

// Pool wraps the methods used from *pgxpool.Pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the methods serve uses from store.Migrator.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, url string, cfg store.PoolConfig) (Pool, error) {
			return store.NewPool(ctx, url, cfg)
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.SenderFactory == nil {
		out.SenderFactory = newSender
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.OnReady == nil {
		out.OnReady = func(string) {}
	}
	return &out
}

// newSender returns an SMTP sender when a host is configured and a log
// sender otherwise.
func newSender(cfg config.SMTPConfig, logger *slog.Logger) (notify.Sender, error) {
	if !cfg.Enabled() {
		logger.Warn("smtp.host not set, outbound mail will be logged instead of sent")
		return notify.NewLogSender(logger), nil
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Sender:   cfg.Sender,
		SSL:      cfg.SSL,
	})
}
