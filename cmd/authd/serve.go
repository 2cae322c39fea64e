// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/memory"
	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/httpapi"
	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/internal/notify"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/internal/store"
	"github.com/holomush/authd/pkg/errutil"
)

// Metrics must satisfy every recorder interface it is handed to.
var (
	_ auth.OutcomeRecorder    = (*observability.Metrics)(nil)
	_ notify.Recorder         = (*observability.Metrics)(nil)
	_ httpapi.RequestRecorder = (*observability.Metrics)(nil)
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(deps *ServeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication API",
		Long: `Start the HTTP API, the notification workers, the expired recovery code
sweeper and, unless metrics.addr is empty, the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}
}

// runServeWithDeps runs the service until a signal arrives, ctx is cancelled
// or a listener fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault("authd", version, logging.Options{Format: cfg.Log.Format, Level: level})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	accounts, ready, closeStore, err := openAccounts(ctx, cfg.Store, deps, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready, logger)
		metrics = obsServer.Metrics()
	}

	sender, err := deps.SenderFactory(cfg.SMTP, logger)
	if err != nil {
		return oops.Code("SERVE_SENDER_FAILED").With("operation", "create mail sender").Wrap(err)
	}
	dispatcherOpts := []notify.DispatcherOption{notify.WithLogger(logger)}
	if metrics != nil {
		dispatcherOpts = append(dispatcherOpts, notify.WithRecorder(metrics))
	}
	dispatcher, err := notify.NewDispatcher(sender, notify.DispatcherConfig{
		QueueSize:  cfg.Notify.QueueSize,
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.MaxRetries,
		Backoff:    cfg.Notify.Backoff,
	}, dispatcherOpts...)
	if err != nil {
		return oops.Code("SERVE_DISPATCHER_FAILED").With("operation", "create dispatcher").Wrap(err)
	}
	dispatcher.Start()

	svc, err := newService(cfg, accounts, dispatcher, metrics, logger)
	if err != nil {
		closeDispatcher(dispatcher, cfg.HTTP.ShutdownTimeout, logger)
		return err
	}

	apiOpts := []httpapi.Option{httpapi.WithLogger(logger.With("component", "http"))}
	if metrics != nil {
		apiOpts = append(apiOpts, httpapi.WithRecorder(metrics))
	}
	apiServer := httpapi.NewServer(cfg.HTTP.Addr, httpapi.New(svc, apiOpts...).Handler(), logger)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		closeDispatcher(dispatcher, cfg.HTTP.ShutdownTimeout, logger)
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "http", logger)

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			shutdown(apiServer, nil, dispatcher, cfg.HTTP.ShutdownTimeout, logger)
			return oops.Code("SERVE_OBSERVABILITY_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
	}

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		runSweeper(ctx, svc, cfg.Recovery.SweepInterval, metrics, logger)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("authd started")
	logger.Info("authd ready",
		"http_addr", apiServer.Addr(),
		"store", cfg.Store.Driver,
		"smtp", cfg.SMTP.Enabled(),
	)
	deps.OnReady(apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	cancel()
	<-sweepDone
	shutdown(apiServer, obsServer, dispatcher, cfg.HTTP.ShutdownTimeout, logger)
	logger.Info("shutdown complete")
	return nil
}

// openAccounts selects the account repository. The returned close function
// is always non-nil.
func openAccounts(
	ctx context.Context,
	cfg config.StoreConfig,
	deps *ServeDeps,
	logger *slog.Logger,
) (auth.AccountRepository, observability.ReadinessChecker, func(), error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("using in-memory account store, accounts are lost on exit")
		return memory.NewAccountRepository(), nil, func() {}, nil
	}

	if cfg.AutoMigrate {
		if err := autoMigrate(cfg.DatabaseURL, deps.MigratorFactory, logger); err != nil {
			return nil, nil, nil, err
		}
	}

	pool, err := deps.PoolFactory(ctx, cfg.DatabaseURL, store.PoolConfig{MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, nil, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	logger.Info("connected to database")
	return postgres.NewAccountRepository(pool), pool.Ping, pool.Close, nil
}

// autoMigrate applies pending migrations before the pool is opened.
func autoMigrate(databaseURL string, factory func(string) (AutoMigrator, error), logger *slog.Logger) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

func newService(
	cfg config.Config,
	accounts auth.AccountRepository,
	notifier auth.Notifier,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (*auth.Service, error) {
	secret := []byte(cfg.Token.Secret)
	access, err := auth.NewTokenCodec(secret,
		auth.WithTTL(cfg.Token.TTL),
		auth.WithIssuer(cfg.Token.Issuer))
	if err != nil {
		return nil, err
	}
	recovery, err := auth.NewTokenCodec(secret,
		auth.WithTTL(cfg.Recovery.TokenTTL),
		auth.WithIssuer(cfg.Token.Issuer),
		auth.WithAudience(auth.AudienceRecovery))
	if err != nil {
		return nil, err
	}

	opts := []auth.ServiceOption{
		auth.WithLogger(logger.With("component", "auth")),
		auth.WithRecoveryCodeTTL(cfg.Recovery.CodeTTL),
		auth.WithRevealUnknownEmail(cfg.Recovery.RevealUnknownEmail),
	}
	if metrics != nil {
		opts = append(opts, auth.WithRecorder(metrics))
	}
	return auth.NewService(accounts, auth.NewArgon2idHasher(), access, recovery, notifier, opts...)
}

// sweeper is the part of auth.Service the sweeper drives.
type sweeper interface {
	SweepExpiredRecoveryCodes(ctx context.Context) (int64, error)
}

// runSweeper clears expired recovery codes every interval until ctx is done.
// A non-positive interval disables it.
func runSweeper(ctx context.Context, svc sweeper, interval time.Duration, metrics *observability.Metrics, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.SweepExpiredRecoveryCodes(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errutil.LogError(ctx, logger, "recovery code sweep failed", err)
				}
				continue
			}
			if metrics != nil {
				metrics.RecordSweep(n)
			}
		}
	}
}

// shutdown stops the listeners first so no new notifications are queued,
// then drains the dispatcher.
func shutdown(api *httpapi.Server, obs ObservabilityServer, dispatcher *notify.Dispatcher, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := api.Stop(ctx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if err := dispatcher.Close(ctx); err != nil {
		logger.Warn("notification queue not drained", "error", err)
	}
	if obs != nil {
		if err := obs.Stop(ctx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
}

func closeDispatcher(dispatcher *notify.Dispatcher, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		logger.Warn("notification queue not drained", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
