// Package server wires the connect core together: storage and migrations,
// the account and federation services, the purge scheduler, the gRPC
// endpoint and the metrics listener.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/safatanc/safatanc-connect-core/internal/async"
	"github.com/safatanc/safatanc-connect-core/internal/cryptox"
	"github.com/safatanc/safatanc-connect-core/internal/logging"
	"github.com/safatanc/safatanc-connect-core/internal/server/auth"
	"github.com/safatanc/safatanc-connect-core/internal/server/config"
	"github.com/safatanc/safatanc-connect-core/internal/server/metrics"
	"github.com/safatanc/safatanc-connect-core/internal/server/oauth"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/repomanager"
	"github.com/safatanc/safatanc-connect-core/internal/server/scheduler"
	"github.com/safatanc/safatanc-connect-core/internal/server/services"

	gs "github.com/safatanc/safatanc-connect-core/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config       *config.Config
	logger       logging.Logger
	db           *sql.DB
	registry     *prometheus.Registry
	runner       *async.Runner
	authService  *services.AuthService
	verification *services.VerificationTokenService
	federator    *oauth.Federator
	purger       *scheduler.PurgeScheduler
	grpcServer   *gs.GRPCServer
}

// NewApp opens the database, applies migrations, syncs the configured OAuth
// providers and builds every service. The caller owns the returned App and
// must call Run or Close.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := build(ctx, c, db, repomanager.NewPostgresRepositoryManager(), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, c *config.Config, db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) (*App, error) {

	if err := m.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.NewMetrics(registry)

	tokens, err := auth.NewTokenIssuer([]byte(c.SecretKey), c.AccessTokenValidityDuration, c.RefreshTokenValidityDuration)
	if err != nil {
		return nil, err
	}
	hasher := cryptox.NewPasswordHasher(c.Argon2Params())
	sealer, err := cryptox.NewSealer(c.SealKey())
	if err != nil {
		return nil, fmt.Errorf("token sealer: %w", err)
	}
	redirects, err := oauth.NewRedirectPolicy(c.FrontendURL, c.AllowedRedirectOrigins)
	if err != nil {
		return nil, err
	}

	runner := async.NewRunner(c.LastLoginWorkers, 5*time.Second, logger)
	runner.OnDrop = mt.RecordDropped

	verification := services.NewVerificationTokenService(db, m, mt, logger)

	authService, err := services.NewAuthService(db, m, services.AuthDeps{
		Hasher:       hasher,
		Tokens:       tokens,
		Verification: verification,
		Notifier:     services.NewLogNotifier(logger),
		Runner:       runner,
		Metrics:      mt,
		Logger:       logger,
	}, services.AuthConfig{
		EmailVerificationTTL: c.EmailVerificationTTL,
		PasswordResetTTL:     c.PasswordResetTTL,
		FrontendURL:          c.FrontendURL,
	})
	if err != nil {
		return nil, err
	}

	federator, err := oauth.NewFederator(db, m, oauth.Deps{
		Tokens:     tokens,
		Hasher:     hasher,
		Sealer:     sealer,
		State:      oauth.NewStateCodec(c.StateKey(), c.StateTTL),
		Redirects:  redirects,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Metrics:    mt,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	if err := federator.SyncProviders(ctx, c.ProviderDefinitions()); err != nil {
		return nil, fmt.Errorf("oauth providers sync: %w", err)
	}

	purger, err := scheduler.NewPurgeScheduler(c.PurgeSchedule, c.PurgeTimeout, verification, logger)
	if err != nil {
		return nil, err
	}

	grpcServer := gs.NewGRPCServer(c.EndpointAddrGRPC, logger, tokens, m.Accounts(db))

	return &App{
		config:       c,
		logger:       logger,
		db:           db,
		registry:     registry,
		runner:       runner,
		authService:  authService,
		verification: verification,
		federator:    federator,
		purger:       purger,
		grpcServer:   grpcServer,
	}, nil
}

// Auth returns the account service for transports built on top of the core.
func (app *App) Auth() *services.AuthService { return app.authService }

// Federator returns the OAuth federation service.
func (app *App) Federator() *oauth.Federator { return app.federator }

// GRPC returns the gRPC server so callers can register services and method
// policies before Run.
func (app *App) GRPC() *gs.GRPCServer { return app.grpcServer }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpcServer.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if app.config.MetricsAddr == "" {
		return
	}

	srv := &http.Server{
		Addr:              app.config.MetricsAddr,
		Handler:           metrics.Handler(app.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "metrics server failed", "error", err)
		cancelFunc()
	}
}

// Run serves until ctx is cancelled or a signal arrives, then waits for
// background work and closes the database.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		if err := app.purger.Run(ctx); err != nil {
			app.logger.Error(ctx, "purge scheduler failed", "error", err)
		}
	}()

	wg.Wait()

	app.Close(context.WithoutCancel(ctx))
	app.logger.Info(ctx, "App stopped")
}

// Close drains pending background tasks and closes the database.
func (app *App) Close(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := app.runner.Wait(waitCtx); err != nil {
		app.logger.Warn(ctx, "background tasks still running at shutdown", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close failed", "error", err)
	}
}
