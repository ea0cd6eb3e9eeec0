// Package server wires the magic-link application together: storage,
// services, the reaper, the gRPC endpoint and the metrics endpoint, and
// runs them until a shutdown signal arrives.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/cryptox"
	"github.com/dmitrijs2005/magiclink/internal/logging"
	"github.com/dmitrijs2005/magiclink/internal/server/auth"
	"github.com/dmitrijs2005/magiclink/internal/server/config"
	"github.com/dmitrijs2005/magiclink/internal/server/delivery"
	"github.com/dmitrijs2005/magiclink/internal/server/metrics"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/magiclink/internal/server/services"

	gs "github.com/dmitrijs2005/magiclink/internal/server/grpc"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	repomanager repomanager.RepositoryManager
	metrics     *metrics.Metrics
	links       *services.MagicLinkService
	reaper      *services.Reaper
	grpcServer  *gs.GRPCServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	m, err := repomanager.New(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := m.RunMigrations(ctx); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	app, err := newApp(c, logger, m)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return app, nil
}

func newApp(c *config.Config, logger logging.Logger, m repomanager.RepositoryManager) (*App, error) {
	hasher, err := cryptox.NewHasher(c.Hasher, c.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hasher init error: %w", err)
	}
	if _, err := delivery.BuildLink(c.LinkBaseURL, "placeholder"); err != nil {
		return nil, err
	}
	sender, err := delivery.NewSender(c.DeliveryKind, logger, os.Stderr, delivery.SMTPConfig{
		Addr:     c.SMTPAddr,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
		FromName: c.SMTPFromName,
	})
	if err != nil {
		return nil, err
	}

	mx := metrics.New()
	opts := []services.Option{services.WithLogger(logger), services.WithMetrics(mx)}

	links, err := services.NewMagicLinkService(m, hasher, c, opts...)
	if err != nil {
		return nil, fmt.Errorf("service init error: %w", err)
	}
	reaper, err := services.NewReaper(m, c, opts...)
	if err != nil {
		return nil, fmt.Errorf("reaper init error: %w", err)
	}

	sessions := auth.NewSessionIssuer(c.SecretKey, c.AccessTokenValidityDuration)
	grpcServer := gs.NewGRPCServer(c.EndpointAddrGRPC, logger, links, sessions, sender, c.LinkBaseURL,
		gs.WithRequestRateLimit(c.RequestRateLimit))

	return &App{
		config:      c,
		logger:      logger,
		repomanager: m,
		metrics:     mx,
		links:       links,
		reaper:      reaper,
		grpcServer:  grpcServer,
	}, nil
}

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
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if app.config.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until ctx is cancelled or a termination signal arrives, then
// closes the store.
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
		app.reaper.Run(ctx)
	}()

	wg.Wait()

	if err := app.repomanager.Close(); err != nil {
		app.logger.Error(context.Background(), "error closing store", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
