// Package server wires the dropbin control plane together: PostgreSQL,
// object storage, the bundle service, the HTTP API, the gRPC health endpoint
// and the janitor that expires bundles.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/dropbin/internal/logging"
	"github.com/dmitrijs2005/dropbin/internal/server/config"
	gs "github.com/dmitrijs2005/dropbin/internal/server/grpc"
	hs "github.com/dmitrijs2005/dropbin/internal/server/http"
	"github.com/dmitrijs2005/dropbin/internal/server/metrics"
	"github.com/dmitrijs2005/dropbin/internal/server/ratelimit"
	"github.com/dmitrijs2005/dropbin/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/dropbin/internal/server/services"
	"github.com/dmitrijs2005/dropbin/internal/server/storage"
)

// Sweeper is the janitor step run every JanitorInterval.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	bundles *services.BundleService
	limiter *ratelimit.Registry
	metrics *metrics.Metrics
}

// NewApp opens the database, applies migrations and builds every
// component. logger is the process logger; components derive theirs from it.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := storage.New(ctx, storage.Options{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	mx := metrics.New()
	limiter := ratelimit.NewRegistry(map[string]ratelimit.Rule{
		hs.LimitNegotiate: {PerMinute: c.NegotiatePerMinute, Burst: c.NegotiateBurst},
		hs.LimitFinalize:  {PerMinute: c.FinalizePerMinute, Burst: c.FinalizeBurst},
	}, c.RateLimitKeys)

	bs := services.NewBundleService(db, rm, store, c, logger, mx)

	return &App{config: c, logger: logger, db: db, bundles: bs, limiter: limiter, metrics: mx}, nil
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

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := hs.NewServer(app.config.EndpointAddrHTTP, app.logger, app.bundles, app.limiter, app.metrics, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.db)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// runJanitor sweeps expired bundles every interval until ctx is cancelled.
func runJanitor(ctx context.Context, s Sweeper, interval time.Duration, logger logging.Logger) {
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
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Error(ctx, "janitor sweep failed", "error", err)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		runJanitor(ctx, app.bundles, app.config.JanitorInterval, app.logger.With("module", "janitor"))
	}()

	wg.Wait()

	app.close(ctx)
}

func (app *App) close(ctx context.Context) {
	app.limiter.Close()
	app.bundles.Close()
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
