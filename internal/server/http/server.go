// Package http serves the JSON control-plane API with gin: slot
// negotiation, finalize, cancel and bulk read locations, plus /metrics and
// /healthz.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/logging"
	"github.com/dmitrijs2005/dropbin/internal/server/metrics"
	"github.com/dmitrijs2005/dropbin/internal/server/ratelimit"
)

// Rate limit prefixes.
const (
	LimitNegotiate = "negotiate"
	LimitFinalize  = "finalize"
)

const (
	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 1 << 20
)

// BundleService is the business logic behind the API.
type BundleService interface {
	Negotiate(ctx context.Context, req bundle.NegotiateRequest, tier bundle.Tier, clientIP string) (*bundle.NegotiateResponse, error)
	Finalize(ctx context.Context, req bundle.FinalizeRequest) (*bundle.FinalizeResponse, error)
	Cancel(ctx context.Context, req bundle.CancelRequest) error
	ReadLocations(ctx context.Context, req bundle.ReadLocationsRequest) (*bundle.ReadLocationsResponse, error)
}

type Server struct {
	address   string
	logger    logging.Logger
	bundles   BundleService
	limiter   *ratelimit.Registry
	metrics   *metrics.Metrics
	jwtSecret []byte
	engine    *gin.Engine
}

func NewServer(a string, l logging.Logger, bs BundleService, limiter *ratelimit.Registry, mx *metrics.Metrics, secretKey string) *Server {
	s := &Server{
		address:   a,
		logger:    l.With("module", "http_server"),
		bundles:   bs,
		limiter:   limiter,
		metrics:   mx,
		jwtSecret: []byte(secretKey),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	// Rate limits key on the peer address; forwarded headers are not trusted.
	if err := r.SetTrustedProxies(nil); err != nil {
		s.logger.Warn(context.Background(), "trusted proxies", "error", err)
	}
	r.Use(gin.Recovery(), s.observe)

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := r.Group("/api/v1", s.limitBody)
	{
		v1.POST("/uploads", s.rateLimit(LimitNegotiate), s.resolveTier, s.negotiate)
		v1.POST("/uploads/finalize", s.rateLimit(LimitFinalize), s.finalize)
		v1.POST("/uploads/cancel", s.cancel)
		v1.POST("/downloads", s.downloads)
	}
	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
