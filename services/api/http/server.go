package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridpulse/gridpulse/services/api/aggregation"
	"github.com/gridpulse/gridpulse/services/api/auth"
	"github.com/gridpulse/gridpulse/services/api/config"
	"github.com/gridpulse/gridpulse/services/api/models"
	"github.com/gridpulse/gridpulse/services/api/realtime"
)

// Aggregator is the slice of the aggregation engine served over REST.
type Aggregator interface {
	Aggregate(ctx context.Context, level models.Level, entityID string, window aggregation.Window) (aggregation.Result, error)
	Invalidate(ctx context.Context, sel aggregation.Selector) (int, error)
	CacheStats(ctx context.Context) (aggregation.CacheStats, error)
	Degraded() bool
}

// Hierarchy answers the browse endpoints.
type Hierarchy interface {
	ChildrenOf(ctx context.Context, level models.Level, entityID string) ([]models.Node, error)
	Exists(ctx context.Context, level models.Level, entityID string) (bool, error)
}

// Realtime is the distribution service: its access rules guard REST reads
// and its counters back the admin stats endpoint.
type Realtime interface {
	Authorize(ctx context.Context, id auth.Identity, level models.Level, entityID string) error
	Stats() realtime.Stats
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Engine    Aggregator
	Hierarchy Hierarchy
	Realtime  Realtime
	Auth      auth.Authenticator
	WebSocket http.Handler
	Gatherer  prometheus.Gatherer
	Health    func(context.Context) error
	Logger    *slog.Logger
}

// Server bundles router and dependencies for the REST API.
type Server struct {
	cfg           config.Config
	deps          Deps
	defaultWindow aggregation.Window
	logger        *slog.Logger
	engine        *gin.Engine
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, deps Deps) (*Server, error) {
	window, err := aggregation.ParseWindow(cfg.DefaultWindow)
	if err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	engine.Use(corsMiddleware(cfg.AllowedOrigins))

	server := &Server{cfg: cfg, deps: deps, defaultWindow: window, logger: logger, engine: engine}
	server.registerRoutes()
	return server, nil
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	if s.deps.WebSocket != nil {
		s.engine.GET("/ws", gin.WrapH(s.deps.WebSocket))
	}
	s.registerV1Routes()
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{"status": "ok", "cacheDegraded": s.deps.Engine.Degraded()}
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			status["status"] = "unavailable"
			status["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
	}
	c.JSON(http.StatusOK, status)
}

// requestContext bounds a handler's work by the configured request timeout.
func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
}
