package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/gridpulse/gridpulse/services/api/aggregation"
	"github.com/gridpulse/gridpulse/services/api/auth"
	"github.com/gridpulse/gridpulse/services/api/config"
	"github.com/gridpulse/gridpulse/services/api/db"
	httpserver "github.com/gridpulse/gridpulse/services/api/http"
	"github.com/gridpulse/gridpulse/services/api/realtime"
	"github.com/gridpulse/gridpulse/services/api/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, "gridpulse-api")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(flushCtx); err != nil {
			logger.Warn("tracer flush failed", "error", err)
		}
	}()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connection: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cache, closeCache := newCache(ctx, cfg, logger)
	defer closeCache()

	engine := aggregation.NewEngine(store, store,
		aggregation.WithCache(cache),
		aggregation.WithTTL(cfg.CacheTTL),
		aggregation.WithCacheTimeout(cfg.CacheTimeout),
		aggregation.WithFanout(cfg.FanoutLimit),
		aggregation.WithLogger(logger.With("component", "aggregation")),
		aggregation.WithMetrics(reg),
	)

	verifier, err := newVerifier(cfg)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	defaultWindow, err := aggregation.ParseWindow(cfg.DefaultWindow)
	if err != nil {
		return err
	}
	broadcastWindow, err := aggregation.ParseWindow(cfg.BroadcastWindow)
	if err != nil {
		return err
	}

	svc := realtime.NewService(engine, store, verifier, realtime.Config{
		RequestTimeout: cfg.RequestTimeout,
		DefaultWindow:  defaultWindow,
		Logger:         logger.With("component", "realtime"),
		Registerer:     reg,
	})
	defer svc.Close()
	broadcaster := realtime.NewBroadcaster(svc, engine, cfg.BroadcastInterval, broadcastWindow, cfg.BroadcastTimeout)

	srv, err := httpserver.New(cfg, httpserver.Deps{
		Engine:    engine,
		Hierarchy: store,
		Realtime:  svc,
		Auth:      verifier,
		WebSocket: realtime.NewHandler(svc, cfg.AllowedOrigins),
		Gatherer:  reg,
		Health:    store.Ping,
		Logger:    logger.With("component", "http"),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		broadcaster.Run(gctx)
		return nil
	})
	g.Go(func() error {
		err := srv.Run(gctx)
		// Live connections are hijacked and outlive http.Server.Shutdown.
		svc.Close()
		return err
	})
	return g.Wait()
}

// newCache returns the configured result cache. An unreachable redis is kept:
// the engine runs uncached until it answers again.
func newCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (aggregation.Cache, func()) {
	if cfg.CacheBackend == config.CacheMemory {
		logger.Info("aggregation cache", "backend", config.CacheMemory)
		return aggregation.NewMemoryCache(nil), func() {}
	}

	client := redis.NewClient(redisOptions(cfg))
	cache := aggregation.NewRedisCache(client, "gridpulse")

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	} else {
		logger.Info("aggregation cache", "backend", config.CacheRedis, "addr", cfg.RedisAddr)
	}
	return cache, func() { _ = client.Close() }
}

// redisOptions keeps every round trip short so a stalled server costs one
// timeout, not a request deadline.
func redisOptions(cfg config.Config) *redis.Options {
	return &redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.CacheTimeout,
		ReadTimeout:  cfg.CacheTimeout,
		WriteTimeout: cfg.CacheTimeout,
		PoolTimeout:  2 * cfg.CacheTimeout,
		MaxRetries:   1,
	}
}

func newVerifier(cfg config.Config) (*auth.Verifier, error) {
	opts := []auth.VerifierOption{auth.WithIssuer(cfg.JWTIssuer), auth.WithAudience(cfg.JWTAudience)}
	if len(cfg.AdminRoles) > 0 {
		opts = append(opts, auth.WithAdminRoles(cfg.AdminRoles...))
	}
	if cfg.JWTPublicKey != "" {
		pub, err := auth.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, err
		}
		return auth.NewKeyVerifier(pub, opts...)
	}
	return auth.NewHMACVerifier([]byte(cfg.JWTSecret), opts...)
}
