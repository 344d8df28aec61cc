package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridpulse/gridpulse/services/api/aggregation"
)

const (
	outcomePublished = "published"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

// Broadcaster periodically recomputes the sector aggregate and publishes it
// to the sector topic. At most one computation runs at a time; a tick that
// fires while the previous one is still running is skipped.
type Broadcaster struct {
	svc      *Service
	engine   Aggregator
	interval time.Duration
	window   aggregation.Window
	timeout  time.Duration
	logger   *slog.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewBroadcaster builds a broadcaster publishing through svc.
func NewBroadcaster(svc *Service, engine Aggregator, interval time.Duration, window aggregation.Window, timeout time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Broadcaster{
		svc:      svc,
		engine:   engine,
		interval: interval,
		window:   window,
		timeout:  timeout,
		logger:   svc.logger,
	}
}

// Run ticks until ctx is done, then waits for an in-flight tick to finish.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	b.logger.Info("broadcast loop started", "interval", b.interval.String(), "window", b.window.String())
	for {
		select {
		case <-ctx.Done():
			b.wg.Wait()
			b.logger.Info("broadcast loop stopped")
			return
		case <-ticker.C:
			b.trigger(ctx)
		}
	}
}

// trigger starts a tick unless one is already running. It reports whether a
// tick was started.
func (b *Broadcaster) trigger(ctx context.Context) bool {
	if !b.running.CompareAndSwap(false, true) {
		b.svc.metrics.tick(outcomeSkipped, 0)
		b.logger.Debug("broadcast tick skipped, previous tick still running")
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.running.Store(false)
		b.tick(ctx)
	}()
	return true
}

// tick computes and publishes one broadcast. Failures are logged and
// contained.
func (b *Broadcaster) tick(ctx context.Context) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res, err := b.engine.AggregateSector(ctx, b.window)
	if err != nil {
		b.svc.metrics.tick(outcomeFailed, time.Since(started).Seconds())
		b.logger.Warn("broadcast tick failed", "window", b.window.String(), "error", err)
		return
	}
	n := b.svc.Publish(SectorTopic, broadcastMsg(res, b.svc.cfg.Now()))
	b.svc.metrics.tick(outcomePublished, time.Since(started).Seconds())
	b.logger.Debug("broadcast published", "receivers", n, "samples", res.SampleCount)
}
