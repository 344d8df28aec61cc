// Package aggregation rolls raw equipment measurements up the
// Equipment → Plant → State → Sector hierarchy and caches the summaries.
package aggregation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/gridpulse/gridpulse/services/api/apperr"
	"github.com/gridpulse/gridpulse/services/api/models"
)

const (
	// DefaultTTL is how long a computed result stays cached.
	DefaultTTL = 300 * time.Second
	// DefaultFanout bounds concurrent child aggregations per rollup.
	DefaultFanout = 8
	// DefaultComputeTimeout bounds a shared computation once no single
	// caller owns it.
	DefaultComputeTimeout = 30 * time.Second
	// DefaultCacheTimeout bounds each cache round trip.
	DefaultCacheTimeout = 250 * time.Millisecond
	// DefaultCacheRetry is how often a degraded engine tries the cache again.
	DefaultCacheRetry = 5 * time.Second
)

// MeasurementSource is the read-only measurement store.
type MeasurementSource interface {
	FindMeasurements(ctx context.Context, equipmentIDs []string, start, end time.Time) ([]models.Measurement, error)
}

// Hierarchy is the read-only view of the asset tree. ChildrenOf(SECTOR, ALL)
// lists states; unknown equipment ids are reported as UNKNOWN by StatusOf.
type Hierarchy interface {
	ChildrenOf(ctx context.Context, level models.Level, entityID string) ([]models.Node, error)
	StatusOf(ctx context.Context, equipmentIDs []string) (map[string]models.Status, error)
	Exists(ctx context.Context, level models.Level, entityID string) (bool, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache sets the result cache. Without one every call computes.
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithFanout overrides DefaultFanout.
func WithFanout(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fanout = n
		}
	}
}

// WithComputeTimeout overrides DefaultComputeTimeout.
func WithComputeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.computeTimeout = d
		}
	}
}

// WithCacheTimeout overrides DefaultCacheTimeout.
func WithCacheTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cacheTimeout = d
		}
	}
}

// WithCacheRetry overrides DefaultCacheRetry. While degraded, lookups and
// stores skip the cache except for one attempt per interval.
func WithCacheRetry(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cacheRetry = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetrics registers engine metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = newEngineMetrics(reg) }
}

// Engine computes level summaries. It is safe for concurrent use.
type Engine struct {
	source         MeasurementSource
	hierarchy      Hierarchy
	cache          Cache
	ttl            time.Duration
	fanout         int
	computeTimeout time.Duration
	cacheTimeout   time.Duration
	cacheRetry     time.Duration
	now            func() time.Time
	logger         *slog.Logger
	metrics        *engineMetrics
	tracer         trace.Tracer

	flight   singleflight.Group
	degraded atomic.Bool
	// lastAttempt is the unix-nano time of the last cache call made while
	// degraded.
	lastAttempt atomic.Int64
}

// NewEngine builds an engine over the given collaborators.
func NewEngine(source MeasurementSource, hierarchy Hierarchy, opts ...Option) *Engine {
	e := &Engine{
		source:         source,
		hierarchy:      hierarchy,
		ttl:            DefaultTTL,
		fanout:         DefaultFanout,
		computeTimeout: DefaultComputeTimeout,
		cacheTimeout:   DefaultCacheTimeout,
		cacheRetry:     DefaultCacheRetry,
		now:            time.Now,
		logger:         slog.Default(),
		tracer:         otel.Tracer("github.com/gridpulse/gridpulse/services/api/aggregation"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Aggregate dispatches to the operation for level. For SECTOR the entity id
// is ignored.
func (e *Engine) Aggregate(ctx context.Context, level models.Level, entityID string, window Window) (Result, error) {
	switch level {
	case models.LevelEquipment:
		return e.AggregateEquipment(ctx, entityID, window)
	case models.LevelPlant:
		return e.AggregatePlant(ctx, entityID, window)
	case models.LevelState:
		return e.AggregateState(ctx, entityID, window)
	case models.LevelSector:
		return e.AggregateSector(ctx, window)
	default:
		return Result{}, apperr.Invalid("aggregate", "unknown level %q", level)
	}
}

// AggregateEquipment summarizes one unit's own measurements.
func (e *Engine) AggregateEquipment(ctx context.Context, equipmentID string, window Window) (Result, error) {
	key := Key{Level: models.LevelEquipment, EntityID: equipmentID, Window: window}
	return e.cached(ctx, key, func(ctx context.Context) (Result, error) {
		ok, err := e.hierarchy.Exists(ctx, models.LevelEquipment, equipmentID)
		if err != nil {
			return Result{}, apperr.Upstream("equipment lookup", err)
		}
		if !ok {
			return Result{}, apperr.NotFound("aggregate equipment", "equipment %q does not exist", equipmentID)
		}
		statuses, err := e.hierarchy.StatusOf(ctx, []string{equipmentID})
		if err != nil {
			return Result{}, apperr.Upstream("equipment status", err)
		}
		return e.scanLeaves(ctx, key, []models.Node{{ID: equipmentID, Status: statuses[equipmentID]}})
	})
}

// AggregatePlant rolls the plant's equipment measurements into one result.
// A plant without equipment yields a zero result.
func (e *Engine) AggregatePlant(ctx context.Context, plantID string, window Window) (Result, error) {
	key := Key{Level: models.LevelPlant, EntityID: plantID, Window: window}
	return e.cached(ctx, key, func(ctx context.Context) (Result, error) {
		children, err := e.children(ctx, models.LevelPlant, plantID)
		if err != nil {
			return Result{}, err
		}
		return e.scanLeaves(ctx, key, children)
	})
}

// AggregateState combines the results of the state's plants.
func (e *Engine) AggregateState(ctx context.Context, stateID string, window Window) (Result, error) {
	key := Key{Level: models.LevelState, EntityID: stateID, Window: window}
	return e.cached(ctx, key, func(ctx context.Context) (Result, error) {
		return e.rollup(ctx, key, e.AggregatePlant)
	})
}

// AggregateSector combines the results of every state.
func (e *Engine) AggregateSector(ctx context.Context, window Window) (Result, error) {
	key := Key{Level: models.LevelSector, EntityID: models.AllEntities, Window: window}
	return e.cached(ctx, key, func(ctx context.Context) (Result, error) {
		return e.rollup(ctx, key, e.AggregateState)
	})
}

// children loads the direct children of an entity, distinguishing an empty
// entity from an unknown one.
func (e *Engine) children(ctx context.Context, level models.Level, entityID string) ([]models.Node, error) {
	nodes, err := e.hierarchy.ChildrenOf(ctx, level, entityID)
	if err != nil {
		return nil, apperr.Upstream("children of "+string(level), err)
	}
	if len(nodes) > 0 || level == models.LevelSector {
		return nodes, nil
	}
	ok, err := e.hierarchy.Exists(ctx, level, entityID)
	if err != nil {
		return nil, apperr.Upstream("lookup "+string(level), err)
	}
	if !ok {
		return nil, apperr.NotFound("aggregate", "%s %q does not exist", level, entityID)
	}
	return nil, nil
}

// scanLeaves summarizes the measurements of the given equipment nodes. Each
// node carries its status as already loaded from the hierarchy.
func (e *Engine) scanLeaves(ctx context.Context, key Key, equipment []models.Node) (Result, error) {
	now := e.now()
	res := Result{
		Level:       key.Level,
		EntityID:    key.EntityID,
		Window:      key.Window,
		EntityCount: len(equipment),
		ChildCount:  len(equipment),
		ComputedAt:  now.UTC(),
	}
	if key.Level == models.LevelEquipment {
		res.ChildCount = 0
	}
	if len(equipment) == 0 {
		return res, nil
	}

	ids := make([]string, len(equipment))
	members := make(map[string]struct{}, len(equipment))
	for i, n := range equipment {
		ids[i] = n.ID
		members[n.ID] = struct{}{}
		res.StatusCounts.Add(n.Status)
	}

	start, end := key.Window.Span(now)
	measurements, err := e.source.FindMeasurements(ctx, ids, start, end)
	if err != nil {
		return Result{}, apperr.Upstream("find measurements", err)
	}
	res.Metrics, res.SampleCount = summarize(measurements, members, start, end)
	return res, nil
}

// rollup aggregates every child of key's entity with child (bounded by the
// fan-out limit) and combines the results.
func (e *Engine) rollup(ctx context.Context, key Key, child func(context.Context, string, Window) (Result, error)) (Result, error) {
	nodes, err := e.children(ctx, key.Level, key.EntityID)
	if err != nil {
		return Result{}, err
	}

	results := make([]Result, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fanout)
	for i, n := range nodes {
		i, id := i, n.ID
		g.Go(func() error {
			r, err := child(gctx, id, key.Window)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	metrics, counts, entities, samples := combine(results)
	return Result{
		Level:        key.Level,
		EntityID:     key.EntityID,
		Window:       key.Window,
		Metrics:      metrics,
		StatusCounts: counts,
		EntityCount:  entities,
		ChildCount:   len(nodes),
		SampleCount:  samples,
		ComputedAt:   e.now().UTC(),
	}, nil
}

// cached probes the cache for key, computing and storing on a miss.
// Concurrent misses on the same key share one computation. The computation
// runs detached from every caller, bounded by the compute timeout; each
// caller stops waiting when its own context ends.
func (e *Engine) cached(ctx context.Context, key Key, compute func(context.Context) (Result, error)) (Result, error) {
	if key.Window.Duration() <= 0 {
		return Result{}, apperr.Invalid("aggregate", "invalid window %q", key.Window)
	}
	level := string(key.Level)
	ctx, span := e.tracer.Start(ctx, "aggregation."+level, trace.WithAttributes(
		attribute.String("aggregation.level", level),
		attribute.String("aggregation.entity", key.EntityID),
		attribute.String("aggregation.window", string(key.Window)),
	))
	defer span.End()

	if res, ok := e.lookup(ctx, key); ok {
		e.metrics.hit(level)
		span.SetAttributes(attribute.Bool("aggregation.cache_hit", true))
		return res, nil
	}
	e.metrics.miss(level)
	span.SetAttributes(attribute.Bool("aggregation.cache_hit", false))

	ch := e.flight.DoChan(key.String(), func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.computeTimeout)
		defer cancel()
		started := time.Now()
		res, err := compute(cctx)
		if err != nil {
			return Result{}, err
		}
		e.metrics.computed(level, time.Since(started).Seconds())
		e.store(cctx, key, res)
		return res, nil
	})

	var err error
	select {
	case r := <-ch:
		if r.Err == nil {
			return r.Val.(Result), nil
		}
		err = r.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	err = apperr.FromContext("aggregate "+level, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return Result{}, err
}

func (e *Engine) lookup(ctx context.Context, key Key) (Result, bool) {
	if !e.cacheUsable() {
		return Result{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, e.cacheTimeout)
	defer cancel()
	res, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.cacheFailed("get", err)
		return Result{}, false
	}
	e.cacheRecovered()
	return res, ok
}

func (e *Engine) store(ctx context.Context, key Key, res Result) {
	if !e.cacheUsable() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.cacheTimeout)
	defer cancel()
	if err := e.cache.Set(ctx, key, res, e.ttl); err != nil {
		e.cacheFailed("set", err)
		return
	}
	e.cacheRecovered()
}

// cacheUsable reports whether a lookup or store should reach the cache. While
// degraded only one call per retry interval gets through.
func (e *Engine) cacheUsable() bool {
	if e.cache == nil {
		return false
	}
	if !e.degraded.Load() {
		return true
	}
	now := e.now().UnixNano()
	last := e.lastAttempt.Load()
	if now-last < int64(e.cacheRetry) {
		return false
	}
	return e.lastAttempt.CompareAndSwap(last, now)
}

func (e *Engine) cacheFailed(op string, err error) {
	e.lastAttempt.Store(e.now().UnixNano())
	e.metrics.cacheError(op)
	if e.degraded.CompareAndSwap(false, true) {
		e.metrics.setDegraded(true)
		e.logger.Warn("aggregation cache unavailable, computing uncached", "op", op, "error", err)
	}
}

func (e *Engine) cacheRecovered() {
	if e.degraded.CompareAndSwap(true, false) {
		e.metrics.setDegraded(false)
		e.logger.Info("aggregation cache recovered")
	}
}

// Degraded reports whether the last cache operation failed.
func (e *Engine) Degraded() bool { return e.degraded.Load() }

// Invalidate removes cached results matching (level, entity|ALL, window|ALL)
// and returns how many were removed.
func (e *Engine) Invalidate(ctx context.Context, sel Selector) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	n, err := e.cache.Delete(ctx, sel)
	if err != nil {
		e.cacheFailed("delete", err)
		return 0, apperr.Upstream("invalidate cache", err)
	}
	e.cacheRecovered()
	e.logger.Info("aggregation cache invalidated",
		"level", sel.Level, "entity", sel.EntityID, "window", sel.Window, "removed", n)
	return n, nil
}

// CacheStats is the cache population grouped by level and window.
type CacheStats struct {
	Total    int                       `json:"total"`
	Degraded bool                      `json:"degraded"`
	TTL      string                    `json:"ttl"`
	ByLevel  map[string]map[string]int `json:"byLevel"`
}

// CacheStats counts cached keys by level and window.
func (e *Engine) CacheStats(ctx context.Context) (CacheStats, error) {
	stats := CacheStats{TTL: e.ttl.String(), ByLevel: map[string]map[string]int{}}
	if e.cache == nil {
		return stats, nil
	}
	keys, err := e.cache.Keys(ctx)
	if err != nil {
		e.cacheFailed("keys", err)
		stats.Degraded = true
		return stats, apperr.Upstream("cache stats", err)
	}
	e.cacheRecovered()
	for _, k := range keys {
		level := string(k.Level)
		if stats.ByLevel[level] == nil {
			stats.ByLevel[level] = map[string]int{}
		}
		stats.ByLevel[level][string(k.Window)]++
		stats.Total++
	}
	stats.Degraded = e.Degraded()
	return stats, nil
}
