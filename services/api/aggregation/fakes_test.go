package aggregation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridpulse/gridpulse/services/api/models"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeHierarchy is a static tree: states -> plants -> equipment.
type fakeHierarchy struct {
	states    map[string][]string
	plants    map[string][]string
	statuses    map[string]models.Status
	childCall   atomic.Int64
	statusCalls atomic.Int64
	err         error
}

func newFakeHierarchy() *fakeHierarchy {
	return &fakeHierarchy{
		states:   map[string][]string{},
		plants:   map[string][]string{},
		statuses: map[string]models.Status{},
	}
}

func (h *fakeHierarchy) addPlant(stateID, plantID string, equipment map[string]models.Status) {
	h.states[stateID] = append(h.states[stateID], plantID)
	h.plants[plantID] = nil
	for id, st := range equipment {
		h.plants[plantID] = append(h.plants[plantID], id)
		h.statuses[id] = st
	}
}

func (h *fakeHierarchy) ChildrenOf(_ context.Context, level models.Level, id string) ([]models.Node, error) {
	h.childCall.Add(1)
	if h.err != nil {
		return nil, h.err
	}
	var out []models.Node
	switch level {
	case models.LevelSector:
		for s := range h.states {
			out = append(out, models.Node{ID: s, Level: models.LevelState})
		}
	case models.LevelState:
		for _, p := range h.states[id] {
			out = append(out, models.Node{ID: p, Level: models.LevelPlant, ParentID: id})
		}
	case models.LevelPlant:
		for _, eq := range h.plants[id] {
			out = append(out, models.Node{ID: eq, Level: models.LevelEquipment, ParentID: id, Status: h.statuses[eq]})
		}
	}
	return out, nil
}

func (h *fakeHierarchy) StatusOf(_ context.Context, ids []string) (map[string]models.Status, error) {
	h.statusCalls.Add(1)
	out := make(map[string]models.Status, len(ids))
	for _, id := range ids {
		st, ok := h.statuses[id]
		if !ok {
			st = models.StatusUnknown
		}
		out[id] = st
	}
	return out, nil
}

func (h *fakeHierarchy) Exists(_ context.Context, level models.Level, id string) (bool, error) {
	switch level {
	case models.LevelSector:
		return true, nil
	case models.LevelState:
		_, ok := h.states[id]
		return ok, nil
	case models.LevelPlant:
		_, ok := h.plants[id]
		return ok, nil
	case models.LevelEquipment:
		_, ok := h.statuses[id]
		return ok, nil
	}
	return false, nil
}

// fakeSource filters its measurements by equipment and time like the real
// store would.
type fakeSource struct {
	mu           sync.Mutex
	measurements []models.Measurement
	calls        atomic.Int64
	inFlight     atomic.Int64
	maxInFlight  atomic.Int64
	delay        time.Duration
	gate         chan struct{}
	err          error
}

func (s *fakeSource) add(equipmentID, plantID string, at time.Time, metrics map[string]float64) {
	s.mu.Lock()
	s.measurements = append(s.measurements, models.Measurement{
		EquipmentID: equipmentID, PlantID: plantID, Timestamp: at, Metrics: metrics,
	})
	s.mu.Unlock()
}

func (s *fakeSource) FindMeasurements(ctx context.Context, ids []string, start, end time.Time) ([]models.Measurement, error) {
	s.calls.Add(1)
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxInFlight.Load()
		if cur <= prev || s.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Measurement
	for _, m := range s.measurements {
		if set[m.EquipmentID] && !m.Timestamp.Before(start) && !m.Timestamp.After(end) {
			out = append(out, m)
		}
	}
	return out, nil
}

// failingCache simulates an unreachable cache server.
type failingCache struct {
	calls atomic.Int64
}

var errCacheDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

func (c *failingCache) Get(context.Context, Key) (Result, bool, error) {
	c.calls.Add(1)
	return Result{}, false, errCacheDown
}

func (c *failingCache) Set(context.Context, Key, Result, time.Duration) error {
	c.calls.Add(1)
	return errCacheDown
}

func (c *failingCache) Delete(context.Context, Selector) (int, error) {
	return 0, errCacheDown
}

func (c *failingCache) Keys(context.Context) ([]Key, error) {
	return nil, errCacheDown
}

// stalledCache accepts connections but never answers, like a redis behind a
// dropped route. Calls return only when their context ends.
type stalledCache struct {
	calls atomic.Int64
}

func (c *stalledCache) wait(ctx context.Context) error {
	c.calls.Add(1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return errCacheDown
	}
}

func (c *stalledCache) Get(ctx context.Context, _ Key) (Result, bool, error) {
	return Result{}, false, c.wait(ctx)
}

func (c *stalledCache) Set(ctx context.Context, _ Key, _ Result, _ time.Duration) error {
	return c.wait(ctx)
}

func (c *stalledCache) Delete(ctx context.Context, _ Selector) (int, error) {
	return 0, c.wait(ctx)
}

func (c *stalledCache) Keys(ctx context.Context) ([]Key, error) {
	return nil, c.wait(ctx)
}

// switchableCache is a working cache that can be taken down and brought back.
type switchableCache struct {
	Cache
	down  atomic.Bool
	calls atomic.Int64
}

func (c *switchableCache) Get(ctx context.Context, k Key) (Result, bool, error) {
	c.calls.Add(1)
	if c.down.Load() {
		return Result{}, false, errCacheDown
	}
	return c.Cache.Get(ctx, k)
}

func (c *switchableCache) Set(ctx context.Context, k Key, r Result, ttl time.Duration) error {
	c.calls.Add(1)
	if c.down.Load() {
		return errCacheDown
	}
	return c.Cache.Set(ctx, k, r, ttl)
}
