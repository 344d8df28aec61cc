package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpulse/gridpulse/services/api/aggregation"
	"github.com/gridpulse/gridpulse/services/api/auth"
	"github.com/gridpulse/gridpulse/services/api/models"
)

func TestBroadcaster_OverlappingTickSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	agg := &fakeAggregator{gate: make(chan struct{})}
	h := newHarness(t, agg, Config{Registerer: reg})
	b := NewBroadcaster(h.svc, agg, time.Hour, aggregation.MustWindow("1h"), time.Minute)

	ctx := context.Background()
	require.True(t, b.trigger(ctx))
	assert.False(t, b.trigger(ctx))
	assert.False(t, b.trigger(ctx))

	close(agg.gate)
	b.wg.Wait()
	assert.EqualValues(t, 1, agg.sectorCalls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.svc.metrics.broadcasts.WithLabelValues(outcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.svc.metrics.broadcasts.WithLabelValues(outcomePublished)))

	// The slot is free again once the tick has finished.
	assert.True(t, b.trigger(ctx))
	b.wg.Wait()
	assert.EqualValues(t, 2, agg.sectorCalls.Load())
}

func TestBroadcaster_RunNeverOverlaps(t *testing.T) {
	reg := prometheus.NewRegistry()
	agg := &fakeAggregator{gate: make(chan struct{})}
	h := newHarness(t, agg, Config{Registerer: reg})
	b := NewBroadcaster(h.svc, agg, 5*time.Millisecond, aggregation.MustWindow("1h"), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(stopped)
	}()

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, agg.sectorCalls.Load())
	assert.Greater(t, testutil.ToFloat64(h.svc.metrics.broadcasts.WithLabelValues(outcomeSkipped)), 0.0)

	close(agg.gate)
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcaster did not stop")
	}
}

func TestBroadcaster_PublishesToSectorMembers(t *testing.T) {
	agg := &fakeAggregator{}
	h := newHarness(t, agg, Config{})
	b := NewBroadcaster(h.svc, agg, time.Hour, aggregation.MustWindow("24h"), time.Minute)

	restricted := h.connect(t, auth.Grant{States: []string{"CA"}})
	admin := h.connect(t, auth.Grant{Roles: []string{"admin"}})

	require.True(t, b.trigger(context.Background()))
	b.wg.Wait()

	for _, c := range []*Conn{restricted, admin} {
		msg := nextFrame(t, c)
		assert.Equal(t, TypeBroadcast, msg.Type)
		assert.Equal(t, models.LevelSector, msg.Level)
		assert.EqualValues(t, "24h", msg.Window)
		require.NotNil(t, msg.Data)
		assert.Equal(t, 1000.0, msg.Data.Metrics[aggregation.ActivePower])
	}
}

func TestBroadcaster_FailureIsContained(t *testing.T) {
	reg := prometheus.NewRegistry()
	agg := &fakeAggregator{err: errors.New("store down")}
	h := newHarness(t, agg, Config{Registerer: reg})
	b := NewBroadcaster(h.svc, agg, time.Hour, aggregation.MustWindow("1h"), time.Minute)
	c := h.connect(t, auth.Grant{})

	require.True(t, b.trigger(context.Background()))
	b.wg.Wait()

	noFrame(t, c, 30*time.Millisecond)
	assert.Equal(t, StateActive, c.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.svc.metrics.broadcasts.WithLabelValues(outcomeFailed)))
	assert.True(t, b.trigger(context.Background()))
	b.wg.Wait()
}
