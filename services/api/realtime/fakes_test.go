package realtime

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridpulse/gridpulse/services/api/aggregation"
	"github.com/gridpulse/gridpulse/services/api/apperr"
	"github.com/gridpulse/gridpulse/services/api/auth"
	"github.com/gridpulse/gridpulse/services/api/models"
)

type fakeAggregator struct {
	calls       atomic.Int64
	sectorCalls atomic.Int64
	gate        chan struct{}
	delay       map[string]time.Duration
	block       bool
	err         error
}

func (f *fakeAggregator) Aggregate(ctx context.Context, level models.Level, entityID string, window aggregation.Window) (aggregation.Result, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return aggregation.Result{}, ctx.Err()
	}
	if d := f.delay[entityID]; d > 0 {
		time.Sleep(d)
	}
	if f.err != nil {
		return aggregation.Result{}, f.err
	}
	var res aggregation.Result
	res.Level = level
	res.EntityID = entityID
	res.Window = window
	res.Metrics[aggregation.ActivePower] = 42
	res.SampleCount = 1
	return res, nil
}

func (f *fakeAggregator) AggregateSector(ctx context.Context, window aggregation.Window) (aggregation.Result, error) {
	f.sectorCalls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return aggregation.Result{}, ctx.Err()
		}
	}
	if f.err != nil {
		return aggregation.Result{}, f.err
	}
	var res aggregation.Result
	res.Level = models.LevelSector
	res.EntityID = models.AllEntities
	res.Window = window
	res.Metrics[aggregation.ActivePower] = 1000
	return res, nil
}

// fakeParents maps equipment ids to plant ids.
type fakeParents map[string]string

func (p fakeParents) ParentOf(_ context.Context, level models.Level, id string) (string, error) {
	if parent, ok := p[id]; ok && level == models.LevelEquipment {
		return parent, nil
	}
	return "", apperr.NotFound("parent", "%s %q does not exist", level, id)
}

type harness struct {
	svc *Service
	agg *fakeAggregator
	iss *auth.Issuer
}

func newHarness(t *testing.T, agg *fakeAggregator, cfg Config) *harness {
	t.Helper()
	if agg == nil {
		agg = &fakeAggregator{}
	}
	v, iss := auth.NewTestAuth()
	svc := NewService(agg, fakeParents{"E1": "P1", "E2": "P2"}, v, cfg)
	t.Cleanup(svc.Close)
	return &harness{svc: svc, agg: agg, iss: iss}
}

func (h *harness) token(t *testing.T, g auth.Grant) string {
	t.Helper()
	if g.Subject == "" {
		g.Subject = "user-1"
	}
	tok, err := h.iss.Issue(g)
	require.NoError(t, err)
	return tok
}

// connect authenticates a new connection and consumes its welcome frame.
func (h *harness) connect(t *testing.T, g auth.Grant) *Conn {
	t.Helper()
	c := h.svc.NewConn()
	require.NoError(t, h.svc.Authenticate(context.Background(), c, h.token(t, g)))
	msg := nextFrame(t, c)
	require.Equal(t, TypeConnected, msg.Type)
	return c
}

func nextFrame(t *testing.T, c *Conn) ServerMessage {
	t.Helper()
	select {
	case raw := <-c.Send():
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ServerMessage{}
	}
}

func noFrame(t *testing.T, c *Conn, wait time.Duration) {
	t.Helper()
	select {
	case raw := <-c.Send():
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(wait):
	}
}

func frame(t *testing.T, msg ClientMessage) []byte {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw
}
