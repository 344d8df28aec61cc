package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpulse/gridpulse/services/api/apperr"
	"github.com/gridpulse/gridpulse/services/api/models"
)

func TestDecodeMetrics(t *testing.T) {
	got, err := decodeMetrics([]byte(`{"activePower": 120.5, "efficiency": 91, "note": "ok", "flags": [1]}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"activePower": 120.5, "efficiency": 91}, got)

	got, err = decodeMetrics(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = decodeMetrics([]byte(`[1,2]`))
	assert.Error(t, err)
}

const testSchemaSQL = `
CREATE SCHEMA IF NOT EXISTS gridpulse;
CREATE TABLE IF NOT EXISTS gridpulse.states (id text PRIMARY KEY, name text);
CREATE TABLE IF NOT EXISTS gridpulse.plants (id text PRIMARY KEY, state_id text NOT NULL REFERENCES gridpulse.states(id), name text);
CREATE TABLE IF NOT EXISTS gridpulse.equipment (id text PRIMARY KEY, plant_id text NOT NULL REFERENCES gridpulse.plants(id), name text, kind text, status text);
CREATE TABLE IF NOT EXISTS gridpulse.measurements (equipment_id text NOT NULL, plant_id text NOT NULL, ts timestamptz NOT NULL, metrics jsonb);
`

// newTestStore connects to GRIDPULSE_TEST_DATABASE_URL, skipping when unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("GRIDPULSE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("GRIDPULSE_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	_, err = store.pool.Exec(ctx, testSchemaSQL)
	require.NoError(t, err)
	return store
}

func TestStoreAgainstPostgres(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	state, plant, eqA, eqB := "S-"+suffix, "P-"+suffix, "A-"+suffix, "B-"+suffix
	now := time.Now().UTC().Truncate(time.Second)

	_, err := store.pool.Exec(ctx, `INSERT INTO gridpulse.states (id, name) VALUES ($1, 'Test')`, state)
	require.NoError(t, err)
	_, err = store.pool.Exec(ctx, `INSERT INTO gridpulse.plants (id, state_id, name) VALUES ($1, $2, 'Plant')`, plant, state)
	require.NoError(t, err)
	_, err = store.pool.Exec(ctx, `INSERT INTO gridpulse.equipment (id, plant_id, name, kind, status) VALUES
		($1, $3, 'Inverter A', 'inverter', 'operational'),
		($2, $3, 'Inverter B', 'inverter', NULL)`, eqA, eqB, plant)
	require.NoError(t, err)
	_, err = store.pool.Exec(ctx, `INSERT INTO gridpulse.measurements (equipment_id, plant_id, ts, metrics) VALUES
		($1, $2, $3, '{"activePower": 10}'),
		($1, $2, $4, '{"activePower": 99}')`, eqA, plant, now.Add(-time.Minute), now.Add(-3*time.Hour))
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = store.pool.Exec(ctx, `DELETE FROM gridpulse.measurements WHERE plant_id = $1`, plant)
		_, _ = store.pool.Exec(ctx, `DELETE FROM gridpulse.equipment WHERE plant_id = $1`, plant)
		_, _ = store.pool.Exec(ctx, `DELETE FROM gridpulse.plants WHERE id = $1`, plant)
		_, _ = store.pool.Exec(ctx, `DELETE FROM gridpulse.states WHERE id = $1`, state)
	})

	ms, err := store.FindMeasurements(ctx, []string{eqA, eqB}, now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, 10.0, ms[0].Metrics["activePower"])

	children, err := store.ChildrenOf(ctx, models.LevelPlant, plant)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, models.StatusOperational, children[0].Status)
	assert.Equal(t, models.StatusUnknown, children[1].Status)

	statuses, err := store.StatusOf(ctx, []string{eqA, "missing-" + suffix})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOperational, statuses[eqA])
	assert.Equal(t, models.StatusUnknown, statuses["missing-"+suffix])

	ok, err := store.Exists(ctx, models.LevelState, state)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Exists(ctx, models.LevelPlant, "nope-"+suffix)
	require.NoError(t, err)
	assert.False(t, ok)

	parent, err := store.ParentOf(ctx, models.LevelEquipment, eqB)
	require.NoError(t, err)
	assert.Equal(t, plant, parent)
	_, err = store.ParentOf(ctx, models.LevelEquipment, "nope-"+suffix)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
