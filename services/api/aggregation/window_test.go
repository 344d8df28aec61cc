package aggregation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpulse/gridpulse/services/api/apperr"
	"github.com/gridpulse/gridpulse/services/api/models"
)

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in   string
		want Window
		dur  time.Duration
	}{
		{"1h", "1h", time.Hour},
		{" 15M ", "15m", 15 * time.Minute},
		{"24h", "24h", 24 * time.Hour},
		{"7d", "7d", 7 * 24 * time.Hour},
		{"90s", "90s", 90 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, err := ParseWindow(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w)
			assert.Equal(t, tt.dur, w.Duration())
		})
	}

	for _, bad := range []string{"", "soon", "-1h", "0s", "xd", "1.5d"} {
		_, err := ParseWindow(bad)
		assert.ErrorIsf(t, err, apperr.ErrInvalid, "ParseWindow(%q)", bad)
	}
}

func TestWindowSpan(t *testing.T) {
	start, end := MustWindow("2h").Span(baseTime)
	assert.Equal(t, baseTime, end)
	assert.Equal(t, baseTime.Add(-2*time.Hour), start)
}

func TestRegistryCoversEveryMetric(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, int(NumMetrics))
	for i, def := range defs {
		m, ok := Lookup(def.Name)
		require.Truef(t, ok, "metric %s", def.Name)
		assert.Equal(t, Metric(i), m)
	}
	assert.Equal(t, Additive, ActivePower.Def().Rule)
	assert.Equal(t, Average, Efficiency.Def().Rule)
	assert.Equal(t, Maximum, Temperature.Def().Rule)
	assert.Equal(t, Count, AlarmCount.Def().Rule)

	_, ok := Lookup("voltage")
	assert.False(t, ok)
}

func TestResultJSONUsesWireNames(t *testing.T) {
	var res Result
	res.Level = models.LevelPlant
	res.EntityID = "P"
	res.Window = "1h"
	res.Metrics[ActivePower] = 450
	res.Metrics[Efficiency] = 85
	res.StatusCounts = StatusCounts{Operational: 2, Fault: 1}
	res.SampleCount = 3

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "P", raw["entityId"])
	metrics := raw["metrics"].(map[string]any)
	assert.Equal(t, 450.0, metrics["activePower"])
	assert.Equal(t, 85.0, metrics["efficiency"])
	assert.Len(t, metrics, int(NumMetrics))

	var back Result
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, res.Metrics, back.Metrics)
	assert.Equal(t, res.StatusCounts, back.StatusCounts)
}
