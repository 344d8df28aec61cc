package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridpulse/gridpulse/services/api/models"
)

const findMeasurementsSQL = `
    SELECT equipment_id, plant_id, ts, metrics
    FROM gridpulse.measurements
    WHERE equipment_id = ANY($1) AND ts >= $2 AND ts <= $3
    ORDER BY ts
`

// FindMeasurements returns every measurement of the given equipment whose
// timestamp lies inside [start, end].
func (s *Store) FindMeasurements(ctx context.Context, equipmentIDs []string, start, end time.Time) ([]models.Measurement, error) {
	if len(equipmentIDs) == 0 {
		return []models.Measurement{}, nil
	}
	rows, err := s.pool.Query(ctx, findMeasurementsSQL, equipmentIDs, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	measurements := make([]models.Measurement, 0)
	for rows.Next() {
		var (
			m   models.Measurement
			raw []byte
		)
		if err := rows.Scan(&m.EquipmentID, &m.PlantID, &m.Timestamp, &raw); err != nil {
			return nil, err
		}
		if m.Metrics, err = decodeMetrics(raw); err != nil {
			return nil, fmt.Errorf("measurement %s@%s: %w", m.EquipmentID, m.Timestamp.Format(time.RFC3339), err)
		}
		measurements = append(measurements, m)
	}
	return measurements, rows.Err()
}

// decodeMetrics parses the jsonb metrics column. Non-numeric members are
// skipped; a null column is an empty map.
func decodeMetrics(raw []byte) (map[string]float64, error) {
	out := map[string]float64{}
	if len(raw) == 0 {
		return out, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	for name, v := range fields {
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			out[name] = f
		}
	}
	return out, nil
}
