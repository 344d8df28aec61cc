package aggregation

import (
	"time"

	"github.com/gridpulse/gridpulse/services/api/models"
)

// StatusCounts tallies equipment by operating status.
type StatusCounts struct {
	Operational int `json:"operational"`
	Maintenance int `json:"maintenance"`
	Fault       int `json:"fault"`
	Unknown     int `json:"unknown"`
}

// Add counts one unit with status st.
func (s *StatusCounts) Add(st models.Status) {
	switch st {
	case models.StatusOperational:
		s.Operational++
	case models.StatusMaintenance:
		s.Maintenance++
	case models.StatusFault:
		s.Fault++
	default:
		s.Unknown++
	}
}

// Plus returns the element-wise sum of s and o.
func (s StatusCounts) Plus(o StatusCounts) StatusCounts {
	return StatusCounts{
		Operational: s.Operational + o.Operational,
		Maintenance: s.Maintenance + o.Maintenance,
		Fault:       s.Fault + o.Fault,
		Unknown:     s.Unknown + o.Unknown,
	}
}

// Total is the number of units counted.
func (s StatusCounts) Total() int {
	return s.Operational + s.Maintenance + s.Fault + s.Unknown
}

// Result is the summary of one entity over one window. It holds no maps or
// slices, so copies never alias.
type Result struct {
	Level        models.Level `json:"level"`
	EntityID     string       `json:"entityId"`
	Window       Window       `json:"window"`
	Metrics      Values       `json:"metrics"`
	StatusCounts StatusCounts `json:"statusCounts"`
	EntityCount  int          `json:"entityCount"`
	ChildCount   int          `json:"childCount"`
	SampleCount  int          `json:"sampleCount"`
	ComputedAt   time.Time    `json:"computedAt"`
}

// Key returns the cache key the result is stored under.
func (r Result) Key() Key {
	return Key{Level: r.Level, EntityID: r.EntityID, Window: r.Window}
}
