package aggregation

import (
	"time"

	"github.com/gridpulse/gridpulse/services/api/models"
)

// accumulator gathers per-metric statistics over a set of samples.
type accumulator struct {
	sum     Values
	max     Values
	seen    [NumMetrics]int
	nonZero [NumMetrics]int
}

func (a *accumulator) observe(name string, v float64) {
	m, ok := Lookup(name)
	if !ok {
		return
	}
	if a.seen[m] == 0 || v > a.max[m] {
		a.max[m] = v
	}
	a.seen[m]++
	a.sum[m] += v
	if v != 0 {
		a.nonZero[m]++
	}
}

func (a *accumulator) values() Values {
	var out Values
	for i, def := range definitions {
		switch def.Rule {
		case Additive:
			out[i] = a.sum[i]
		case Average:
			if a.seen[i] > 0 {
				out[i] = a.sum[i] / float64(a.seen[i])
			}
		case Maximum:
			if a.seen[i] > 0 {
				out[i] = a.max[i]
			}
		case Count:
			out[i] = float64(a.nonZero[i])
		}
	}
	return out
}

// summarize applies every metric's rule across the measurements of the given
// equipment that fall inside [start, end]. Metrics a sample does not report
// do not count towards that metric's average.
func summarize(measurements []models.Measurement, members map[string]struct{}, start, end time.Time) (Values, int) {
	var acc accumulator
	samples := 0
	for _, m := range measurements {
		if _, ok := members[m.EquipmentID]; !ok {
			continue
		}
		if m.Timestamp.Before(start) || m.Timestamp.After(end) {
			continue
		}
		samples++
		for name, v := range m.Metrics {
			acc.observe(name, v)
		}
	}
	return acc.values(), samples
}

// combine rolls child results into their parent's metrics. AVERAGE is the
// unweighted mean over all children, irrespective of how many samples each
// child saw.
func combine(children []Result) (Values, StatusCounts, int, int) {
	var (
		out      Values
		counts   StatusCounts
		entities int
		samples  int
	)
	if len(children) == 0 {
		return out, counts, 0, 0
	}
	for i, def := range definitions {
		switch def.Rule {
		case Additive, Count:
			for _, c := range children {
				out[i] += c.Metrics[i]
			}
		case Average:
			var sum float64
			for _, c := range children {
				sum += c.Metrics[i]
			}
			out[i] = sum / float64(len(children))
		case Maximum:
			out[i] = children[0].Metrics[i]
			for _, c := range children[1:] {
				if c.Metrics[i] > out[i] {
					out[i] = c.Metrics[i]
				}
			}
		}
	}
	for _, c := range children {
		counts = counts.Plus(c.StatusCounts)
		entities += c.EntityCount
		samples += c.SampleCount
	}
	return out, counts, entities, samples
}
