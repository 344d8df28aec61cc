package aggregation

import (
	"encoding/json"
	"fmt"
)

// Rule is the combination kind applied to one metric. The same rule is used at
// every level of the hierarchy.
type Rule int

const (
	// Additive metrics are summed across samples and across children.
	Additive Rule = iota
	// Average metrics are the mean of samples at the leaf and the unweighted
	// mean of child results above it.
	Average
	// Maximum metrics keep the largest value seen.
	Maximum
	// Count metrics count the samples reporting a non-zero value at the leaf,
	// so a sample reporting 0 is not counted, and sum above it.
	Count
)

func (r Rule) String() string {
	switch r {
	case Additive:
		return "ADDITIVE"
	case Average:
		return "AVERAGE"
	case Maximum:
		return "MAXIMUM"
	case Count:
		return "COUNT"
	default:
		return fmt.Sprintf("Rule(%d)", int(r))
	}
}

// Metric identifies one known measurement channel.
type Metric int

const (
	ActivePower Metric = iota
	ReactivePower
	EnergyGenerated
	Efficiency
	Availability
	PerformanceRatio
	Irradiance
	WindSpeed
	Temperature
	AlarmCount
	NumMetrics
)

// Definition binds a metric to its wire name, unit and rule.
type Definition struct {
	Name string
	Unit string
	Rule Rule
}

var definitions = [NumMetrics]Definition{
	ActivePower:      {Name: "activePower", Unit: "kW", Rule: Additive},
	ReactivePower:    {Name: "reactivePower", Unit: "kvar", Rule: Additive},
	EnergyGenerated:  {Name: "energyGenerated", Unit: "kWh", Rule: Additive},
	Efficiency:       {Name: "efficiency", Unit: "%", Rule: Average},
	Availability:     {Name: "availability", Unit: "%", Rule: Average},
	PerformanceRatio: {Name: "performanceRatio", Unit: "%", Rule: Average},
	Irradiance:       {Name: "irradiance", Unit: "W/m2", Rule: Average},
	WindSpeed:        {Name: "windSpeed", Unit: "m/s", Rule: Average},
	Temperature:      {Name: "temperature", Unit: "C", Rule: Maximum},
	AlarmCount:       {Name: "alarms", Unit: "", Rule: Count},
}

var byName = func() map[string]Metric {
	m := make(map[string]Metric, NumMetrics)
	for i, def := range definitions {
		if def.Name == "" {
			panic(fmt.Sprintf("aggregation: metric %d has no definition", i))
		}
		m[def.Name] = Metric(i)
	}
	return m
}()

// Def returns the definition of m.
func (m Metric) Def() Definition { return definitions[m] }

func (m Metric) String() string {
	if m < 0 || m >= NumMetrics {
		return fmt.Sprintf("Metric(%d)", int(m))
	}
	return definitions[m].Name
}

// Lookup resolves a wire name to a metric.
func Lookup(name string) (Metric, bool) {
	m, ok := byName[name]
	return m, ok
}

// Definitions lists every known metric in registry order.
func Definitions() []Definition {
	out := make([]Definition, NumMetrics)
	copy(out, definitions[:])
	return out
}

// Values holds one number per known metric. It is an array so results can be
// copied by value and never share backing storage.
type Values [NumMetrics]float64

// Get returns the value of m.
func (v Values) Get(m Metric) float64 { return v[m] }

// ByName returns the value for a wire name; unknown names yield 0, false.
func (v Values) ByName(name string) (float64, bool) {
	m, ok := Lookup(name)
	if !ok {
		return 0, false
	}
	return v[m], true
}

// Map renders the values keyed by wire name.
func (v Values) Map() map[string]float64 {
	out := make(map[string]float64, NumMetrics)
	for i, def := range definitions {
		out[def.Name] = v[i]
	}
	return out
}

func (v Values) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

func (v *Values) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Values{}
	for name, val := range raw {
		if m, ok := byName[name]; ok {
			v[m] = val
		}
	}
	return nil
}
