package aggregation

import (
	"errors"
	"math"
	"time"
)

// ErrEmptyWindow is reported by callers that refuse to publish a window without samples
var ErrEmptyWindow = errors.New("empty sample window")

// Component identifies a sensor component reported in a sample
type Component int

const (
	Unknown Component = iota
	Temp
	Humid
	CO2
	VOC
	PM25
	PM10
	Dust
	Lux
	SPLA
)

var componentNames = map[Component]string{
	Temp:  "temp",
	Humid: "humid",
	CO2:   "co2",
	VOC:   "voc",
	PM25:  "pm25",
	PM10:  "pm10",
	Dust:  "dust",
	Lux:   "lux",
	SPLA:  "spl_a",
}

var componentsByName = func() map[string]Component {
	m := make(map[string]Component, len(componentNames))
	for c, name := range componentNames {
		m[name] = c
	}
	return m
}()

// ParseComponent maps a wire name to a Component. Unrecognized names map to Unknown.
func ParseComponent(name string) Component {
	if c, ok := componentsByName[name]; ok {
		return c
	}
	return Unknown
}

func (c Component) String() string {
	if name, ok := componentNames[c]; ok {
		return name
	}
	return "unknown"
}

// Reading is a single component value inside a sample
type Reading struct {
	Component Component
	Name      string // wire name, kept for Unknown components
	Value     float64
}

// NewReading builds a reading from its wire name
func NewReading(name string, value float64) Reading {
	return Reading{Component: ParseComponent(name), Name: name, Value: value}
}

// Key returns the name the reading is aggregated under
func (r Reading) Key() string {
	if r.Component == Unknown {
		return r.Name
	}
	return r.Component.String()
}

// Sample is one data point returned by the air-data endpoints
type Sample struct {
	Timestamp time.Time
	Score     float64
	Readings  []Reading
}

// Window is the ordered result of one fetch, newest sample first
type Window []Sample

// Summary is the folded representation of a window
type Summary struct {
	Values      map[string]float64
	MeanScore   float64
	SampleCount int
}

// Empty reports whether the window held no samples. Callers must not publish an empty summary.
func (a Summary) Empty() bool {
	return a.SampleCount == 0
}

// Get returns the aggregated value of a component
func (a Summary) Get(c Component) (float64, bool) {
	v, ok := a.Values[c.String()]
	return v, ok
}

// Aggregate reduces a window to one value per component.
// Each later occurrence of a component is blended with the accumulated value,
// acc = 0.5*(acc+v), so older samples are discounted geometrically.
func Aggregate(w Window) Summary {
	agg := Summary{
		Values:      make(map[string]float64),
		SampleCount: len(w),
	}

	var scoreSum float64
	for _, sample := range w {
		scoreSum += sample.Score
		for _, r := range sample.Readings {
			key := r.Key()
			if acc, seen := agg.Values[key]; seen {
				agg.Values[key] = 0.5 * (acc + r.Value)
			} else {
				agg.Values[key] = r.Value
			}
		}
	}

	if len(w) == 0 {
		agg.MeanScore = math.NaN()
	} else {
		agg.MeanScore = scoreSum / float64(len(w))
	}

	return agg
}

// Series extracts the values of the given components from every reading, preserving window order
func (w Window) Series(components ...Component) []float64 {
	var series []float64
	for _, sample := range w {
		for _, r := range sample.Readings {
			for _, c := range components {
				if r.Component == c {
					series = append(series, r.Value)
					break
				}
			}
		}
	}
	return series
}
