package alarming

import (
	"errors"
	"fmt"
	"math"
)

// Metric names a tracked alert signal
type Metric string

const (
	MetricCO2  Metric = "co2"
	MetricVOC  Metric = "voc"
	MetricPM25 Metric = "pm25"
)

// Thresholds is the two-level band of a hysteresis machine
type Thresholds struct {
	On  float64 `json:"on"`
	Off float64 `json:"off"`
}

// Compiled-in defaults, CO2 in ppm and VOC/PM2.5 in ug/m^3
var (
	DefaultCO2Thresholds  = Thresholds{On: 1000, Off: 800}
	DefaultVOCThresholds  = Thresholds{On: 1000, Off: 800}
	DefaultPM25Thresholds = Thresholds{On: 35, Off: 20}
)

// DefaultThresholds returns the compiled-in band for a metric
func DefaultThresholds(m Metric) Thresholds {
	switch m {
	case MetricVOC:
		return DefaultVOCThresholds
	case MetricPM25:
		return DefaultPM25Thresholds
	default:
		return DefaultCO2Thresholds
	}
}

var ErrInvertedThresholds = errors.New("on level must be greater than off level")

// NewThresholds validates a configured band. An inverted or empty band returns the
// defaults together with ErrInvertedThresholds.
func NewThresholds(on, off float64, defaults Thresholds) (Thresholds, error) {
	if math.IsNaN(on) || math.IsNaN(off) || on <= off {
		return defaults, fmt.Errorf("%w: on=%v off=%v, using on=%v off=%v",
			ErrInvertedThresholds, on, off, defaults.On, defaults.Off)
	}
	return Thresholds{On: on, Off: off}, nil
}

// Machine is a sticky BELOW/ABOVE state driven by a continuous input
type Machine struct {
	Thresholds
	Detected bool `json:"detected"`
}

// Evaluate feeds a new measurement. changed is true only on an actual transition;
// values inside the dead band, or NaN, hold the current state.
func (m *Machine) Evaluate(v float64) (detected, changed bool) {
	switch {
	case !m.Detected && v >= m.On:
		m.Detected = true
		return true, true
	case m.Detected && v <= m.Off:
		m.Detected = false
		return false, true
	default:
		return m.Detected, false
	}
}
