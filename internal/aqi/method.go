package aqi

import (
	"fmt"

	"github.com/smukkama/awair-bridge/internal/aggregation"
)

// Method selects how the air quality level is derived
type Method string

const (
	MethodScore      Method = "awair-score"
	MethodBreakpoint Method = "awair-aqi"
	MethodPM         Method = "awair-pm"
	MethodNowCast    Method = "nowcast-aqi"
)

// ParseMethod validates a configured method name
func ParseMethod(name string) (Method, error) {
	switch m := Method(name); m {
	case MethodScore, MethodBreakpoint, MethodPM, MethodNowCast:
		return m, nil
	default:
		return "", fmt.Errorf("unknown air quality method: %q", name)
	}
}

// supportsNowCast is false for devices without a particulate sensor
func supportsNowCast(deviceType string) bool {
	return deviceType != "awair-glow" && deviceType != "awair-glow-c"
}

// Result is the outcome of a classification
type Result struct {
	Level   Level
	Method  Method // method actually applied, after fallbacks
	NowCast float64
	Err     error
}

// Classify computes the level for one device poll. The window is only read by
// MethodNowCast; every other method works on the aggregated summary.
func Classify(method Method, deviceType string, table ScoreTable, w aggregation.Window, s aggregation.Summary) Result {
	switch method {
	case MethodNowCast:
		if !supportsNowCast(deviceType) {
			return Result{Level: BreakpointLevel(s), Method: MethodBreakpoint}
		}
		level, value, err := NowCastLevel(w)
		return Result{Level: level, Method: MethodNowCast, NowCast: value, Err: err}
	case MethodBreakpoint:
		return Result{Level: BreakpointLevel(s), Method: MethodBreakpoint}
	case MethodPM:
		return Result{Level: PMLevel(s), Method: MethodPM}
	default:
		return Result{Level: ScoreLevel(s.MeanScore, table), Method: MethodScore}
	}
}
