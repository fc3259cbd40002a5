package aqi

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/smukkama/awair-bridge/internal/aggregation"
)

func summary(kv map[string]float64, score float64) aggregation.Summary {
	return aggregation.Summary{Values: kv, MeanScore: score, SampleCount: 1}
}

func TestVOCPpbToUgm3(t *testing.T) {
	if v, capped := VOCPpbToUgm3(0, DefaultVOCMolecularWeight, 1, 22); v != 0 || capped {
		t.Errorf("Expected 0 for 0 ppb, got %v (capped=%v)", v, capped)
	}

	// 500 ppb at 25C: (500*72.6658*101.32)/(298.15*8.3144) ~ 1485.0
	v, _ := VOCPpbToUgm3(500, DefaultVOCMolecularWeight, 1, 25)
	if math.Abs(v-1485.0) > 0.5 {
		t.Errorf("Expected ~1485.0 ug/m^3, got %v", v)
	}

	prev := -1.0
	for ppb := 0.0; ppb <= 30000; ppb += 250 {
		v, _ := VOCPpbToUgm3(ppb, DefaultVOCMolecularWeight, 1, 21)
		if v < prev {
			t.Fatalf("Conversion not monotonic at %v ppb: %v < %v", ppb, v, prev)
		}
		prev = v
	}
}

func TestVOCPpbToUgm3_Capped(t *testing.T) {
	v, capped := VOCPpbToUgm3(60000, DefaultVOCMolecularWeight, 1, 20)

	if !capped {
		t.Error("Expected value to be capped")
	}
	if v != VOCDensityCeiling {
		t.Errorf("Expected %v, got %v", VOCDensityCeiling, v)
	}
}

func TestVOCFormula(t *testing.T) {
	got := VOCFormula(10, 72, 1, 20)
	want := "(10 * 72 * 1 * 101.32) / ((273.15 + 20) * 8.3144)"
	if got != want {
		t.Errorf("VOCFormula = %q, want %q", got, want)
	}
}

func TestScoreLevel_Legacy(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{100, 1}, {90, 1}, {89.9, 2}, {80, 2}, {79.9, 3}, {60, 3}, {59.9, 4}, {50, 4}, {49.9, 5}, {0, 5},
		{math.NaN(), 0}, {-1, 0}, {101, 0},
	}

	for _, tt := range tests {
		if got := ScoreLevel(tt.score, LegacyScoreTable); got != tt.want {
			t.Errorf("ScoreLevel(%v, legacy) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestScoreLevel_Revised(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{100, 1}, {81, 1}, {80.99, 2}, {80, 2}, {61, 2}, {60.5, 3}, {41, 3}, {40, 4}, {21, 4}, {20.9, 5}, {0, 5},
	}

	for _, tt := range tests {
		if got := ScoreLevel(tt.score, RevisedScoreTable); got != tt.want {
			t.Errorf("ScoreLevel(%v, revised) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestScoreTableSelection(t *testing.T) {
	if ScoreTableFor("awair-element").Name != "revised" {
		t.Error("Expected revised table for awair-element")
	}
	if ScoreTableFor("awair-omni").Name != "legacy" {
		t.Error("Expected legacy table for awair-omni")
	}
	if _, ok := ParseScoreTable("auto"); ok {
		t.Error("Expected auto to defer to device type")
	}
	if table, ok := ParseScoreTable("revised"); !ok || table.Name != "revised" {
		t.Errorf("Expected revised table, got %+v", table)
	}
}

func TestBreakpointTables(t *testing.T) {
	tests := []struct {
		name     string
		classify func(float64) Level
		value    float64
		want     Level
	}{
		{"voc", VOCLevel, 0, 1},
		{"voc", VOCLevel, 332.999, 1},
		{"voc", VOCLevel, 333, 2},
		{"voc", VOCLevel, 999.9, 2},
		{"voc", VOCLevel, 1000, 3},
		{"voc", VOCLevel, 3333, 4},
		{"voc", VOCLevel, 8331.9, 4},
		{"voc", VOCLevel, 8332, 5},
		{"voc", VOCLevel, -1, 0},
		{"pm25", PM25Level, 14.99, 1},
		{"pm25", PM25Level, 15, 2},
		{"pm25", PM25Level, 35, 3},
		{"pm25", PM25Level, 55, 4},
		{"pm25", PM25Level, 74.99, 4},
		{"pm25", PM25Level, 75, 5},
		{"dust", DustLevel, 49.9, 1},
		{"dust", DustLevel, 50, 2},
		{"dust", DustLevel, 100, 3},
		{"dust", DustLevel, 150, 4},
		{"dust", DustLevel, 250, 5},
		{"dust", DustLevel, math.NaN(), 0},
	}

	for _, tt := range tests {
		if got := tt.classify(tt.value); got != tt.want {
			t.Errorf("%s(%v) = %v, want %v", tt.name, tt.value, got, tt.want)
		}
	}
}

func TestBreakpointLevel_WorstWins(t *testing.T) {
	s := summary(map[string]float64{"voc": 200, "pm25": 40, "dust": 20, "temp": 22}, 90)

	if got := BreakpointLevel(s); got != LevelFair {
		t.Errorf("Expected fair (pm25 dominates), got %v", got)
	}

	s.Values["voc"] = 9000
	if got := BreakpointLevel(s); got != LevelPoor {
		t.Errorf("Expected poor (voc dominates), got %v", got)
	}
	if got := PMLevel(s); got != LevelFair {
		t.Errorf("Expected PM-only level to ignore voc, got %v", got)
	}
}

func TestBreakpointLevel_NoPollutants(t *testing.T) {
	s := summary(map[string]float64{"temp": 22, "humid": 40}, 90)

	if got := BreakpointLevel(s); got != LevelUnknown {
		t.Errorf("Expected unknown, got %v", got)
	}
}

func flatWindow(n int, value float64) aggregation.Window {
	w := make(aggregation.Window, n)
	now := time.Now()
	for i := range w {
		w[i] = aggregation.Sample{
			Timestamp: now.Add(-time.Duration(i) * 15 * time.Minute),
			Score:     80,
			Readings: []aggregation.Reading{
				aggregation.NewReading("temp", 21),
				aggregation.NewReading("pm25", value),
			},
		}
	}
	return w
}

func TestNowCast_FlatLineIsMean(t *testing.T) {
	series := make([]float64, 48)
	for i := range series {
		series[i] = 42
	}

	v, err := NowCast(series)
	if err != nil {
		t.Fatalf("NowCast failed: %v", err)
	}
	if v != 42 {
		t.Errorf("Expected 42, got %v", v)
	}
}

func TestNowCast_NewestBucketDominates(t *testing.T) {
	// newest hour polluted, the remaining 11 hours clean
	series := make([]float64, 48)
	for i := 0; i < 4; i++ {
		series[i] = 200
	}
	for i := 4; i < 48; i++ {
		series[i] = 10
	}

	v, err := NowCast(series)
	if err != nil {
		t.Fatalf("NowCast failed: %v", err)
	}

	// weight factor clamps to 0.5: (200 + 10*(sum 0.5^i, i=1..11)) / (sum 0.5^i, i=0..11)
	num, den := 200.0, 1.0
	for i := 1; i < 12; i++ {
		num += 10 * math.Pow(0.5, float64(i))
		den += math.Pow(0.5, float64(i))
	}
	if math.Abs(v-num/den) > 1e-9 {
		t.Errorf("Expected %v, got %v", num/den, v)
	}

	reversed := make([]float64, 48)
	for i := range series {
		reversed[47-i] = series[i]
	}
	older, _ := NowCast(reversed)
	if older >= v {
		t.Errorf("Expected an old spike (%v) to weigh less than a new one (%v)", older, v)
	}
}

func TestNowCast_ZeroSeries(t *testing.T) {
	v, err := NowCast(make([]float64, 48))
	if err != nil {
		t.Fatalf("NowCast failed: %v", err)
	}
	if v != 0 || math.IsNaN(v) {
		t.Errorf("Expected 0, got %v", v)
	}
}

func TestNowCastLevel_WrongWindow(t *testing.T) {
	level, _, err := NowCastLevel(flatWindow(47, 10))

	if !errors.Is(err, ErrNowCastWindow) {
		t.Fatalf("Expected ErrNowCastWindow, got %v", err)
	}
	if level != LevelUnknown {
		t.Errorf("Expected unknown level, got %v", level)
	}
}

func TestNowCastLevel_Tiers(t *testing.T) {
	tests := []struct {
		value float64
		want  Level
	}{
		{10, 1}, {49.9, 1}, {50, 2}, {100, 3}, {150, 4}, {299, 4}, {300, 5},
	}

	for _, tt := range tests {
		level, _, err := NowCastLevel(flatWindow(48, tt.value))
		if err != nil {
			t.Fatalf("NowCastLevel(%v) failed: %v", tt.value, err)
		}
		if level != tt.want {
			t.Errorf("NowCastLevel(%v) = %v, want %v", tt.value, level, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	w := flatWindow(48, 60)
	s := aggregation.Aggregate(w)

	tests := []struct {
		method     Method
		deviceType string
		want       Level
		applied    Method
	}{
		{MethodScore, "awair-omni", LevelGood, MethodScore},
		{MethodBreakpoint, "awair-omni", LevelInferior, MethodBreakpoint},
		{MethodPM, "awair-omni", LevelInferior, MethodPM},
		{MethodNowCast, "awair-omni", LevelGood, MethodNowCast},
		{MethodNowCast, "awair-glow-c", LevelInferior, MethodBreakpoint},
	}

	for _, tt := range tests {
		r := Classify(tt.method, tt.deviceType, LegacyScoreTable, w, s)
		if r.Level != tt.want || r.Method != tt.applied {
			t.Errorf("Classify(%s, %s) = %v via %s, want %v via %s",
				tt.method, tt.deviceType, r.Level, r.Method, tt.want, tt.applied)
		}
	}
}

func TestClassify_Idempotent(t *testing.T) {
	w := flatWindow(48, 33)
	s := aggregation.Aggregate(w)

	for _, m := range []Method{MethodScore, MethodBreakpoint, MethodPM, MethodNowCast} {
		first := Classify(m, "awair-r2", LegacyScoreTable, w, s)
		for i := 0; i < 5; i++ {
			if again := Classify(m, "awair-r2", LegacyScoreTable, w, s); again != first {
				t.Errorf("%s: call %d returned %+v, first was %+v", m, i, again, first)
			}
		}
	}
}

func TestParseMethod(t *testing.T) {
	for _, name := range []string{"awair-score", "awair-aqi", "awair-pm", "nowcast-aqi"} {
		if _, err := ParseMethod(name); err != nil {
			t.Errorf("ParseMethod(%q) failed: %v", name, err)
		}
	}
	if _, err := ParseMethod("epa"); err == nil {
		t.Error("Expected error for unknown method")
	}
}
