package alarming

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewThresholds(t *testing.T) {
	th, err := NewThresholds(1200, 900, DefaultCO2Thresholds)
	if err != nil {
		t.Fatalf("NewThresholds failed: %v", err)
	}
	if th.On != 1200 || th.Off != 900 {
		t.Errorf("Expected 1200/900, got %+v", th)
	}

	for _, tc := range [][2]float64{{800, 1000}, {900, 900}, {math.NaN(), 10}} {
		th, err := NewThresholds(tc[0], tc[1], DefaultPM25Thresholds)
		if !errors.Is(err, ErrInvertedThresholds) {
			t.Errorf("NewThresholds(%v, %v): expected ErrInvertedThresholds, got %v", tc[0], tc[1], err)
		}
		if th != DefaultPM25Thresholds {
			t.Errorf("Expected defaults, got %+v", th)
		}
	}
}

func TestMachine_Hysteresis(t *testing.T) {
	m := &Machine{Thresholds: Thresholds{On: 1000, Off: 800}}

	steps := []struct {
		value    float64
		detected bool
		changed  bool
	}{
		{500, false, false},
		{1001, true, true},
		{900, true, false}, // dead band holds
		{1500, true, false},
		{799, false, true},
		{900, false, false},
		{1000, true, true}, // on is inclusive
		{800, false, true}, // off is inclusive
		{math.NaN(), false, false},
	}

	for i, s := range steps {
		detected, changed := m.Evaluate(s.value)
		if detected != s.detected || changed != s.changed {
			t.Errorf("step %d (%v): got detected=%v changed=%v, want %v/%v",
				i, s.value, detected, changed, s.detected, s.changed)
		}
	}
}

func TestCalibration_Initial(t *testing.T) {
	c := NewCalibration()
	if c.MinLevel != 55 || c.NotDetectedLevel != 55 || c.DetectedLevel != 60 {
		t.Errorf("Unexpected initial calibration %+v", c)
	}
}

func TestCalibration_NoiseFloorBoundary(t *testing.T) {
	tests := []struct {
		spl          float64
		recalibrated bool
	}{
		{SoundNoiseFloor - 3, false},
		{SoundNoiseFloor, false},
		{SoundNoiseFloor + 0.01, true},
	}

	for _, tt := range tests {
		c := NewCalibration()
		res := c.Observe(tt.spl, DefaultOccupancyOffset)
		if res.Recalibrated != tt.recalibrated {
			t.Errorf("spl %v: got recalibrated=%v, want %v", tt.spl, res.Recalibrated, tt.recalibrated)
		}
		if tt.recalibrated && c.MinLevel != tt.spl {
			t.Errorf("spl %v: expected min level to follow, got %+v", tt.spl, c)
		}
		if !tt.recalibrated && c.MinLevel != 55 {
			t.Errorf("spl %v: expected min level to stay at 55, got %+v", tt.spl, c)
		}
	}
}

func TestCalibration_Observe(t *testing.T) {
	c := NewCalibration()

	// below the noise floor is ignored
	res := c.Observe(45, DefaultOccupancyOffset)
	if res.Recalibrated || c.MinLevel != 55 {
		t.Errorf("Expected level 45 to be ignored, got %+v", c)
	}

	res = c.Observe(50, DefaultOccupancyOffset)
	if !res.Recalibrated {
		t.Fatal("Expected recalibration at 50 dBA")
	}
	if c.MinLevel != 50 || c.NotDetectedLevel != 52 || c.DetectedLevel != 52.5 {
		t.Errorf("Unexpected calibration %+v", c)
	}
	if res.Detected {
		t.Error("Expected quiet room to be unoccupied")
	}

	res = c.Observe(52.5, DefaultOccupancyOffset)
	if !res.Detected || !res.Changed {
		t.Errorf("Expected occupancy at detected level, got %+v", res)
	}

	res = c.Observe(52.2, DefaultOccupancyOffset)
	if !res.Detected || res.Changed {
		t.Errorf("Expected dead band to hold occupancy, got %+v", res)
	}

	res = c.Observe(52, DefaultOccupancyOffset)
	if res.Detected || !res.Changed {
		t.Errorf("Expected vacancy at not-detected level, got %+v", res)
	}
}

func TestArena_CO2Publishes(t *testing.T) {
	ctx := context.Background()
	e := NewArena(NewMemoryStore(), nil)

	var transitions []Transition
	for _, v := range []float64{1200, 1200, 700} {
		tr, changed, err := e.EvaluateAlert(ctx, "awair-r2_1", MetricCO2, v)
		if err != nil {
			t.Fatalf("EvaluateAlert failed: %v", err)
		}
		if changed {
			transitions = append(transitions, tr)
		}
	}

	if len(transitions) != 2 {
		t.Fatalf("Expected 2 transitions, got %d", len(transitions))
	}
	if !transitions[0].Detected || transitions[1].Detected {
		t.Errorf("Expected detected then cleared, got %+v", transitions)
	}
	if transitions[0].Thresholds != DefaultCO2Thresholds {
		t.Errorf("Expected default CO2 thresholds, got %+v", transitions[0].Thresholds)
	}
}

func TestArena_DevicesAreIndependent(t *testing.T) {
	ctx := context.Background()
	e := NewArena(nil, map[Metric]Thresholds{MetricPM25: {On: 10, Off: 5}})

	e.EvaluateAlert(ctx, "a", MetricPM25, 12)
	e.EvaluateAlert(ctx, "b", MetricPM25, 3)

	if !e.Detected(ctx, "a", MetricPM25) {
		t.Error("Expected device a to be detected")
	}
	if e.Detected(ctx, "b", MetricPM25) {
		t.Error("Expected device b to be clear")
	}
	if e.Thresholds(MetricCO2) != DefaultCO2Thresholds {
		t.Error("Expected unset metric to use defaults")
	}
}

// slowStore blocks Load for one serial until release is closed
type slowStore struct {
	*MemoryStore
	serial  string
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) Load(ctx context.Context, serial string) (*DeviceState, error) {
	if serial == s.serial {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.Load(ctx, serial)
}

func TestArena_SlowLoadDoesNotBlockOtherDevices(t *testing.T) {
	ctx := context.Background()
	store := &slowStore{
		MemoryStore: NewMemoryStore(),
		serial:      "slow",
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	e := NewArena(store, nil)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		e.EvaluateAlert(ctx, "slow", MetricCO2, 1500)
	}()
	<-store.entered

	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		e.EvaluateAlert(ctx, "fast", MetricCO2, 1500)
	}()

	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatal("Expected a second device to proceed while the first one is loading")
	}

	close(store.release)
	<-slowDone
	if !e.Detected(ctx, "slow", MetricCO2) || !e.Detected(ctx, "fast", MetricCO2) {
		t.Error("Expected both devices to be detected")
	}
}

func TestArena_RestoresFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := NewArena(store, nil)
	first.EvaluateAlert(ctx, "omni_7", MetricVOC, 1500)
	first.ObserveSound(ctx, "omni_7", 49, DefaultOccupancyOffset)

	// a restarted process with different thresholds keeps the detected flag
	second := NewArena(store, map[Metric]Thresholds{MetricVOC: {On: 2000, Off: 1500}})
	if !second.Detected(ctx, "omni_7", MetricVOC) {
		t.Fatal("Expected VOC detection to survive a restart")
	}

	snap, ok := second.Snapshot("omni_7")
	if !ok {
		t.Fatal("Expected snapshot")
	}
	if snap.Alerts[MetricVOC].On != 2000 {
		t.Errorf("Expected running thresholds to apply, got %+v", snap.Alerts[MetricVOC])
	}
	if snap.Occupancy.MinLevel != 49 {
		t.Errorf("Expected restored sound floor 49, got %v", snap.Occupancy.MinLevel)
	}

	if err := second.ResetOccupancy(ctx, "omni_7"); err != nil {
		t.Fatalf("ResetOccupancy failed: %v", err)
	}
	snap, _ = second.Snapshot("omni_7")
	if snap.Occupancy != NewCalibration() {
		t.Errorf("Expected reset calibration, got %+v", snap.Occupancy)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not reachable at %s: %v", addr, err)
	}
	store := NewRedisStore(client)

	state, err := store.Load(ctx, "missing")
	if err != nil || state != nil {
		t.Fatalf("Expected nil state, got %+v (%v)", state, err)
	}

	in := &DeviceState{
		Serial:    "awair-element_42",
		Alerts:    map[Metric]*Machine{MetricCO2: {Thresholds: DefaultCO2Thresholds, Detected: true}},
		Occupancy: NewCalibration(),
	}
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	ttl, err := client.TTL(ctx, "alarm_state:awair-element_42").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 {
		t.Error("Expected state to carry an expiry")
	}

	out, err := store.Load(ctx, "awair-element_42")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !out.Alerts[MetricCO2].Detected {
		t.Error("Expected CO2 detected after reload")
	}

	if err := store.Delete(ctx, "awair-element_42"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n, _ := client.Exists(ctx, "alarm_state:awair-element_42").Result(); n != 0 {
		t.Error("Expected key to be deleted")
	}
}
