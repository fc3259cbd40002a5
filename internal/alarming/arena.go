package alarming

import (
	"context"
	"log"
	"sync"
	"time"
)

// Transition is emitted when a machine changes state
type Transition struct {
	Serial     string
	Metric     Metric
	Detected   bool
	Value      float64
	Thresholds Thresholds
	At         time.Time
}

type deviceEntry struct {
	mu    sync.Mutex
	state DeviceState
}

// Arena owns the hysteresis machines and occupancy calibration of every device.
// Each device has its own lock so concurrent polls of different devices do not contend.
type Arena struct {
	mu         sync.Mutex
	devices    map[string]*deviceEntry
	thresholds map[Metric]Thresholds
	store      StateStore
	now        func() time.Time
}

// NewArena creates an arena. Metrics missing from thresholds use their defaults.
func NewArena(store StateStore, thresholds map[Metric]Thresholds) *Arena {
	if store == nil {
		store = NewMemoryStore()
	}
	t := map[Metric]Thresholds{
		MetricCO2:  DefaultCO2Thresholds,
		MetricVOC:  DefaultVOCThresholds,
		MetricPM25: DefaultPM25Thresholds,
	}
	for m, th := range thresholds {
		t[m] = th
	}

	return &Arena{
		devices:    make(map[string]*deviceEntry),
		thresholds: t,
		store:      store,
		now:        time.Now,
	}
}

// Thresholds returns the band used for a metric
func (a *Arena) Thresholds(m Metric) Thresholds {
	return a.thresholds[m]
}

// device returns the entry for serial, restoring it from the store on first use
func (a *Arena) device(ctx context.Context, serial string) *deviceEntry {
	a.mu.Lock()
	d, ok := a.devices[serial]
	a.mu.Unlock()
	if ok {
		return d
	}

	// the store round trip runs unlocked so other devices are not held up
	d = &deviceEntry{state: DeviceState{
		Serial:    serial,
		Alerts:    make(map[Metric]*Machine),
		Occupancy: NewCalibration(),
	}}

	stored, err := a.store.Load(ctx, serial)
	if err != nil {
		log.Printf("Failed to restore alarm state for %s: %v", serial, err)
	} else if stored != nil {
		for m, machine := range stored.Alerts {
			if machine == nil {
				continue
			}
			// thresholds always come from the running configuration
			d.state.Alerts[m] = &Machine{Thresholds: a.thresholds[m], Detected: machine.Detected}
		}
		if stored.Occupancy.DetectedLevel > 0 {
			d.state.Occupancy = stored.Occupancy
		}
		d.state.UpdatedAt = stored.UpdatedAt
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.devices[serial]; ok {
		return existing
	}
	a.devices[serial] = d
	return d
}

// EvaluateAlert feeds a metric value. The returned bool reports a transition; the
// state is persisted only when one occurs.
func (a *Arena) EvaluateAlert(ctx context.Context, serial string, metric Metric, value float64) (Transition, bool, error) {
	d := a.device(ctx, serial)
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.state.Alerts[metric]
	if !ok {
		m = &Machine{Thresholds: a.thresholds[metric]}
		d.state.Alerts[metric] = m
	}

	detected, changed := m.Evaluate(value)
	if !changed {
		return Transition{}, false, nil
	}

	now := a.now()
	d.state.UpdatedAt = now
	t := Transition{
		Serial:     serial,
		Metric:     metric,
		Detected:   detected,
		Value:      value,
		Thresholds: m.Thresholds,
		At:         now,
	}

	return t, true, a.store.Save(ctx, &d.state)
}

// Detected reports the current state of a metric without evaluating anything
func (a *Arena) Detected(ctx context.Context, serial string, metric Metric) bool {
	d := a.device(ctx, serial)
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.state.Alerts[metric]
	return ok && m.Detected
}

// ObserveSound feeds an spl_a reading into the occupancy calibration
func (a *Arena) ObserveSound(ctx context.Context, serial string, spl, offset float64) (OccupancyResult, error) {
	d := a.device(ctx, serial)
	d.mu.Lock()
	defer d.mu.Unlock()

	res := d.state.Occupancy.Observe(spl, offset)
	if !res.Recalibrated && !res.Changed {
		return res, nil
	}

	d.state.UpdatedAt = a.now()
	return res, a.store.Save(ctx, &d.state)
}

// ResetOccupancy discards the learned sound floor of a device
func (a *Arena) ResetOccupancy(ctx context.Context, serial string) error {
	d := a.device(ctx, serial)
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state.Occupancy = NewCalibration()
	d.state.UpdatedAt = a.now()
	return a.store.Save(ctx, &d.state)
}

// Snapshot returns a copy of a device's state
func (a *Arena) Snapshot(serial string) (DeviceState, bool) {
	a.mu.Lock()
	d, ok := a.devices[serial]
	a.mu.Unlock()
	if !ok {
		return DeviceState{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.clone(), true
}

// Forget drops a device from memory and the store
func (a *Arena) Forget(ctx context.Context, serial string) error {
	a.mu.Lock()
	delete(a.devices, serial)
	a.mu.Unlock()

	return a.store.Delete(ctx, serial)
}
