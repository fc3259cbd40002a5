package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/smukkama/awair-bridge/internal/protocol"
)

// Sink receives characteristic updates for the home-automation host
type Sink interface {
	Publish(ctx context.Context, u protocol.Update) error
	Close() error
}

// AlertSink is implemented by sinks that also carry threshold alerts
type AlertSink interface {
	PublishAlert(ctx context.Context, a protocol.AlertEvent) error
}

// Multi fans every update out to all sinks. A failing sink does not stop
// delivery to the others; their errors are joined.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Add appends a sink
func (m *Multi) Add(s Sink) {
	m.sinks = append(m.sinks, s)
}

// Len returns the number of configured sinks
func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Publish(ctx context.Context, u protocol.Update) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) PublishAlert(ctx context.Context, a protocol.AlertEvent) error {
	var errs []error
	for _, s := range m.sinks {
		as, ok := s.(AlertSink)
		if !ok {
			continue
		}
		if err := as.PublishAlert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type stateKey struct {
	serial string
	char   protocol.Characteristic
}

// Memory keeps every update and the latest value per device and characteristic.
// It backs GET /devices/{serial} and the tests.
type Memory struct {
	mu      sync.RWMutex
	updates []protocol.Update
	alerts  []protocol.AlertEvent
	latest  map[stateKey]protocol.Update
	limit   int
}

// NewMemory creates a memory sink keeping at most limit updates in its history (0 = unbounded)
func NewMemory(limit int) *Memory {
	return &Memory{
		latest: make(map[stateKey]protocol.Update),
		limit:  limit,
	}
}

func (m *Memory) Publish(_ context.Context, u protocol.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updates = append(m.updates, u)
	if m.limit > 0 && len(m.updates) > m.limit {
		m.updates = m.updates[len(m.updates)-m.limit:]
	}
	m.latest[stateKey{u.Device.Serial, u.Characteristic}] = u
	return nil
}

func (m *Memory) PublishAlert(_ context.Context, a protocol.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *Memory) Close() error { return nil }

// Updates returns a copy of the update history
func (m *Memory) Updates() []protocol.Update {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]protocol.Update, len(m.updates))
	copy(out, m.updates)
	return out
}

// Alerts returns a copy of the published alerts
func (m *Memory) Alerts() []protocol.AlertEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]protocol.AlertEvent, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Count returns how many updates of a characteristic were published for a device
func (m *Memory) Count(serial string, c protocol.Characteristic) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, u := range m.updates {
		if u.Device.Serial == serial && u.Characteristic == c {
			n++
		}
	}
	return n
}

// Latest returns the last value published for a characteristic
func (m *Memory) Latest(serial string, c protocol.Characteristic) (protocol.Update, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.latest[stateKey{serial, c}]
	return u, ok
}

// Device returns the latest value of every characteristic of a device
func (m *Memory) Device(serial string) map[protocol.Characteristic]protocol.Update {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[protocol.Characteristic]protocol.Update)
	for k, u := range m.latest {
		if k.serial == serial {
			out[k.char] = u
		}
	}
	return out
}
