package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/smukkama/awair-bridge/internal/aggregation"
	"github.com/smukkama/awair-bridge/internal/alarming"
	"github.com/smukkama/awair-bridge/internal/aqi"
	"github.com/smukkama/awair-bridge/internal/awair"
	"github.com/smukkama/awair-bridge/internal/device"
	"github.com/smukkama/awair-bridge/internal/protocol"
	"github.com/smukkama/awair-bridge/internal/quota"
	"github.com/smukkama/awair-bridge/internal/sink"
	"github.com/smukkama/awair-bridge/internal/timer"
)

const (
	airDataTaskID   = "air-data"
	occupancyTaskID = "occupancy"
	discoveryTaskID = "discovery"
)

// CloudAPI is the part of the cloud client the bridge uses
type CloudAPI interface {
	UserInfo(ctx context.Context) (*awair.UserInfo, error)
	Devices(ctx context.Context) ([]awair.Device, error)
	AirData(ctx context.Context, d awair.Device, endpoint quota.Endpoint, limit int) (aggregation.Window, error)
	DisplayMode(ctx context.Context, d awair.Device) (string, error)
	SetDisplayMode(ctx context.Context, d awair.Device, mode string) (string, error)
	LEDMode(ctx context.Context, d awair.Device) (awair.LEDSetting, error)
	SetLEDMode(ctx context.Context, d awair.Device, led awair.LEDSetting) (string, error)
}

// LocalAPI is the part of the local client the bridge uses
type LocalAPI interface {
	AirDataLatest(ctx context.Context, d awair.Device) (*awair.LocalAirData, error)
	PowerStatus(ctx context.Context, d awair.Device) (*awair.PowerStatus, error)
}

// Bridge polls the tracked devices and publishes their characteristics.
// Per-device hysteresis and occupancy state live in the arena.
type Bridge struct {
	cloud     CloudAPI
	local     LocalAPI
	out       sink.Sink
	alerts    sink.AlertSink
	registry  *device.Registry
	arena     *alarming.Arena
	scheduler *timer.Scheduler
	metrics   *Metrics
	opts      Options

	mu     sync.RWMutex
	quota  quota.AccountQuota
	policy quota.PollingPolicy

	started bool
	cancel  context.CancelFunc
}

// New creates a bridge. out may also implement sink.AlertSink to receive
// threshold transitions.
func New(cloud CloudAPI, local LocalAPI, out sink.Sink, registry *device.Registry, arena *alarming.Arena, opts Options) *Bridge {
	if arena == nil {
		arena = alarming.NewArena(nil, opts.Thresholds)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.OccupancyInterval <= 0 {
		opts.OccupancyInterval = 30 * time.Second
	}
	if opts.DiscoveryRetry <= 0 {
		opts.DiscoveryRetry = DefaultOptions().DiscoveryRetry
	}
	if opts.VOCMolecularWeight <= 0 {
		opts.VOCMolecularWeight = DefaultOptions().VOCMolecularWeight
	}

	b := &Bridge{
		cloud:     cloud,
		local:     local,
		out:       out,
		registry:  registry,
		arena:     arena,
		scheduler: timer.NewScheduler(opts.Workers),
		metrics:   NewMetrics(nil),
		opts:      opts,
		quota:     quota.DefaultQuota(),
		policy:    quota.DefaultPolicy(),
	}
	if as, ok := out.(sink.AlertSink); ok {
		b.alerts = as
	}
	return b
}

// WithMetrics replaces the unregistered default collectors
func (b *Bridge) WithMetrics(m *Metrics) *Bridge {
	b.metrics = m
	return b
}

// Registry returns the tracked devices
func (b *Bridge) Registry() *device.Registry { return b.registry }

// Arena returns the per-device alert state
func (b *Bridge) Arena() *alarming.Arena { return b.arena }

// Policy returns the resolved polling policy
func (b *Bridge) Policy() quota.PollingPolicy {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.policy
}

// Quota returns the account quota used to resolve the policy
func (b *Bridge) Quota() quota.AccountQuota {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.quota
}

// SchedulerStats exposes the poll scheduler counters
func (b *Bridge) SchedulerStats() timer.Stats {
	return b.scheduler.Stats()
}

// Start resolves the polling policy, discovers the account devices and
// schedules the recurring polls. The first air-data poll runs immediately.
// A failed discovery is retried on the scheduler until it succeeds.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("bridge already started")
	}
	b.started = true
	ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	policy := b.ResolvePolicy(ctx)

	b.scheduler.Start()

	if err := b.DiscoverDevices(ctx); err != nil {
		log.Printf("Device discovery failed, retrying in %s: %v", b.opts.DiscoveryRetry, err)
		b.scheduleDiscovery(ctx)
	}

	if err := b.scheduler.ScheduleEvery(airDataTaskID, time.Now(), policy.Interval, func() {
		b.PollAll(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule air data polling: %w", err)
	}

	if err := b.scheduleOccupancy(ctx); err != nil {
		return err
	}

	log.Printf("Polling %d devices every %s (%s, limit %d)",
		b.registry.Count(), policy.Interval, policy.Endpoint, policy.Limit)
	return nil
}

// scheduleDiscovery retries device discovery once per DiscoveryRetry until it succeeds
func (b *Bridge) scheduleDiscovery(ctx context.Context) {
	err := b.scheduler.Schedule(discoveryTaskID, time.Now().Add(b.opts.DiscoveryRetry), func() {
		if ctx.Err() != nil {
			return
		}
		if err := b.DiscoverDevices(ctx); err != nil {
			log.Printf("Device discovery failed, retrying in %s: %v", b.opts.DiscoveryRetry, err)
			b.scheduleDiscovery(ctx)
			return
		}
		log.Printf("Device discovery recovered, tracking %d devices", b.registry.Count())
		if err := b.scheduleOccupancy(ctx); err != nil {
			log.Printf("Warning: %v", err)
		}
	})
	if err != nil {
		log.Printf("Failed to schedule device discovery: %v", err)
	}
}

// scheduleOccupancy starts the occupancy task once an Omni is tracked
func (b *Bridge) scheduleOccupancy(ctx context.Context) error {
	if !b.opts.OccupancyDetection || !b.registry.HasType(awair.TypeOmni) {
		return nil
	}
	if _, ok := b.scheduler.Next(occupancyTaskID); ok {
		return nil
	}

	first := time.Now().Add(b.opts.OccupancyInterval)
	if err := b.scheduler.ScheduleEvery(occupancyTaskID, first, b.opts.OccupancyInterval, func() {
		b.PollOccupancy(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule occupancy polling: %w", err)
	}
	log.Printf("Occupancy detection every %s", b.opts.OccupancyInterval)
	return nil
}

// Stop cancels in-flight requests and waits for running polls to return
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.scheduler.Stop()
}

// ResolvePolicy fetches the account tier and derives the polling policy.
// Failures fall back to the Hobbyist quota and the default policy.
func (b *Bridge) ResolvePolicy(ctx context.Context) quota.PollingPolicy {
	q := quota.DefaultQuota()

	info, err := b.cloud.UserInfo(ctx)
	if err != nil {
		log.Printf("Failed to fetch user info, assuming %s quota: %v", q.Tier, err)
	} else {
		q = info.AccountQuota()
		b.logf("Account tier %s: 15-min %v, 5-min %v, raw %v, latest %v",
			q.Tier, q.FifteenMin, q.FiveMin, q.Raw, q.Latest)
	}

	nowcast := b.opts.Method == aqi.MethodNowCast
	policy, err := quota.Resolve(q, b.opts.Endpoint, b.opts.Limit, nowcast)
	if err != nil {
		log.Printf("Warning: %v, using %s limit %d every %s", err, policy.Endpoint, policy.Limit, policy.Interval)
	}

	b.mu.Lock()
	b.quota = q
	b.policy = policy
	b.mu.Unlock()

	b.metrics.Interval.Set(policy.Interval.Seconds())
	return policy
}

// DiscoverDevices lists the account devices and reconciles the registry
func (b *Bridge) DiscoverDevices(ctx context.Context) error {
	devices, err := b.cloud.Devices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	res := b.registry.Sync(devices)
	for _, r := range res.Rejected {
		b.logf("[%s] Skipping %s device %q: %v", r.Device.Serial(), r.Device.DeviceType, r.Device.Name, r.Err)
	}
	for _, serial := range res.Removed {
		b.logf("[%s] Device removed from account", serial)
		if err := b.arena.Forget(ctx, serial); err != nil {
			log.Printf("[%s] Failed to drop alert state: %v", serial, err)
		}
	}

	for _, serial := range res.Added {
		t, ok := b.registry.Get(serial)
		if !ok {
			continue
		}
		d := t.Device
		b.logf("[%s] Tracking %s %q", serial, d.DeviceType, d.Name)

		if b.opts.OccupancyRestart && d.HasOccupancy() {
			if err := b.arena.ResetOccupancy(ctx, serial); err != nil {
				log.Printf("[%s] Failed to reset occupancy calibration: %v", serial, err)
			}
		}
		if b.opts.EnableModes && d.HasModes() {
			b.initModes(ctx, t)
		}
	}

	b.metrics.Devices.Set(float64(b.registry.Count()))
	return nil
}

// PollAll runs one air-data tick: every device is fetched on its own
// goroutine, together with its battery and light readings where supported.
func (b *Bridge) PollAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, t := range b.registry.All() {
		d := t.Device
		b.logf("[%s] Updating status...%s", t.Serial(), d.DeviceUUID)

		b.spawn(ctx, &wg, "air-data", d, func(ctx context.Context) error {
			return b.pollAirData(ctx, t)
		})
		if d.HasBattery() {
			b.spawn(ctx, &wg, "battery", d, func(ctx context.Context) error {
				return b.PollBattery(ctx, d)
			})
		}
		if d.HasLight() {
			b.spawn(ctx, &wg, "light", d, func(ctx context.Context) error {
				return b.PollLight(ctx, d)
			})
		}
	}

	wg.Wait()
}

// PollOccupancy runs one occupancy tick for every Omni device
func (b *Bridge) PollOccupancy(ctx context.Context) {
	var wg sync.WaitGroup

	for _, t := range b.registry.ByType(awair.TypeOmni) {
		d := t.Device
		b.spawn(ctx, &wg, "occupancy", d, func(ctx context.Context) error {
			return b.PollSound(ctx, d)
		})
	}

	wg.Wait()
}

// spawn runs one poll with a request timeout. A panic is logged and counted
// as an error for that device only.
func (b *Bridge) spawn(ctx context.Context, wg *sync.WaitGroup, kind string, d awair.Device, fn func(context.Context) error) {
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[%s] Panic during %s poll: %v\n%s", d.Serial(), kind, r, debug.Stack())
				b.metrics.PollErrors.WithLabelValues(kind).Inc()
			}
		}()

		if b.opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.opts.RequestTimeout)
			defer cancel()
		}

		start := time.Now()
		err := fn(ctx)
		b.metrics.PollDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		b.metrics.Polls.WithLabelValues(kind).Inc()

		if err != nil {
			b.metrics.PollErrors.WithLabelValues(kind).Inc()
			b.logf("[%s] %s error: %v", d.Serial(), kind, err)
		}
	}()
}

func (b *Bridge) pollAirData(ctx context.Context, t *device.Tracked) (err error) {
	if !t.BeginPoll() {
		b.metrics.PollsSkipped.WithLabelValues(t.Serial()).Inc()
		b.logf("[%s] Previous air data fetch still running, skipping tick", t.Serial())
		return nil
	}
	defer func() { t.EndPoll(err) }()

	policy := b.Policy()
	w, err := b.cloud.AirData(ctx, t.Device, policy.Endpoint, policy.Limit)
	if err != nil {
		return fmt.Errorf("failed to fetch air data: %w", err)
	}
	b.verbosef("[%s] Air data: %d samples", t.Serial(), len(w))

	return b.PublishAirData(ctx, t.Device, w)
}

// ref builds the sink identity of a device
func ref(d awair.Device) protocol.DeviceRef {
	return protocol.DeviceRef{Serial: d.Serial(), Type: d.DeviceType, Name: d.Name}
}

func (b *Bridge) publish(ctx context.Context, u protocol.Update) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("failed to validate %s: %w", u.Characteristic, err)
	}
	if err := b.out.Publish(ctx, u); err != nil {
		b.metrics.PublishErrors.Inc()
		return fmt.Errorf("failed to publish %s: %w", u.Characteristic, err)
	}
	b.metrics.Published.WithLabelValues(string(u.Characteristic)).Inc()
	return nil
}

func (b *Bridge) publishAlert(ctx context.Context, d awair.Device, t alarming.Transition) error {
	state := "cleared"
	if t.Detected {
		state = "detected"
	}
	b.metrics.Alerts.WithLabelValues(string(t.Metric), state).Inc()

	if b.alerts == nil {
		return nil
	}
	event := protocol.NewAlertEvent(ref(d), string(t.Metric), t.Detected, t.Value, t.Thresholds.On, t.Thresholds.Off, t.At)
	if err := b.alerts.PublishAlert(ctx, event); err != nil {
		b.metrics.PublishErrors.Inc()
		return fmt.Errorf("failed to publish %s alert: %w", t.Metric, err)
	}
	return nil
}

func (b *Bridge) logf(format string, args ...interface{}) {
	if b.opts.Logging {
		log.Printf(format, args...)
	}
}

func (b *Bridge) verbosef(format string, args ...interface{}) {
	if b.opts.Logging && b.opts.Verbose {
		log.Printf(format, args...)
	}
}
