package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/smukkama/awair-bridge/internal/awair"
	"github.com/smukkama/awair-bridge/internal/protocol"
)

var (
	errNoLux = errors.New("local air data has no lux reading")
	errNoSPL = errors.New("local air data has no spl_a reading")
)

// PollBattery publishes the battery level, charging state and low battery flag of an Omni
func (b *Bridge) PollBattery(ctx context.Context, d awair.Device) error {
	status, err := b.local.PowerStatus(ctx, d)
	if err != nil {
		return fmt.Errorf("failed to fetch power status: %w", err)
	}

	r := ref(d)
	b.verbosef("[%s] battery: %v, plugged: %v", r.Serial, status.Battery, status.Plugged)

	return errors.Join(
		b.publish(ctx, protocol.NewUpdate(r, protocol.CharBatteryLevel, status.Battery, protocol.SourceLocal)),
		b.publish(ctx, protocol.NewUpdate(r, protocol.CharChargingState, protocol.BoolValue(status.Plugged), protocol.SourceLocal)),
		b.publish(ctx, protocol.NewUpdate(r, protocol.CharLowBattery, protocol.BoolValue(status.Low()), protocol.SourceLocal)),
	)
}

// PollLight publishes the ambient light level of an Omni or Mint
func (b *Bridge) PollLight(ctx context.Context, d awair.Device) error {
	data, err := b.local.AirDataLatest(ctx, d)
	if err != nil {
		return fmt.Errorf("failed to fetch local air data: %w", err)
	}
	if data.Lux == nil {
		return errNoLux
	}

	lux := awair.ClampLux(*data.Lux)
	b.verbosef("[%s] LocalAPI lux data for %s: %v", d.Serial(), d.DeviceType, lux)

	return b.publish(ctx, protocol.NewUpdate(ref(d), protocol.CharAmbientLight, lux, protocol.SourceLocal))
}

// PollSound feeds the Omni sound level into the occupancy calibration and
// publishes occupancy when it changes
func (b *Bridge) PollSound(ctx context.Context, d awair.Device) error {
	data, err := b.local.AirDataLatest(ctx, d)
	if err != nil {
		return fmt.Errorf("failed to fetch local air data: %w", err)
	}
	if data.SPLA == nil {
		return errNoSPL
	}

	serial := d.Serial()
	spl := *data.SPLA
	b.verbosef("[%s] spl_a: %v", serial, spl)

	res, err := b.arena.ObserveSound(ctx, serial, spl, b.opts.OccupancyOffset)
	if err != nil {
		b.logf("[%s] Failed to persist occupancy calibration: %v", serial, err)
	}
	if res.Recalibrated {
		b.logf("[%s] min spl_a: %vdBA -> notDetectedLevel: %vdBA, DetectedLevel: %vdBA",
			serial, spl, res.Calibration.NotDetectedLevel, res.Calibration.DetectedLevel)
	}
	if !res.Changed {
		return nil
	}

	if res.Detected {
		b.logf("[%s] Occupied: %vdBA >= %vdBA", serial, spl, res.Calibration.DetectedLevel)
	} else {
		b.logf("[%s] Not Occupied: %vdBA <= %vdBA", serial, spl, res.Calibration.NotDetectedLevel)
	}
	return b.publish(ctx, protocol.NewUpdate(ref(d), protocol.CharOccupancyDetected, protocol.BoolValue(res.Detected), protocol.SourceLocal))
}

// ResetOccupancy clears the learned sound floor of an Omni
func (b *Bridge) ResetOccupancy(ctx context.Context, serial string) error {
	t, ok := b.registry.Get(serial)
	if !ok {
		return ErrUnknownDevice
	}
	if !t.Device.HasOccupancy() {
		return ErrUnsupported
	}
	return b.arena.ResetOccupancy(ctx, serial)
}
