package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/smukkama/awair-bridge/internal/awair"
	"github.com/smukkama/awair-bridge/internal/device"
	"github.com/smukkama/awair-bridge/internal/protocol"
	"github.com/smukkama/awair-bridge/internal/sink"
)

var (
	ErrUnknownDevice = errors.New("device is not tracked")
	ErrUnsupported   = errors.New("device does not support this operation")
	ErrModesDisabled = errors.New("display and led modes are disabled")
)

// Ack is the outcome of a mode command
type Ack struct {
	Serial      string           `json:"serial"`
	DisplayMode string           `json:"display_mode,omitempty"`
	LED         awair.LEDSetting `json:"led,omitempty"`
	Message     string           `json:"message"`
}

// initModes brings a device to the default display and LED modes
func (b *Bridge) initModes(ctx context.Context, t *device.Tracked) {
	d := t.Device
	serial := t.Serial()

	mode, err := b.cloud.DisplayMode(ctx, d)
	switch {
	case err != nil:
		b.logf("[%s] Failed to read display mode: %v", serial, err)
	case mode != awair.DefaultDisplayMode:
		if _, err := b.ChangeDisplayMode(ctx, serial, awair.DefaultDisplayMode); err != nil {
			b.logf("[%s] Failed to initialize display mode: %v", serial, err)
		}
	default:
		t.SetDisplayMode(mode)
		b.publishMode(ctx, d, protocol.CharDisplayMode, mode)
	}

	led, err := b.cloud.LEDMode(ctx, d)
	switch {
	case err != nil:
		b.logf("[%s] Failed to read LED mode: %v", serial, err)
	case led.Mode != awair.DefaultLEDMode:
		if _, err := b.ChangeLEDMode(ctx, serial, awair.DefaultLEDMode, 0); err != nil {
			b.logf("[%s] Failed to initialize LED mode: %v", serial, err)
		}
	default:
		t.SetLED(led)
		b.publishMode(ctx, d, protocol.CharLEDMode, led.Mode)
	}
}

func (b *Bridge) modeDevice(serial string) (*device.Tracked, error) {
	if !b.opts.EnableModes {
		return nil, ErrModesDisabled
	}
	t, ok := b.registry.Get(serial)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, serial)
	}
	if !t.Device.HasModes() {
		return nil, fmt.Errorf("%w: %s has no display", ErrUnsupported, t.Device.DeviceType)
	}
	return t, nil
}

// ChangeDisplayMode sets the display of a device and publishes the new mode
func (b *Bridge) ChangeDisplayMode(ctx context.Context, serial, mode string) (Ack, error) {
	t, err := b.modeDevice(serial)
	if err != nil {
		return Ack{}, err
	}
	mode, err = awair.ParseDisplayMode(mode)
	if err != nil {
		return Ack{}, err
	}

	msg, err := b.cloud.SetDisplayMode(ctx, t.Device, mode)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to set display mode: %w", err)
	}
	t.SetDisplayMode(mode)
	b.logf("[%s] Display mode changed to %s: %s", serial, mode, msg)
	b.publishMode(ctx, t.Device, protocol.CharDisplayMode, mode)

	return Ack{Serial: serial, DisplayMode: mode, Message: msg}, nil
}

// ChangeLEDMode sets the LED mode of a device. brightness is only used in manual mode.
func (b *Bridge) ChangeLEDMode(ctx context.Context, serial, mode string, brightness int) (Ack, error) {
	t, err := b.modeDevice(serial)
	if err != nil {
		return Ack{}, err
	}
	led, err := awair.NewLEDSetting(mode, brightness)
	if err != nil {
		return Ack{}, err
	}

	msg, err := b.cloud.SetLEDMode(ctx, t.Device, led)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to set led mode: %w", err)
	}
	t.SetLED(led)
	b.logf("[%s] LED mode changed to %s (%d): %s", serial, led.Mode, led.Brightness, msg)

	b.publishMode(ctx, t.Device, protocol.CharLEDMode, led.Mode)
	if led.Mode == "manual" {
		u := protocol.NewUpdate(ref(t.Device), protocol.CharLEDBrightness, float64(led.Brightness), protocol.SourceCommand)
		if err := b.publish(ctx, u); err != nil {
			b.logf("[%s] %v", serial, err)
		}
	}

	return Ack{Serial: serial, LED: led, Message: msg}, nil
}

// HandleCommand applies a mode command received from the host
func (b *Bridge) HandleCommand(ctx context.Context, cmd sink.Command) (Ack, error) {
	switch cmd.Characteristic {
	case protocol.CharDisplayMode:
		return b.ChangeDisplayMode(ctx, cmd.Serial, cmd.Payload)
	case protocol.CharLEDMode:
		return b.ChangeLEDMode(ctx, cmd.Serial, cmd.Payload, 0)
	case protocol.CharLEDBrightness:
		brightness, err := strconv.Atoi(cmd.Payload)
		if err != nil {
			return Ack{}, fmt.Errorf("%w: %q", awair.ErrInvalidBrightness, cmd.Payload)
		}
		return b.ChangeLEDMode(ctx, cmd.Serial, "manual", brightness)
	default:
		return Ack{}, fmt.Errorf("%w: %s", ErrUnsupported, cmd.Characteristic)
	}
}

func (b *Bridge) publishMode(ctx context.Context, d awair.Device, c protocol.Characteristic, mode string) {
	if err := b.publish(ctx, protocol.NewTextUpdate(ref(d), c, mode, protocol.SourceCommand)); err != nil {
		b.logf("[%s] %v", d.Serial(), err)
	}
}
