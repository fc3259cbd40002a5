package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smukkama/awair-bridge/internal/protocol"
)

var ref = protocol.DeviceRef{Serial: "70886B000001", Type: "awair-omni", Name: "Bedroom"}

type failingSink struct{ closed bool }

func (f *failingSink) Publish(context.Context, protocol.Update) error { return errors.New("down") }
func (f *failingSink) Close() error                                  { f.closed = true; return nil }

type fakePublisher struct {
	keys   []string
	values [][]byte
	closed bool
}

func (p *fakePublisher) Publish(_ context.Context, key string, value []byte) error {
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

func (p *fakePublisher) Close() error { p.closed = true; return nil }

func TestMulti_FanOut(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(0)
	bad := &failingSink{}
	m := NewMulti(bad, mem)

	err := m.Publish(ctx, protocol.NewUpdate(ref, protocol.CharHumidity, 45, protocol.SourceCloud))
	if err == nil {
		t.Error("Expected failing sink error to be reported")
	}
	if mem.Count(ref.Serial, protocol.CharHumidity) != 1 {
		t.Error("Expected memory sink to receive the update despite the failure")
	}

	// failingSink has no PublishAlert and is skipped
	alert := protocol.NewAlertEvent(ref, "pm25", true, 40, 35, 20, time.Now())
	if err := m.PublishAlert(ctx, alert); err != nil {
		t.Errorf("PublishAlert failed: %v", err)
	}
	if len(mem.Alerts()) != 1 {
		t.Errorf("Expected 1 alert, got %d", len(mem.Alerts()))
	}

	m.Close()
	if !bad.closed {
		t.Error("Expected Close to reach every sink")
	}
}

func TestMemory_LatestAndLimit(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(2)

	mem.Publish(ctx, protocol.NewUpdate(ref, protocol.CharCO2Level, 800, protocol.SourceCloud))
	mem.Publish(ctx, protocol.NewUpdate(ref, protocol.CharCO2Level, 900, protocol.SourceCloud))
	mem.Publish(ctx, protocol.NewUpdate(ref, protocol.CharTemperature, 21, protocol.SourceCloud))

	if len(mem.Updates()) != 2 {
		t.Errorf("Expected history trimmed to 2, got %d", len(mem.Updates()))
	}
	u, ok := mem.Latest(ref.Serial, protocol.CharCO2Level)
	if !ok || u.Value != 900 {
		t.Errorf("Expected latest co2 900, got %+v", u)
	}
	if len(mem.Device(ref.Serial)) != 2 {
		t.Errorf("Expected 2 characteristics for device, got %d", len(mem.Device(ref.Serial)))
	}
}

func TestKafka_KeysBySerial(t *testing.T) {
	ctx := context.Background()
	updates, alerts := &fakePublisher{}, &fakePublisher{}
	k := NewKafka(updates, alerts)

	if err := k.Publish(ctx, protocol.NewUpdate(ref, protocol.CharVOCDensity, 512, protocol.SourceCloud)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := k.PublishAlert(ctx, protocol.NewAlertEvent(ref, "voc", true, 1500, 1000, 800, time.Now())); err != nil {
		t.Fatalf("PublishAlert failed: %v", err)
	}

	if len(updates.keys) != 1 || updates.keys[0] != ref.Serial {
		t.Errorf("Expected update keyed by serial, got %v", updates.keys)
	}
	decoded, err := protocol.DecodeUpdate(updates.values[0])
	if err != nil || decoded.Value != 512 {
		t.Errorf("Unexpected encoded update %+v (%v)", decoded, err)
	}
	if len(alerts.keys) != 1 {
		t.Errorf("Expected 1 alert message, got %d", len(alerts.keys))
	}

	k.Close()
	if !updates.closed || !alerts.closed {
		t.Error("Expected both producers closed")
	}
}

func TestKafka_NoAlertTopic(t *testing.T) {
	k := NewKafka(&fakePublisher{}, nil)
	if err := k.PublishAlert(context.Background(), protocol.AlertEvent{}); err != nil {
		t.Errorf("Expected alerts to be dropped, got %v", err)
	}
	if err := k.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestMQTT_Topics(t *testing.T) {
	m := NewMQTTWithClient(nil, MQTTConfig{})

	if got := m.Topic(ref.Serial, protocol.CharCO2Detected); got != "awair/70886B000001/co2_detected" {
		t.Errorf("Unexpected topic %s", got)
	}

	cmd, ok := m.parseCommand("awair/70886B000001/display_mode/set", " clock\n")
	if !ok || cmd.Serial != ref.Serial || cmd.Characteristic != protocol.CharDisplayMode || cmd.Payload != "clock" {
		t.Errorf("Unexpected command %+v (%v)", cmd, ok)
	}

	if _, ok := m.parseCommand("awair/70886B000001/co2_level/set", "1"); ok {
		t.Error("Expected read-only characteristic to be rejected")
	}
	if _, ok := m.parseCommand("awair/70886B000001/pm1_density/set", "1"); ok {
		t.Error("Expected unknown characteristic to be rejected")
	}
	if _, ok := m.parseCommand("other/70886B000001/led_mode/set", "auto"); ok {
		t.Error("Expected foreign topic to be rejected")
	}
}

func TestMQTT_CustomPattern(t *testing.T) {
	m := NewMQTTWithClient(nil, MQTTConfig{TopicPattern: "home/air/{characteristic}/{device_id}"})

	if got := m.Topic("abc", protocol.CharHumidity); got != "home/air/humidity/abc" {
		t.Errorf("Unexpected topic %s", got)
	}
	cmd, ok := m.parseCommand("home/air/led_brightness/abc/set", "40")
	if !ok || cmd.Serial != "abc" || cmd.Characteristic != protocol.CharLEDBrightness {
		t.Errorf("Unexpected command %+v (%v)", cmd, ok)
	}
}
