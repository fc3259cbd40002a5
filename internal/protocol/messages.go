package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Characteristic names a value published to the home-automation host
type Characteristic string

const (
	CharAirQuality        Characteristic = "air_quality"
	CharTemperature       Characteristic = "temperature"
	CharHumidity          Characteristic = "humidity"
	CharCO2Level          Characteristic = "co2_level"
	CharCO2Detected       Characteristic = "co2_detected"
	CharVOCDensity        Characteristic = "voc_density"
	CharVOCDetected       Characteristic = "voc_detected"
	CharPM25Density       Characteristic = "pm25_density"
	CharPM25Detected      Characteristic = "pm25_detected"
	CharPM10Density       Characteristic = "pm10_density"
	CharAmbientLight      Characteristic = "ambient_light"
	CharBatteryLevel      Characteristic = "battery_level"
	CharChargingState     Characteristic = "charging_state"
	CharLowBattery        Characteristic = "low_battery"
	CharOccupancyDetected Characteristic = "occupancy_detected"
	CharDisplayMode       Characteristic = "display_mode"
	CharLEDMode           Characteristic = "led_mode"
	CharLEDBrightness     Characteristic = "led_brightness"
)

var characteristics = map[Characteristic]bool{
	CharAirQuality: true, CharTemperature: true, CharHumidity: true,
	CharCO2Level: true, CharCO2Detected: true,
	CharVOCDensity: true, CharVOCDetected: true,
	CharPM25Density: true, CharPM25Detected: true, CharPM10Density: true,
	CharAmbientLight: true,
	CharBatteryLevel: true, CharChargingState: true, CharLowBattery: true,
	CharOccupancyDetected: true,
	CharDisplayMode: true, CharLEDMode: true, CharLEDBrightness: true,
}

// textual characteristics carry Text instead of Value
var textCharacteristics = map[Characteristic]bool{
	CharDisplayMode: true,
	CharLEDMode:     true,
}

// ParseCharacteristic validates a characteristic name
func ParseCharacteristic(name string) (Characteristic, error) {
	c := Characteristic(name)
	if !characteristics[c] {
		return "", fmt.Errorf("unknown characteristic: %s", name)
	}
	return c, nil
}

// Source identifies which API produced an update
type Source string

const (
	SourceCloud   Source = "cloud"
	SourceLocal   Source = "local"
	SourceCommand Source = "command"
)

// DeviceRef identifies the device an update belongs to
type DeviceRef struct {
	Serial string `json:"serial"`
	Type   string `json:"type"`
	Name   string `json:"name"`
}

// Update is one characteristic value pushed to a sink
type Update struct {
	EventID        string         `json:"event_id"`
	Device         DeviceRef      `json:"device"`
	Characteristic Characteristic `json:"characteristic"`
	Value          float64        `json:"value"`
	Text           string         `json:"text,omitempty"`
	Source         Source         `json:"source"`
	Timestamp      time.Time      `json:"timestamp"`
}

// NewUpdate creates a numeric update with a fresh event ID
func NewUpdate(device DeviceRef, c Characteristic, value float64, source Source) Update {
	return Update{
		EventID:        uuid.NewString(),
		Device:         device,
		Characteristic: c,
		Value:          value,
		Source:         source,
		Timestamp:      time.Now().UTC(),
	}
}

// NewTextUpdate creates an update for a textual characteristic
func NewTextUpdate(device DeviceRef, c Characteristic, text string, source Source) Update {
	u := NewUpdate(device, c, 0, source)
	u.Text = text
	return u
}

// BoolValue converts a flag to the 0/1 value carried by detected and state characteristics
func BoolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Bool reports whether a flag characteristic is set
func (u Update) Bool() bool {
	return u.Value != 0
}

// Payload renders the value as a host expects it on a plain topic
func (u Update) Payload() string {
	if textCharacteristics[u.Characteristic] {
		return u.Text
	}
	return fmt.Sprintf("%g", u.Value)
}

// Validate checks an update before it is published or stored
func (u *Update) Validate() error {
	if u.Device.Serial == "" {
		return fmt.Errorf("device serial is required")
	}
	if !characteristics[u.Characteristic] {
		return fmt.Errorf("unknown characteristic: %s", u.Characteristic)
	}
	if textCharacteristics[u.Characteristic] {
		if u.Text == "" {
			return fmt.Errorf("%s requires a text value", u.Characteristic)
		}
		return nil
	}
	if math.IsNaN(u.Value) || math.IsInf(u.Value, 0) {
		return fmt.Errorf("%s value is not finite", u.Characteristic)
	}
	return nil
}

// EncodeUpdate encodes an Update to JSON
func EncodeUpdate(u *Update) ([]byte, error) {
	return json.Marshal(u)
}

// DecodeUpdate decodes and validates an Update
func DecodeUpdate(data []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return &u, nil
}
