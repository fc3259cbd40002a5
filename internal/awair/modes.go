package awair

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidMode       = errors.New("invalid mode")
	ErrInvalidBrightness = errors.New("brightness must be between 0 and 100")
)

// DisplayModes lists the accepted display modes in presentation order
var DisplayModes = []string{"score", "temp", "humid", "co2", "voc", "pm25", "clock"}

// LEDModes lists the accepted LED modes
var LEDModes = []string{"auto", "sleep", "manual"}

const (
	DefaultDisplayMode = "score"
	DefaultLEDMode     = "auto"
)

// ParseDisplayMode validates a display mode, case-insensitively
func ParseDisplayMode(mode string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(mode))
	for _, valid := range DisplayModes {
		if m == valid {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: display mode %q", ErrInvalidMode, mode)
}

// LEDSetting is the LED state of a device. Brightness only applies in manual mode.
type LEDSetting struct {
	Mode       string `json:"mode"`
	Brightness int    `json:"brightness"`
}

// NewLEDSetting validates an LED mode and brightness
func NewLEDSetting(mode string, brightness int) (LEDSetting, error) {
	m := strings.ToLower(strings.TrimSpace(mode))

	valid := false
	for _, v := range LEDModes {
		if m == v {
			valid = true
			break
		}
	}
	if !valid {
		return LEDSetting{}, fmt.Errorf("%w: led mode %q", ErrInvalidMode, mode)
	}

	if m != "manual" {
		return LEDSetting{Mode: m}, nil
	}
	if brightness < 0 || brightness > 100 {
		return LEDSetting{}, fmt.Errorf("%w: got %d", ErrInvalidBrightness, brightness)
	}
	return LEDSetting{Mode: m, Brightness: brightness}, nil
}

// body is the PUT payload; brightness is only sent in manual mode
func (l LEDSetting) body() map[string]interface{} {
	if l.Mode == "manual" {
		return map[string]interface{}{"mode": l.Mode, "brightness": l.Brightness}
	}
	return map[string]interface{}{"mode": l.Mode}
}
