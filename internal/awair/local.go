package awair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	MinLux = 0.0001
	MaxLux = 64000.0
)

var (
	ErrNoLocalHost   = errors.New("device has no local API host")
	ErrNoPowerStatus = errors.New("device did not report power-status")
)

// LocalHost is the mDNS name the local API listens on, {type}-{last six of MAC}
func LocalHost(d Device) (string, error) {
	if len(d.MacAddress) <= 6 {
		return "", fmt.Errorf("%w: mac %q", ErrNoLocalHost, d.MacAddress)
	}
	return d.DeviceType + "-" + d.MacAddress[6:], nil
}

// LocalClient reads the Awair local API of a device on the LAN
type LocalClient struct {
	http *http.Client
	// BaseURL maps a device to its local API root; defaults to http://{LocalHost}
	BaseURL func(Device) (string, error)
}

func NewLocalClient(timeout time.Duration) *LocalClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LocalClient{
		http: &http.Client{Timeout: timeout},
		BaseURL: func(d Device) (string, error) {
			host, err := LocalHost(d)
			if err != nil {
				return "", err
			}
			return "http://" + host, nil
		},
	}
}

func (c *LocalClient) get(ctx context.Context, d Device, path string, out interface{}) error {
	base, err := c.BaseURL(d)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call local %s: %w", path, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseSize)
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(limited)
		return &APIError{Method: http.MethodGet, URL: base + path, StatusCode: resp.StatusCode, Body: string(msg)}
	}

	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("failed to decode local %s response: %w", path, err)
	}
	return nil
}

// AirDataLatest reads the latest local sample, which carries lux and spl_a
func (c *LocalClient) AirDataLatest(ctx context.Context, d Device) (*LocalAirData, error) {
	var data LocalAirData
	if err := c.get(ctx, d, "/air-data/latest", &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// PowerStatus reads the battery state of an Omni
func (c *LocalClient) PowerStatus(ctx context.Context, d Device) (*PowerStatus, error) {
	var cfg localConfig
	if err := c.get(ctx, d, "/settings/config/data", &cfg); err != nil {
		return nil, err
	}
	if cfg.PowerStatus == nil {
		return nil, ErrNoPowerStatus
	}
	return cfg.PowerStatus, nil
}

// ClampLux bounds a light level to the range a light sensor characteristic accepts
func ClampLux(lux float64) float64 {
	if lux < MinLux {
		return MinLux
	}
	if lux > MaxLux {
		return MaxLux
	}
	return lux
}
