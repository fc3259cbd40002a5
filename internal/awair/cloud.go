package awair

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/awair-bridge/internal/aggregation"
	"github.com/smukkama/awair-bridge/internal/quota"
)

const (
	DefaultCloudBaseURL = "https://developer-apis.awair.is/v1"
	DefaultUserType     = "users/self"

	maxResponseSize = 1 << 20 // 1 MB
)

// APIError is returned for non-2xx responses
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// CloudClient talks to the Awair developer cloud API with a bearer token
type CloudClient struct {
	baseURL  string
	token    string
	userType string
	http     *http.Client
}

// NewCloudClient creates a cloud client. Empty baseURL or userType use the defaults.
func NewCloudClient(baseURL, token, userType string, timeout time.Duration) *CloudClient {
	if baseURL == "" {
		baseURL = DefaultCloudBaseURL
	}
	if userType == "" {
		userType = DefaultUserType
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &CloudClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		userType: strings.Trim(userType, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *CloudClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseSize)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(limited)
		return &APIError{Method: method, URL: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// UserInfo fetches the account tier and quota permissions
func (c *CloudClient) UserInfo(ctx context.Context) (*UserInfo, error) {
	var info UserInfo
	if err := c.do(ctx, http.MethodGet, "/"+c.userType, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Devices lists the devices registered to the account
func (c *CloudClient) Devices(ctx context.Context) ([]Device, error) {
	var resp devicesResponse
	if err := c.do(ctx, http.MethodGet, "/"+c.userType+"/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// AirData fetches the newest limit samples of a device, newest first
func (c *CloudClient) AirData(ctx context.Context, d Device, endpoint quota.Endpoint, limit int) (aggregation.Window, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("desc", "true")

	path := fmt.Sprintf("/%s/devices/%s/%d/air-data/%s?%s", c.userType, d.DeviceType, d.DeviceID, endpoint, q.Encode())

	var resp airDataResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.window(), nil
}

func devicePath(d Device, setting string) string {
	return fmt.Sprintf("/devices/%s/%d/%s", d.DeviceType, d.DeviceID, setting)
}

// DisplayMode returns the current display mode of a device
func (c *CloudClient) DisplayMode(ctx context.Context, d Device) (string, error) {
	var resp struct {
		Mode string `json:"mode"`
	}
	if err := c.do(ctx, http.MethodGet, devicePath(d, "display"), nil, &resp); err != nil {
		return "", err
	}
	return strings.ToLower(resp.Mode), nil
}

// SetDisplayMode changes the display mode and returns the API message
func (c *CloudClient) SetDisplayMode(ctx context.Context, d Device, mode string) (string, error) {
	var resp modeMessage
	if err := c.do(ctx, http.MethodPut, devicePath(d, "display"), map[string]string{"mode": mode}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// LEDMode returns the current LED setting. The API reports modes in upper case.
func (c *CloudClient) LEDMode(ctx context.Context, d Device) (LEDSetting, error) {
	var resp LEDSetting
	if err := c.do(ctx, http.MethodGet, devicePath(d, "led"), nil, &resp); err != nil {
		return LEDSetting{}, err
	}
	resp.Mode = strings.ToLower(resp.Mode)
	return resp, nil
}

// SetLEDMode changes the LED setting and returns the API message
func (c *CloudClient) SetLEDMode(ctx context.Context, d Device, led LEDSetting) (string, error) {
	var resp modeMessage
	if err := c.do(ctx, http.MethodPut, devicePath(d, "led"), led.body(), &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}
