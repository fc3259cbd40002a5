package awair

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smukkama/awair-bridge/internal/aggregation"
	"github.com/smukkama/awair-bridge/internal/quota"
)

func newCloud(t *testing.T, handler http.HandlerFunc) *CloudClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCloudClient(srv.URL, "secret", "", time.Second)
}

func TestCloudClient_UserInfo(t *testing.T) {
	c := newCloud(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/self" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Unexpected Authorization header %q", got)
		}
		w.Write([]byte(`{"tier":"Large_developer","permissions":[
			{"scope":"FIFTEEN_MIN","quota":1000},
			{"scope":"RAW","quota":"8640"},
			{"scope":"USER_INFO","quota":20}]}`))
	})

	info, err := c.UserInfo(context.Background())
	if err != nil {
		t.Fatalf("UserInfo failed: %v", err)
	}

	q := info.AccountQuota()
	if q.Tier != "Large_developer" {
		t.Errorf("Expected tier Large_developer, got %s", q.Tier)
	}
	if q.FifteenMin != 1000 || q.Raw != 8640 {
		t.Errorf("Unexpected quotas %+v", q)
	}
	if q.FiveMin != 300 || q.Latest != 300 {
		t.Errorf("Expected unreported scopes to keep defaults, got %+v", q)
	}
}

func TestCloudClient_Devices(t *testing.T) {
	c := newCloud(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"devices":[{"name":"Bedroom","macAddress":"70886B123456","deviceId":42,"deviceType":"awair-omni","deviceUUID":"awair-omni_42"}]}`))
	})

	devices, err := c.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}

	d := devices[0]
	if d.DeviceID != 42 || d.Serial() != "70886B123456" {
		t.Errorf("Unexpected device %+v", d)
	}
	if !d.HasBattery() || !d.HasLight() || !d.HasModes() || !d.HasCO2() {
		t.Error("Expected Omni to have battery, light, modes and CO2")
	}
}

func TestCloudClient_AirData(t *testing.T) {
	c := newCloud(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/self/devices/awair-r2/7/air-data/raw" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "5" || r.URL.Query().Get("desc") != "true" {
			t.Errorf("Unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":[
			{"timestamp":"2024-01-01T10:05:00.000Z","score":80,"sensors":[{"comp":"temp","value":21.5},{"comp":"co2","value":1200}]},
			{"timestamp":"2024-01-01T10:00:00.000Z","score":90,"sensors":[{"comp":"temp","value":20.5},{"comp":"co2","value":1000}]}]}`))
	})

	w, err := c.AirData(context.Background(), Device{DeviceType: TypeR2, DeviceID: 7}, quota.Raw, 5)
	if err != nil {
		t.Fatalf("AirData failed: %v", err)
	}
	if len(w) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(w))
	}
	if !w[0].Timestamp.After(w[1].Timestamp) {
		t.Error("Expected newest sample first")
	}
	if w[0].Readings[1].Component != aggregation.CO2 {
		t.Errorf("Expected co2 component, got %v", w[0].Readings[1].Component)
	}

	s := aggregation.Aggregate(w)
	if v, _ := s.Get(aggregation.CO2); v != 1100 {
		t.Errorf("Expected folded co2 1100, got %v", v)
	}
}

func TestCloudClient_HTTPError(t *testing.T) {
	c := newCloud(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Too many requests"}`, http.StatusTooManyRequests)
	})

	_, err := c.Devices(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", apiErr.StatusCode)
	}
}

func TestCloudClient_DisplayAndLED(t *testing.T) {
	var bodies []map[string]interface{}

	c := newCloud(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/devices/awair-element/9/display":
			w.Write([]byte(`{"mode":"clock"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/devices/awair-element/9/led":
			w.Write([]byte(`{"mode":"MANUAL","brightness":40}`))
		case r.Method == http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			var body map[string]interface{}
			json.Unmarshal(data, &body)
			bodies = append(bodies, body)
			w.Write([]byte(`{"message":"success"}`))
		default:
			t.Errorf("Unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	ctx := context.Background()
	d := Device{DeviceType: TypeElement, DeviceID: 9}

	mode, err := c.DisplayMode(ctx, d)
	if err != nil || mode != "clock" {
		t.Fatalf("DisplayMode = %q, %v", mode, err)
	}

	led, err := c.LEDMode(ctx, d)
	if err != nil {
		t.Fatalf("LEDMode failed: %v", err)
	}
	if led.Mode != "manual" || led.Brightness != 40 {
		t.Errorf("Expected lower-cased manual/40, got %+v", led)
	}

	if msg, err := c.SetDisplayMode(ctx, d, "score"); err != nil || msg != "success" {
		t.Fatalf("SetDisplayMode = %q, %v", msg, err)
	}
	c.SetLEDMode(ctx, d, LEDSetting{Mode: "auto", Brightness: 70})
	c.SetLEDMode(ctx, d, LEDSetting{Mode: "manual", Brightness: 70})

	if len(bodies) != 3 {
		t.Fatalf("Expected 3 PUTs, got %d", len(bodies))
	}
	if bodies[0]["mode"] != "score" {
		t.Errorf("Unexpected display body %v", bodies[0])
	}
	if _, ok := bodies[1]["brightness"]; ok {
		t.Errorf("Expected no brightness outside manual mode, got %v", bodies[1])
	}
	if bodies[2]["brightness"] != float64(70) {
		t.Errorf("Expected brightness 70 in manual mode, got %v", bodies[2])
	}
}

func TestLocalClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/air-data/latest":
			w.Write([]byte(`{"timestamp":"2024-01-01T10:00:00.000Z","score":88,"lux":312.5,"spl_a":51.2}`))
		case "/settings/config/data":
			w.Write([]byte(`{"device_uuid":"awair-omni_42","power-status":{"battery":25,"plugged":true}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewLocalClient(time.Second)
	c.BaseURL = func(Device) (string, error) { return srv.URL, nil }

	ctx := context.Background()
	d := Device{DeviceType: TypeOmni, MacAddress: "70886B123456"}

	data, err := c.AirDataLatest(ctx, d)
	if err != nil {
		t.Fatalf("AirDataLatest failed: %v", err)
	}
	if data.Lux == nil || *data.Lux != 312.5 || data.SPLA == nil || *data.SPLA != 51.2 {
		t.Errorf("Unexpected local data %+v", data)
	}

	ps, err := c.PowerStatus(ctx, d)
	if err != nil {
		t.Fatalf("PowerStatus failed: %v", err)
	}
	if ps.Battery != 25 || !ps.Plugged || !ps.Low() {
		t.Errorf("Unexpected power status %+v", ps)
	}
}

func TestLocalHost(t *testing.T) {
	host, err := LocalHost(Device{DeviceType: TypeOmni, MacAddress: "70886B123456"})
	if err != nil || host != "awair-omni-123456" {
		t.Errorf("LocalHost = %q, %v", host, err)
	}

	if _, err := LocalHost(Device{DeviceType: TypeOmni}); !errors.Is(err, ErrNoLocalHost) {
		t.Errorf("Expected ErrNoLocalHost, got %v", err)
	}
}

func TestClampLux(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, MinLux}, {-5, MinLux}, {100, 100}, {70000, MaxLux},
	}
	for _, tt := range tests {
		if got := ClampLux(tt.in); got != tt.want {
			t.Errorf("ClampLux(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestModes(t *testing.T) {
	if m, err := ParseDisplayMode("PM25"); err != nil || m != "pm25" {
		t.Errorf("ParseDisplayMode(PM25) = %q, %v", m, err)
	}
	if _, err := ParseDisplayMode("radon"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("Expected ErrInvalidMode, got %v", err)
	}

	led, err := NewLEDSetting("sleep", 80)
	if err != nil || led.Brightness != 0 {
		t.Errorf("Expected sleep with brightness dropped, got %+v (%v)", led, err)
	}
	if _, err := NewLEDSetting("manual", 101); !errors.Is(err, ErrInvalidBrightness) {
		t.Errorf("Expected ErrInvalidBrightness, got %v", err)
	}
	if _, err := NewLEDSetting("disco", 0); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("Expected ErrInvalidMode, got %v", err)
	}
}
