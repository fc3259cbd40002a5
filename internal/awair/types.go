package awair

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/smukkama/awair-bridge/internal/aggregation"
	"github.com/smukkama/awair-bridge/internal/quota"
)

// Device types reported by the cloud API
const (
	TypeOmni    = "awair-omni"
	TypeMint    = "awair-mint"
	TypeR2      = "awair-r2"
	TypeElement = "awair-element"
	TypeGlow    = "awair-glow"
	TypeGlowC   = "awair-glow-c"
	TypeAwair   = "awair"
)

// Device is one entry of GET /{userType}/devices
type Device struct {
	Name         string  `json:"name"`
	MacAddress   string  `json:"macAddress"`
	DeviceID     int     `json:"deviceId"`
	DeviceType   string  `json:"deviceType"`
	DeviceUUID   string  `json:"deviceUUID"`
	LocationName string  `json:"locationName,omitempty"`
	RoomType     string  `json:"roomType,omitempty"`
	SpaceType    string  `json:"spaceType,omitempty"`
	Timezone     string  `json:"timezone,omitempty"`
	Latitude     float64 `json:"latitude,omitempty"`
	Longitude    float64 `json:"longitude,omitempty"`
}

// Serial is the identity used for per-device state, the (possibly synthesized) MAC address
func (d Device) Serial() string {
	return d.MacAddress
}

// HasCO2 is false for models without a CO2 sensor
func (d Device) HasCO2() bool {
	return d.DeviceType != TypeMint && d.DeviceType != TypeGlowC
}

// HasLight reports models that expose lux over the local API
func (d Device) HasLight() bool {
	return d.DeviceType == TypeOmni || d.DeviceType == TypeMint
}

// HasBattery reports models that expose a battery over the local API
func (d Device) HasBattery() bool {
	return d.DeviceType == TypeOmni
}

// HasOccupancy reports models with a sound pressure sensor
func (d Device) HasOccupancy() bool {
	return d.DeviceType == TypeOmni
}

// HasModes reports models whose display and LED can be controlled
func (d Device) HasModes() bool {
	return d.DeviceType == TypeOmni || d.DeviceType == TypeR2 || d.DeviceType == TypeElement
}

type devicesResponse struct {
	Devices []Device `json:"devices"`
}

// flexFloat accepts both JSON numbers and numeric strings
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid quota %s", b)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid quota %q: %w", s, err)
	}
	*f = flexFloat(n)
	return nil
}

// Permission is one quota grant of the developer account
type Permission struct {
	Scope string    `json:"scope"`
	Quota flexFloat `json:"quota"`
}

// UserInfo is the response of GET /{userType}
type UserInfo struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	Tier        string       `json:"tier"`
	Permissions []Permission `json:"permissions"`
}

// AccountQuota maps the permission scopes onto the daily quotas. Scopes the
// account does not report keep the Hobbyist defaults.
func (u *UserInfo) AccountQuota() quota.AccountQuota {
	q := quota.DefaultQuota()
	if u.Tier != "" {
		q.Tier = u.Tier
	}

	for _, p := range u.Permissions {
		switch p.Scope {
		case "FIFTEEN_MIN":
			q.FifteenMin = float64(p.Quota)
		case "FIVE_MIN":
			q.FiveMin = float64(p.Quota)
		case "RAW":
			q.Raw = float64(p.Quota)
		case "LATEST":
			q.Latest = float64(p.Quota)
		}
	}

	return q
}

type airDataResponse struct {
	Data []airDataSample `json:"data"`
}

type airDataSample struct {
	Timestamp time.Time     `json:"timestamp"`
	Score     float64       `json:"score"`
	Sensors   []sensorValue `json:"sensors"`
	Indices   []sensorValue `json:"indices,omitempty"`
}

type sensorValue struct {
	Comp  string  `json:"comp"`
	Value float64 `json:"value"`
}

func (r *airDataResponse) window() aggregation.Window {
	w := make(aggregation.Window, 0, len(r.Data))
	for _, s := range r.Data {
		sample := aggregation.Sample{
			Timestamp: s.Timestamp,
			Score:     s.Score,
			Readings:  make([]aggregation.Reading, 0, len(s.Sensors)),
		}
		for _, v := range s.Sensors {
			sample.Readings = append(sample.Readings, aggregation.NewReading(v.Comp, v.Value))
		}
		w = append(w, sample)
	}
	return w
}

// LocalAirData is the subset of GET /air-data/latest used from the local API
type LocalAirData struct {
	Timestamp string   `json:"timestamp"`
	Score     float64  `json:"score"`
	Lux       *float64 `json:"lux"`
	SPLA      *float64 `json:"spl_a"`
}

// PowerStatus is the power-status object of GET /settings/config/data
type PowerStatus struct {
	Battery float64 `json:"battery"`
	Plugged bool    `json:"plugged"`
}

// LowBatteryLevel is the battery percentage below which the battery is reported low
const LowBatteryLevel = 30

func (p PowerStatus) Low() bool {
	return p.Battery < LowBatteryLevel
}

type localConfig struct {
	DeviceUUID  string       `json:"device_uuid"`
	WifiMAC     string       `json:"wifi_mac"`
	FWVersion   string       `json:"fw_version"`
	PowerStatus *PowerStatus `json:"power-status"`
}

type modeMessage struct {
	Message string `json:"message"`
}
