package device

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smukkama/awair-bridge/internal/awair"
)

const (
	// AwairOUI is the vendor prefix of end-user device MAC addresses
	AwairOUI = "70886B"

	testDevicePrefix = "000000"
)

// Tracked holds a registered device and its poll bookkeeping
type Tracked struct {
	Device  awair.Device
	AddedAt time.Time

	inFlight atomic.Bool

	mu          sync.RWMutex
	lastPolled  time.Time
	lastError   string
	displayMode string
	led         awair.LEDSetting
}

// Serial returns the device identity
func (t *Tracked) Serial() string {
	return t.Device.Serial()
}

// BeginPoll marks an air-data fetch as in flight. It returns false if one
// already is, in which case the caller skips this tick.
func (t *Tracked) BeginPoll() bool {
	return t.inFlight.CompareAndSwap(false, true)
}

// EndPoll clears the in-flight flag and records the outcome
func (t *Tracked) EndPoll(err error) {
	t.mu.Lock()
	t.lastPolled = time.Now()
	if err != nil {
		t.lastError = err.Error()
	} else {
		t.lastError = ""
	}
	t.mu.Unlock()

	t.inFlight.Store(false)
}

// SetDisplayMode records the last known display mode
func (t *Tracked) SetDisplayMode(mode string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.displayMode = mode
}

// SetLED records the last known LED setting
func (t *Tracked) SetLED(led awair.LEDSetting) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.led = led
}

// Status is a point-in-time view of a tracked device
type Status struct {
	Serial      string           `json:"serial"`
	Name        string           `json:"name"`
	DeviceType  string           `json:"device_type"`
	DeviceID    int              `json:"device_id"`
	DeviceUUID  string           `json:"device_uuid"`
	AddedAt     time.Time        `json:"added_at"`
	LastPolled  time.Time        `json:"last_polled,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	Polling     bool             `json:"polling"`
	DisplayMode string           `json:"display_mode,omitempty"`
	LED         awair.LEDSetting `json:"led,omitempty"`
}

// Status returns a snapshot of the device
func (t *Tracked) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Status{
		Serial:      t.Serial(),
		Name:        t.Device.Name,
		DeviceType:  t.Device.DeviceType,
		DeviceID:    t.Device.DeviceID,
		DeviceUUID:  t.Device.DeviceUUID,
		AddedAt:     t.AddedAt,
		LastPolled:  t.lastPolled,
		LastError:   t.lastError,
		Polling:     t.inFlight.Load(),
		DisplayMode: t.displayMode,
		LED:         t.led,
	}
}

// Filter controls which account devices are tracked
type Filter struct {
	Ignored     []string
	Development bool
	MaxDevices  int
}

// Registry tracks the accepted devices of the account
type Registry struct {
	devices     map[string]*Tracked // key: serial
	byType      map[string][]string // key: device type, value: []serial
	ignored     map[string]bool
	development bool
	maxDevices  int
	mu          sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry(f Filter) *Registry {
	ignored := make(map[string]bool, len(f.Ignored))
	for _, serial := range f.Ignored {
		ignored[strings.ToUpper(strings.TrimSpace(serial))] = true
	}

	return &Registry{
		devices:     make(map[string]*Tracked),
		byType:      make(map[string][]string),
		ignored:     ignored,
		development: f.Development,
		maxDevices:  f.MaxDevices,
	}
}

// Normalize replaces the MAC address of a test device, which carries no Awair
// OUI, with one synthesized from its device ID
func Normalize(d awair.Device) awair.Device {
	d.MacAddress = strings.ToUpper(d.MacAddress)
	if !strings.Contains(d.MacAddress, AwairOUI) {
		mac := strings.Repeat("0", 12) + strconv.Itoa(d.DeviceID)
		d.MacAddress = mac[len(mac)-12:]
	}
	return d
}

// Accept normalizes a device and checks it against the filter
func (r *Registry) Accept(d awair.Device) (awair.Device, error) {
	d = Normalize(d)

	switch {
	case r.ignored[d.MacAddress]:
		return d, ErrIgnoredDevice
	case strings.Contains(d.MacAddress, AwairOUI):
		return d, nil
	case strings.HasPrefix(d.MacAddress, testDevicePrefix) && r.development:
		return d, nil
	case strings.HasPrefix(d.MacAddress, testDevicePrefix):
		return d, ErrTestDevice
	default:
		return d, ErrUnknownOUI
	}
}

// Rejection records why an account device is not tracked
type Rejection struct {
	Device awair.Device
	Err    error
}

// SyncResult describes the outcome of Sync
type SyncResult struct {
	Added    []string
	Removed  []string
	Rejected []Rejection
}

// Sync reconciles the registry with the devices listed by the account.
// Devices no longer listed, or now ignored, are dropped.
func (r *Registry) Sync(devices []awair.Device) SyncResult {
	var res SyncResult
	seen := make(map[string]bool, len(devices))

	for _, d := range devices {
		accepted, err := r.Accept(d)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Device: accepted, Err: err})
			continue
		}
		seen[accepted.Serial()] = true

		if _, exists := r.Get(accepted.Serial()); exists {
			continue
		}
		if err := r.Register(accepted); err != nil {
			res.Rejected = append(res.Rejected, Rejection{Device: accepted, Err: err})
			delete(seen, accepted.Serial())
			continue
		}
		res.Added = append(res.Added, accepted.Serial())
	}

	for _, serial := range r.Serials() {
		if !seen[serial] {
			r.Unregister(serial)
			res.Removed = append(res.Removed, serial)
		}
	}

	return res
}

// Register adds a device without filtering
func (r *Registry) Register(d awair.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxDevices > 0 && len(r.devices) >= r.maxDevices {
		return ErrMaxDevicesReached
	}

	serial := d.Serial()
	if _, exists := r.devices[serial]; exists {
		return fmt.Errorf("device %s already registered", serial)
	}

	r.devices[serial] = &Tracked{Device: d, AddedAt: time.Now()}
	r.byType[d.DeviceType] = append(r.byType[d.DeviceType], serial)

	return nil
}

// Unregister removes a device
func (r *Registry) Unregister(serial string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.devices[serial]
	if !exists {
		return fmt.Errorf("device %s not found", serial)
	}

	deviceType := t.Device.DeviceType
	if serials, ok := r.byType[deviceType]; ok {
		for i, s := range serials {
			if s == serial {
				r.byType[deviceType] = append(serials[:i], serials[i+1:]...)
				break
			}
		}
		if len(r.byType[deviceType]) == 0 {
			delete(r.byType, deviceType)
		}
	}

	delete(r.devices, serial)
	return nil
}

// Get retrieves a tracked device by serial
func (r *Registry) Get(serial string) (*Tracked, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.devices[serial]
	return t, exists
}

// ByType returns the tracked devices of one model
func (r *Registry) ByType(deviceType string) []*Tracked {
	r.mu.RLock()
	defer r.mu.RUnlock()

	serials := r.byType[deviceType]
	result := make([]*Tracked, 0, len(serials))
	for _, s := range serials {
		result = append(result, r.devices[s])
	}
	return result
}

// HasType reports whether any device of the model is tracked
func (r *Registry) HasType(deviceType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType[deviceType]) > 0
}

// Serials returns all tracked serials in sorted order
func (r *Registry) Serials() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	serials := make([]string, 0, len(r.devices))
	for s := range r.devices {
		serials = append(serials, s)
	}
	sort.Strings(serials)
	return serials
}

// All returns every tracked device ordered by serial
func (r *Registry) All() []*Tracked {
	serials := r.Serials()

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Tracked, 0, len(serials))
	for _, s := range serials {
		if t, ok := r.devices[s]; ok {
			result = append(result, t)
		}
	}
	return result
}

// Stale returns the serials of devices not polled successfully or at all within timeout
func (r *Registry) Stale(timeout time.Duration) []string {
	now := time.Now()
	var stale []string

	for _, t := range r.All() {
		st := t.Status()
		last := st.LastPolled
		if last.IsZero() {
			last = st.AddedAt
		}
		if now.Sub(last) > timeout || st.LastError != "" {
			stale = append(stale, st.Serial)
		}
	}

	return stale
}

// Count returns the number of tracked devices
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Stats returns statistics about the registry
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byType := make(map[string]int, len(r.byType))
	for deviceType, serials := range r.byType {
		byType[deviceType] = len(serials)
	}

	return RegistryStats{
		TotalDevices: len(r.devices),
		ByType:       byType,
		MaxDevices:   r.maxDevices,
	}
}

// RegistryStats contains statistics about the registry
type RegistryStats struct {
	TotalDevices int            `json:"total_devices"`
	ByType       map[string]int `json:"by_type"`
	MaxDevices   int            `json:"max_devices"`
}

var (
	ErrMaxDevicesReached = &RegistryError{"maximum devices reached"}
	ErrIgnoredDevice     = &RegistryError{"device is on the ignore list"}
	ErrTestDevice        = &RegistryError{"test device requires development mode"}
	ErrUnknownOUI        = &RegistryError{"mac address does not match the Awair OUI"}
)

// RegistryError represents a registry error
type RegistryError struct {
	msg string
}

func (e *RegistryError) Error() string {
	return e.msg
}
