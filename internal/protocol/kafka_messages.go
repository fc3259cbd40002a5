package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AlertEvent is the message format for threshold transitions
type AlertEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"` // ALERT_DETECTED, ALERT_CLEARED
	Device     DeviceRef `json:"device"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	On         float64   `json:"on"`
	Off        float64   `json:"off"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	AlertTypeDetected = "ALERT_DETECTED"
	AlertTypeCleared  = "ALERT_CLEARED"
)

// NewAlertEvent creates an alert event for a transition
func NewAlertEvent(device DeviceRef, metric string, detected bool, value, on, off float64, at time.Time) AlertEvent {
	t := AlertTypeCleared
	if detected {
		t = AlertTypeDetected
	}
	return AlertEvent{
		EventID:    uuid.NewString(),
		Type:       t,
		Device:     device,
		Metric:     metric,
		Value:      value,
		On:         on,
		Off:        off,
		OccurredAt: at.UTC(),
	}
}

// Detected reports whether the event raises the alert
func (a *AlertEvent) Detected() bool {
	return a.Type == AlertTypeDetected
}

// EncodeAlertEvent encodes an AlertEvent to JSON
func EncodeAlertEvent(alert *AlertEvent) ([]byte, error) {
	return json.Marshal(alert)
}

// DecodeAlertEvent decodes JSON to AlertEvent
func DecodeAlertEvent(data []byte) (*AlertEvent, error) {
	var alert AlertEvent
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}
