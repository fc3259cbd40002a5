package database

import (
	"time"
)

// Device is a bridged Awair device as last seen by the recorder
type Device struct {
	Serial     string
	Name       string
	DeviceType string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// LatestValue is the most recent value of one characteristic of a device
type LatestValue struct {
	Serial         string
	Characteristic string
	Value          float64
	Text           *string
	Source         string
	EventID        string
	ObservedAt     time.Time
	UpdatedAt      time.Time
}

// AlertLog represents a logged threshold alert
type AlertLog struct {
	AlertID    int64
	EventID    string
	Serial     string
	Metric     string
	Value      float64
	OnLevel    float64
	OffLevel   float64
	StartTime  time.Time
	EndTime    *time.Time
	ClearValue *float64
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	AlertStatusActive  = "ACTIVE"
	AlertStatusCleared = "CLEARED"
)
