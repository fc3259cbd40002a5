package bridge

import (
	"errors"
	"log"
	"time"

	"github.com/smukkama/awair-bridge/internal/alarming"
	"github.com/smukkama/awair-bridge/internal/aqi"
	"github.com/smukkama/awair-bridge/internal/quota"
	"github.com/smukkama/awair-bridge/pkg/config"
)

// Options control what the bridge polls and publishes
type Options struct {
	Endpoint           quota.Endpoint
	Limit              int
	Method             aqi.Method
	ScoreTable         string // legacy, revised or auto
	Thresholds         map[alarming.Metric]alarming.Thresholds
	VOCAlerts          bool
	PM25Alerts         bool
	VOCMolecularWeight float64
	OccupancyDetection bool
	OccupancyOffset    float64
	OccupancyRestart   bool
	OccupancyInterval  time.Duration
	DiscoveryRetry     time.Duration
	EnableModes        bool
	Logging            bool
	Verbose            bool
	RequestTimeout     time.Duration
	Workers            int
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		Endpoint:           quota.FifteenMinAvg,
		Limit:              1,
		Method:             aqi.MethodBreakpoint,
		ScoreTable:         "auto",
		VOCMolecularWeight: aqi.DefaultVOCMolecularWeight,
		OccupancyOffset:    alarming.DefaultOccupancyOffset,
		OccupancyInterval:  30 * time.Second,
		DiscoveryRetry:     time.Minute,
		Logging:            true,
		RequestTimeout:     10 * time.Second,
		Workers:            4,
	}
}

// OptionsFromConfig validates the configuration. Invalid values are replaced
// by their defaults with a warning.
func OptionsFromConfig(cfg *config.AwairConfig) Options {
	opts := DefaultOptions()

	if e, err := quota.ParseEndpoint(cfg.Endpoint); err != nil {
		log.Printf("Warning: %v, using %s", err, opts.Endpoint)
	} else {
		opts.Endpoint = e
	}
	if m, err := aqi.ParseMethod(cfg.Method); err != nil {
		log.Printf("Warning: %v, using %s", err, opts.Method)
	} else {
		opts.Method = m
	}
	if cfg.ScoreTable != "" {
		opts.ScoreTable = cfg.ScoreTable
	}
	if cfg.VOCMolecularWeight > 0 {
		opts.VOCMolecularWeight = cfg.VOCMolecularWeight
	}
	if cfg.OccupancyOffset > 0 {
		opts.OccupancyOffset = cfg.OccupancyOffset
	}
	if cfg.OccupancyInterval > 0 {
		opts.OccupancyInterval = cfg.OccupancyInterval
	}
	if cfg.RequestTimeout > 0 {
		opts.RequestTimeout = cfg.RequestTimeout
	}
	if cfg.Workers > 0 {
		opts.Workers = cfg.Workers
	}

	opts.Limit = cfg.Limit
	opts.VOCAlerts = cfg.VOCAlerts
	opts.PM25Alerts = cfg.PM25Alerts
	opts.OccupancyDetection = cfg.OccupancyDetection
	opts.OccupancyRestart = cfg.OccupancyRestart
	opts.EnableModes = cfg.EnableModes
	opts.Logging = cfg.Logging
	opts.Verbose = cfg.Verbose

	opts.Thresholds = map[alarming.Metric]alarming.Thresholds{
		alarming.MetricCO2:  thresholds(alarming.MetricCO2, cfg.CO2On, cfg.CO2Off),
		alarming.MetricVOC:  thresholds(alarming.MetricVOC, cfg.VOCOn, cfg.VOCOff),
		alarming.MetricPM25: thresholds(alarming.MetricPM25, cfg.PM25On, cfg.PM25Off),
	}
	return opts
}

func thresholds(m alarming.Metric, on, off float64) alarming.Thresholds {
	th, err := alarming.NewThresholds(on, off, alarming.DefaultThresholds(m))
	if errors.Is(err, alarming.ErrInvertedThresholds) {
		log.Printf("Warning: %s thresholds on=%v off=%v: %v, using %v/%v", m, on, off, err, th.On, th.Off)
	}
	return th
}

// scoreTable resolves the table for a device type
func (o Options) scoreTable(deviceType string) aqi.ScoreTable {
	if t, ok := aqi.ParseScoreTable(o.ScoreTable); ok {
		return t
	}
	return aqi.ScoreTableFor(deviceType)
}
