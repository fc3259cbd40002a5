package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/smukkama/awair-bridge/internal/aggregation"
	"github.com/smukkama/awair-bridge/internal/alarming"
	"github.com/smukkama/awair-bridge/internal/aqi"
	"github.com/smukkama/awair-bridge/internal/awair"
	"github.com/smukkama/awair-bridge/internal/protocol"
)

// standard atmosphere used for the VOC conversion
const atmospheres = 1.0

var errNoTemperature = errors.New("no temperature in window, cannot convert voc")

// PublishAirData aggregates a window and publishes the air quality level and
// every sensor characteristic it holds. A characteristic that cannot be
// derived is skipped; the other ones are still published.
func (b *Bridge) PublishAirData(ctx context.Context, d awair.Device, w aggregation.Window) error {
	summary := aggregation.Aggregate(w)
	if summary.Empty() {
		return aggregation.ErrEmptyWindow
	}

	r := ref(d)
	serial := r.Serial
	var errs []error

	res := aqi.Classify(b.opts.Method, d.DeviceType, b.opts.scoreTable(d.DeviceType), w, summary)
	if res.Err != nil {
		b.logf("[%s] %s: %v, reporting unknown", serial, res.Method, res.Err)
	}
	b.verbosef("[%s] %s level %d (%s), score %.1f", serial, res.Method, res.Level, res.Level, summary.MeanScore)
	b.metrics.Level.WithLabelValues(serial).Set(float64(res.Level))
	if err := b.publish(ctx, protocol.NewUpdate(r, protocol.CharAirQuality, float64(res.Level), protocol.SourceCloud)); err != nil {
		errs = append(errs, err)
	}

	names := make([]string, 0, len(summary.Values))
	for name := range summary.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	temp, hasTemp := summary.Get(aggregation.Temp)

	for _, name := range names {
		value := summary.Values[name]
		if math.IsNaN(value) || math.IsInf(value, 0) {
			b.logf("[%s] Ignoring non-finite %s", serial, name)
			continue
		}

		var err error
		switch aggregation.ParseComponent(name) {
		case aggregation.Temp:
			err = b.publish(ctx, protocol.NewUpdate(r, protocol.CharTemperature, value, protocol.SourceCloud))
		case aggregation.Humid:
			err = b.publish(ctx, protocol.NewUpdate(r, protocol.CharHumidity, value, protocol.SourceCloud))
		case aggregation.CO2:
			if !d.HasCO2() {
				b.verbosef("[%s] %s has no CO2 sensor, ignoring co2: %v", serial, d.DeviceType, value)
				continue
			}
			err = b.publishCO2(ctx, d, value)
		case aggregation.VOC:
			if !hasTemp {
				b.logf("[%s] %v", serial, errNoTemperature)
				continue
			}
			err = b.publishVOC(ctx, d, value, temp)
		case aggregation.PM25:
			err = b.publishPM25(ctx, d, value)
		case aggregation.PM10, aggregation.Dust:
			// pm10 wins when a window reports both
			if _, ok := summary.Get(aggregation.PM10); ok && name == aggregation.Dust.String() {
				continue
			}
			err = b.publish(ctx, protocol.NewUpdate(r, protocol.CharPM10Density, value, protocol.SourceCloud))
		default:
			b.logf("[%s] updateAirData ignoring %s: %v", serial, name, value)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (b *Bridge) publishCO2(ctx context.Context, d awair.Device, co2 float64) error {
	r := ref(d)
	err := b.publish(ctx, protocol.NewUpdate(r, protocol.CharCO2Level, co2, protocol.SourceCloud))

	th := b.arena.Thresholds(alarming.MetricCO2)
	b.logf("[%s] CO2 %v ppm (on %v, off %v)", r.Serial, co2, th.On, th.Off)

	return errors.Join(err, b.evaluate(ctx, d, alarming.MetricCO2, co2, protocol.CharCO2Detected))
}

func (b *Bridge) publishVOC(ctx context.Context, d awair.Device, ppb, tempC float64) error {
	r := ref(d)
	mw := b.opts.VOCMolecularWeight

	density, capped := aqi.VOCPpbToUgm3(ppb, mw, atmospheres, tempC)
	b.verbosef("[%s] voc (%v ppb) => tvoc (%v ug/m^3) = %s", r.Serial, ppb, density, aqi.VOCFormula(ppb, mw, atmospheres, tempC))
	if capped {
		b.logf("[%s] VOC density capped at %v ug/m^3", r.Serial, aqi.VOCDensityCeiling)
	}

	err := b.publish(ctx, protocol.NewUpdate(r, protocol.CharVOCDensity, density, protocol.SourceCloud))
	if !b.opts.VOCAlerts {
		return err
	}
	return errors.Join(err, b.evaluate(ctx, d, alarming.MetricVOC, density, protocol.CharVOCDetected))
}

func (b *Bridge) publishPM25(ctx context.Context, d awair.Device, pm25 float64) error {
	err := b.publish(ctx, protocol.NewUpdate(ref(d), protocol.CharPM25Density, pm25, protocol.SourceCloud))
	if !b.opts.PM25Alerts {
		return err
	}
	return errors.Join(err, b.evaluate(ctx, d, alarming.MetricPM25, pm25, protocol.CharPM25Detected))
}

// evaluate runs the hysteresis machine of one metric. The detected
// characteristic and the alert event are only published on a transition.
func (b *Bridge) evaluate(ctx context.Context, d awair.Device, metric alarming.Metric, value float64, c protocol.Characteristic) error {
	serial := d.Serial()

	t, changed, err := b.arena.EvaluateAlert(ctx, serial, metric, value)
	if err != nil {
		// the transition still happened in memory
		b.logf("[%s] Failed to persist %s state: %v", serial, metric, err)
	}
	if !changed {
		if b.arena.Detected(ctx, serial, metric) {
			b.verbosef("[%s] %s already elevated", serial, metric)
		} else {
			b.verbosef("[%s] %s already low", serial, metric)
		}
		return nil
	}

	if t.Detected {
		b.logf("[%s] %s low to high: %v >= %v", serial, metric, value, t.Thresholds.On)
	} else {
		b.logf("[%s] %s high to low: %v <= %v", serial, metric, value, t.Thresholds.Off)
	}

	errs := []error{
		b.publish(ctx, protocol.NewUpdate(ref(d), c, protocol.BoolValue(t.Detected), protocol.SourceCloud)),
		b.publishAlert(ctx, d, t),
	}
	if joined := errors.Join(errs...); joined != nil {
		return fmt.Errorf("%s transition: %w", metric, joined)
	}
	return nil
}
