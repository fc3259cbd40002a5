package aqi

import (
	"errors"
	"fmt"
	"math"

	"github.com/smukkama/awair-bridge/internal/aggregation"
)

const (
	nowCastPoints     = 48
	nowCastBuckets    = 12
	nowCastBucketSize = nowCastPoints / nowCastBuckets
	minWeightFactor   = 0.5
)

var (
	ErrNowCastWindow = errors.New("nowcast requires exactly 48 particulate samples")

	nowCastTiers = tiers{50, 100, 150, 300}
)

// NowCast computes the weighted 12-hour particulate value.
//
// series must hold 48 points ordered newest first, as returned by the
// 15-min-avg endpoint with desc=true. Bucket 0 covers the newest hour and
// receives weight 1; each older bucket is discounted by the weight factor.
func NowCast(series []float64) (float64, error) {
	if len(series) != nowCastPoints {
		return math.NaN(), fmt.Errorf("%w: got %d", ErrNowCastWindow, len(series))
	}

	pmMax, pmMin := series[0], series[0]
	for _, v := range series[1:] {
		pmMax = math.Max(pmMax, v)
		pmMin = math.Min(pmMin, v)
	}

	weight := 1.0
	if pmMax > 0 {
		scaledRateChange := (pmMax - pmMin) / pmMax
		weight = math.Max(1-scaledRateChange, minWeightFactor)
	}

	var numerator, denominator float64
	for i := 0; i < nowCastBuckets; i++ {
		var bucket float64
		for j := 0; j < nowCastBucketSize; j++ {
			bucket += series[i*nowCastBucketSize+j]
		}
		bucket /= nowCastBucketSize

		w := math.Pow(weight, float64(i))
		numerator += bucket * w
		denominator += w
	}

	return numerator / denominator, nil
}

// NowCastLevel classifies a 48-sample window by its PM2.5 or dust readings
func NowCastLevel(w aggregation.Window) (Level, float64, error) {
	value, err := NowCast(w.Series(aggregation.PM25, aggregation.Dust))
	if err != nil {
		return LevelUnknown, value, err
	}
	return nowCastTiers.level(value), value, nil
}
