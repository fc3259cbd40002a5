package quota

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Endpoint is the cloud air-data aggregation granularity
type Endpoint string

const (
	FifteenMinAvg Endpoint = "15-min-avg"
	FiveMinAvg    Endpoint = "5-min-avg"
	Raw           Endpoint = "raw"
	Latest        Endpoint = "latest"
)

const (
	TierHobbyist = "Hobbyist"

	secondsPerDay = 60 * 60 * 24

	// NowCast needs 12 hours of 15-minute samples
	NowCastLimit = 48
)

// maximum samples per request for each endpoint
var limitCeilings = map[Endpoint]int{
	FifteenMinAvg: 672, // ~7 days
	FiveMinAvg:    288, // ~24 hours
	Raw:           360, // ~1 hour
	Latest:        1,
}

var ErrUnknownEndpoint = errors.New("unknown air-data endpoint")

// AccountQuota holds the per-day sample quotas granted to the account tier
type AccountQuota struct {
	Tier       string
	FifteenMin float64
	FiveMin    float64
	Raw        float64
	Latest     float64
}

// DefaultQuota returns the Hobbyist quotas used until the account profile is fetched
func DefaultQuota() AccountQuota {
	return AccountQuota{
		Tier:       TierHobbyist,
		FifteenMin: 100,
		FiveMin:    300,
		Raw:        500,
		Latest:     300,
	}
}

// PollingPolicy is the resolved polling configuration
type PollingPolicy struct {
	Endpoint Endpoint
	Limit    int
	Interval time.Duration
}

// DefaultPolicy is applied whenever the configured endpoint cannot be resolved
func DefaultPolicy() PollingPolicy {
	return PollingPolicy{
		Endpoint: FifteenMinAvg,
		Limit:    1,
		Interval: 900 * time.Second,
	}
}

// ParseEndpoint validates an endpoint name
func ParseEndpoint(name string) (Endpoint, error) {
	e := Endpoint(name)
	if _, ok := limitCeilings[e]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEndpoint, name)
	}
	return e, nil
}

// Resolve derives a polling policy that stays within the account quota.
// An unknown endpoint returns the default policy together with ErrUnknownEndpoint.
func Resolve(q AccountQuota, endpoint Endpoint, limit int, nowcast bool) (PollingPolicy, error) {
	if nowcast {
		endpoint = FifteenMinAvg
		limit = NowCastLimit
	} else {
		ceiling, ok := limitCeilings[endpoint]
		if !ok {
			return DefaultPolicy(), fmt.Errorf("%w: %q", ErrUnknownEndpoint, endpoint)
		}
		if limit <= 0 {
			limit = 1
		}
		if limit > ceiling {
			limit = ceiling
		}
	}

	hobbyist := q.Tier == TierHobbyist

	var seconds int
	switch endpoint {
	case FifteenMinAvg:
		seconds = floor(perDay(q.FifteenMin), 900)
	case FiveMinAvg:
		seconds = floor(perDay(q.FiveMin), 300)
	case Raw:
		minimum := 60
		if hobbyist {
			minimum = 200
		}
		seconds = floor(perDay(q.Raw), max(limit*10, minimum))
	case Latest:
		minimum := 60
		if hobbyist {
			minimum = 300
		}
		seconds = floor(perDay(q.Latest), minimum)
	}

	return PollingPolicy{
		Endpoint: endpoint,
		Limit:    limit,
		Interval: time.Duration(seconds) * time.Second,
	}, nil
}

// perDay spreads the daily quota evenly; a missing quota yields 0 so the floor applies
func perDay(quota float64) int {
	if quota <= 0 || math.IsNaN(quota) || math.IsInf(quota, 0) {
		return 0
	}
	return int(math.Round(secondsPerDay / quota))
}

func floor(seconds, minimum int) int {
	if seconds < minimum {
		return minimum
	}
	return seconds
}
