package aqi

import "github.com/smukkama/awair-bridge/internal/aggregation"

var (
	vocTiers  = tiers{333, 1000, 3333, 8332} // ppb
	pm25Tiers = tiers{15, 35, 55, 75}        // ug/m^3
	dustTiers = tiers{50, 100, 150, 250}     // ug/m^3, also used for pm10
)

// VOCLevel classifies a VOC concentration in ppb
func VOCLevel(ppb float64) Level { return vocTiers.level(ppb) }

// PM25Level classifies a PM2.5 density in ug/m^3
func PM25Level(ugm3 float64) Level { return pm25Tiers.level(ugm3) }

// DustLevel classifies a dust or PM10 density in ug/m^3
func DustLevel(ugm3 float64) Level { return dustTiers.level(ugm3) }

// BreakpointLevel returns the worst level across VOC, PM2.5 and dust/PM10
func BreakpointLevel(s aggregation.Summary) Level {
	return worst(s, true)
}

// PMLevel is BreakpointLevel restricted to particulates
func PMLevel(s aggregation.Summary) Level {
	return worst(s, false)
}

func worst(s aggregation.Summary, includeVOC bool) Level {
	level := LevelUnknown
	consider := func(c aggregation.Component, classify func(float64) Level) {
		if v, ok := s.Get(c); ok {
			if l := classify(v); l > level {
				level = l
			}
		}
	}

	if includeVOC {
		consider(aggregation.VOC, VOCLevel)
	}
	consider(aggregation.PM25, PM25Level)
	consider(aggregation.Dust, DustLevel)
	consider(aggregation.PM10, DustLevel)

	return level
}
