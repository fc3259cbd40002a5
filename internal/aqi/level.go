package aqi

// Level is the categorical air quality reported to the host, 1 best through 5 worst.
// Zero means the input could not be classified.
type Level int

const (
	LevelUnknown Level = iota
	LevelExcellent
	LevelGood
	LevelFair
	LevelInferior
	LevelPoor
)

func (l Level) String() string {
	switch l {
	case LevelExcellent:
		return "excellent"
	case LevelGood:
		return "good"
	case LevelFair:
		return "fair"
	case LevelInferior:
		return "inferior"
	case LevelPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// tiers holds the lower bounds of levels 2..5 of an ascending, closed-open breakpoint table.
// Values below tiers[0] are level 1; negative or NaN input is LevelUnknown.
type tiers [4]float64

func (t tiers) level(v float64) Level {
	if !(v >= 0) {
		return LevelUnknown
	}
	for i := len(t) - 1; i >= 0; i-- {
		if v >= t[i] {
			return Level(i + 2)
		}
	}
	return LevelExcellent
}
