package aqi

import "math"

// ScoreTable maps the manufacturer 0-100 score onto levels.
// Bounds are the inclusive lower limits of levels 1..4; anything below the last bound is level 5.
type ScoreTable struct {
	Name   string
	bounds [4]float64
}

var (
	// LegacyScoreTable applies to the earlier device generations
	LegacyScoreTable = ScoreTable{Name: "legacy", bounds: [4]float64{90, 80, 60, 50}}

	// RevisedScoreTable uses closed-open intervals: [81,100] [61,81) [41,61) [21,41) [0,21)
	RevisedScoreTable = ScoreTable{Name: "revised", bounds: [4]float64{81, 61, 41, 21}}
)

// ScoreTableFor selects the score table by device type
func ScoreTableFor(deviceType string) ScoreTable {
	if deviceType == "awair-element" {
		return RevisedScoreTable
	}
	return LegacyScoreTable
}

// ParseScoreTable resolves a configured table name. "auto" and unknown names return ok=false.
func ParseScoreTable(name string) (ScoreTable, bool) {
	switch name {
	case LegacyScoreTable.Name:
		return LegacyScoreTable, true
	case RevisedScoreTable.Name:
		return RevisedScoreTable, true
	default:
		return ScoreTable{}, false
	}
}

// ScoreLevel classifies a window-averaged manufacturer score
func ScoreLevel(score float64, table ScoreTable) Level {
	if math.IsNaN(score) || score < 0 || score > 100 {
		return LevelUnknown
	}
	for i, bound := range table.bounds {
		if score >= bound {
			return Level(i + 1)
		}
	}
	return LevelPoor
}
