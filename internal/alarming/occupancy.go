package alarming

const (
	// SoundNoiseFloor is the lowest trustworthy spl_a reading (dBA); the Omni
	// dust sensor fan keeps the ambient level around 50 dBA
	SoundNoiseFloor = 48.0

	DefaultOccupancyOffset = 2.0

	initialNotDetectedLevel = 55.0
	initialDetectedLevel    = 60.0
	detectedBand            = 0.5
)

// Calibration tracks the quietest observed sound level and derives the occupancy band from it
type Calibration struct {
	MinLevel         float64 `json:"min_level"`
	NotDetectedLevel float64 `json:"not_detected_level"`
	DetectedLevel    float64 `json:"detected_level"`
	Detected         bool    `json:"detected"`
}

// NewCalibration returns the uncalibrated starting point
func NewCalibration() Calibration {
	return Calibration{
		MinLevel:         initialNotDetectedLevel,
		NotDetectedLevel: initialNotDetectedLevel,
		DetectedLevel:    initialDetectedLevel,
	}
}

// OccupancyResult describes one observation
type OccupancyResult struct {
	Level        float64
	Recalibrated bool
	Detected     bool
	Changed      bool
	Calibration  Calibration
}

// Observe records a sound level. A new minimum above the noise floor moves the band to
// min+offset (not detected) and min+offset+0.5 (detected) before the level is evaluated.
func (c *Calibration) Observe(spl, offset float64) OccupancyResult {
	res := OccupancyResult{Level: spl}

	if spl > SoundNoiseFloor && spl < c.MinLevel {
		c.MinLevel = spl
		c.NotDetectedLevel = spl + offset
		c.DetectedLevel = spl + offset + detectedBand
		res.Recalibrated = true
	}

	m := Machine{
		Thresholds: Thresholds{On: c.DetectedLevel, Off: c.NotDetectedLevel},
		Detected:   c.Detected,
	}
	res.Detected, res.Changed = m.Evaluate(spl)
	c.Detected = res.Detected
	res.Calibration = *c

	return res
}
