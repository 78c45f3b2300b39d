// Package detector holds the two anomaly scorers: a per-feature Z-score
// baseline used while a profile is still collecting enrollments, and a
// seeded isolation forest used once enough history exists.
package detector

import "github.com/kestrelsec/keyprint/internal/models"

// Scorer assigns an anomaly score in [0,1] to a feature vector.
// Higher means more anomalous.
type Scorer interface {
	Score(v models.FeatureVector) float64
	Method() string
}

// Config tunes both scorers. Zero values are replaced by defaults.
type Config struct {
	MinTrainSamples    int     // history length required before forest fitting
	Threshold          float64 // score at or above which a login is an anomaly
	BaselineSaturation float64 // k in 1-exp(-z/k) for the baseline scorer
	GuardSaturation    float64 // k in 1-exp(-z/k) for the forest distance guard
	Trees              int     // ensemble size
	SampleSize         int     // per-tree subsample cap
	Contamination      float64 // expected anomaly fraction, sets the calibration offset
	CalibrationTau     float64 // sigmoid temperature around the offset
	Seed               int64   // RNG seed, fixed for reproducible fits
}

// DefaultConfig mirrors the reference tuning: 100 trees, contamination
// 0.1, seed 42, Z saturation at the 2.5-sigma reference threshold.
func DefaultConfig() Config {
	return Config{
		MinTrainSamples:    3,
		Threshold:          0.65,
		BaselineSaturation: 2.5,
		GuardSaturation:    6.0,
		Trees:              100,
		SampleSize:         256,
		Contamination:      0.1,
		CalibrationTau:     0.05,
		Seed:               42,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinTrainSamples <= 0 {
		c.MinTrainSamples = d.MinTrainSamples
	}
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.BaselineSaturation <= 0 {
		c.BaselineSaturation = d.BaselineSaturation
	}
	if c.GuardSaturation <= 0 {
		c.GuardSaturation = d.GuardSaturation
	}
	if c.Trees <= 0 {
		c.Trees = d.Trees
	}
	if c.SampleSize <= 0 {
		c.SampleSize = d.SampleSize
	}
	if c.Contamination <= 0 || c.Contamination >= 1 {
		c.Contamination = d.Contamination
	}
	if c.CalibrationTau <= 0 {
		c.CalibrationTau = d.CalibrationTau
	}
	if c.Seed == 0 {
		c.Seed = d.Seed
	}
	return c
}
