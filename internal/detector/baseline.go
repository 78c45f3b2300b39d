package detector

import (
	"math"

	"github.com/kestrelsec/keyprint/internal/models"
)

// stddevFloor keeps single-sample and zero-variance features from
// producing a division by zero downstream.
const stddevFloor = 1e-6

// Baseline holds per-feature summary statistics over a user's enrolled
// vectors. It is cheap to recompute and carries no learned state beyond
// the mean/stddev pairs.
type Baseline struct {
	Mean        [models.NumFeatures]float64 `json:"mean"`
	StdDev      [models.NumFeatures]float64 `json:"stddev"`
	SampleCount int                         `json:"sample_count"`

	saturation float64
}

// FitBaseline computes per-feature mean and population standard deviation
// over the history. Requires at least one sample. Every stddev is floored
// so a later Z-score is always defined.
func FitBaseline(history []models.FeatureVector, cfg Config) (*Baseline, error) {
	if len(history) == 0 {
		return nil, models.ErrInsufficientData
	}
	cfg = cfg.withDefaults()

	b := &Baseline{SampleCount: len(history), saturation: cfg.BaselineSaturation}
	n := float64(len(history))

	for _, v := range history {
		vals := v.Values()
		for i, x := range vals {
			b.Mean[i] += x
		}
	}
	for i := range b.Mean {
		b.Mean[i] /= n
	}

	for _, v := range history {
		vals := v.Values()
		for i, x := range vals {
			d := x - b.Mean[i]
			b.StdDev[i] += d * d
		}
	}
	for i := range b.StdDev {
		b.StdDev[i] = math.Sqrt(b.StdDev[i]/n) + stddevFloor
	}

	return b, nil
}

// MaxAbsZ returns the largest absolute Z-score across features. The
// maximum, not the mean: a single wildly-off feature must dominate
// rather than be diluted by five ordinary ones.
func (b *Baseline) MaxAbsZ(v models.FeatureVector) float64 {
	var maxZ float64
	vals := v.Values()
	for i, x := range vals {
		z := math.Abs(x-b.Mean[i]) / b.StdDev[i]
		if z > maxZ {
			maxZ = z
		}
	}
	return maxZ
}

// Score saturates the max Z-score into [0,1). Deterministic.
func (b *Baseline) Score(v models.FeatureVector) float64 {
	k := b.saturation
	if k <= 0 {
		k = DefaultConfig().BaselineSaturation
	}
	return 1 - math.Exp(-b.MaxAbsZ(v)/k)
}

// Method identifies this scorer in session records.
func (b *Baseline) Method() string { return models.MethodBaseline }
