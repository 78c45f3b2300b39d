package detector

import (
	"math"
	"math/rand"
	"sort"

	"github.com/kestrelsec/keyprint/internal/models"
)

// Forest is an isolation ensemble fit over a user's standardized
// enrollment history. Trees isolate points by random axis-aligned splits;
// vectors in sparse regions of feature space take short paths and score
// high. No parametric distribution is assumed, which is what lets it
// tolerate the small, possibly multi-modal samples a handful of
// enrollment sessions produce.
//
// Fitting is seeded: identical history always yields identical trees and
// scores. The whole struct serializes to JSON so a fitted snapshot can be
// persisted and reloaded without refitting.
type Forest struct {
	Roots      []*forestNode `json:"roots"`
	SampleSize int           `json:"sample_size"`
	HeightLim  int           `json:"height_limit"`
	FitLen     int           `json:"fit_len"`

	Scaler Scaler `json:"scaler"`

	// Offset is the (1-contamination) quantile of the training scores,
	// the same relative thresholding sklearn's IsolationForest applies.
	Offset float64 `json:"offset"`
	Tau    float64 `json:"tau"`
	GuardK float64 `json:"guard_k"`
}

type forestNode struct {
	Leaf     bool        `json:"leaf"`
	Size     int         `json:"size,omitempty"`
	Dim      int         `json:"dim,omitempty"`
	SplitVal float64     `json:"split_val,omitempty"`
	Left     *forestNode `json:"left,omitempty"`
	Right    *forestNode `json:"right,omitempty"`
}

// Scaler standardizes vectors with the per-feature statistics of the
// training history, mirroring the reference pipeline's scaling stage.
type Scaler struct {
	Mean   [models.NumFeatures]float64 `json:"mean"`
	StdDev [models.NumFeatures]float64 `json:"stddev"`
}

func fitScaler(history []models.FeatureVector) (Scaler, int) {
	var s Scaler
	n := float64(len(history))
	for _, v := range history {
		vals := v.Values()
		for i, x := range vals {
			s.Mean[i] += x
		}
	}
	for i := range s.Mean {
		s.Mean[i] /= n
	}
	varying := 0
	for _, v := range history {
		vals := v.Values()
		for i, x := range vals {
			d := x - s.Mean[i]
			s.StdDev[i] += d * d
		}
	}
	for i := range s.StdDev {
		s.StdDev[i] = math.Sqrt(s.StdDev[i] / n)
		if s.StdDev[i] > 0 {
			varying++
		} else {
			s.StdDev[i] = stddevFloor
		}
	}
	return s, varying
}

func (s Scaler) transform(v models.FeatureVector) []float64 {
	vals := v.Values()
	out := make([]float64, models.NumFeatures)
	for i, x := range vals {
		out[i] = (x - s.Mean[i]) / s.StdDev[i]
	}
	return out
}

func (s Scaler) maxAbs(x []float64) float64 {
	var m float64
	for _, z := range x {
		if a := math.Abs(z); a > m {
			m = a
		}
	}
	return m
}

// FitForest fits a seeded isolation forest on the history. Callers must
// have already verified len(history) >= MinTrainSamples; below that it
// returns ErrInsufficientData. History in which every feature has zero
// variance cannot be split and returns ErrModelFit.
func FitForest(history []models.FeatureVector, cfg Config) (*Forest, error) {
	cfg = cfg.withDefaults()
	if len(history) < cfg.MinTrainSamples {
		return nil, models.ErrInsufficientData
	}

	scaler, varying := fitScaler(history)
	if varying == 0 {
		return nil, models.ErrModelFit
	}

	X := make([][]float64, len(history))
	for i, v := range history {
		X[i] = scaler.transform(v)
	}

	n := len(X)
	sampleSize := cfg.SampleSize
	if sampleSize > n {
		sampleSize = n
	}

	f := &Forest{
		Roots:      make([]*forestNode, cfg.Trees),
		SampleSize: sampleSize,
		HeightLim:  int(math.Ceil(math.Log2(float64(sampleSize) + 1))),
		FitLen:     len(history),
		Scaler:     scaler,
		Tau:        cfg.CalibrationTau,
		GuardK:     cfg.GuardSaturation,
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	for i := 0; i < cfg.Trees; i++ {
		idxs := rng.Perm(n)
		sample := make([][]float64, sampleSize)
		for j := 0; j < sampleSize; j++ {
			sample[j] = X[idxs[j]]
		}
		f.Roots[i] = buildNode(sample, 0, f.HeightLim, rng)
	}

	// Calibrate against the training distribution.
	trainScores := make([]float64, n)
	for i, x := range X {
		trainScores[i] = f.rawScore(x)
	}
	sort.Float64s(trainScores)
	q := int(math.Ceil((1-cfg.Contamination)*float64(n))) - 1
	if q < 0 {
		q = 0
	}
	if q >= n {
		q = n - 1
	}
	f.Offset = trainScores[q]

	return f, nil
}

func buildNode(X [][]float64, h, hlim int, rng *rand.Rand) *forestNode {
	if len(X) <= 1 || h >= hlim {
		return &forestNode{Leaf: true, Size: len(X)}
	}
	dim := rng.Intn(models.NumFeatures)
	minv, maxv := X[0][dim], X[0][dim]
	for _, row := range X[1:] {
		if row[dim] < minv {
			minv = row[dim]
		}
		if row[dim] > maxv {
			maxv = row[dim]
		}
	}
	if minv == maxv {
		return &forestNode{Leaf: true, Size: len(X)}
	}
	split := minv + rng.Float64()*(maxv-minv)
	var left, right [][]float64
	for _, row := range X {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &forestNode{Leaf: true, Size: len(X)}
	}
	return &forestNode{
		Dim:      dim,
		SplitVal: split,
		Left:     buildNode(left, h+1, hlim, rng),
		Right:    buildNode(right, h+1, hlim, rng),
	}
}

// avgPathFactor is c(n), the average path length of an unsuccessful BST
// search, used to normalize path lengths.
func avgPathFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	const eulerMascheroni = 0.5772156649
	return 2.0*(math.Log(float64(n-1))+eulerMascheroni) - 2.0*float64(n-1)/float64(n)
}

func pathLength(node *forestNode, x []float64, h int) float64 {
	if node.Leaf {
		if node.Size <= 1 {
			return float64(h)
		}
		return float64(h) + avgPathFactor(node.Size)
	}
	if x[node.Dim] < node.SplitVal {
		return pathLength(node.Left, x, h+1)
	}
	return pathLength(node.Right, x, h+1)
}

// rawScore is the classic isolation score 2^(-E[h]/c) in [0,1] over an
// already-standardized vector.
func (f *Forest) rawScore(x []float64) float64 {
	if len(f.Roots) == 0 {
		return 0
	}
	sum := 0.0
	for _, root := range f.Roots {
		sum += pathLength(root, x, 0)
	}
	avg := sum / float64(len(f.Roots))
	c := avgPathFactor(f.SampleSize)
	if c <= 0 {
		c = 1
	}
	return math.Pow(2, -avg/c)
}

// Score maps the raw isolation score through a sigmoid centered at the
// training-score offset, then takes the max with a standardized-distance
// guard. Trees on tiny histories compress path lengths, so probes far
// outside the enrolled range are decided by the guard; in-distribution
// probes are decided by the ensemble.
func (f *Forest) Score(v models.FeatureVector) float64 {
	x := f.Scaler.transform(v)

	tau := f.Tau
	if tau <= 0 {
		tau = DefaultConfig().CalibrationTau
	}
	iso := 1 / (1 + math.Exp(-(f.rawScore(x)-f.Offset)/tau))

	guardK := f.GuardK
	if guardK <= 0 {
		guardK = DefaultConfig().GuardSaturation
	}
	guard := 1 - math.Exp(-f.Scaler.maxAbs(x)/guardK)

	return math.Max(iso, guard)
}

// Method identifies this scorer in session records.
func (f *Forest) Method() string { return models.MethodModel }

// Fresh reports whether the forest was fit on exactly historyLen vectors.
// A stale forest is never consulted; logins fall back to the baseline
// until the next enrollment refits.
func (f *Forest) Fresh(historyLen int) bool {
	return f != nil && f.FitLen == historyLen
}
