package models

import (
	"fmt"
	"math"
)

// NumFeatures is the fixed width of a feature vector.
const NumFeatures = 6

// FeatureNames lists the schema fields in canonical order. The order is
// what Values() emits, and it must match the enrollment_vectors columns.
var FeatureNames = [NumFeatures]string{
	"avg_interval",
	"avg_hold_time",
	"typing_speed",
	"backspace_count",
	"total_keys",
	"mouse_speed",
}

// FeatureVector is the numeric summary of one behavioral sample: keystroke
// timing, error-correction behavior, and pointer movement captured while
// the user typed their credentials.
type FeatureVector struct {
	AvgInterval    float64 `json:"avg_interval" db:"avg_interval"`       // milliseconds between keystrokes
	AvgHoldTime    float64 `json:"avg_hold_time" db:"avg_hold_time"`     // key press duration, milliseconds
	TypingSpeed    float64 `json:"typing_speed" db:"typing_speed"`       // keys per second
	BackspaceCount float64 `json:"backspace_count" db:"backspace_count"` // error-correction count
	TotalKeys      int     `json:"total_keys" db:"total_keys"`           // session length in keystrokes
	MouseSpeed     float64 `json:"mouse_speed" db:"mouse_speed"`         // pixels per second
}

// Validate checks the vector invariants: every field finite and >= 0, and
// total_keys strictly positive (a zero-key sample has no typing signal and
// poisons derived ratios). Pure function, no side effects.
func (v FeatureVector) Validate() error {
	for i, x := range v.Values() {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidVector, FeatureNames[i])
		}
		if x < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidVector, FeatureNames[i])
		}
	}
	if v.TotalKeys == 0 {
		return fmt.Errorf("%w: total_keys must be positive", ErrInvalidVector)
	}
	return nil
}

// Values returns the fields in canonical schema order.
func (v FeatureVector) Values() [NumFeatures]float64 {
	return [NumFeatures]float64{
		v.AvgInterval,
		v.AvgHoldTime,
		v.TypingSpeed,
		v.BackspaceCount,
		float64(v.TotalKeys),
		v.MouseSpeed,
	}
}
