package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validVector() FeatureVector {
	return FeatureVector{
		AvgInterval:    120.5,
		AvgHoldTime:    85.2,
		TypingSpeed:    4.1,
		BackspaceCount: 2,
		TotalKeys:      48,
		MouseSpeed:     310.7,
	}
}

func TestFeatureVector_Validate_Success(t *testing.T) {
	assert.NoError(t, validVector().Validate())
}

func TestFeatureVector_Validate_ZeroFloatsAllowed(t *testing.T) {
	v := validVector()
	v.BackspaceCount = 0
	v.MouseSpeed = 0

	assert.NoError(t, v.Validate())
}

func TestFeatureVector_Validate_RejectsNaN(t *testing.T) {
	v := validVector()
	v.AvgInterval = math.NaN()

	err := v.Validate()
	assert.ErrorIs(t, err, ErrInvalidVector)
	assert.Contains(t, err.Error(), "avg_interval")
}

func TestFeatureVector_Validate_RejectsInf(t *testing.T) {
	v := validVector()
	v.MouseSpeed = math.Inf(1)

	err := v.Validate()
	assert.ErrorIs(t, err, ErrInvalidVector)
	assert.Contains(t, err.Error(), "mouse_speed")
}

func TestFeatureVector_Validate_RejectsNegative(t *testing.T) {
	v := validVector()
	v.TypingSpeed = -0.5

	err := v.Validate()
	assert.ErrorIs(t, err, ErrInvalidVector)
	assert.Contains(t, err.Error(), "typing_speed")
}

func TestFeatureVector_Validate_RejectsZeroTotalKeys(t *testing.T) {
	v := validVector()
	v.TotalKeys = 0

	err := v.Validate()
	assert.ErrorIs(t, err, ErrInvalidVector)
	assert.Contains(t, err.Error(), "total_keys")
}

func TestFeatureVector_Values_CanonicalOrder(t *testing.T) {
	v := validVector()
	vals := v.Values()

	assert.Equal(t, v.AvgInterval, vals[0])
	assert.Equal(t, v.AvgHoldTime, vals[1])
	assert.Equal(t, v.TypingSpeed, vals[2])
	assert.Equal(t, v.BackspaceCount, vals[3])
	assert.Equal(t, float64(v.TotalKeys), vals[4])
	assert.Equal(t, v.MouseSpeed, vals[5])
}
