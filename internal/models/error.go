package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Scoring errors
	ErrNoProfile        = errors.New("no behavioral profile enrolled")
	ErrInvalidVector    = errors.New("invalid feature vector")
	ErrModelFit         = errors.New("outlier model fit failed")
	ErrInsufficientData = errors.New("insufficient enrollment history")

	// Challenge errors
	ErrChallengeFailed    = errors.New("challenge verification failed")
	ErrChallengeNotSetUp  = errors.New("no challenge device enrolled")
	ErrChallengeReplay    = errors.New("challenge code already used")
)
