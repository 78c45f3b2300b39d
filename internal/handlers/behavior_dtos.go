package handlers

import (
	"time"

	"github.com/kestrelsec/keyprint/internal/models"
)

// FeatureVectorRequest carries one behavioral sample. Pointer fields so a
// missing field is distinguishable from a legitimate zero and rejected.
type FeatureVectorRequest struct {
	AvgInterval    *float64 `json:"avg_interval" validate:"required"`
	AvgHoldTime    *float64 `json:"avg_hold_time" validate:"required"`
	TypingSpeed    *float64 `json:"typing_speed" validate:"required"`
	BackspaceCount *float64 `json:"backspace_count" validate:"required"`
	TotalKeys      *int     `json:"total_keys" validate:"required"`
	MouseSpeed     *float64 `json:"mouse_speed" validate:"required"`
}

// ToModel converts the request DTO into the domain vector.
func (r *FeatureVectorRequest) ToModel() models.FeatureVector {
	return models.FeatureVector{
		AvgInterval:    *r.AvgInterval,
		AvgHoldTime:    *r.AvgHoldTime,
		TypingSpeed:    *r.TypingSpeed,
		BackspaceCount: *r.BackspaceCount,
		TotalKeys:      *r.TotalKeys,
		MouseSpeed:     *r.MouseSpeed,
	}
}

// EnrollRequest is the body of POST /v1/behavior/enroll
type EnrollRequest struct {
	UserID   *string               `json:"user_id" validate:"required,min=1,max=64"`
	Features *FeatureVectorRequest `json:"features" validate:"required"`
}

// EnrollResponse is the body of a successful enrollment
type EnrollResponse struct {
	Status     string `json:"status"`
	UserID     string `json:"user_id"`
	HistoryLen int    `json:"history_len"`
	Trained    bool   `json:"trained"`
}

// AuthenticateRequest is the body of POST /v1/behavior/authenticate
type AuthenticateRequest struct {
	UserID   *string               `json:"user_id" validate:"required,min=1,max=64"`
	Features *FeatureVectorRequest `json:"features" validate:"required"`
}

// AuthenticateResponse is the body of a scored login attempt
type AuthenticateResponse struct {
	UserID            string  `json:"user_id"`
	Status            string  `json:"status"`
	Score             float64 `json:"score"`
	Method            string  `json:"method"`
	AttestationToken  string  `json:"attestation_token,omitempty"`
	ChallengeRequired bool    `json:"challenge_required,omitempty"`
}

// ProfilesResponse maps user ids to enrollment counts
type ProfilesResponse struct {
	Profiles map[string]int `json:"profiles"`
	Total    int            `json:"total"`
}

// SessionRecordResponse is one audit entry in GET /v1/behavior/sessions
type SessionRecordResponse struct {
	ID        string               `json:"id"`
	UserID    string               `json:"user_id"`
	Kind      string               `json:"kind"`
	Method    string               `json:"method,omitempty"`
	Score     float64              `json:"score"`
	Verdict   string               `json:"verdict,omitempty"`
	Features  models.FeatureVector `json:"features"`
	CreatedAt time.Time            `json:"created_at"`
}

// SessionsResponse is the body of GET /v1/behavior/sessions
type SessionsResponse struct {
	Sessions []SessionRecordResponse `json:"sessions"`
	Count    int                     `json:"count"`
}
