package models

import (
	"time"

	"github.com/google/uuid"
)

// Verdicts for a scored attempt
const (
	VerdictNormal  = "normal"
	VerdictAnomaly = "anomaly"
)

// Scoring methods
const (
	MethodModel    = "model"
	MethodBaseline = "baseline"
)

// Session kinds
const (
	SessionKindEnroll = "enroll"
	SessionKindLogin  = "login"
)

// SessionRecord is an immutable audit entry for one enroll or login
// attempt. Records are appended to the audit surface and never read back
// by the decision engine.
type SessionRecord struct {
	ID        uuid.UUID     `db:"id"`
	UserID    string        `db:"user_id"`
	Kind      string        `db:"kind"`
	Vector    FeatureVector `db:"-"`
	Method    string        `db:"method"`
	Score     float64       `db:"score"`
	Verdict   string        `db:"verdict"`
	CreatedAt time.Time     `db:"created_at"`
}
