package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kestrelsec/keyprint/internal/auth"
	"github.com/kestrelsec/keyprint/internal/models"
	"github.com/kestrelsec/keyprint/internal/services"
	pkghttp "github.com/kestrelsec/keyprint/pkg/http"
)

// DecisionEngine is the scoring surface the handler depends on.
type DecisionEngine interface {
	Enroll(ctx context.Context, userID string, v models.FeatureVector) (*services.EnrollResult, error)
	Authenticate(ctx context.Context, userID string, v models.FeatureVector) (*services.AuthResult, error)
	ProfileCounts() map[string]int
}

// SessionLister reads back the session audit surface.
type SessionLister interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]*models.SessionRecord, error)
}

// DeviceChecker reports whether a user can take a step-up challenge.
type DeviceChecker interface {
	HasDevice(ctx context.Context, userID string) bool
}

// BehaviorHandler handles enrollment and scoring HTTP requests
type BehaviorHandler struct {
	engine   DecisionEngine
	sessions SessionLister
	tm       *auth.TokenManager
	devices  DeviceChecker // nil when challenges are disabled
	logger   *slog.Logger
}

// NewBehaviorHandler creates a new behavior handler
func NewBehaviorHandler(engine DecisionEngine, sessions SessionLister, tm *auth.TokenManager, devices DeviceChecker, logger *slog.Logger) *BehaviorHandler {
	return &BehaviorHandler{
		engine:   engine,
		sessions: sessions,
		tm:       tm,
		devices:  devices,
		logger:   logger,
	}
}

// normalizeUserID canonicalizes a submitted user id. Profiles are keyed
// by the normalized form so "Alice" and "alice " share one profile.
func normalizeUserID(userID string) string {
	return strings.ToLower(strings.TrimSpace(userID))
}

// Enroll handles POST /v1/behavior/enroll
func (h *BehaviorHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	userID := normalizeUserID(*req.UserID)
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user_id must not be blank")
		return
	}

	result, err := h.engine.Enroll(r.Context(), userID, req.Features.ToModel())
	if err != nil {
		if errors.Is(err, models.ErrInvalidVector) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.Error("enrollment failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Enrollment failed")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, EnrollResponse{
		Status:     "saved",
		UserID:     result.UserID,
		HistoryLen: result.HistoryLen,
		Trained:    result.Trained,
	})
}

// Authenticate handles POST /v1/behavior/authenticate
func (h *BehaviorHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	userID := normalizeUserID(*req.UserID)
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user_id must not be blank")
		return
	}

	result, err := h.engine.Authenticate(r.Context(), userID, req.Features.ToModel())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNoProfile):
			pkghttp.WriteNotFound(w, "No behavioral profile enrolled for user")
		case errors.Is(err, models.ErrInvalidVector):
			pkghttp.WriteBadRequest(w, err.Error())
		default:
			h.logger.Error("authentication scoring failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Scoring failed")
		}
		return
	}

	resp := AuthenticateResponse{
		UserID: result.UserID,
		Status: result.Verdict,
		Score:  result.Score,
		Method: result.Method,
	}

	if result.Verdict == models.VerdictNormal {
		token, err := h.tm.GenerateAttestation(result.UserID, result.Score, result.Method)
		if err != nil {
			// A verdict without an attestation is still a verdict.
			h.logger.Error("failed to mint attestation token",
				slog.String("user_id", result.UserID), slog.Any("error", err))
		} else {
			resp.AttestationToken = token
		}
	} else if h.devices != nil && h.devices.HasDevice(r.Context(), result.UserID) {
		resp.ChallengeRequired = true
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Profiles handles GET /v1/behavior/profiles
func (h *BehaviorHandler) Profiles(w http.ResponseWriter, r *http.Request) {
	counts := h.engine.ProfileCounts()

	pkghttp.WriteJSON(w, http.StatusOK, ProfilesResponse{
		Profiles: counts,
		Total:    len(counts),
	})
}

// Sessions handles GET /v1/behavior/sessions
func (h *BehaviorHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID := normalizeUserID(r.URL.Query().Get("user_id"))

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			pkghttp.WriteBadRequest(w, "limit must be an integer")
			return
		}
		limit = parsed
	}

	records, err := h.sessions.ListRecent(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("failed to list session records", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to list sessions")
		return
	}

	sessions := make([]SessionRecordResponse, 0, len(records))
	for _, rec := range records {
		sessions = append(sessions, SessionRecordResponse{
			ID:        rec.ID.String(),
			UserID:    rec.UserID,
			Kind:      rec.Kind,
			Method:    rec.Method,
			Score:     rec.Score,
			Verdict:   rec.Verdict,
			Features:  rec.Vector,
			CreatedAt: rec.CreatedAt,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionsResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}
