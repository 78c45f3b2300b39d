package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kestrelsec/keyprint/internal/models"
	"github.com/kestrelsec/keyprint/internal/services"
	pkghttp "github.com/kestrelsec/keyprint/pkg/http"
)

// ChallengeSetupRequest is the body of POST /v1/behavior/challenge/setup
type ChallengeSetupRequest struct {
	UserID *string `json:"user_id" validate:"required,min=1,max=64"`
}

// ChallengeSetupResponse returns the secret exactly once
type ChallengeSetupResponse struct {
	UserID string `json:"user_id"`
	Secret string `json:"secret"`
	QRCode string `json:"qr_code"`
}

// ChallengeVerifyRequest is the body of POST /v1/behavior/challenge/verify
type ChallengeVerifyRequest struct {
	UserID *string `json:"user_id" validate:"required,min=1,max=64"`
	Code   *string `json:"code" validate:"required,len=6"`
}

// ChallengeVerifyResponse reports a passed challenge
type ChallengeVerifyResponse struct {
	UserID  string `json:"user_id"`
	Success bool   `json:"success"`
}

// ChallengeHandler handles step-up challenge HTTP requests
type ChallengeHandler struct {
	challenges *services.ChallengeService
	logger     *slog.Logger
}

// NewChallengeHandler creates a new challenge handler
func NewChallengeHandler(challenges *services.ChallengeService, logger *slog.Logger) *ChallengeHandler {
	return &ChallengeHandler{
		challenges: challenges,
		logger:     logger,
	}
}

// Setup handles POST /v1/behavior/challenge/setup
func (h *ChallengeHandler) Setup(w http.ResponseWriter, r *http.Request) {
	var req ChallengeSetupRequest
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

	setup, err := h.challenges.Setup(r.Context(), userID)
	if err != nil {
		h.logger.Error("challenge setup failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Challenge setup failed")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, ChallengeSetupResponse{
		UserID: userID,
		Secret: setup.Secret,
		QRCode: setup.QRDataURL,
	})
}

// Verify handles POST /v1/behavior/challenge/verify
func (h *ChallengeHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req ChallengeVerifyRequest
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

	if err := h.challenges.Verify(r.Context(), userID, *req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrChallengeNotSetUp):
			pkghttp.WriteNotFound(w, "No challenge device enrolled for user")
		case errors.Is(err, models.ErrChallengeFailed):
			pkghttp.WriteUnauthorized(w, "Invalid challenge code")
		case errors.Is(err, models.ErrChallengeReplay):
			pkghttp.WriteUnauthorized(w, "Challenge code already used")
		default:
			h.logger.Error("challenge verification failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Challenge verification failed")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ChallengeVerifyResponse{
		UserID:  userID,
		Success: true,
	})
}
