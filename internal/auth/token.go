package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kestrelsec/keyprint/internal/models"
)

// AttestationClaims carry the verdict a downstream service can trust
// without re-scoring the vector.
type AttestationClaims struct {
	UserID string  `json:"uid"`
	Score  float64 `json:"score"`
	Method string  `json:"method"`
	jwt.RegisteredClaims
}

// TokenManager handles attestation token generation and validation.
type TokenManager struct {
	secret string
	expiry time.Duration
}

// NewTokenManager creates a new TokenManager.
func NewTokenManager(secret string, expiry time.Duration) *TokenManager {
	return &TokenManager{
		secret: secret,
		expiry: expiry,
	}
}

// GenerateAttestation creates a short-lived token attesting that the
// user's behavior scored as normal.
func (tm *TokenManager) GenerateAttestation(userID string, score float64, method string) (string, error) {
	claims := &AttestationClaims{
		UserID: userID,
		Score:  score,
		Method: method,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign attestation token: %w", err)
	}

	return tokenString, nil
}

// ValidateAttestation verifies a token and returns its claims.
func (tm *TokenManager) ValidateAttestation(tokenString string) (*AttestationClaims, error) {
	claims := &AttestationClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrBadRequest
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("invalid token: missing user id")
	}

	return claims, nil
}
