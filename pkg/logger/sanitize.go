package logger

import (
	"log/slog"
	"strings"
)

// SanitizedUserID masks a user id for logging (e.g., "a***e"). Behavioral
// user ids are account identifiers and should not appear verbatim in
// shipped logs.
func SanitizedUserID(userID string) string {
	if len(userID) <= 2 {
		return strings.Repeat("*", len(userID))
	}
	return string(userID[0]) + strings.Repeat("*", len(userID)-2) + string(userID[len(userID)-1])
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := map[string]bool{
		"token":    true,
		"secret":   true,
		"code":     true,
		"user_id":  true,
		"api_key":  true,
		"apikey":   true,
		"auth":     true,
	}

	query := strings.ToLower(rawQuery)
	for param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
