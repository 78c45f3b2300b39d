package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/kestrelsec/keyprint/internal/handlers"
	"github.com/kestrelsec/keyprint/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	behaviorHandler *handlers.BehaviorHandler,
	challengeHandler *handlers.ChallengeHandler,
) {
	scoringLimit := middleware.DefaultScoringRateLimit()
	readLimit := middleware.DefaultReadRateLimit()

	router.Route("/v1/behavior", func(r chi.Router) {
		// Scoring endpoints are brute-force targets, rate limit tightly
		r.With(middleware.RateLimitByIP(scoringLimit)).Post("/enroll", behaviorHandler.Enroll)
		r.With(middleware.RateLimitByIP(scoringLimit)).Post("/authenticate", behaviorHandler.Authenticate)

		r.With(middleware.RateLimitByIP(readLimit)).Get("/profiles", behaviorHandler.Profiles)
		r.With(middleware.RateLimitByIP(readLimit)).Get("/sessions", behaviorHandler.Sessions)

		// Step-up challenge, registered only when configured
		if challengeHandler != nil {
			r.With(middleware.RateLimitByIP(scoringLimit)).Post("/challenge/setup", challengeHandler.Setup)
			r.With(middleware.RateLimitByIP(scoringLimit)).Post("/challenge/verify", challengeHandler.Verify)
		}
	})
}
