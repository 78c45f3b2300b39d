package services

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/kestrelsec/keyprint/internal/detector"
	"github.com/kestrelsec/keyprint/internal/models"
	"github.com/kestrelsec/keyprint/internal/store"
)

// ProfileRepository defines the persistence boundary for profiles.
type ProfileRepository interface {
	Save(ctx context.Context, p *store.Profile, appended models.FeatureVector, position int) error
}

// SessionAuditor receives immutable session records. Implementations must
// be best-effort: recording failures never fail the request.
type SessionAuditor interface {
	Record(ctx context.Context, rec *models.SessionRecord)
}

// AnomalyNotifier is told about anomaly verdicts.
type AnomalyNotifier interface {
	NotifyAnomaly(ctx context.Context, userID string, score float64, method string)
}

// EnrollResult is the outcome of one enrollment.
type EnrollResult struct {
	UserID     string
	HistoryLen int
	Trained    bool
}

// AuthResult is the outcome of one scored login attempt.
type AuthResult struct {
	UserID  string
	Verdict string
	Score   float64
	Method  string
}

// DecisionService is the decision engine: it orchestrates enrollment and
// login requests, chooses between the outlier model and the baseline
// estimator, and produces calibrated verdicts. All per-user work runs
// under the profile store's per-user lock.
type DecisionService struct {
	store    *store.ProfileStore
	repo     ProfileRepository
	auditor  SessionAuditor
	notifier AnomalyNotifier
	cfg      detector.Config
	logger   *slog.Logger
}

// NewDecisionService creates a new DecisionService.
func NewDecisionService(
	profileStore *store.ProfileStore,
	repo ProfileRepository,
	auditor SessionAuditor,
	notifier AnomalyNotifier,
	cfg detector.Config,
	logger *slog.Logger,
) *DecisionService {
	return &DecisionService{
		store:    profileStore,
		repo:     repo,
		auditor:  auditor,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// needsRefit reports whether an enrollment growing the history to newLen
// requires refitting the outlier model: the minimum sample count has been
// reached and the current forest was not fit on newLen vectors.
func needsRefit(forest *detector.Forest, newLen, minTrainSamples int) bool {
	if newLen < minTrainSamples {
		return false
	}
	return !forest.Fresh(newLen)
}

// Enroll validates the vector, appends it to the user's history, refits
// the baseline, and refits the outlier model once the minimum sample
// count is reached. The append and the model swap persist in one
// transaction; on any failure the in-memory profile is left untouched.
func (s *DecisionService) Enroll(ctx context.Context, userID string, v models.FeatureVector) (*EnrollResult, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	var result EnrollResult
	err := s.store.Update(userID, func(p *store.Profile) error {
		history := append(slices.Clone(p.History), v)

		baseline, err := detector.FitBaseline(history, s.cfg)
		if err != nil {
			s.logger.Error("failed to fit baseline",
				slog.String("user_id", userID), slog.Any("error", err))
			return models.ErrInternalServer
		}

		forest := p.Forest
		if needsRefit(forest, len(history), s.cfg.MinTrainSamples) {
			fitted, err := detector.FitForest(history, s.cfg)
			switch {
			case err == nil:
				forest = fitted
			case errors.Is(err, models.ErrModelFit):
				// Degenerate history (for example all-identical vectors).
				// The enrollment still lands; logins use the baseline
				// until a later fit succeeds.
				s.logger.Warn("outlier model fit failed, keeping baseline path",
					slog.String("user_id", userID),
					slog.Int("history_len", len(history)),
					slog.Any("error", err))
			default:
				s.logger.Error("failed to fit outlier model",
					slog.String("user_id", userID), slog.Any("error", err))
				return models.ErrInternalServer
			}
		}

		staged := &store.Profile{
			UserID:    p.UserID,
			History:   history,
			Baseline:  baseline,
			Forest:    forest,
			CreatedAt: p.CreatedAt,
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.repo.Save(ctx, staged, v, len(history)-1); err != nil {
			s.logger.Error("failed to persist enrollment",
				slog.String("user_id", userID), slog.Any("error", err))
			return models.ErrInternalServer
		}

		// Commit to memory only after the write-through succeeded.
		p.History = staged.History
		p.Baseline = staged.Baseline
		p.Forest = staged.Forest
		p.UpdatedAt = staged.UpdatedAt

		result = EnrollResult{
			UserID:     userID,
			HistoryLen: len(history),
			Trained:    p.State(s.cfg.MinTrainSamples) == store.StateTrained,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &models.SessionRecord{
		UserID: userID,
		Kind:   models.SessionKindEnroll,
		Vector: v,
	})

	s.logger.Info("enrollment accepted",
		slog.String("user_id", userID),
		slog.Int("history_len", result.HistoryLen),
		slog.Bool("trained", result.Trained))

	return &result, nil
}

// Authenticate validates the vector and scores it against the user's
// current profile. History is never mutated: scoring the same vector
// twice against an unchanged profile yields identical results.
func (s *DecisionService) Authenticate(ctx context.Context, userID string, v models.FeatureVector) (*AuthResult, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	var result *AuthResult
	err := s.store.View(userID, func(p *store.Profile) error {
		scorer := s.selectScorer(p)
		score := clamp01(scorer.Score(v))

		verdict := models.VerdictNormal
		if score >= s.cfg.Threshold {
			verdict = models.VerdictAnomaly
		}

		result = &AuthResult{
			UserID:  userID,
			Verdict: verdict,
			Score:   score,
			Method:  scorer.Method(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &models.SessionRecord{
		UserID:  userID,
		Kind:    models.SessionKindLogin,
		Vector:  v,
		Method:  result.Method,
		Score:   result.Score,
		Verdict: result.Verdict,
	})

	if result.Verdict == models.VerdictAnomaly {
		s.notifier.NotifyAnomaly(ctx, userID, result.Score, result.Method)
	}

	s.logger.Info("login scored",
		slog.String("user_id", userID),
		slog.String("verdict", result.Verdict),
		slog.Float64("score", result.Score),
		slog.String("method", result.Method))

	return result, nil
}

// selectScorer routes by profile state: the forest once trained, the
// baseline while enrolling or after a failed fit. Insufficient data is
// never an error the caller sees.
func (s *DecisionService) selectScorer(p *store.Profile) detector.Scorer {
	if p.State(s.cfg.MinTrainSamples) == store.StateTrained {
		return p.Forest
	}
	return p.Baseline
}

// ProfileCounts returns the enrollment count per user id.
func (s *DecisionService) ProfileCounts() map[string]int {
	return s.store.Counts()
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
