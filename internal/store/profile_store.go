// Package store holds the in-memory authoritative profile state. All I/O
// happens at the repository boundary; scoring and fitting run entirely
// in memory against this store.
package store

import (
	"sync"
	"time"

	"github.com/kestrelsec/keyprint/internal/detector"
	"github.com/kestrelsec/keyprint/internal/models"
)

// State is the decision-engine state of one profile.
type State string

const (
	StateUnenrolled State = "unenrolled"
	StateEnrolling  State = "enrolling"
	StateTrained    State = "trained"
)

// Profile accumulates one user's enrolled feature vectors plus the
// statistics and model derived from them. History order is enrollment
// order; fitting is reproducible because it always consumes the full
// ordered history.
type Profile struct {
	UserID    string
	History   []models.FeatureVector
	Baseline  *detector.Baseline
	Forest    *detector.Forest
	CreatedAt time.Time
	UpdatedAt time.Time
}

// State derives the decision state. TRAINED requires a forest fit on the
// current history length; a stale or absent forest keeps the profile on
// the baseline path.
func (p *Profile) State(minTrainSamples int) State {
	switch {
	case len(p.History) == 0:
		return StateUnenrolled
	case len(p.History) >= minTrainSamples && p.Forest.Fresh(len(p.History)):
		return StateTrained
	default:
		return StateEnrolling
	}
}

// ProfileStore maps user ids to profiles. Each profile has its own lock,
// so one user's enrollment and login are serialized against each other
// while different users proceed in parallel.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	profile *Profile
}

// NewProfileStore creates an empty store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]*entry)}
}

// Hydrate loads previously persisted profiles, replacing any existing
// entries. Intended for process start, before the store serves requests.
func (s *ProfileStore) Hydrate(profiles []*Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range profiles {
		s.profiles[p.UserID] = &entry{profile: p}
	}
}

func (s *ProfileStore) get(userID string, create bool) *entry {
	s.mu.RLock()
	e, ok := s.profiles[userID]
	s.mu.RUnlock()
	if ok {
		return e
	}
	if !create {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.profiles[userID]; ok {
		return e
	}
	now := time.Now().UTC()
	e = &entry{profile: &Profile{UserID: userID, CreatedAt: now, UpdatedAt: now}}
	s.profiles[userID] = e
	return e
}

// Update runs fn with exclusive access to the user's profile, creating an
// empty profile first if none exists. fn must leave the profile unchanged
// when it returns an error.
func (s *ProfileStore) Update(userID string, fn func(p *Profile) error) error {
	e := s.get(userID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.profile)
}

// View runs fn with exclusive access to the user's profile without
// creating one. Returns ErrNoProfile when the user has never enrolled.
// The lock is exclusive, not shared: a login must never observe a
// half-applied enrollment.
func (s *ProfileStore) View(userID string, fn func(p *Profile) error) error {
	e := s.get(userID, false)
	if e == nil {
		return models.ErrNoProfile
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.profile.History) == 0 {
		return models.ErrNoProfile
	}
	return fn(e.profile)
}

// Counts returns the enrollment count per user id.
func (s *ProfileStore) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.profiles))
	for id, e := range s.profiles {
		e.mu.Lock()
		counts[id] = len(e.profile.History)
		e.mu.Unlock()
	}
	return counts
}
