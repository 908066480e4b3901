package cdn

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// bandwidthSmoothing is the weight kept from the previous estimate.
const bandwidthSmoothing = 0.7

var (
	// ErrSessionNotFound is returned when an operation needs a session that
	// was never registered.
	ErrSessionNotFound = errors.New("session not found")
)

// Repository is the only writer of session, bandwidth and analytics state.
// A mutex serialises read-modify-write sequences so concurrent requests in
// one process never lose a bandwidth sample. Processes sharing a RedisStore
// still race with each other; the last write wins there.
type Repository struct {
	mu    sync.Mutex
	store Store
}

// NewInMemoryRepository constructs a repository with a default in-memory store.
func NewInMemoryRepository() *Repository {
	return NewRepository(NewInMemoryStore())
}

// NewRepository constructs a repository over the given Store.
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// RegisterSession stores s unless a session with the same id already exists,
// in which case the existing session is returned untouched and created is false.
func (r *Repository) RegisterSession(ctx context.Context, s Session) (stored Session, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok, err := r.store.GetSession(ctx, s.ID)
	if err != nil {
		return Session{}, false, err
	}
	if ok {
		return *existing, false, nil
	}
	if err := r.store.SetSession(ctx, &s); err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

// Session returns a snapshot of a session.
func (r *Repository) Session(ctx context.Context, id string) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok, err := r.store.GetSession(ctx, id)
	if err != nil || !ok {
		return Session{}, false, err
	}
	return *s, true, nil
}

// RecordPlayedQuality appends a quality id the client reports having played.
func (r *Repository) RecordPlayedQuality(ctx context.Context, sessionID string, qualityID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("record played quality: %w", ErrSessionNotFound)
	}
	s.PlayedQualityIDs = append(s.PlayedQualityIDs, qualityID)
	return r.store.SetSession(ctx, s)
}

// UpdateBandwidth folds a sample into the session's estimate:
// 0.7*old + 0.3*sample. The first sample is taken as-is.
func (r *Repository) UpdateBandwidth(ctx context.Context, sessionID string, sampleBps float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok, err := r.store.GetBandwidth(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	estimate := sampleBps
	if ok {
		estimate = bandwidthSmoothing*old + (1-bandwidthSmoothing)*sampleBps
	}
	if err := r.store.SetBandwidth(ctx, sessionID, estimate); err != nil {
		return 0, err
	}
	return estimate, nil
}

// Bandwidth returns the current estimate for a session.
func (r *Repository) Bandwidth(ctx context.Context, sessionID string) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.GetBandwidth(ctx, sessionID)
}

// RecordEvents appends events to the analytics log.
func (r *Repository) RecordEvents(ctx context.Context, events ...AnalyticsEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.AppendEvents(ctx, events...)
}

// SessionEvents returns the events logged for a session, oldest first.
func (r *Repository) SessionEvents(ctx context.Context, sessionID string) ([]AnalyticsEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.SessionEvents(ctx, sessionID)
}

// Stats holds store-wide counters reported by the health endpoint.
type Stats struct {
	Sessions int `json:"sessions"`
	Events   int `json:"events"`
}

// Stats returns the number of sessions and logged events.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.store.CountSessions(ctx)
	if err != nil {
		return Stats{}, err
	}
	events, err := r.store.CountEvents(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Sessions: sessions, Events: events}, nil
}
