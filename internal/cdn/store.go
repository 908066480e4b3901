package cdn

import (
	"context"
)

// Store is the persistence abstraction for sessions, bandwidth estimates and
// the analytics log. Implementations can be in-memory or remote; the
// Repository uses Store for all reads and writes and serialises
// read-modify-write sequences itself.
type Store interface {
	GetSession(ctx context.Context, id string) (*Session, bool, error)
	SetSession(ctx context.Context, s *Session) error
	CountSessions(ctx context.Context) (int, error)

	GetBandwidth(ctx context.Context, sessionID string) (float64, bool, error)
	SetBandwidth(ctx context.Context, sessionID string, bps float64) error

	AppendEvents(ctx context.Context, events ...AnalyticsEvent) error
	SessionEvents(ctx context.Context, sessionID string) ([]AnalyticsEvent, error)
	CountEvents(ctx context.Context) (int, error)
}

// InMemoryStore keeps everything in process maps. Nothing expires and the
// event log grows for the lifetime of the process. It is not safe for
// concurrent use on its own; Repository guards it.
type InMemoryStore struct {
	sessions  map[string]*Session
	bandwidth map[string]float64
	events    []AnalyticsEvent
	bySession map[string][]int
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]*Session),
		bandwidth: make(map[string]float64),
		bySession: make(map[string][]int),
	}
}

// GetSession implements Store.GetSession. The returned session is a copy.
func (s *InMemoryStore) GetSession(_ context.Context, id string) (*Session, bool, error) {
	st, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return cloneSession(st), true, nil
}

// SetSession implements Store.SetSession.
func (s *InMemoryStore) SetSession(_ context.Context, st *Session) error {
	s.sessions[st.ID] = cloneSession(st)
	return nil
}

// CountSessions implements Store.CountSessions.
func (s *InMemoryStore) CountSessions(context.Context) (int, error) {
	return len(s.sessions), nil
}

// GetBandwidth implements Store.GetBandwidth.
func (s *InMemoryStore) GetBandwidth(_ context.Context, sessionID string) (float64, bool, error) {
	bw, ok := s.bandwidth[sessionID]
	return bw, ok, nil
}

// SetBandwidth implements Store.SetBandwidth.
func (s *InMemoryStore) SetBandwidth(_ context.Context, sessionID string, bps float64) error {
	s.bandwidth[sessionID] = bps
	return nil
}

// AppendEvents implements Store.AppendEvents.
func (s *InMemoryStore) AppendEvents(_ context.Context, events ...AnalyticsEvent) error {
	for _, e := range events {
		s.bySession[e.SessionID] = append(s.bySession[e.SessionID], len(s.events))
		s.events = append(s.events, e)
	}
	return nil
}

// SessionEvents implements Store.SessionEvents.
func (s *InMemoryStore) SessionEvents(_ context.Context, sessionID string) ([]AnalyticsEvent, error) {
	idx := s.bySession[sessionID]
	out := make([]AnalyticsEvent, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.events[i])
	}
	return out, nil
}

// CountEvents implements Store.CountEvents.
func (s *InMemoryStore) CountEvents(context.Context) (int, error) {
	return len(s.events), nil
}

func cloneSession(s *Session) *Session {
	c := *s
	c.SelectedQualityIDs = append([]int(nil), s.SelectedQualityIDs...)
	c.PlayedQualityIDs = append([]int(nil), s.PlayedQualityIDs...)
	return &c
}
