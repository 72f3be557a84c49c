package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryStore keeps sessions in a map guarded by one mutex. Sessions do not
// survive a restart; users log in again.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Repository = (*MemoryStore)(nil)

func (m *MemoryStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s = s.Clone()
	s.UpdatedAt = m.now()
	m.sessions[s.UserID] = s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrAbsent
	}
	if !s.Valid(m.now()) {
		delete(m.sessions, userID)
		return nil, ErrExpired
	}
	out := s.Clone()
	return &out, nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *MemoryStore) Refresh(_ context.Context, userID, accessToken string, expiresAt time.Time) (bool, error) {
	return m.update(userID, accessToken, "", expiresAt), nil
}

func (m *MemoryStore) Rotate(_ context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) (bool, error) {
	return m.update(userID, accessToken, refreshToken, expiresAt), nil
}

// update swaps tokens on a live session in place. An empty refreshToken keeps
// the stored one.
func (m *MemoryStore) update(userID, accessToken, refreshToken string, expiresAt time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return false
	}
	now := m.now()
	if !s.Valid(now) {
		delete(m.sessions, userID)
		return false
	}
	s.AccessToken = accessToken
	if refreshToken != "" {
		s.RefreshToken = refreshToken
	}
	s.ExpiresAt = expiresAt
	s.UpdatedAt = now
	m.sessions[userID] = s
	return true
}

// ListActive returns unexpired sessions ordered by user id and evicts the rest.
func (m *MemoryStore) ListActive(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		if !s.Valid(now) {
			delete(m.sessions, id)
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Len counts stored entries, including expired ones not yet evicted.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts expired sessions and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if !s.Valid(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps every interval until ctx is cancelled. Lookups still
// check expiry themselves; the janitor only bounds memory held by idle users.
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					log.Debug().Int("removed", n).Msg("expired sessions swept")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
