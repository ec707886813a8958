package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-session/pkg/domain"
)

var errInvalidExpiry = errors.New("session must expire after it is created")

// MemorySessionStore keeps sessions in process memory. It backs the
// "memory" store setting and the service tests.
type MemorySessionStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]domain.Session
	now   func() time.Time
}

var _ domain.SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty store. A nil clock means time.Now.
func NewMemorySessionStore(now func() time.Time) *MemorySessionStore {
	if now == nil {
		now = time.Now
	}
	return &MemorySessionStore{
		items: make(map[uuid.UUID]domain.Session),
		now:   now,
	}
}

// Create stores a new session.
func (s *MemorySessionStore) Create(_ context.Context, session *domain.Session) error {
	stampSession(session, s.now())
	if !session.ExpiresAt.After(session.CreatedAt) {
		return errInvalidExpiry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[session.ID]; exists {
		return errors.New("session id already exists")
	}
	s.items[session.ID] = *session
	return nil
}

// FindByID returns the session or nil if absent.
func (s *MemorySessionStore) FindByID(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

// FindExpired returns sessions that expired before asOf.
func (s *MemorySessionStore) FindExpired(_ context.Context, asOf time.Time, userID *uuid.UUID) ([]*domain.Session, error) {
	filter := domain.SessionFilter{UserID: userID}
	return s.collect(func(session *domain.Session) bool {
		return session.ExpiresAt.Before(asOf) && filter.Matches(session)
	}), nil
}

// FindActive returns unexpired sessions matching every supplied filter.
func (s *MemorySessionStore) FindActive(_ context.Context, filter domain.SessionFilter) ([]*domain.Session, error) {
	now := s.now()
	return s.collect(func(session *domain.Session) bool {
		return session.IsActive(now) && filter.Matches(session)
	}), nil
}

// Delete removes the given sessions. Unknown sessions are ignored.
func (s *MemorySessionStore) Delete(_ context.Context, sessions ...*domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range sessions {
		if session != nil {
			delete(s.items, session.ID)
		}
	}
	return nil
}

// Consume deletes the session if present and reports whether it was.
func (s *MemorySessionStore) Consume(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false, nil
	}
	delete(s.items, id)
	return true, nil
}

// Len returns the number of stored sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemorySessionStore) collect(keep func(*domain.Session) bool) []*domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Session
	for _, item := range s.items {
		session := item
		if keep(&session) {
			out = append(out, &session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// stampSession fills audit timestamps the caller left unset.
func stampSession(session *domain.Session, now time.Time) {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}
}
