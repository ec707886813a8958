package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenTypeBearer is the token type reported to clients alongside access tokens.
const TokenTypeBearer = "bearer"

// Session is a server-side refresh session. The ID doubles as the opaque
// refresh credential handed to the client, so it is never reused: rotation
// replaces the record instead of editing it.
type Session struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	ClientIP    string    `json:"client_ip"`
	Fingerprint *string   `json:"fingerprint,omitempty"`
	// Persistent marks sessions created with the remember-me lifetime.
	Persistent bool      `json:"persistent"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsExpired reports whether the session expired strictly before now.
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// IsActive reports whether the session is still valid at now.
func (s *Session) IsActive(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// SessionFilter narrows FindActive. Nil fields are not applied.
type SessionFilter struct {
	UserID      *uuid.UUID
	ClientIP    *string
	Fingerprint *string
}

// Matches reports whether s satisfies every supplied filter.
func (f SessionFilter) Matches(s *Session) bool {
	if f.UserID != nil && s.UserID != *f.UserID {
		return false
	}
	if f.ClientIP != nil && s.ClientIP != *f.ClientIP {
		return false
	}
	if f.Fingerprint != nil {
		if s.Fingerprint == nil || *s.Fingerprint != *f.Fingerprint {
			return false
		}
	}
	return true
}

// SessionStore persists refresh sessions.
//
// FindByID returns (nil, nil) when the session does not exist. Delete is
// idempotent and treats an empty list as a no-op. Consume removes a session
// only if it still exists and reports whether this call removed it, so that
// concurrent rotations of the same session have at most one winner.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*Session, error)
	FindExpired(ctx context.Context, asOf time.Time, userID *uuid.UUID) ([]*Session, error)
	FindActive(ctx context.Context, filter SessionFilter) ([]*Session, error)
	Delete(ctx context.Context, sessions ...*Session) error
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
}

// SessionTokens is what login and refresh hand back to the client.
type SessionTokens struct {
	AccessToken      string    `json:"access_token"`
	SessionID        uuid.UUID `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	SessionExpiresAt time.Time `json:"-"`
}
