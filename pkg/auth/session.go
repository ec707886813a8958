package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-session/pkg/domain"
	"github.com/tendant/simple-idm-session/pkg/token"
	"go.uber.org/zap"
)

// Default lifetimes
const (
	DefaultAccessTokenTTL       = 15 * time.Minute
	DefaultSessionTTL           = 24 * time.Hour
	DefaultRememberMeSessionTTL = 30 * 24 * time.Hour
)

// Operations and outcomes reported to an Observer.
const (
	OpLogin   = "login"
	OpRefresh = "refresh"
	OpLogout  = "logout"

	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeRotated            = "rotated"
	OutcomeMissing            = "missing"
	OutcomeInvalid            = "invalid"
	OutcomeNotFound           = "not_found"
	OutcomeExpired            = "expired"
	OutcomeStolen             = "stolen"
	OutcomeRaceLost           = "race_lost"
	OutcomeRevoked            = "revoked"
	OutcomeNoop               = "noop"
)

// SessionConfig holds session configuration.
type SessionConfig struct {
	AccessTokenTTL       time.Duration
	SessionTTL           time.Duration
	RememberMeSessionTTL time.Duration
	JWTSecret            []byte
	Algorithm            string
}

// CredentialVerifier checks an email/password pair.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (*domain.User, error)
}

// Observer receives the outcome of every session operation.
type Observer interface {
	ObserveSession(op, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveSession(string, string) {}

// SessionOption configures a SessionService.
type SessionOption func(*SessionService)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *SessionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver sets the outcome observer.
func WithObserver(o Observer) SessionOption {
	return func(s *SessionService) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithSessionClock replaces time.Now for expiry decisions.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionService) {
		s.now = now
	}
}

// SessionService runs the login, refresh and logout flows.
type SessionService struct {
	config      SessionConfig
	codec       *token.Codec
	credentials CredentialVerifier
	sessions    domain.SessionStore
	logger      *zap.Logger
	observer    Observer
	now         func() time.Time
}

// NewSessionService creates a new session service.
func NewSessionService(config SessionConfig, codec *token.Codec, credentials CredentialVerifier, sessions domain.SessionStore, opts ...SessionOption) *SessionService {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if config.RememberMeSessionTTL == 0 {
		config.RememberMeSessionTTL = DefaultRememberMeSessionTTL
	}
	if config.Algorithm == "" {
		config.Algorithm = token.DefaultAlgorithm
	}

	s := &SessionService{
		config:      config,
		codec:       codec,
		credentials: credentials,
		sessions:    sessions,
		logger:      zap.NewNop(),
		observer:    nopObserver{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoginInput is a login attempt from one client.
type LoginInput struct {
	Email       string
	Password    string
	RememberMe  bool
	ClientIP    string
	Fingerprint string
}

// Login verifies credentials and opens a new session for the client. Any
// other live session the user holds from the same IP is closed first.
func (s *SessionService) Login(ctx context.Context, in LoginInput) (*domain.SessionTokens, error) {
	user, err := s.credentials.VerifyCredentials(ctx, in.Email, in.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			s.observer.ObserveSession(OpLogin, OutcomeInvalidCredentials)
			return nil, &domain.AuthError{Kind: domain.ErrInvalidCredentials}
		}
		return nil, fmt.Errorf("verify credentials: %w", err)
	}

	now := s.now()

	expired, err := s.sessions.FindExpired(ctx, now, &user.ID)
	if err != nil {
		return nil, fmt.Errorf("find expired sessions: %w", err)
	}
	if err := s.sessions.Delete(ctx, expired...); err != nil {
		return nil, fmt.Errorf("delete expired sessions: %w", err)
	}

	clientIP := in.ClientIP
	duplicates, err := s.sessions.FindActive(ctx, domain.SessionFilter{UserID: &user.ID, ClientIP: &clientIP})
	if err != nil {
		return nil, fmt.Errorf("find active sessions: %w", err)
	}
	if err := s.sessions.Delete(ctx, duplicates...); err != nil {
		return nil, fmt.Errorf("delete duplicate sessions: %w", err)
	}

	session, err := s.createSession(ctx, user.ID, in.ClientIP, optional(in.Fingerprint), in.RememberMe, now)
	if err != nil {
		return nil, err
	}

	tokens, err := s.issue(user.ID, session)
	if err != nil {
		return nil, err
	}

	s.logger.Info("session opened",
		zap.Stringer("user_id", user.ID),
		zap.Stringer("session_id", session.ID),
		zap.Int("purged_expired", len(expired)),
		zap.Int("purged_duplicates", len(duplicates)),
	)
	s.observer.ObserveSession(OpLogin, OutcomeSuccess)
	return tokens, nil
}

// RefreshInput is a refresh attempt carrying the session id from the cookie.
type RefreshInput struct {
	SessionID string
	ClientIP  string
}

// Refresh rotates the session: the presented session is removed and a new
// one with a new id is issued to the same user. Every failure tells the
// caller to clear its cookie.
func (s *SessionService) Refresh(ctx context.Context, in RefreshInput) (*domain.SessionTokens, error) {
	if in.SessionID == "" {
		return nil, s.refreshFailed(OutcomeMissing, domain.ErrMissingToken)
	}

	id, err := uuid.Parse(in.SessionID)
	if err != nil {
		return nil, s.refreshFailed(OutcomeInvalid, domain.ErrInvalidToken)
	}

	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, s.refreshFailed(OutcomeNotFound, domain.ErrSessionNotFound)
	}

	now := s.now()
	if session.IsExpired(now) {
		if err := s.sessions.Delete(ctx, session); err != nil {
			return nil, fmt.Errorf("delete expired session: %w", err)
		}
		return nil, s.refreshFailed(OutcomeExpired, domain.ErrSessionExpired)
	}

	if session.ClientIP != in.ClientIP {
		s.logger.Warn("session presented from a different address, revoking",
			zap.Stringer("session_id", session.ID),
			zap.Stringer("user_id", session.UserID),
			zap.String("session_ip", session.ClientIP),
			zap.String("client_ip", in.ClientIP),
		)
		if err := s.sessions.Delete(ctx, session); err != nil {
			return nil, fmt.Errorf("delete compromised session: %w", err)
		}
		return nil, s.refreshFailed(OutcomeStolen, domain.ErrSessionNotFound)
	}

	userID := session.UserID
	consumed, err := s.sessions.Consume(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("consume session: %w", err)
	}
	if !consumed {
		// A concurrent refresh rotated this session first.
		return nil, s.refreshFailed(OutcomeRaceLost, domain.ErrSessionNotFound)
	}

	next, err := s.createSession(ctx, userID, in.ClientIP, session.Fingerprint, session.Persistent, now)
	if err != nil {
		return nil, err
	}

	tokens, err := s.issue(userID, next)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("session rotated",
		zap.Stringer("user_id", userID),
		zap.Stringer("old_session_id", session.ID),
		zap.Stringer("session_id", next.ID),
	)
	s.observer.ObserveSession(OpRefresh, OutcomeRotated)
	return tokens, nil
}

// Logout removes the session named by rawID if it exists. Missing,
// malformed and unknown ids are not errors.
func (s *SessionService) Logout(ctx context.Context, rawID string) error {
	id, err := uuid.Parse(rawID)
	if rawID == "" || err != nil {
		s.observer.ObserveSession(OpLogout, OutcomeNoop)
		return nil
	}

	removed, err := s.sessions.Consume(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !removed {
		s.observer.ObserveSession(OpLogout, OutcomeNoop)
		return nil
	}

	s.logger.Debug("session closed", zap.Stringer("session_id", id))
	s.observer.ObserveSession(OpLogout, OutcomeRevoked)
	return nil
}

// SweepExpired deletes every session that expired before asOf and returns
// how many were removed.
func (s *SessionService) SweepExpired(ctx context.Context, asOf time.Time) (int, error) {
	expired, err := s.sessions.FindExpired(ctx, asOf, nil)
	if err != nil {
		return 0, fmt.Errorf("find expired sessions: %w", err)
	}
	if err := s.sessions.Delete(ctx, expired...); err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	if len(expired) > 0 {
		s.logger.Info("expired sessions swept", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

func (s *SessionService) createSession(ctx context.Context, userID uuid.UUID, clientIP string, fingerprint *string, persistent bool, now time.Time) (*domain.Session, error) {
	ttl := s.config.SessionTTL
	if persistent {
		ttl = s.config.RememberMeSessionTTL
	}

	session := &domain.Session{
		ID:          uuid.New(),
		UserID:      userID,
		ClientIP:    clientIP,
		Fingerprint: fingerprint,
		Persistent:  persistent,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *SessionService) issue(userID uuid.UUID, session *domain.Session) (*domain.SessionTokens, error) {
	accessToken, err := s.codec.Mint(
		map[string]any{token.ClaimSubject: userID.String()},
		s.config.JWTSecret,
		s.config.AccessTokenTTL,
		s.config.Algorithm,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	return &domain.SessionTokens{
		AccessToken:      accessToken,
		SessionID:        session.ID,
		TokenType:        domain.TokenTypeBearer,
		ExpiresIn:        int(s.config.AccessTokenTTL.Seconds()),
		SessionExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *SessionService) refreshFailed(outcome string, kind error) error {
	s.observer.ObserveSession(OpRefresh, outcome)
	return domain.NewSessionError(kind)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
