package auth

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-session/pkg/domain"
	"github.com/tendant/simple-idm-session/pkg/token"
)

// Authenticator decides per request whether it applies and, if so, who the
// caller is.
type Authenticator interface {
	Supports(r *http.Request) bool
	Authenticate(r *http.Request) (*domain.Identity, error)
}

// UserLookup resolves a user id to an account.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

var bearerPattern = regexp.MustCompile(`^Bearer\s(\S+)$`)

// GuardConfig lists the keys and algorithms access tokens may use.
type GuardConfig struct {
	Keys       []any
	Algorithms []string
}

// Guard authenticates requests carrying a bearer access token. It trusts
// the token's signature and expiry alone and never consults the session
// store, so a revoked session's access token stays usable until it expires.
type Guard struct {
	config GuardConfig
	codec  *token.Codec
	users  UserLookup
}

var _ Authenticator = (*Guard)(nil)

// NewGuard creates a bearer token guard.
func NewGuard(config GuardConfig, codec *token.Codec, users UserLookup) *Guard {
	if len(config.Algorithms) == 0 {
		config.Algorithms = []string{token.DefaultAlgorithm}
	}
	return &Guard{config: config, codec: codec, users: users}
}

// Supports reports whether the request carries a bearer Authorization header.
func (g *Guard) Supports(r *http.Request) bool {
	return bearerPattern.MatchString(r.Header.Get("Authorization"))
}

// Authenticate verifies the bearer token and loads the user it names.
func (g *Guard) Authenticate(r *http.Request) (*domain.Identity, error) {
	m := bearerPattern.FindStringSubmatch(r.Header.Get("Authorization"))
	if m == nil {
		return nil, domain.NewAuthenticationError("JWT decode error: missing bearer token")
	}

	claims, err := g.codec.Verify(m[1], g.config.Keys, g.config.Algorithms)
	if err != nil {
		return nil, domain.NewAuthenticationError("JWT decode error: " + err.Error())
	}

	subject, _ := claims[token.ClaimSubject].(string)
	if subject == "" {
		return nil, domain.NewAuthenticationError("missing user identifier")
	}

	userID, err := uuid.Parse(subject)
	if err != nil {
		return nil, domain.NewAuthenticationError("user not found")
	}

	user, err := g.users.GetByID(r.Context(), userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.NewAuthenticationError("user not found")
	}
	if err != nil {
		return nil, err
	}

	return &domain.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Claims: claims,
	}, nil
}
