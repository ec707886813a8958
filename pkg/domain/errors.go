package domain

import "errors"

// Authentication errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthentication     = errors.New("user authorization error")
	ErrWeakPassword       = errors.New("password does not meet policy")
)

// Session errors
var (
	ErrMissingToken    = errors.New("missing session token")
	ErrInvalidToken    = errors.New("invalid session token")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// AuthError is an expected authentication outcome. Kind is one of the
// sentinels above and is what errors.Is matches against; Detail is extra
// text safe to show the caller.
type AuthError struct {
	Kind        error
	Detail      string
	ClearCookie bool
}

func (e *AuthError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

func (e *AuthError) Unwrap() error { return e.Kind }

// NewSessionError returns a session failure that tells the caller to drop
// its session cookie.
func NewSessionError(kind error) *AuthError {
	return &AuthError{Kind: kind, ClearCookie: true}
}

// NewAuthenticationError returns a guard failure with the given detail.
func NewAuthenticationError(detail string) *AuthError {
	return &AuthError{Kind: ErrAuthentication, Detail: detail}
}

// ShouldClearCookie reports whether err instructs the caller to clear the
// session cookie.
func ShouldClearCookie(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.ClearCookie
}
