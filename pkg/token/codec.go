// Package token mints and verifies the compact signed access tokens handed
// to clients after login and refresh.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAlgorithm is used when the caller does not name one.
const DefaultAlgorithm = "HS256"

// Verification errors
var (
	ErrMalformed        = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token is expired")
)

// Standard claim names.
const (
	ClaimIssuer    = "iss"
	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
	ClaimSubject   = "sub"
)

// Codec encodes and decodes signed claim sets.
type Codec struct {
	issuer string
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock replaces the wall clock used for iat/exp and for verification.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// New creates a codec that stamps every token with issuer.
func New(issuer string, opts ...Option) *Codec {
	c := &Codec{issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mint signs claims merged over {iss, iat}. A zero lifetime produces a
// token without exp, which never expires.
func (c *Codec) Mint(claims map[string]any, key any, lifetime time.Duration, alg string, extraHeader map[string]any) (string, error) {
	if alg == "" {
		alg = DefaultAlgorithm
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", fmt.Errorf("unsupported signing algorithm %q", alg)
	}

	issuedAt := c.now().Unix()
	mapClaims := jwt.MapClaims{
		ClaimIssuer:   c.issuer,
		ClaimIssuedAt: issuedAt,
	}
	for k, v := range claims {
		mapClaims[k] = v
	}
	if lifetime > 0 {
		mapClaims[ClaimExpiresAt] = issuedAt + int64(lifetime/time.Second)
	}

	tok := jwt.NewWithClaims(method, mapClaims)
	for k, v := range extraHeader {
		if k == "alg" {
			continue
		}
		tok.Header[k] = v
	}

	signed, err := tok.SignedString(signingKey(key))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token against each key in turn and returns its claims.
// Only algorithms listed in allowedAlgs are accepted; an empty list means
// DefaultAlgorithm only.
func (c *Codec) Verify(tokenString string, keys []any, allowedAlgs []string) (map[string]any, error) {
	if len(allowedAlgs) == 0 {
		allowedAlgs = []string{DefaultAlgorithm}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no verification keys", ErrInvalidSignature)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(allowedAlgs),
		jwt.WithTimeFunc(c.now),
	)

	var lastErr error
	for _, key := range keys {
		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
			return signingKey(key), nil
		})
		if err == nil {
			return claims, nil
		}

		kind := classify(err)
		if kind != ErrInvalidSignature {
			return nil, fmt.Errorf("%w: %v", kind, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}

// HMAC secrets are commonly configured as strings.
func signingKey(key any) any {
	if s, ok := key.(string); ok {
		return []byte(s)
	}
	return key
}
