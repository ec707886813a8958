package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/tendant/simple-idm-session/internal/httputil"
	"github.com/tendant/simple-idm-session/pkg/auth"
	"github.com/tendant/simple-idm-session/pkg/domain"
	"go.uber.org/zap"
)

type contextKey string

// IdentityKey is the context key for the authenticated identity.
const IdentityKey contextKey = "identity"

// Guard decision labels passed to a GuardObserver.
const (
	GuardAuthenticated = "authenticated"
	GuardRejected      = "rejected"
)

// GuardObserver counts guard decisions.
type GuardObserver interface {
	ObserveGuard(outcome string)
}

// Authenticate runs the authenticator on requests it supports. Requests it
// does not support continue anonymously; failed attempts get a 401.
func Authenticate(authenticator auth.Authenticator, logger *zap.Logger, observer GuardObserver) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authenticator.Supports(r) {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := authenticator.Authenticate(r)
			if err != nil {
				if observer != nil {
					observer.ObserveGuard(GuardRejected)
				}
				onAuthenticationFailure(w, r, logger, err)
				return
			}
			if observer != nil {
				observer.ObserveGuard(GuardAuthenticated)
			}

			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireIdentity rejects requests that reached it without an identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFrom(r.Context()); !ok {
			httputil.Error(w, http.StatusUnauthorized, "authentication_required", "user authorization error", "missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFrom extracts the authenticated identity from the request context.
func IdentityFrom(ctx context.Context) (*domain.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(*domain.Identity)
	return identity, ok && identity != nil
}

// onAuthenticationFailure answers 401 without revealing which check failed.
// Store faults are the exception and answer 500.
func onAuthenticationFailure(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		logger.Error("authentication lookup failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httputil.WriteError(w, err)
		return
	}

	logger.Debug("bearer token rejected",
		zap.String("path", r.URL.Path),
		zap.String("reason", authErr.Detail),
	)
	httputil.Error(w, http.StatusUnauthorized, "authentication_failed", domain.ErrAuthentication.Error(), "invalid or expired token")
}
