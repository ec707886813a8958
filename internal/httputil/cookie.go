package httputil

import (
	"net/http"
	"time"
)

// CookieConfig holds session cookie configuration.
type CookieConfig struct {
	Name     string
	Domain   string
	Path     string
	Secure   bool // forced on in production
	SameSite http.SameSite
}

// DefaultCookieConfig returns default cookie configuration.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:     "user_session",
		Path:     "/v1/auth",
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetSessionCookie sets the HttpOnly session cookie. It expires with the
// session.
func SetSessionCookie(w http.ResponseWriter, sessionID string, expiresAt time.Time, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    sessionID,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  expiresAt.UTC(),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// ClearSessionCookie tells the client to drop the session cookie.
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// SessionIDFromCookie extracts the session id from the request cookie.
func SessionIDFromCookie(r *http.Request, cfg CookieConfig) (string, bool) {
	cookie, err := r.Cookie(cfg.Name)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}
