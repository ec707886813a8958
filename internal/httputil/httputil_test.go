package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tendant/simple-idm-session/pkg/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantKnown  bool
	}{
		{name: "missing token", err: domain.NewSessionError(domain.ErrMissingToken), wantStatus: 401, wantCode: "missing_token", wantKnown: true},
		{name: "invalid token", err: domain.NewSessionError(domain.ErrInvalidToken), wantStatus: 401, wantCode: "invalid_token", wantKnown: true},
		{name: "session not found", err: domain.NewSessionError(domain.ErrSessionNotFound), wantStatus: 401, wantCode: "session_not_found", wantKnown: true},
		{name: "session expired", err: domain.NewSessionError(domain.ErrSessionExpired), wantStatus: 401, wantCode: "session_expired", wantKnown: true},
		{name: "bad credentials", err: domain.ErrInvalidCredentials, wantStatus: 401, wantCode: "invalid_credentials", wantKnown: true},
		{name: "guard failure", err: domain.NewAuthenticationError("user not found"), wantStatus: 401, wantCode: "authentication_failed", wantKnown: true},
		{name: "duplicate user", err: fmt.Errorf("register: %w", domain.ErrUserAlreadyExists), wantStatus: 409, wantCode: "user_exists", wantKnown: true},
		{name: "weak password", err: fmt.Errorf("register: %w", domain.ErrWeakPassword), wantStatus: 400, wantCode: "weak_password", wantKnown: true},
		{name: "unexpected", err: errors.New("connection reset"), wantStatus: 500, wantCode: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, known := StatusFor(tt.err)
			if f.Status != tt.wantStatus || f.Code != tt.wantCode || known != tt.wantKnown {
				t.Errorf("StatusFor() = %+v, %v; want %d %q %v", f, known, tt.wantStatus, tt.wantCode, tt.wantKnown)
			}
		})
	}
}

func TestError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusBadRequest, "validation_failed", "validation failed", map[string]string{"email": "required"})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Error struct {
			Code   string            `json:"code"`
			Title  string            `json:"title"`
			Detail map[string]string `json:"detail"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "validation_failed" || body.Error.Detail["email"] != "required" {
		t.Errorf("body = %+v", body)
	}
}

func TestSessionCookie(t *testing.T) {
	cfg := DefaultCookieConfig()
	cfg.Secure = true
	expires := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	rec := httptest.NewRecorder()
	SetSessionCookie(rec, "abc", expires, cfg)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != "user_session" || c.Value != "abc" || c.Path != "/v1/auth" {
		t.Errorf("cookie = %+v", c)
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie flags = HttpOnly %v Secure %v SameSite %v", c.HttpOnly, c.Secure, c.SameSite)
	}
	if !c.Expires.Equal(expires) {
		t.Errorf("Expires = %v, want %v", c.Expires, expires)
	}

	req := httptest.NewRequest("POST", "/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "user_session", Value: "abc"})
	if got, ok := SessionIDFromCookie(req, cfg); !ok || got != "abc" {
		t.Errorf("SessionIDFromCookie() = %q, %v", got, ok)
	}
	if _, ok := SessionIDFromCookie(httptest.NewRequest("POST", "/", nil), cfg); ok {
		t.Error("SessionIDFromCookie() without cookie = true")
	}
}

func TestClearSessionCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	ClearSessionCookie(rec, DefaultCookieConfig())

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	if c := cookies[0]; c.Value != "" || c.MaxAge >= 0 {
		t.Errorf("cleared cookie = %+v, want empty value and negative MaxAge", c)
	}
}
