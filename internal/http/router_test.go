package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tendant/simple-idm-session/internal/httputil"
	"github.com/tendant/simple-idm-session/internal/metrics"
	"github.com/tendant/simple-idm-session/pkg/auth"
	"github.com/tendant/simple-idm-session/pkg/repository"
	"github.com/tendant/simple-idm-session/pkg/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestRouter(t *testing.T, mutate func(*RouterConfig)) (http.Handler, *metrics.Metrics) {
	t.Helper()
	users := repository.NewMemoryUsersRepository()
	sessions := repository.NewMemorySessionStore(nil)
	codec := token.New("simple-idm")
	passwords := auth.NewPasswordService(users)
	m := metrics.New(prometheus.NewRegistry())

	cfg := RouterConfig{
		PasswordService: passwords,
		SessionService: auth.NewSessionService(auth.SessionConfig{JWTSecret: testSecret}, codec, passwords, sessions,
			auth.WithObserver(m)),
		Guard:               auth.NewGuard(auth.GuardConfig{Keys: []any{testSecret}}, codec, users),
		Users:               users,
		Cookie:              httputil.DefaultCookieConfig(),
		MaxRequestBodyBytes: 1 << 20,
		Metrics:             m,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRouter(cfg), m
}

func do(t *testing.T, h http.Handler, method, path, body string, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_SessionLifecycle(t *testing.T) {
	router, m := newTestRouter(t, nil)

	rec := do(t, router, "POST", "/v1/auth/register",
		`{"email":"ada@example.com","password":"password123","first_name":"Ada","last_name":"Lovelace"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, "POST", "/v1/auth/login", `{"email":"ada@example.com","password":"password123"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("login Cache-Control = %q, want no-store", got)
	}
	var login struct {
		Data struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	bearer := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+login.Data.AccessToken) }
	rec = do(t, router, "GET", "/v1/me", "", bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"email":"ada@example.com"`) {
		t.Errorf("me body = %s", rec.Body.String())
	}

	withCookie := func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "user_session", Value: login.Data.RefreshToken})
	}
	rec = do(t, router, "POST", "/v1/auth/refresh", "", withCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rec.Code, rec.Body.String())
	}

	// The rotated-away id is gone.
	rec = do(t, router, "POST", "/v1/auth/refresh", "", withCookie)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("reused refresh status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	rec = do(t, router, "GET", "/v1/auth/logout", "", withCookie)
	if rec.Code != http.StatusNoContent {
		t.Errorf("logout status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	if got := testutil.ToFloat64(m.SessionOperationsTotal.WithLabelValues("refresh", "rotated")); got != 1 {
		t.Errorf("rotated counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GuardDecisionsTotal.WithLabelValues("authenticated")); got != 1 {
		t.Errorf("guard counter = %v, want 1", got)
	}
}

func TestRouter_MeRequiresBearer(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header"},
		{name: "garbage token", header: "Bearer not-a-jwt"},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, "GET", "/v1/me", "", func(r *http.Request) {
				if tt.header != "" {
					r.Header.Set("Authorization", tt.header)
				}
			})
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantStatus int
		wantBody   string
	}{
		{name: "no dependencies", wantStatus: http.StatusOK, wantBody: `"status":"ok"`},
		{
			name: "all up",
			checks: map[string]HealthCheck{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
			wantBody:   `"redis":"up"`,
		},
		{
			name: "redis down",
			checks: map[string]HealthCheck{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `"redis":"down"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, func(c *RouterConfig) { c.HealthChecks = tt.checks })
			rec := do(t, router, "GET", "/health", "", nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	do(t, router, "GET", "/health", "", nil)

	rec := do(t, router, "GET", "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `idm_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("metrics body missing /health request counter")
	}

	disabled, _ := newTestRouter(t, func(c *RouterConfig) { c.Metrics = nil })
	if rec := do(t, disabled, "GET", "/metrics", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("disabled /metrics status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRouter_ProxyHeaders(t *testing.T) {
	login := func(router http.Handler, forwardedFor string) string {
		rec := do(t, router, "POST", "/v1/auth/login", `{"email":"ada@example.com","password":"password123"}`, func(r *http.Request) {
			r.RemoteAddr = "10.0.0.1:5555"
			r.Header.Set("X-Forwarded-For", forwardedFor)
		})
		var body struct {
			Data struct {
				RefreshToken string `json:"refresh_token"`
			} `json:"data"`
		}
		json.NewDecoder(rec.Body).Decode(&body)
		return body.Data.RefreshToken
	}
	register := `{"email":"ada@example.com","password":"password123","first_name":"Ada","last_name":"Lovelace"}`

	tests := []struct {
		name       string
		trust      bool
		wantStatus int
	}{
		// Refresh comes from the same proxy but a different forwarded client.
		{name: "untrusted headers ignored", trust: false, wantStatus: http.StatusOK},
		{name: "trusted headers applied", trust: true, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, func(c *RouterConfig) { c.TrustProxyHeaders = tt.trust })
			do(t, router, "POST", "/v1/auth/register", register, nil)
			sessionID := login(router, "198.51.100.1")

			rec := do(t, router, "POST", "/v1/auth/refresh", "", func(r *http.Request) {
				r.RemoteAddr = "10.0.0.1:5555"
				r.Header.Set("X-Forwarded-For", "198.51.100.2")
				r.AddCookie(&http.Cookie{Name: "user_session", Value: sessionID})
			})
			if rec.Code != tt.wantStatus {
				t.Errorf("refresh status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_BodyLimit(t *testing.T) {
	router, _ := newTestRouter(t, func(c *RouterConfig) { c.MaxRequestBodyBytes = 32 })

	body := `{"email":"ada@example.com","password":"` + strings.Repeat("x", 64) + `"}`
	rec := do(t, router, "POST", "/v1/auth/login", body, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestRouter_CORS(t *testing.T) {
	app := []string{"https://app.example.com"}

	tests := []struct {
		name       string
		origins    []string
		path       string
		reqHeaders string
		wantOrigin string
	}{
		{name: "disabled", path: "/v1/auth/refresh", wantOrigin: ""},
		{name: "allowed origin", origins: app, path: "/v1/auth/refresh", wantOrigin: "https://app.example.com"},
		{name: "other origin", origins: []string{"https://admin.example.com"}, path: "/v1/auth/refresh", wantOrigin: ""},
		{name: "login with fingerprint header", origins: app, path: "/v1/auth/login",
			reqHeaders: "content-type," + strings.ToLower(auth.FingerprintHeader), wantOrigin: "https://app.example.com"},
		{name: "bearer request headers", origins: app, path: "/v1/me",
			reqHeaders: "authorization", wantOrigin: "https://app.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, func(cfg *RouterConfig) { cfg.AllowedOrigins = tt.origins })

			rec := do(t, router, http.MethodOptions, tt.path, "", func(req *http.Request) {
				req.Header.Set("Origin", "https://app.example.com")
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
				if tt.reqHeaders != "" {
					req.Header.Set("Access-Control-Request-Headers", tt.reqHeaders)
				}
			})
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if tt.wantOrigin != "" && rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("Access-Control-Allow-Credentials should be true for an allowed origin")
			}
		})
	}
}
