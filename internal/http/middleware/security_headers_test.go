package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	cfg := SecurityHeadersConfig{
		HSTSMaxAge:         31536000,
		FrameOptions:       "DENY",
		ContentTypeOptions: "nosniff",
		ReferrerPolicy:     "no-referrer",
		CSP:                "default-src 'none'",
	}

	w := httptest.NewRecorder()
	SecurityHeaders(cfg)(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	tests := []struct {
		header string
		want   string
	}{
		{"Content-Security-Policy", "default-src 'none'"},
		{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "no-referrer"},
	}
	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestDefaultSecurityHeaders_HSTSOnlyInProduction(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		wantHSTS   bool
	}{
		{name: "development", production: false, wantHSTS: false},
		{name: "production", production: true, wantHSTS: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SecurityHeaders(DefaultSecurityHeaders(tt.production))(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

			if got := w.Header().Get("Strict-Transport-Security") != ""; got != tt.wantHSTS {
				t.Errorf("HSTS present = %v, want %v", got, tt.wantHSTS)
			}
			if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
			}
		})
	}
}

func TestNoStore(t *testing.T) {
	w := httptest.NewRecorder()
	NoStore(okHandler()).ServeHTTP(w, httptest.NewRequest("POST", "/v1/auth/login", nil))

	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}
