package auth

import (
	"net/http/httptest"
	"testing"
)

func TestRequestFingerprint(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	if got := RequestFingerprint(req); got != "" {
		t.Errorf("RequestFingerprint() without header = %q, want empty", got)
	}

	req.Header.Set(FingerprintHeader, "device-42")
	first := RequestFingerprint(req)
	if len(first) != 64 {
		t.Errorf("RequestFingerprint() length = %d, want 64", len(first))
	}

	other := httptest.NewRequest("GET", "/test", nil)
	other.Header.Set(FingerprintHeader, "  device-42 ")
	if got := RequestFingerprint(other); got != first {
		t.Errorf("RequestFingerprint() should ignore surrounding whitespace: %q != %q", got, first)
	}

	other.Header.Set(FingerprintHeader, "device-43")
	if got := RequestFingerprint(other); got == first {
		t.Error("different fingerprints should not hash equal")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{name: "ipv4 with port", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "ipv6 with port", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "bare ip", remoteAddr: "10.0.0.7", want: "10.0.0.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_IgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	if got := ClientIP(req); got != "192.168.1.1" {
		t.Errorf("ClientIP() = %q, want %q", got, "192.168.1.1")
	}
}
