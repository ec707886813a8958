package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// FingerprintHeader carries the optional client-supplied fingerprint.
const FingerprintHeader = "X-Client-Fingerprint"

// RequestFingerprint returns a SHA-256 digest of the client-supplied
// fingerprint, or "" when the client sent none. The value is only recorded
// on the session; nothing verifies it.
func RequestFingerprint(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get(FingerprintHeader))
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ClientIP returns the request's remote host without the port. Forwarding
// headers are not read here; chi's RealIP middleware rewrites RemoteAddr
// when the deployment trusts its proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
