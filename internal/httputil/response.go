package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tendant/simple-idm-session/pkg/domain"
)

// Envelope wraps every successful response body.
type Envelope struct {
	Data any `json:"data"`
	Meta any `json:"meta,omitempty"`
}

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail any    `json:"detail,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// JSON writes data wrapped in the success envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Data: data})
}

// JSONWithMeta writes data and meta in the success envelope.
func JSONWithMeta(w http.ResponseWriter, status int, data, meta any) {
	writeJSON(w, status, Envelope{Data: data, Meta: meta})
}

// Error writes an error envelope.
func Error(w http.ResponseWriter, status int, code, title string, detail any) {
	writeJSON(w, status, errorEnvelope{Error: ErrorBody{Code: code, Title: title, Detail: detail}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Failure is the HTTP rendering of an expected domain error.
type Failure struct {
	Status int
	Code   string
	Title  string
}

var failures = []struct {
	kind    error
	failure Failure
}{
	{domain.ErrMissingToken, Failure{http.StatusUnauthorized, "missing_token", "missing session token"}},
	{domain.ErrInvalidToken, Failure{http.StatusUnauthorized, "invalid_token", "invalid session token"}},
	{domain.ErrSessionNotFound, Failure{http.StatusUnauthorized, "session_not_found", "session not found"}},
	{domain.ErrSessionExpired, Failure{http.StatusUnauthorized, "session_expired", "session expired"}},
	{domain.ErrInvalidCredentials, Failure{http.StatusUnauthorized, "invalid_credentials", "invalid email or password"}},
	{domain.ErrAuthentication, Failure{http.StatusUnauthorized, "authentication_failed", "user authorization error"}},
	{domain.ErrWeakPassword, Failure{http.StatusBadRequest, "weak_password", "password does not meet policy"}},
	{domain.ErrUserAlreadyExists, Failure{http.StatusConflict, "user_exists", "user already exists"}},
	{domain.ErrUserNotFound, Failure{http.StatusNotFound, "user_not_found", "user not found"}},
}

var internalFailure = Failure{http.StatusInternalServerError, "internal_error", "internal server error"}

// StatusFor maps err to its HTTP rendering. The second result is false for
// unexpected errors, which render as 500.
func StatusFor(err error) (Failure, bool) {
	for _, f := range failures {
		if errors.Is(err, f.kind) {
			return f.failure, true
		}
	}
	return internalFailure, false
}

// WriteError renders err with StatusFor.
func WriteError(w http.ResponseWriter, err error) {
	f, _ := StatusFor(err)
	Error(w, f.Status, f.Code, f.Title, nil)
}
