package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := chimw.RequestID(Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("hello"))
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/auth/register", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusCreated) {
		t.Errorf("status field = %v, want %d", fields["status"], http.StatusCreated)
	}
	if fields["bytes"] != int64(5) {
		t.Errorf("bytes field = %v, want 5", fields["bytes"])
	}
	if fields["path"] != "/v1/auth/register" {
		t.Errorf("path field = %v", fields["path"])
	}
	if fields["request_id"] == "" {
		t.Error("request_id field is empty")
	}
}

func TestRecover(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := Recover(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if logs.FilterMessage("panic serving request").Len() != 1 {
		t.Error("panic was not logged")
	}
}
