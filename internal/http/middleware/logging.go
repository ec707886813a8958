package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/simple-idm-session/internal/httputil"
	"go.uber.org/zap"
)

// Logger writes one structured line per request.
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				logger.Error("request", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}

// Recover turns a handler panic into a logged 500.
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic serving request",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", chimw.GetReqID(r.Context())),
					zap.ByteString("stack", debug.Stack()),
				)
				httputil.Error(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
