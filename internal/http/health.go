package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/tendant/simple-idm-session/internal/httputil"
	"go.uber.org/zap"
)

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

const healthTimeout = 2 * time.Second

// healthHandler answers 200 when every check passes and 503 naming the
// failures otherwise.
func healthHandler(checks map[string]HealthCheck, logger *zap.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := HealthStatus{Status: "ok"}
		for _, name := range names {
			if status.Checks == nil {
				status.Checks = make(map[string]string, len(names))
			}
			if err := checks[name](ctx); err != nil {
				logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
				status.Status = "unavailable"
				status.Checks[name] = "down"
				continue
			}
			status.Checks[name] = "up"
		}

		code := http.StatusOK
		if status.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		httputil.JSON(w, code, status)
	}
}
