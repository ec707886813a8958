package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/tendant/simple-idm-session/internal/http/features/me"
	"github.com/tendant/simple-idm-session/internal/http/features/password"
	"github.com/tendant/simple-idm-session/internal/http/features/session"
	"github.com/tendant/simple-idm-session/internal/http/middleware"
	"github.com/tendant/simple-idm-session/internal/httputil"
	"github.com/tendant/simple-idm-session/internal/metrics"
	"github.com/tendant/simple-idm-session/pkg/auth"
	"go.uber.org/zap"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *zap.Logger
	PasswordService *auth.PasswordService
	SessionService  *auth.SessionService
	Guard           auth.Authenticator
	Users           auth.UserLookup
	Cookie          httputil.CookieConfig

	// TrustProxyHeaders installs chi's RealIP so X-Forwarded-For and
	// X-Real-IP replace RemoteAddr. Only enable behind a trusted proxy.
	TrustProxyHeaders   bool
	MaxRequestBodyBytes int64
	Production          bool

	// AllowedOrigins enables credentialed CORS for browser clients served
	// from other origins. Empty disables CORS.
	AllowedOrigins []string

	// Metrics enables request instrumentation, guard counters and /metrics.
	Metrics      *metrics.Metrics
	HealthChecks map[string]HealthCheck
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", auth.FingerprintHeader},
			AllowCredentials: true,
		}).Handler)
	}
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeaders(cfg.Production)))
	r.Use(middleware.RequestSizeLimit(cfg.MaxRequestBodyBytes))

	r.Get("/health", healthHandler(cfg.HealthChecks, logger))

	var guardObserver middleware.GuardObserver
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
		guardObserver = cfg.Metrics
	}

	passwordHandler := password.NewHandler(logger, cfg.PasswordService)
	sessionHandler := session.NewHandler(logger, cfg.SessionService, cfg.Cookie)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Post("/register", passwordHandler.Register)
		r.Post("/login", sessionHandler.Login)
		r.Post("/refresh", sessionHandler.Refresh)
		r.Get("/logout", sessionHandler.Logout)
		r.Post("/logout", sessionHandler.Logout)
	})

	meHandler := me.NewHandler(logger, cfg.Users)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Guard, logger, guardObserver))
		r.Use(middleware.RequireIdentity)
		r.Get("/v1/me", meHandler.GetMe)
	})

	return r
}
