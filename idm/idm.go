// Package idm provides cookie-backed session authentication as a library:
// password login, rotating refresh sessions bound to the client address, and
// a stateless bearer-token guard.
//
// Setup:
//
//  1. Run migrations (cmd/idm-migrate, or repository.Migrate)
//  2. Create an IDM instance and mount its router
//
// Basic usage:
//
//	db, _ := repository.NewDB(ctx, "postgres://localhost/myapp?sslmode=disable")
//
//	auth, err := idm.New(idm.Config{
//	    DB:        db,
//	    JWTSecret: "your-secret-key-at-least-32-chars",
//	})
//	if err != nil {
//	    log.Fatal(err) // Will fail if migrations haven't been run
//	}
//
//	http.ListenAndServe(":8080", auth.Router())
//
// With sessions in Redis:
//
//	auth, err := idm.New(idm.Config{
//	    DB:        db,
//	    Redis:     redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    JWTSecret: "your-secret-key-at-least-32-chars",
//	})
//
// Protecting your own routes:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(auth.Middleware())
//	    r.Get("/protected", handler)
//	})
package idm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	httpserver "github.com/tendant/simple-idm-session/internal/http"
	"github.com/tendant/simple-idm-session/internal/http/middleware"
	"github.com/tendant/simple-idm-session/internal/httputil"
	"github.com/tendant/simple-idm-session/internal/metrics"
	"github.com/tendant/simple-idm-session/pkg/auth"
	"github.com/tendant/simple-idm-session/pkg/domain"
	"github.com/tendant/simple-idm-session/pkg/repository"
	"github.com/tendant/simple-idm-session/pkg/token"
	"go.uber.org/zap"
)

// Session store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Config holds the configuration for the IDM library.
type Config struct {
	// DB is the database connection. Without it users and sessions live in
	// process memory, which suits tests and single-process demos only.
	DB *sql.DB

	// Redis, when set, holds sessions instead of Postgres.
	Redis redis.UniversalClient

	// RedisStore tunes the Redis session store.
	RedisStore repository.RedisConfig

	// SessionStore picks the session backend explicitly. Empty means redis
	// when Redis is set, postgres when DB is set, memory otherwise.
	SessionStore string

	// JWTSecret is the secret key for signing JWT tokens (required, min 32 chars).
	JWTSecret string

	// JWTIssuer is the issuer claim in JWT tokens (default: "simple-idm").
	JWTIssuer string

	// AccessTokenTTL is the lifetime of access tokens (default: 15 minutes).
	AccessTokenTTL time.Duration

	// SessionTTL is the lifetime of a normal session (default: 24 hours).
	SessionTTL time.Duration

	// RememberMeSessionTTL is the lifetime of a remember-me session
	// (default: 30 days).
	RememberMeSessionTTL time.Duration

	// PasswordPolicy is enforced at registration (default: minimum length 8).
	PasswordPolicy *auth.PasswordPolicy

	// Session cookie settings. The cookie is named user_session and scoped
	// to /v1/auth unless overridden.
	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	// TrustProxyHeaders reads the client address from X-Forwarded-For /
	// X-Real-IP. Only enable behind a proxy that sets them.
	TrustProxyHeaders bool

	// AllowedOrigins enables credentialed CORS for these browser origins.
	AllowedOrigins []string

	// MaxRequestBodyBytes caps request bodies (default: 1 MiB).
	MaxRequestBodyBytes int64

	// Production forces secure cookies and enables HSTS.
	Production bool

	// Logger is the structured logger (default: no-op).
	Logger *zap.Logger

	// Registry enables Prometheus metrics and the /metrics route.
	Registry *prometheus.Registry
}

// IDM is the main identity management instance.
type IDM struct {
	config          Config
	users           auth.UserStore
	sessions        domain.SessionStore
	passwordService *auth.PasswordService
	sessionService  *auth.SessionService
	guard           *auth.Guard
	metrics         *metrics.Metrics
	cookie          httputil.CookieConfig
}

// New creates a new IDM instance with the given configuration.
// Returns an error if required database tables don't exist.
func New(cfg Config) (*IDM, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if cfg.DB != nil {
		if err := validateSchema(cfg.DB, cfg.SessionStore == StorePostgres); err != nil {
			return nil, err
		}
	}

	var users auth.UserStore
	if cfg.DB != nil {
		users = repository.NewUsersRepository(cfg.DB)
	} else {
		users = repository.NewMemoryUsersRepository()
	}

	var sessions domain.SessionStore
	switch cfg.SessionStore {
	case StorePostgres:
		sessions = repository.NewSessionsRepository(cfg.DB)
	case StoreRedis:
		if cfg.RedisStore.Logger == nil {
			cfg.RedisStore.Logger = cfg.Logger
		}
		sessions = repository.NewRedisSessionStore(cfg.Redis, cfg.RedisStore)
	default:
		sessions = repository.NewMemorySessionStore(nil)
	}

	var m *metrics.Metrics
	opts := []auth.SessionOption{auth.WithLogger(cfg.Logger)}
	if cfg.Registry != nil {
		m = metrics.New(cfg.Registry)
		opts = append(opts, auth.WithObserver(m))
	}

	secret := []byte(cfg.JWTSecret)
	codec := token.New(cfg.JWTIssuer)
	passwordService := auth.NewPasswordService(users, auth.WithPasswordPolicy(*cfg.PasswordPolicy))
	sessionService := auth.NewSessionService(auth.SessionConfig{
		AccessTokenTTL:       cfg.AccessTokenTTL,
		SessionTTL:           cfg.SessionTTL,
		RememberMeSessionTTL: cfg.RememberMeSessionTTL,
		JWTSecret:            secret,
	}, codec, passwordService, sessions, opts...)

	return &IDM{
		config:          cfg,
		users:           users,
		sessions:        sessions,
		passwordService: passwordService,
		sessionService:  sessionService,
		guard:           auth.NewGuard(auth.GuardConfig{Keys: []any{secret}}, codec, users),
		metrics:         m,
		cookie: httputil.CookieConfig{
			Name:     cfg.CookieName,
			Path:     cfg.CookiePath,
			Domain:   cfg.CookieDomain,
			Secure:   cfg.CookieSecure,
			SameSite: cfg.CookieSameSite,
		},
	}, nil
}

// Router returns a chi router with all routes:
//
//	GET  /health            - Dependency health
//	GET  /metrics           - Prometheus metrics (if Registry is set)
//	POST /v1/auth/register  - Register with email/password
//	POST /v1/auth/login     - Login, sets the session cookie
//	POST /v1/auth/refresh   - Rotate the session named by the cookie
//	GET|POST /v1/auth/logout - Close the session, clear the cookie
//	GET  /v1/me             - Current user (bearer token)
func (i *IDM) Router() http.Handler {
	return httpserver.NewRouter(httpserver.RouterConfig{
		Logger:              i.config.Logger,
		PasswordService:     i.passwordService,
		SessionService:      i.sessionService,
		Guard:               i.guard,
		Users:               i.users,
		Cookie:              i.cookie,
		TrustProxyHeaders:   i.config.TrustProxyHeaders,
		AllowedOrigins:      i.config.AllowedOrigins,
		MaxRequestBodyBytes: i.config.MaxRequestBodyBytes,
		Production:          i.config.Production,
		Metrics:             i.metrics,
		HealthChecks:        i.healthChecks(),
	})
}

// Middleware returns middleware that authenticates bearer tokens. Requests
// without a bearer token pass through anonymously; chain RequireIdentity
// to reject them.
func (i *IDM) Middleware() func(http.Handler) http.Handler {
	var observer middleware.GuardObserver
	if i.metrics != nil {
		observer = i.metrics
	}
	return middleware.Authenticate(i.guard, i.config.Logger, observer)
}

// RequireIdentity rejects requests that carry no authenticated identity.
// Use after Middleware.
func RequireIdentity(next http.Handler) http.Handler {
	return middleware.RequireIdentity(next)
}

// GetIdentity extracts the authenticated identity from a request.
// Use after Middleware:
//
//	identity, ok := idm.GetIdentity(r)
func GetIdentity(r *http.Request) (*domain.Identity, bool) {
	return middleware.IdentityFrom(r.Context())
}

// SessionService returns the session service for advanced usage.
func (i *IDM) SessionService() *auth.SessionService {
	return i.sessionService
}

// SweepExpired deletes sessions that expired before now. Expired sessions
// are otherwise only removed when their owner logs in again.
func (i *IDM) SweepExpired(ctx context.Context) (int, error) {
	return i.sessionService.SweepExpired(ctx, time.Now())
}

func (i *IDM) healthChecks() map[string]httpserver.HealthCheck {
	checks := make(map[string]httpserver.HealthCheck)
	if i.config.DB != nil {
		checks["postgres"] = i.config.DB.PingContext
	}
	if i.config.Redis != nil {
		client := i.config.Redis
		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}
	return checks
}

func validateConfig(cfg *Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("idm: JWTSecret is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("idm: JWTSecret must be at least 32 characters")
	}
	switch cfg.SessionStore {
	case "", StoreMemory:
	case StorePostgres:
		if cfg.DB == nil {
			return errors.New("idm: DB is required for the postgres session store")
		}
	case StoreRedis:
		if cfg.Redis == nil {
			return errors.New("idm: Redis is required for the redis session store")
		}
	default:
		return fmt.Errorf("idm: unknown session store %q", cfg.SessionStore)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.SessionStore == "" {
		switch {
		case cfg.Redis != nil:
			cfg.SessionStore = StoreRedis
		case cfg.DB != nil:
			cfg.SessionStore = StorePostgres
		default:
			cfg.SessionStore = StoreMemory
		}
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "simple-idm"
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = auth.DefaultAccessTokenTTL
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = auth.DefaultSessionTTL
	}
	if cfg.RememberMeSessionTTL == 0 {
		cfg.RememberMeSessionTTL = auth.DefaultRememberMeSessionTTL
	}
	if cfg.PasswordPolicy == nil {
		policy := auth.DefaultPasswordPolicy()
		cfg.PasswordPolicy = &policy
	}

	defaults := httputil.DefaultCookieConfig()
	if cfg.CookieName == "" {
		cfg.CookieName = defaults.Name
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaults.Path
	}
	if cfg.CookieSameSite == 0 {
		cfg.CookieSameSite = defaults.SameSite
	}
	if cfg.Production {
		cfg.CookieSecure = true
	}

	if cfg.MaxRequestBodyBytes == 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// validateSchema checks that required database tables exist.
func validateSchema(db *sql.DB, needSessions bool) error {
	requiredTables := []string{"users"}
	if needSessions {
		requiredTables = append(requiredTables, "sessions")
	}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := db.QueryRow(query, table).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("idm: missing table '%s' - run migrations first", table)
		}
		if err != nil {
			return fmt.Errorf("idm: failed to check schema: %w", err)
		}
	}

	return nil
}
