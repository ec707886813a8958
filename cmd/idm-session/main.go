package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-idm-session/idm"
	"github.com/tendant/simple-idm-session/internal/config"
	"github.com/tendant/simple-idm-session/internal/logging"
	"github.com/tendant/simple-idm-session/pkg/auth"
	"github.com/tendant/simple-idm-session/pkg/repository"
	"go.uber.org/zap"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; zap's example logger writes plain JSON to stdout.
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	var db *sql.DB
	if cfg.SessionStore != config.StoreMemory {
		var err error
		db, err = repository.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("connected to database")

		if cfg.RunMigrations {
			if err := repository.Migrate(db, repository.MigrateUp); err != nil {
				return err
			}
			logger.Info("migrations applied")
		}
	} else {
		logger.Warn("SESSION_STORE=memory: users and sessions are not persisted")
	}

	var rdb redis.UniversalClient
	if cfg.SessionStore == config.StoreRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		rdb = client
		logger.Info("connected to redis")
	}

	var registry *prometheus.Registry
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	service, err := idm.New(idm.Config{
		DB:           db,
		Redis:        rdb,
		SessionStore: cfg.SessionStore,
		RedisStore: repository.RedisConfig{
			OpTimeout:        cfg.RedisOpTimeout,
			ExpiredRetention: cfg.RedisExpiredRetention,
		},
		JWTSecret:            cfg.JWTSecret,
		JWTIssuer:            cfg.JWTIssuer,
		AccessTokenTTL:       cfg.AccessTokenTTL,
		SessionTTL:           cfg.SessionTTL,
		RememberMeSessionTTL: cfg.RememberMeSessionTTL,
		PasswordPolicy: &auth.PasswordPolicy{
			MinLength:        cfg.Password.MinLength,
			RequireUppercase: cfg.Password.RequireUppercase,
			RequireLowercase: cfg.Password.RequireLowercase,
			RequireNumber:    cfg.Password.RequireNumber,
			RequireSpecial:   cfg.Password.RequireSpecial,
		},
		CookieName:          cfg.Cookie.Name,
		CookiePath:          cfg.Cookie.Path,
		CookieDomain:        cfg.Cookie.Domain,
		CookieSecure:        cfg.Cookie.Secure,
		CookieSameSite:      cfg.Cookie.SameSiteMode(),
		TrustProxyHeaders:   cfg.TrustProxyHeaders,
		AllowedOrigins:      cfg.CORSAllowedOrigins,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Production:          cfg.IsProduction(),
		Logger:              logger,
		Registry:            registry,
	})
	if err != nil {
		return err
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      service.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", server.Addr),
			zap.String("session_store", cfg.SessionStore),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
