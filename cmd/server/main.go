package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/eldtechnologies/parley/internal/api"
	"github.com/eldtechnologies/parley/internal/auth"
	"github.com/eldtechnologies/parley/internal/config"
	"github.com/eldtechnologies/parley/internal/hub"
	"github.com/eldtechnologies/parley/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Pick the message store: Postgres in deployment, SQLite for small
	// installs, in-memory for local development only.
	var st store.Store
	switch {
	case cfg.DatabaseURL != "":
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.RetractionWindow)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		st = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	case cfg.SQLitePath != "":
		sqlStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath, cfg.RetractionWindow)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		st = sqlStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
	default:
		if !cfg.IsDevelopment() {
			logger.Fatal().Msg("DATABASE_URL or SQLITE_PATH is required outside development")
		}
		st = store.NewMemoryStore(cfg.RetractionWindow)
		logger.Warn().Msg("no database configured, using in-memory store")
	}
	defer st.Close()

	// Redis backs the rate limiter and IP blocker; chat state never
	// touches it, so it stays optional.
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	} else {
		logger.Warn().Msg("no Redis configured, rate limiting disabled")
	}

	if err := seedSuperadmin(ctx, st, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("superadmin bootstrap failed")
	}

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTExpiry)
	policy := auth.Policy{AdminBypassWindow: cfg.AdminBypassWindow}

	chatHub := hub.New(logger, st, tokens, policy, cfg.HistoryLimit)

	router := api.NewRouter(logger, cfg, st, redisStore, tokens, policy, chatHub)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting Parley server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Drop live connections first so the HTTP shutdown isn't held open
	// by hijacked WebSocket conns.
	if err := chatHub.Shutdown(10 * time.Second); err != nil {
		logger.Warn().Err(err).Msg("hub shutdown incomplete")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// seedSuperadmin creates the bootstrap superadmin account on first start.
// Skipped when the account already exists or no password is configured.
func seedSuperadmin(ctx context.Context, st store.Store, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.AdminPassword == "" {
		return nil
	}

	existing, err := st.GetUserByUsername(ctx, cfg.AdminUsername)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user, err := st.CreateUser(ctx, cfg.AdminUsername, cfg.AdminUsername, string(hash), auth.RoleSuperadmin)
	if err != nil {
		return err
	}

	logger.Info().Str("username", user.Username).Msg("created bootstrap superadmin")
	return nil
}
