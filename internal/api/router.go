package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/api/middleware"
	"github.com/eldtechnologies/parley/internal/auth"
	"github.com/eldtechnologies/parley/internal/config"
	"github.com/eldtechnologies/parley/internal/handlers"
	"github.com/eldtechnologies/parley/internal/hub"
	"github.com/eldtechnologies/parley/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be nil;
// the rate limiter is only installed when Redis is configured.
func NewRouter(logger zerolog.Logger, cfg *config.Config, st store.Store, redisStore *store.RedisStore, tokens *auth.Tokens, policy auth.Policy, chatHub *hub.Hub) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	}

	// CORS - browser clients connect from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(st, redisStore, tokens, policy, chatHub, logger)
	authmw := middleware.NewAuthMiddleware(tokens, st)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	// WebSocket gateway authenticates its own handshake (query token or
	// Authorization header) so browser clients without header control work.
	r.Get("/ws", chatHub.ServeWS)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth)

		r.Get("/me", h.Me)
		r.Get("/users/{id}", h.GetUser)
		r.Get("/rooms/{room}/history", h.History)

		// Moderation surface: rank gate here, per-target checks in handlers
		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireRank(auth.RoleAdmin))

			r.Get("/admin/users", h.ListUsers)
			r.Post("/admin/users/{id}/lock", h.LockUser)
			r.Post("/admin/users/{id}/ban", h.BanUser)
			r.Post("/admin/users/{id}/role", h.SetRole)
		})
	})

	return r
}
