package routes

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/revai/concierge/app"
	"github.com/revai/concierge/handlers"
	"github.com/revai/concierge/middleware"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services/access"
	"github.com/revai/concierge/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	if cfg.Observability.MetricsEnabled && deps.Metrics != nil {
		r.Use(middleware.RequestMetrics(deps.Metrics))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{
			"Retry-After", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining",
			handlers.HeaderUsageLimit, handlers.HeaderUsageRemaining, handlers.HeaderUsageWarning,
		},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	health := handlers.NewHealthHandler(db, deps.Logger)
	if deps.Redis != nil {
		health.AddCheck("redis", func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if cfg.Observability.MetricsEnabled && deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// Stripe webhooks are signature verified and never rate limited
	if deps.Webhooks != nil {
		r.Post("/webhooks/stripe", handlers.NewWebhookHandler(deps.Webhooks, deps.Logger).HandleStripe)
	}

	if deps.Guard != nil {
		r.Route("/api/v1", func(r chi.Router) {
			apiRoutes(r, deps)
		})
	}

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

// apiRoutes mounts the session and entitlement gated API
func apiRoutes(r chi.Router, deps *app.Dependencies) {
	cfg := deps.Config
	guard := middleware.NewAccessMiddleware(deps.Guard, deps.Logger,
		middleware.WithCookieName(cfg.Session.CookieName))

	authHandler := handlers.NewAuthHandler(deps.Credentials, deps.Issuer, deps.Revocations, deps.AuditRecorder(),
		handlers.CookieConfig{Name: cfg.Session.CookieName, Secure: cfg.Session.CookieSecure}, deps.Logger)
	subscriptionHandler := handlers.NewSubscriptionHandler(deps.Resolver, deps.Guard, deps.Logger)

	// Auth has its own bucket and is not counted against the API bucket
	r.Route("/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Handler(middleware.BucketAuth))
		}
		r.Post("/login", authHandler.HandleLogin)
		r.Group(func(r chi.Router) {
			r.Use(guard.Require(access.CapabilityAuthenticated))
			r.Post("/logout", authHandler.HandleLogout)
			r.Get("/session", authHandler.HandleSession)
		})
	})

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Handler(middleware.BucketAPI))
		}
		gatedRoutes(r, deps, guard, subscriptionHandler)
	})
}

// gatedRoutes mounts the routes counted against the API bucket
func gatedRoutes(r chi.Router, deps *app.Dependencies, guard *middleware.AccessMiddleware, subscriptionHandler *handlers.SubscriptionHandler) {
	// Subscription state and dry-run checks
	r.Group(func(r chi.Router) {
		r.Use(guard.Require(access.CapabilityAuthenticated))
		r.Get("/subscription", subscriptionHandler.HandleGetSubscription)
		r.Get("/entitlements/{capability}", subscriptionHandler.HandleCheckEntitlement)
	})

	// Plan-gated features, metered against the monthly quota
	if deps.Usage != nil {
		reviewsHandler := handlers.NewReviewsHandler(deps.Usage, deps.AuditRecorder(), deps.Logger)
		r.With(guard.Require(access.CapabilityAnalytics)).
			Get("/reviews/insights", reviewsHandler.HandleInsights)
		r.With(guard.Require(access.CapabilityAIReplies)).
			Post("/replies/generate", reviewsHandler.HandleGenerateReply)
	}

	// Operator endpoints (require admin role)
	if deps.Resolver != nil {
		var auditStats handlers.AuditStatser
		if deps.Audit != nil {
			auditStats = deps.Audit
		}
		adminHandler := handlers.NewAdminHandler(deps.Resolver, auditStats, deps.Logger)
		r.Route("/admin", func(r chi.Router) {
			r.Use(guard.Require(access.CapabilityActiveSubscription))
			r.Use(guard.RequireRole(models.RoleAdmin))
			r.Get("/cache", adminHandler.HandleCacheStats)
			r.Delete("/cache", adminHandler.HandleInvalidateCache)
		})
	}
}
