package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/engagepush/backend/internal/auth"
	"github.com/engagepush/backend/internal/middleware"
)

// Router holds all handlers and creates the chi router
type Router struct {
	subscriptionHandler *SubscriptionHandler
	deliveryHandler     *DeliveryHandler
	schedulerHandler    *SchedulerHandler
	healthHandler       *HealthHandler
	jwtManager          *auth.JWTManager
	registerLimiter     *middleware.RateLimiter
	deliverySecret      string
	cronSecret          string
	allowedOrigins      []string
	logger              *zap.Logger
}

// RouterConfig carries the secrets and limits the routes are guarded with.
type RouterConfig struct {
	DeliverySecret  string
	CronSecret      string
	AllowedOrigins  []string
	RegisterLimiter *middleware.RateLimiter
}

// NewRouter creates a new router
func NewRouter(
	subscriptionHandler *SubscriptionHandler,
	deliveryHandler *DeliveryHandler,
	schedulerHandler *SchedulerHandler,
	healthHandler *HealthHandler,
	jwtManager *auth.JWTManager,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		subscriptionHandler: subscriptionHandler,
		deliveryHandler:     deliveryHandler,
		schedulerHandler:    schedulerHandler,
		healthHandler:       healthHandler,
		jwtManager:          jwtManager,
		registerLimiter:     cfg.RegisterLimiter,
		deliverySecret:      cfg.DeliverySecret,
		cronSecret:          cfg.CronSecret,
		allowedOrigins:      cfg.AllowedOrigins,
		logger:              logger,
	}
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))
	r.Use(middleware.CORSMiddleware(rt.allowedOrigins))
	r.Use(chimiddleware.Compress(5))

	// Health endpoints (no auth required)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.healthHandler.Health)
		r.Get("/ready", rt.healthHandler.Ready)
		r.Get("/live", rt.healthHandler.Live)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/push", func(r chi.Router) {
			r.Get("/vapid-public-key", rt.subscriptionHandler.VAPIDPublicKey)

			// Subscriber routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.AuthMiddleware(rt.jwtManager))
				if rt.registerLimiter != nil {
					r.Use(rt.registerLimiter.Middleware)
				}
				r.Post("/subscriptions", rt.subscriptionHandler.Register)
				r.Delete("/subscriptions", rt.subscriptionHandler.Unsubscribe)
			})

			// Service routes
			r.With(middleware.SecretMiddleware(rt.deliverySecret)).
				Post("/deliveries", rt.deliveryHandler.Deliver)
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Use(middleware.SecretMiddleware(rt.cronSecret))
			r.Post("/run", rt.schedulerHandler.Run)
			r.Get("/status", rt.schedulerHandler.Status)
		})
	})

	return r
}
