package controller

import (
	"net/http"
	"time"

	"github.com/carnil/carnil/internal/infrastructure/config"
	"github.com/carnil/carnil/internal/infrastructure/observability"
	infraRedis "github.com/carnil/carnil/internal/infrastructure/redis"
	customMW "github.com/carnil/carnil/internal/middleware"
	"github.com/carnil/carnil/internal/service"
	"github.com/carnil/carnil/internal/webhook"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Client      *service.Client
	Processor   *webhook.Processor
	Dispatcher  *webhook.Dispatcher
	RedisClient *redis.Client
	// Idempotency, Dedupe and Projections are optional.
	Idempotency *infraRedis.IdempotencyStore
	Dedupe      Forgetter
	Projections ProjectionReader
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Server      config.ServerConfig
	Auth        config.AuthConfig
	WebhookBody int64
	Logger      zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   deps.Server.CORS.AllowedHeaders,
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	healthH := NewHealthController(deps.Client, deps.RedisClient)
	carnilH := NewCarnilController(deps.Client, deps.Projections, deps.Logger)
	webhookH := NewWebhookController(deps.Processor, deps.Dispatcher, deps.Client.Config(), deps.Dedupe, deps.WebhookBody, deps.Logger)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		// Provider webhooks authenticate by signature, not by caller identity.
		r.Post("/webhook", webhookH.Handle)

		r.Group(func(r chi.Router) {
			if deps.Server.RateLimit.Requests > 0 {
				r.Use(customMW.RateLimit(deps.Server.RateLimit.Requests, deps.Server.RateLimit.Window))
			}
			r.Use(customMW.Identify(deps.Auth.JWTSecret, deps.Auth.CustomerHeader))
			if deps.Idempotency != nil {
				r.Use(customMW.Idempotency(deps.Idempotency, deps.Metrics, deps.Logger))
			}
			r.Post("/carnil", carnilH.Handle)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found", Code: "not_found"})
	})

	return r
}
