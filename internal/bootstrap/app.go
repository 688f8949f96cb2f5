package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/infrastructure/config"
	"github.com/carnil/carnil/internal/infrastructure/observability"
	infraRedis "github.com/carnil/carnil/internal/infrastructure/redis"
	"github.com/carnil/carnil/internal/providers"
	"github.com/carnil/carnil/internal/providers/builtin"
	"github.com/carnil/carnil/internal/service"
	"github.com/carnil/carnil/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Redis    *redis.Client
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Registry *providers.Registry
	Client   *service.Client
	// Projections holds the per-customer state the worker projects.
	Projections *infraRedis.ProjectionStore
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout).
		With().Str("service", serviceName).Logger()
	logger.Info().Str("provider", string(cfg.Provider.Provider)).Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(metricsNamespace, reg)

	registry := builtin.NewRegistry()
	logger.Info().Interface("registered", registry.Names()).Msg("Payment providers registered")
	client, err := service.NewClient(cfg.Provider, registry,
		service.WithRetry(cfg.Client.Retry),
		service.WithTimeout(cfg.Client.Timeout),
		service.WithBreaker(cfg.Client.Breaker),
		service.WithLogger(logger),
		service.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("create carnil client: %w", err)
	}

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Connected to Redis")

	return &App{
		Config:      cfg,
		Logger:      logger,
		Redis:       redisClient,
		Metrics:     metrics,
		Gatherer:    reg,
		Registry:    registry,
		Client:      client,
		Projections: infraRedis.NewProjectionStore(redisClient, cfg.Worker.ProjectionTTL),
	}, nil
}

// WebhookPipeline builds the processor and a dispatcher that drops duplicate
// deliveries, then publishes to the webhook stream and logs the event.
func (a *App) WebhookPipeline() (*webhook.Processor, *webhook.Dispatcher, *infraRedis.DedupeGuard) {
	processor := webhook.NewProcessor(a.Registry,
		webhook.WithLogger(a.Logger),
		webhook.WithMetrics(a.Metrics),
	)

	dedupe := infraRedis.NewDedupeGuard(a.Redis, a.Config.Webhook.DedupeTTL)
	publisher := infraRedis.NewEventPublisher(a.Redis, a.Config.Webhook.Stream, a.Config.Webhook.StreamMax)
	logged := webhook.NewRouter().Otherwise(func(_ context.Context, evt *event.WebhookEvent) error {
		a.Logger.Info().
			Str("event_id", evt.ID).
			Str("type", string(evt.Type)).
			Str("provider_type", evt.ProviderType).
			Msg("Webhook event accepted")
		return nil
	})

	return processor, webhook.NewDispatcher(a.Logger, dedupe, publisher, logged), dedupe
}

func (a *App) Close() {
	a.Redis.Close()
}
