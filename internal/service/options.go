package service

import (
	"time"

	"github.com/carnil/carnil/internal/infrastructure/observability"
	"github.com/carnil/carnil/pkg/retry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// BreakerConfig tunes the per-client circuit breaker.
type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  10,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

type options struct {
	retry   retry.Config
	timeout time.Duration
	breaker BreakerConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

func defaultOptions() options {
	return options{
		retry:   retry.DefaultConfig(),
		timeout: 30 * time.Second,
		breaker: DefaultBreakerConfig(),
		logger:  zerolog.Nop(),
		tracer:  observability.Tracer(),
	}
}

type Option func(*options)

func WithRetry(cfg retry.Config) Option {
	return func(o *options) { o.retry = cfg }
}

// WithTimeout bounds each attempt. Zero disables the per-attempt bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithBreaker(cfg BreakerConfig) Option {
	return func(o *options) { o.breaker = cfg }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}
