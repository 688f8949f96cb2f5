package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/carnil/carnil/internal/providers"
	"github.com/carnil/carnil/internal/service"
	"github.com/carnil/carnil/pkg/retry"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Provider      providers.Config    `mapstructure:"provider"`
	Client        ClientConfig        `mapstructure:"client"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Debug         bool                `mapstructure:"debug"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	IdempotencyTTL  time.Duration   `mapstructure:"idempotency_ttl"`
}

// CORSConfig mirrors the corsHeaders option of the HTTP handler.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// ClientConfig tunes the provider client's retry, timeout and breaker.
type ClientConfig struct {
	Retry   retry.Config          `mapstructure:"retry"`
	Timeout time.Duration         `mapstructure:"timeout"`
	Breaker service.BreakerConfig `mapstructure:"breaker"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// CustomerHeader carries the caller's customer id when no token is sent.
	CustomerHeader string `mapstructure:"customer_header"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type WebhookConfig struct {
	Stream    string        `mapstructure:"stream"`
	StreamMax int64         `mapstructure:"stream_max"`
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
	MaxBody   int64         `mapstructure:"max_body"`
}

type WorkerConfig struct {
	BatchSize     int64         `mapstructure:"batch_size"`
	BlockDuration time.Duration `mapstructure:"block_duration"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
	// MaxProjections bounds the customers projected in memory at once.
	MaxProjections int           `mapstructure:"max_projections"`
	ProjectionTTL  time.Duration `mapstructure:"projection_ttl"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// CARNIL_PROVIDER_API_KEY -> provider.api_key
	v.SetEnvPrefix("CARNIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/carnil")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Debug {
		cfg.Observability.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	switch c.Provider.Provider {
	case providers.Stripe, providers.Razorpay, providers.Mock:
	case "":
		errs = append(errs, fmt.Errorf("provider.provider is required"))
	default:
		errs = append(errs, fmt.Errorf("provider.provider %q is not supported", c.Provider.Provider))
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, fmt.Errorf("provider.api_key is required"))
	}
	if c.Client.Retry.MaxAttempts == 0 {
		errs = append(errs, fmt.Errorf("client.retry.max_attempts must be at least 1"))
	}
	if c.Client.Timeout < 0 {
		errs = append(errs, fmt.Errorf("client.timeout must not be negative"))
	}
	if r := c.Client.Breaker.FailureRatio; r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("client.breaker.failure_ratio must be in (0, 1], got %v", r))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Webhook.Stream == "" {
		errs = append(errs, fmt.Errorf("webhook.stream is required"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.MaxProjections <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_projections must be positive"))
	}

	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Provider.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("provider.webhook_secret required in production"))
		}
		if c.Provider.Provider == providers.Mock {
			errs = append(errs, fmt.Errorf("provider.provider mock not allowed in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "45s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allowed_headers", []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-User-Id"})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.rate_limit.requests", 100)
	v.SetDefault("server.rate_limit.window", "1m")
	v.SetDefault("server.idempotency_ttl", "24h")

	// Provider defaults
	v.SetDefault("provider.provider", "mock")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.webhook_secret", "")
	v.SetDefault("provider.base_url", "")

	// Client defaults
	rc := retry.DefaultConfig()
	v.SetDefault("client.retry.max_attempts", rc.MaxAttempts)
	v.SetDefault("client.retry.initial_delay", rc.InitialDelay)
	v.SetDefault("client.retry.max_delay", rc.MaxDelay)
	v.SetDefault("client.timeout", "30s")
	bc := service.DefaultBreakerConfig()
	v.SetDefault("client.breaker.max_requests", bc.MaxRequests)
	v.SetDefault("client.breaker.interval", bc.Interval)
	v.SetDefault("client.breaker.timeout", bc.Timeout)
	v.SetDefault("client.breaker.min_requests", bc.MinRequests)
	v.SetDefault("client.breaker.failure_ratio", bc.FailureRatio)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Webhook defaults
	v.SetDefault("webhook.stream", "carnil:webhook-events")
	v.SetDefault("webhook.stream_max", 10000)
	v.SetDefault("webhook.dedupe_ttl", "72h")
	v.SetDefault("webhook.max_body", 1<<20)

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.consumer_group", "carnil-webhook-consumers")
	v.SetDefault("worker.max_projections", 10000)
	v.SetDefault("worker.projection_ttl", "168h")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.customer_header", "X-User-Id")

	v.SetDefault("debug", false)
	v.SetDefault("instance_id", "carnil-1")
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
