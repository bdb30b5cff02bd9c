package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	IPLimit   IPLimitConfig   `mapstructure:"ip_limit"`
	Breaker   BreakerConfig   `mapstructure:"circuit_breaker"`
	Status    StatusConfig    `mapstructure:"notification"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// RabbitMQConfig holds broker connection and topology settings.
type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Pass     string `mapstructure:"pass"`
	VHost    string `mapstructure:"vhost"`
	Exchange string `mapstructure:"exchange"`
}

// URL builds the AMQP connection URL. Port 5671 selects the TLS scheme.
func (r RabbitMQConfig) URL() string {
	scheme := "amqp"
	if r.Port == 5671 {
		scheme = "amqps"
	}
	vhost := r.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s", scheme, r.User, r.Pass, r.Host, r.Port, vhost)
}

// RedisConfig holds key-value store connection settings. URL, when set,
// overrides the individual fields (redis://[:password@]host:port/db).
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds token validation settings. Tokens are issued by the
// identity service; this service only verifies them.
type JWTConfig struct {
	Secret        string `mapstructure:"secret"`
	Algorithm     string `mapstructure:"algorithm"`
	ExpirationSec int    `mapstructure:"expiration"`
}

// RateLimitConfig holds fixed-window admission control settings per caller.
type RateLimitConfig struct {
	MaxRequests int `mapstructure:"requests"`
	WindowSec   int `mapstructure:"window"`
}

// Window returns the rate limit window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSec) * time.Second
}

// IPLimitConfig holds the transport-edge per-IP token bucket settings.
type IPLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// BreakerConfig holds circuit breaker settings for the publish path.
type BreakerConfig struct {
	FailMax    int `mapstructure:"fail_max"`
	TimeoutSec int `mapstructure:"timeout"`
}

// Timeout returns the open-state recovery timeout as a duration.
func (b BreakerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

// StatusConfig holds TTLs for the Redis-backed projections.
type StatusConfig struct {
	StatusTTLSec      int `mapstructure:"status_ttl"`
	IdempotencyTTLSec int `mapstructure:"idempotency_ttl"`
}

// StatusTTL returns the status record retention window.
func (s StatusConfig) StatusTTL() time.Duration {
	return time.Duration(s.StatusTTLSec) * time.Second
}

// IdempotencyTTL returns the idempotency cache retention window.
func (s StatusConfig) IdempotencyTTL() time.Duration {
	return time.Duration(s.IdempotencyTTLSec) * time.Second
}

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// Load reads configuration from the environment. Variable names map from
// config keys with underscores: RABBITMQ_HOST overrides rabbitmq.host,
// RATE_LIMIT_REQUESTS overrides rate_limit.requests, and so on. A .env file
// is loaded first if present.
func Load() (*Config, error) {
	v := viper.New()

	// Load .env file if it exists
	_ = godotenv.Load()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.pass", "guest")
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.exchange", "notifications.direct")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("jwt.expiration", 3600)
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", 60)
	v.SetDefault("ip_limit.requests_per_second", 50)
	v.SetDefault("ip_limit.burst", 100)
	v.SetDefault("circuit_breaker.fail_max", 5)
	v.SetDefault("circuit_breaker.timeout", 60)
	v.SetDefault("notification.status_ttl", 604800) // 7 days
	v.SetDefault("notification.idempotency_ttl", 86400)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type", "X-Correlation-ID"})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}
	if len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	if cfg.Redis.URL != "" {
		if err := cfg.Redis.applyURL(); err != nil {
			return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
	}

	return &cfg, nil
}

// applyURL folds a redis://[:password@]host:port/db URL into the individual
// connection fields. Managed platforms hand out a single URL.
func (r *RedisConfig) applyURL() error {
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return err
	}
	if parsed.Hostname() != "" {
		r.Host = parsed.Hostname()
	}
	if parsed.Port() != "" {
		port, err := strconv.Atoi(parsed.Port())
		if err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
		r.Port = port
	}
	if pass, ok := parsed.User.Password(); ok {
		r.Password = pass
	}
	if len(parsed.Path) > 1 {
		db, err := strconv.Atoi(parsed.Path[1:])
		if err != nil {
			return fmt.Errorf("invalid db: %w", err)
		}
		r.DB = db
	}
	return nil
}
