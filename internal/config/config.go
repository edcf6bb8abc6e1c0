package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/timeworked/timeworked/internal/util"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

var logLevels = []string{"debug", "info", "warn", "error"}

type Config struct {
	Port               int      `env:"PORT" envDefault:"8080"`
	StoreDriver        string   `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL        string   `env:"DATABASE_URL"`
	RedisURL           string   `env:"REDIS_URL"`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
	RateLimitPerMin    int      `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:4200"`
	MetricsEnabled     bool     `env:"METRICS_ENABLED" envDefault:"true"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) UseRedis() bool {
	return c.RedisURL != ""
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMemory:
		log.Warn().Msg("STORE_DRIVER=memory: sessions are lost on restart")
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}

	if !util.IsValidEnum(c.LogLevel, logLevels) {
		return fmt.Errorf("LOG_LEVEL must be one of %v, got %q", logLevels, c.LogLevel)
	}

	if c.RateLimitPerMin < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must not be negative")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// ClientConfig configures the timer client. Flags override these values.
type ClientConfig struct {
	ServerURL           string `env:"TIMEWORKED_SERVER" envDefault:"http://localhost:8080"`
	SubjectID           string `env:"TIMEWORKED_SUBJECT" envDefault:"demo-user"`
	TimeoutSeconds      int    `env:"TIMEWORKED_TIMEOUT_SECONDS" envDefault:"10"`
	PingIntervalSeconds int    `env:"TIMEWORKED_PING_INTERVAL_SECONDS" envDefault:"15"`
	LogLevel            string `env:"TIMEWORKED_LOG_LEVEL" envDefault:"warn"`
}

func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *ClientConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return &cfg, nil
}
