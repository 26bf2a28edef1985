package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port               int    `env:"PORT" envDefault:"8080"`
	DatabaseURL        string `env:"DATABASE_URL,required"`
	RedisURL           string `env:"REDIS_URL,required"`
	GatewaySecret      string `env:"GATEWAY_WEBHOOK_SECRET"`
	MinCallMinutes     int    `env:"MIN_CALL_MINUTES" envDefault:"5"`
	PendingTimeoutSecs int    `env:"PENDING_TIMEOUT_SECONDS" envDefault:"120"`
	ConnectTimeoutSecs int    `env:"CONNECT_TIMEOUT_SECONDS" envDefault:"300"`
	SweepIntervalSecs  int    `env:"SWEEP_INTERVAL_SECONDS" envDefault:"60"`
	WebhookRatePerMin  int    `env:"WEBHOOK_RATE_PER_MIN" envDefault:"600"`
	APIRatePerMin      int    `env:"API_RATE_PER_MIN" envDefault:"120"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PendingTimeout is how long a call may sit unaccepted before the sweep
// cancels it.
func (c *Config) PendingTimeout() time.Duration {
	return time.Duration(c.PendingTimeoutSecs) * time.Second
}

// ConnectTimeout is how long an accepted call may go without both
// participants connecting before the sweep cancels it.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	if c.MinCallMinutes <= 0 {
		return fmt.Errorf("MIN_CALL_MINUTES must be positive, got %d", c.MinCallMinutes)
	}
	if c.PendingTimeoutSecs <= 0 || c.ConnectTimeoutSecs <= 0 {
		return fmt.Errorf("call timeout thresholds must be positive")
	}
	if c.SweepIntervalSecs <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive, got %d", c.SweepIntervalSecs)
	}

	if isProduction {
		if c.GatewaySecret == "" {
			return fmt.Errorf("GATEWAY_WEBHOOK_SECRET is required in production: unauthenticated lifecycle events would drive billing")
		}
		if len(c.GatewaySecret) < 32 {
			return fmt.Errorf("GATEWAY_WEBHOOK_SECRET must be at least 32 characters in production (generate with: openssl rand -hex 32)")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
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
