// Package config содержит логику чтения конфигурации ресторанного сервиса.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации ресторанного сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisAddr   string `env:"REDIS_ADDR"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	JWTSecret        string        `env:"JWT_SECRET" envDefault:"dev_jwt_secret"`
	RefreshSecret    string        `env:"REFRESH_TOKEN_SECRET" envDefault:"dev_refresh_secret"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	MaxRefreshTokens int           `env:"MAX_REFRESH_TOKENS" envDefault:"10"`
	BcryptCost       int           `env:"BCRYPT_COST" envDefault:"10"`

	PointsPerAmount      float64 `env:"POINTS_PER_AMOUNT" envDefault:"1"`
	PointValue           float64 `env:"POINT_VALUE" envDefault:"1"`
	AllowCancelDelivered bool    `env:"ALLOW_CANCEL_DELIVERED" envDefault:"true"`

	AdminEmail   string `env:"ADMIN_EMAIL"`
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15m"`
	ReconcileAutoCredit bool          `env:"RECONCILE_AUTO_CREDIT" envDefault:"false"`

	RateLimitCapacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"60"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и
// переменных окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddr := cfg.RedisAddr

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddr, "r", "", "redis address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.PointsPerAmount <= 0 {
		return errors.New("POINTS_PER_AMOUNT must be positive")
	}
	if c.PointValue <= 0 {
		return errors.New("POINT_VALUE must be positive")
	}
	if c.MaxRefreshTokens < 1 {
		return errors.New("MAX_REFRESH_TOKENS must be at least 1")
	}
	return nil
}
