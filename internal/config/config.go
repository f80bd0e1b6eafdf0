// Package config содержит логику чтения конфигурации реферального сервиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации реферального сервиса.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	OrderSystemAddress string `env:"ORDER_SYSTEM_ADDRESS"`
	ServiceToken       string `env:"SERVICE_TOKEN"`
	RedisAddress       string `env:"REDIS_ADDRESS"`

	StoreTimeout  time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	RewardPoints  int64         `env:"REWARD_POINTS" envDefault:"100"`
	RewardAmount  float64       `env:"REWARD_AMOUNT" envDefault:"50"`
	WatchInterval time.Duration `env:"WATCH_INTERVAL" envDefault:"10s"`
	ValidateRate  float64       `env:"VALIDATE_RATE" envDefault:"1"`
	ValidateBurst int           `env:"VALIDATE_BURST" envDefault:"10"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envOrderAddress := cfg.OrderSystemAddress
	envServiceToken := cfg.ServiceToken
	envRedisAddress := cfg.RedisAddress

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.OrderSystemAddress, "r", "", "order system address")
	flag.StringVar(&cfg.ServiceToken, "t", "", "service token for internal endpoints")
	flag.StringVar(&cfg.RedisAddress, "redis", "", "redis address for rate limiting")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envOrderAddress != "" {
		cfg.OrderSystemAddress = envOrderAddress
	}
	if envServiceToken != "" {
		cfg.ServiceToken = envServiceToken
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("WATCH_INTERVAL must be positive, got %s", c.WatchInterval)
	}
	if c.RewardPoints < 0 || c.RewardAmount < 0 {
		return fmt.Errorf("reward must not be negative, got %d points and %.2f amount", c.RewardPoints, c.RewardAmount)
	}
	if c.ValidateRate <= 0 || c.ValidateBurst <= 0 {
		return fmt.Errorf("VALIDATE_RATE and VALIDATE_BURST must be positive")
	}
	return nil
}
