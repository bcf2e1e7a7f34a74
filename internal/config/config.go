package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/remote"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort        string        `yaml:"http_port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	// SessionIdleTimeout drops a visitor's in-memory cart after this long
	// without a request.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	// Strategy is "optimistic" or "pessimistic".
	Strategy string        `yaml:"strategy"`
	Redis    RedisConfig   `yaml:"redis"`
	Kafka    KafkaConfig   `yaml:"kafka"`
	Remote   remote.Config `yaml:"remote"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig enables the checkout poller when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

func Default() *Config {
	return &Config{
		HTTPPort:           "8080",
		RequestTimeout:     30 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		LogLevel:           "info",
		SessionIdleTimeout: 30 * time.Minute,
		Strategy:           "optimistic",
		Redis:              RedisConfig{Addr: "localhost:6379"},
		Remote:             remote.DefaultConfig(),
	}
}

// Load reads the optional YAML file at path and applies environment
// overrides on top of it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Strategy = getEnv("CART_STRATEGY", cfg.Strategy)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Remote.BaseURL = getEnv("REMOTE_BASE_URL", cfg.Remote.BaseURL)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v := os.Getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_IDLE_TIMEOUT: %w", err)
		}
		cfg.SessionIdleTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Remote.BaseURL == "" {
		errs = append(errs, errors.New("remote.base_url is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.SessionIdleTimeout <= 0 {
		errs = append(errs, errors.New("session_idle_timeout must be positive"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
