package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sirupsen/logrus"
)

type (
	Config struct {
		HTTP    `json:"http"    toml:"http"    yaml:"http"`
		Backend `json:"backend" toml:"backend" yaml:"backend"`
		Auth    `json:"auth"    toml:"auth"    yaml:"auth"`
		Kafka   `json:"kafka"   toml:"kafka"   yaml:"kafka"`
		DB      `json:"db"      toml:"db"      yaml:"db"`
		Breaker `json:"breaker" toml:"breaker" yaml:"breaker"`
		Log     `json:"log"     toml:"log"     yaml:"log"`
	}

	HTTP struct {
		Port        string   `json:"port"         toml:"port"         yaml:"port"         env:"ORDERDESK_PORT"         env-default:"8080"`
		CORSOrigins []string `json:"cors_origins" toml:"cors_origins" yaml:"cors_origins" env:"ORDERDESK_CORS_ORIGINS" env-default:"http://localhost:3000" env-separator:","`
	}

	Backend struct {
		URL     string        `json:"url"     toml:"url"     yaml:"url"     env:"BACKEND_URL"     env-required:"true"`
		Timeout time.Duration `json:"timeout" toml:"timeout" yaml:"timeout" env:"BACKEND_TIMEOUT" env-default:"10s"`
	}

	Auth struct {
		JWTSecret string `json:"jwt_secret" toml:"jwt_secret" yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	}

	// Kafka is optional. Without brokers, status changes go straight to the
	// local websocket hub.
	Kafka struct {
		Brokers []string `json:"brokers"  toml:"brokers"  yaml:"brokers"  env:"KAFKA_BROKERS"  env-separator:","`
		Topic   string   `json:"topic"    toml:"topic"    yaml:"topic"    env:"KAFKA_TOPIC"    env-default:"order.status.changed"`
		GroupID string   `json:"group_id" toml:"group_id" yaml:"group_id" env:"KAFKA_GROUP_ID"`
	}

	// DB is optional. Without a URL preferences live in memory.
	DB struct {
		DatabaseURL string `json:"database_url" toml:"database_url" yaml:"database_url" env:"DATABASE_URL"`
	}

	Breaker struct {
		MaxFailures int           `json:"max_failures" toml:"max_failures" yaml:"max_failures" env:"BREAKER_MAX_FAILURES" env-default:"5"`
		Timeout     time.Duration `json:"timeout"      toml:"timeout"      yaml:"timeout"      env:"BREAKER_TIMEOUT"      env-default:"30s"`
	}

	Log struct {
		Level string `json:"level" toml:"level" yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	}
)

// Load reads the file named by ORDERDESK_CONFIG, if any, then the environment.
// Environment variables win.
func Load() (*Config, error) {
	cfg := &Config{}

	var err error
	if path := os.Getenv("ORDERDESK_CONFIG"); path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.Breaker.MaxFailures < 1 {
		return fmt.Errorf("config error: breaker max failures must be positive, got %d", c.Breaker.MaxFailures)
	}
	if c.Kafka.Enabled() && c.Kafka.GroupID == "" {
		host, _ := os.Hostname()
		c.Kafka.GroupID = "orderdesk-" + host
	}
	return nil
}

func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0 && k.Brokers[0] != ""
}

func (l Log) LogrusLevel() logrus.Level {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Usage describes every environment variable Load understands.
func Usage() string {
	text, err := cleanenv.GetDescription(&Config{}, nil)
	if err != nil {
		return err.Error()
	}
	return text
}
