package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	InvitationStoreMemory = "memory"
	InvitationStoreRedis  = "redis"
)

type (
	Config struct {
		ListenAddr   string        `env:"CHAT_LISTEN_ADDR" envDefault:"localhost:9090"`
		WriteTimeout time.Duration `env:"CHAT_WRITE_TIMEOUT" envDefault:"10s"`
		ReadLimit    int64         `env:"CHAT_READ_LIMIT" envDefault:"1048576"`

		LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
		LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

		Mongo Mongo
		Redis Redis
		Auth  Auth

		Invitation Invitation
	}

	Mongo struct {
		URI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
		Database string `env:"MONGO_DATABASE" envDefault:"mydb"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	Auth struct {
		Secret   string        `env:"AUTH_SECRET"`
		Issuer   string        `env:"AUTH_ISSUER" envDefault:"group_chat"`
		TokenTTL time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"24h"`
	}

	Invitation struct {
		Store         string        `env:"INVITATION_STORE" envDefault:"memory"`
		SweepInterval time.Duration `env:"INVITATION_SWEEP_INTERVAL" envDefault:"1m"`
		MaxTTL        time.Duration `env:"INVITATION_MAX_TTL" envDefault:"24h"`
		WrapSecret    string        `env:"INVITATION_WRAP_SECRET"`
	}
)

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("AUTH_SECRET is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("AUTH_TOKEN_TTL must be positive")
	}
	if c.Invitation.MaxTTL <= 0 {
		return errors.New("INVITATION_MAX_TTL must be positive")
	}

	switch c.Invitation.Store {
	case InvitationStoreMemory:
		if c.Invitation.SweepInterval <= 0 {
			return errors.New("INVITATION_SWEEP_INTERVAL must be positive")
		}
	case InvitationStoreRedis:
		if strings.TrimSpace(c.Invitation.WrapSecret) == "" {
			return errors.New("INVITATION_WRAP_SECRET is required for the redis invitation store")
		}
	default:
		return fmt.Errorf("unknown INVITATION_STORE %q", c.Invitation.Store)
	}
	return nil
}

// Client configures cmd/client.
type Client struct {
	ServerHost string `env:"CHAT_SERVER" envDefault:"localhost:9090"`
	Secure     bool   `env:"CHAT_SECURE" envDefault:"false"`
	Token      string `env:"CHAT_TOKEN"`

	// Owner names the journal of unacknowledged packages; empty disables it.
	Owner string `env:"CHAT_JOURNAL_OWNER"`
	Redis Redis

	LogLevel       string `env:"LOG_LEVEL" envDefault:"warn"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

func LoadClient() (*Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("CHAT_TOKEN is required")
	}
	return &cfg, nil
}
