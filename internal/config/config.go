package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hongminglow/flatkeeper/internal/docstore"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port          string             `env:"PORT" envDefault:"8080"`
	Namespace     docstore.Namespace `env:"APP_NAMESPACE" envDefault:"default-app-id"`
	StoreBackend  string             `env:"STORE_BACKEND" envDefault:"memory"`
	DatabaseURL   string             `env:"DATABASE_URL"`
	RedisAddr     string             `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string             `env:"REDIS_PASSWORD"`
	RedisDB       int                `env:"REDIS_DB" envDefault:"0"`
	JWTSecret     string             `env:"JWT_SECRET"`
	JWTIssuer     string             `env:"JWT_ISSUER" envDefault:"flatkeeper"`
	JWTTTLMinutes int                `env:"JWT_TTL_MINUTES" envDefault:"60"`
	CORSOrigins   []string           `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	LogLevel      string             `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string             `env:"LOG_FORMAT" envDefault:"json"`

	Backend docstore.Backend `env:"-"`
	JWTTTL  time.Duration    `env:"-"`
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.normalize()
}

func (c Config) normalize() (Config, error) {
	c.Port = strings.TrimSpace(c.Port)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	c.CORSOrigins = cleanList(c.CORSOrigins)
	if strings.TrimSpace(string(c.Namespace)) == "" || strings.Contains(string(c.Namespace), "/") {
		return Config{}, fmt.Errorf("APP_NAMESPACE %q is not a valid namespace", c.Namespace)
	}

	backend, err := docstore.ParseBackend(c.StoreBackend)
	if err != nil {
		return Config{}, err
	}
	c.Backend = backend

	if c.JWTTTLMinutes > 0 {
		c.JWTTTL = time.Duration(c.JWTTTLMinutes) * time.Minute
	} else {
		c.JWTTTL = 60 * time.Minute
	}

	if c.Backend == docstore.BackendPostgres && c.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required for the postgres backend")
	}
	if c.Backend == docstore.BackendRedis && strings.TrimSpace(c.RedisAddr) == "" {
		return Config{}, errors.New("REDIS_ADDR is required for the redis backend")
	}
	if c.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	return c, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func cleanList(in []string) []string {
	var out []string
	for _, part := range in {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
