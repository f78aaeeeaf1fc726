package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration, populated from the environment.
type Config struct {
	DatabaseURL        string `envconfig:"DATABASE_URL" required:"true"`
	ServerPort         string `envconfig:"SERVER_PORT" default:"8080"`
	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`
	AllowedOrigins     string `envconfig:"ALLOWED_ORIGINS" default:""`
	BillgenConcurrency int    `envconfig:"BILLGEN_CONCURRENCY" default:"8"`
}

// Load reads .env (if present) and parses the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
