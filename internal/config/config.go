package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the service configuration read from the environment.
type Config struct {
	HTTPAddr       string  `env:"ENROLHUB_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr       string  `env:"ENROLHUB_GRPC_ADDR" envDefault:":9090"`
	DatabaseDSN    string  `env:"ENROLHUB_DATABASE_DSN"`
	RateLimitRPS   float64 `env:"ENROLHUB_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"ENROLHUB_RATE_LIMIT_BURST" envDefault:"100"`
	MaxBodyBytes   int64   `env:"ENROLHUB_MAX_BODY_BYTES" envDefault:"1048576"`
	LogLevel       string  `env:"ENROLHUB_LOG_LEVEL" envDefault:"info"`
	Version        string  `env:"ENROLHUB_VERSION" envDefault:"dev"`
	Commit         string  `env:"ENROLHUB_COMMIT" envDefault:"none"`
}

// Load reads an optional .env file, then parses the environment. A missing
// .env is not an error; explicit environment variables win either way.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
