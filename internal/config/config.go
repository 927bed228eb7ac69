// Package config loads and validates the server configuration from
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration values for tripsync-server.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port string `env:"PORT" envDefault:"8080"`

	// DatabaseURL is the Postgres connection string. Required.
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// CORSOrigins lists allowed cross-origin request origins.
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`

	// MaxBodyBytes caps gateway request bodies.
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"65536"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// WSSendBuffer is the per-connection outbound envelope queue length.
	WSSendBuffer int `env:"WS_SEND_BUFFER" envDefault:"256"`

	// AutoMigrate applies pending goose migrations at startup.
	AutoMigrate bool `env:"AUTO_MIGRATE" envDefault:"true"`
}

// Load reads configuration from the environment. The returned error names any
// required variable that is missing.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("config: MAX_BODY_BYTES must be positive, got %d", cfg.MaxBodyBytes)
	}
	return cfg, nil
}

// Addr returns the listen address for Port.
func (c Config) Addr() string {
	return ":" + c.Port
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
