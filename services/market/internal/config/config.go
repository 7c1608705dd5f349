// Package config loads the market service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Port         string
	DatabaseURL  string
	StoreBackend string
	// GatewayToken, when set, must accompany every request's identity headers.
	GatewayToken string
	LogLevel     slog.Level
}

// Load reads configuration from the process environment. Values missing from
// the environment are taken from the given env files (".env" when none are
// named); earlier files win. The process environment is not modified.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	fileVals := map[string]string{}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := fileVals[k]; !ok {
				fileVals[k] = v
			}
		}
	}
	getEnv := func(key, defaultValue string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		if v := strings.TrimSpace(fileVals[key]); v != "" {
			return v
		}
		return defaultValue
	}

	cfg := &Config{
		Port:         getEnv("SERVICE_PORT", "8090"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		GatewayToken: getEnv("GATEWAY_TOKEN", ""),
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s backend", BackendPostgres)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %s or %s, got %q", BackendPostgres, BackendMemory, c.StoreBackend)
	}
	if c.Port == "" {
		return fmt.Errorf("SERVICE_PORT is required")
	}
	return nil
}

func (c *Config) Addr() string { return ":" + c.Port }
