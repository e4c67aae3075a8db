package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader reads configuration from a yaml file with environment overrides.
type Loader struct {
	useDotEnv bool
	paths     []string
}

// NewLoader creates a loader that checks the conventional config locations.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		paths:     []string{".config.yaml", "config.yaml"},
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPaths overrides the candidate config file paths (useful for tests).
func (l *Loader) WithPaths(paths ...string) *Loader {
	if len(paths) > 0 {
		l.paths = paths
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration: defaults, then the first config
// file found, then environment variable overrides, then validation.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file found, using system environment")
		}
	}

	cfg := Default()

	var path string
	for _, candidate := range l.paths {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read config %s: %w", candidate, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", candidate, err)
		}
		path = candidate
		break
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Result{
		Config: cfg,
		Path:   path,
	}, nil
}

// applyEnvOverrides lets deployments inject secrets and endpoints without
// editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BIOGATE_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("BIOGATE_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.Timeout = d
		}
	}
	if v := os.Getenv("BIOGATE_ACCESS_TOKEN"); v != "" {
		cfg.Server.Auth.AccessToken = v
	}
	if v := os.Getenv("BIOGATE_JWT_SECRET"); v != "" {
		cfg.Server.Auth.JWTSecret = v
	}
	if v := os.Getenv("BIOGATE_WS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Transport.WebSocket.Port = port
		}
	}
	if v := os.Getenv("BIOGATE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("BIOGATE_REDIS_ADDR"); v != "" {
		cfg.Dedup.Redis.Addr = v
	}
	if v := os.Getenv("BIOGATE_REDIS_PASSWORD"); v != "" {
		cfg.Dedup.Redis.Password = v
	}
}
