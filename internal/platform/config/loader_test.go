package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoader_Load(t *testing.T) {
	path := writeConfigFile(t, `
backend:
  url: http://erp.local/api/method/checkin
  timeout: 8s
transport:
  websocket:
    ip: 127.0.0.1
    port: 9001
delivery:
  retry_interval: 60s
  max_attempts: 5
`)

	result, err := NewLoader().WithDotEnv(false).WithPaths(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cfg := result.Config
	if cfg.Backend.URL != "http://erp.local/api/method/checkin" {
		t.Errorf("backend url = %q", cfg.Backend.URL)
	}
	if cfg.Backend.Timeout != 8*time.Second {
		t.Errorf("backend timeout = %v, expected 8s", cfg.Backend.Timeout)
	}
	if cfg.Transport.WebSocket.Port != 9001 {
		t.Errorf("websocket port = %d, expected 9001", cfg.Transport.WebSocket.Port)
	}
	if cfg.Delivery.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, expected 5", cfg.Delivery.MaxAttempts)
	}
	// untouched fields keep defaults
	if cfg.Delivery.MaxAge != 24*time.Hour {
		t.Errorf("max age = %v, expected default 24h", cfg.Delivery.MaxAge)
	}
	if cfg.Gateway.UnknownCommandPolicy != UnknownCommandEcho {
		t.Errorf("unknown command policy = %q, expected echo", cfg.Gateway.UnknownCommandPolicy)
	}
	if result.Path != path {
		t.Errorf("result path = %q, expected %q", result.Path, path)
	}
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("BIOGATE_BACKEND_URL", "http://erp.local/api")

	result, err := NewLoader().
		WithDotEnv(false).
		WithPaths(filepath.Join(t.TempDir(), "absent.yaml")).
		Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if result.Path != "" {
		t.Errorf("result path = %q, expected empty for defaults", result.Path)
	}
	if result.Config.Transport.WebSocket.Port != 7788 {
		t.Errorf("default websocket port = %d", result.Config.Transport.WebSocket.Port)
	}
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
backend:
  url: http://file-configured/api
`)
	t.Setenv("BIOGATE_BACKEND_URL", "http://env-configured/api")
	t.Setenv("BIOGATE_WS_PORT", "9100")

	result, err := NewLoader().WithDotEnv(false).WithPaths(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if result.Config.Backend.URL != "http://env-configured/api" {
		t.Errorf("env override lost, backend url = %q", result.Config.Backend.URL)
	}
	if result.Config.Transport.WebSocket.Port != 9100 {
		t.Errorf("env override lost, websocket port = %d", result.Config.Transport.WebSocket.Port)
	}
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "backend: [not: valid")

	_, err := NewLoader().WithDotEnv(false).WithPaths(path).Load()
	if err == nil {
		t.Fatal("expected parse error for invalid yaml")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Backend.URL = "http://erp.local/api"
		return cfg
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		wantErr  bool
		contains string
	}{
		{
			name:    "valid default",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:     "missing backend url",
			mutate:   func(c *Config) { c.Backend.URL = "" },
			wantErr:  true,
			contains: "backend url",
		},
		{
			name:     "bad websocket port",
			mutate:   func(c *Config) { c.Transport.WebSocket.Port = 0 },
			wantErr:  true,
			contains: "websocket port",
		},
		{
			name:     "port collision",
			mutate:   func(c *Config) { c.Web.Port = c.Transport.WebSocket.Port },
			wantErr:  true,
			contains: "must differ",
		},
		{
			name:     "negative retry interval",
			mutate:   func(c *Config) { c.Delivery.RetryInterval = -time.Second },
			wantErr:  true,
			contains: "retry interval",
		},
		{
			name:     "unsupported dedup type",
			mutate:   func(c *Config) { c.Dedup.Type = "memcached" },
			wantErr:  true,
			contains: "dedup store type",
		},
		{
			name:     "redis dedup without addr",
			mutate:   func(c *Config) { c.Dedup.Type = "redis" },
			wantErr:  true,
			contains: "address",
		},
		{
			name:     "bad unknown command policy",
			mutate:   func(c *Config) { c.Gateway.UnknownCommandPolicy = "drop" },
			wantErr:  true,
			contains: "unknown_command_policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.contains)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
