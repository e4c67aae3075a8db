package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the gateway process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Web       WebConfig       `yaml:"web"`
	Transport TransportConfig `yaml:"transport"`
	Backend   BackendConfig   `yaml:"backend"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Storage   StorageConfig   `yaml:"storage"`
	Lock      LockConfig      `yaml:"lock"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

type ServerConfig struct {
	Name string     `yaml:"name"`
	Auth AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	// AccessToken is exchanged for a JWT at the login endpoint.
	AccessToken string        `yaml:"access_token"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

type WebConfig struct {
	Enabled   bool   `yaml:"enabled"`
	IP        string `yaml:"ip"`
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type WebSocketConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// BackendConfig points at the attendance backend that receives punches.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DeliveryConfig tunes the batch pipeline and the retry scheduler.
type DeliveryConfig struct {
	Workers       int           `yaml:"workers"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
	MaxAge        time.Duration `yaml:"max_age"`
}

// DedupConfig selects the duplicate-punch suppression store.
type DedupConfig struct {
	Type  string           `yaml:"type"`
	TTL   time.Duration    `yaml:"ttl"`
	Redis DedupRedisConfig `yaml:"redis,omitempty"`
}

type DedupRedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

type LockConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig covers protocol-level behavior knobs.
type GatewayConfig struct {
	// UnknownCommandPolicy is "echo" or "reject".
	UnknownCommandPolicy string `yaml:"unknown_command_policy"`
}

const (
	UnknownCommandEcho   = "echo"
	UnknownCommandReject = "reject"
)

// Default returns a configuration populated with working defaults; a config
// file and environment overrides refine it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "biogate-server",
			Auth: AuthConfig{
				TokenExpiry: 24 * time.Hour,
			},
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "logs",
			File:  "gateway.log",
		},
		Web: WebConfig{
			Enabled:   true,
			IP:        "0.0.0.0",
			Port:      8081,
			StaticDir: "./console",
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				IP:   "0.0.0.0",
				Port: 7788,
			},
		},
		Backend: BackendConfig{
			Timeout: 5 * time.Second,
		},
		Delivery: DeliveryConfig{
			Workers:       4,
			RetryInterval: 180 * time.Second,
			MaxAttempts:   10,
			MaxAge:        24 * time.Hour,
		},
		Dedup: DedupConfig{
			Type: "memory",
			TTL:  2 * time.Minute,
		},
		Storage: StorageConfig{
			DSN: "biogate.db",
		},
		Lock: LockConfig{
			Path: "server.lock",
		},
		Gateway: GatewayConfig{
			UnknownCommandPolicy: UnknownCommandEcho,
		},
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Transport.WebSocket.Port <= 0 || c.Transport.WebSocket.Port > 65535 {
		return fmt.Errorf("invalid websocket port %d", c.Transport.WebSocket.Port)
	}
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		return fmt.Errorf("invalid web port %d", c.Web.Port)
	}
	if c.Web.Enabled && c.Web.Port == c.Transport.WebSocket.Port {
		return fmt.Errorf("web port and websocket port must differ, both are %d", c.Web.Port)
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url is required")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive, got %v", c.Backend.Timeout)
	}
	if c.Delivery.Workers <= 0 {
		return fmt.Errorf("delivery workers must be positive, got %d", c.Delivery.Workers)
	}
	if c.Delivery.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %v", c.Delivery.RetryInterval)
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", c.Delivery.MaxAttempts)
	}
	if c.Delivery.MaxAge <= 0 {
		return fmt.Errorf("max age must be positive, got %v", c.Delivery.MaxAge)
	}
	switch c.Dedup.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported dedup store type %q", c.Dedup.Type)
	}
	if c.Dedup.Type == "redis" && c.Dedup.Redis.Addr == "" {
		return fmt.Errorf("dedup redis store requires an address")
	}
	switch c.Gateway.UnknownCommandPolicy {
	case UnknownCommandEcho, UnknownCommandReject:
	default:
		return fmt.Errorf("unknown_command_policy must be %q or %q, got %q",
			UnknownCommandEcho, UnknownCommandReject, c.Gateway.UnknownCommandPolicy)
	}
	return nil
}
