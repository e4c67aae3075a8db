package dedup

import (
	"context"
	"fmt"
	"time"
)

// Store remembers recently delivered punches so identical uploads within the
// TTL are acknowledged without a second backend call.
type Store interface {
	// Seen marks a punch and reports whether it was already present.
	Seen(ctx context.Context, key string) (bool, error)
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Key builds the dedup key for one punch.
func Key(deviceID, enrollID, punchTime string) string {
	return fmt.Sprintf("%s|%s|%s", deviceID, enrollID, punchTime)
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
	Memory *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}
