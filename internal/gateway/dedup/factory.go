package dedup

import (
	"fmt"
)

// Driver identifiers supported by the dedup store.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// New creates a dedup store based on the provided configuration.
func New(cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported dedup store driver: %s", driver)
	}
}
