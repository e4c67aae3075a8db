package dedup

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemory constructs an in-process dedup store with background expiry.
func NewMemory(cfg Config) Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	gcInterval := ttl
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		gcInterval = cfg.Memory.GCInterval
	}

	s := &memoryStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go s.gcLoop(gcInterval)
	return s
}

func (s *memoryStore) Seen(ctx context.Context, key string) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.entries[key]; ok && now.Before(expiry) {
		return true, nil
	}
	s.entries[key] = now.Add(s.ttl)
	return false, nil
}

func (s *memoryStore) Stats(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"type":  "memory",
		"total": len(s.entries),
		"ttl":   int(s.ttl.Seconds()),
	}, nil
}

func (s *memoryStore) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.stopCh) })
	return nil
}

func (s *memoryStore) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, expiry := range s.entries {
				if now.After(expiry) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}
