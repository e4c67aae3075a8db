package lock

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shirou/gopsutil/v3/process"

	"biogate-server-go/internal/platform/errors"
)

// ErrAlreadyRunning is returned when another live process holds the lock.
var ErrAlreadyRunning = errors.New(errors.KindLock, "acquire", "another gateway instance is already running")

// Info is the metadata written into the lock file.
type Info struct {
	PID       int32  `json:"pid"`
	StartedAt string `json:"started_at"`
	Addr      string `json:"addr"`
}

// Manager guards a single-instance lock file. A lock left behind by a dead
// process is reclaimed; a lock held by a live process refuses startup.
type Manager struct {
	path string
	mu   sync.Mutex
	held bool

	// pidAlive is swappable in tests.
	pidAlive func(pid int32) (bool, error)
}

func NewManager(path string) *Manager {
	return &Manager{
		path:     path,
		pidAlive: process.PidExists,
	}
}

// Acquire claims the lock file for this process.
func (m *Manager) Acquire(addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held {
		return nil
	}

	data, err := os.ReadFile(m.path)
	switch {
	case err == nil:
		var existing Info
		if uerr := sonic.Unmarshal(data, &existing); uerr == nil && existing.PID > 0 {
			alive, perr := m.pidAlive(existing.PID)
			if perr == nil && alive {
				return errors.Wrap(errors.KindLock, "acquire",
					fmt.Sprintf("lock held by pid %d since %s", existing.PID, existing.StartedAt),
					ErrAlreadyRunning)
			}
		}
		// Holder is gone or the file is garbage: stale, reclaim it.
		if rerr := os.Remove(m.path); rerr != nil && !os.IsNotExist(rerr) {
			return errors.Wrap(errors.KindLock, "acquire", "failed to remove stale lock file", rerr)
		}
	case os.IsNotExist(err):
	default:
		return errors.Wrap(errors.KindLock, "acquire", "failed to read lock file", err)
	}

	info := Info{
		PID:       int32(os.Getpid()),
		StartedAt: time.Now().UTC().Format("2006-01-02 15:04:05"),
		Addr:      addr,
	}
	payload, err := sonic.Marshal(info)
	if err != nil {
		return errors.Wrap(errors.KindLock, "acquire", "failed to encode lock metadata", err)
	}
	if err := os.WriteFile(m.path, payload, 0o644); err != nil {
		return errors.Wrap(errors.KindLock, "acquire", "failed to write lock file", err)
	}

	m.held = true
	return nil
}

// Release removes the lock file. Safe to call on every shutdown path.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held {
		return nil
	}
	m.held = false

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.KindLock, "release", "failed to remove lock file", err)
	}
	return nil
}

// Held reports whether this manager currently owns the lock.
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// Holder reads the current lock file, if any.
func (m *Manager) Holder() (*Info, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindLock, "holder", "failed to read lock file", err)
	}

	var info Info
	if err := sonic.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrap(errors.KindLock, "holder", "failed to decode lock metadata", err)
	}
	return &info, nil
}
