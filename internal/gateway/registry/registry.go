package registry

import (
	"sync"
	"time"

	"biogate-server-go/internal/platform/errors"
)

// UnknownDevice is reported for sessions that never registered a serial.
const UnknownDevice = "unknown"

// ErrMissingSerial rejects registration frames without a serial number.
var ErrMissingSerial = errors.New(errors.KindRegistry, "register", "missing serial number")

// Entry is one live device session.
type Entry struct {
	SessionID    string    `json:"session_id"`
	Serial       string    `json:"serial"`
	RemoteAddr   string    `json:"remote_addr"`
	RegisteredAt time.Time `json:"registered_at"`
}

// EvictFunc is invoked (outside the registry lock) when a newer registration
// displaces an older session holding the same serial.
type EvictFunc func(sessionID, serial string)

// Registry maps device serials to sessions. A serial belongs to exactly one
// session; the newest registration wins.
type Registry struct {
	mu        sync.Mutex
	bySession map[string]*Entry
	bySerial  map[string]*Entry
	onEvict   EvictFunc
}

func New(onEvict EvictFunc) *Registry {
	return &Registry{
		bySession: make(map[string]*Entry),
		bySerial:  make(map[string]*Entry),
		onEvict:   onEvict,
	}
}

// RegisterResult reports what a registration did.
type RegisterResult struct {
	Serial         string
	Evicted        bool
	EvictedSession string
}

// Register binds a serial to a session. If another session holds the serial
// it is evicted first.
func (r *Registry) Register(sessionID, remoteAddr, serial string) (RegisterResult, error) {
	if serial == "" {
		return RegisterResult{}, ErrMissingSerial
	}

	var evicted *Entry

	r.mu.Lock()
	if prev, ok := r.bySerial[serial]; ok && prev.SessionID != sessionID {
		delete(r.bySession, prev.SessionID)
		evicted = prev
	}
	// A session re-registering under a new serial gives up its old one.
	if prev, ok := r.bySession[sessionID]; ok && prev.Serial != serial {
		delete(r.bySerial, prev.Serial)
	}

	entry := &Entry{
		SessionID:    sessionID,
		Serial:       serial,
		RemoteAddr:   remoteAddr,
		RegisteredAt: time.Now(),
	}
	r.bySession[sessionID] = entry
	r.bySerial[serial] = entry
	r.mu.Unlock()

	result := RegisterResult{Serial: serial}
	if evicted != nil {
		result.Evicted = true
		result.EvictedSession = evicted.SessionID
		if r.onEvict != nil {
			r.onEvict(evicted.SessionID, evicted.Serial)
		}
	}
	return result, nil
}

// DeviceID returns the serial registered by a session, or UnknownDevice.
func (r *Registry) DeviceID(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.bySession[sessionID]; ok {
		return entry.Serial
	}
	return UnknownDevice
}

// Remove drops a session's registration. Removing an unknown or already
// removed session is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.bySession[sessionID]
	if !ok {
		return
	}
	delete(r.bySession, sessionID)
	// Only clear the serial if this session still owns it.
	if current, ok := r.bySerial[entry.Serial]; ok && current.SessionID == sessionID {
		delete(r.bySerial, entry.Serial)
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySession)
}

// Snapshot lists the live registrations for the admin API.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.bySession))
	for _, entry := range r.bySession {
		entries = append(entries, *entry)
	}
	return entries
}
