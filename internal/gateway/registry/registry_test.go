package registry

import (
	"errors"
	"testing"
)

func TestRegistry_Register(t *testing.T) {
	r := New(nil)

	result, err := r.Register("sess-1", "10.0.0.5:51234", "FP-1001")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if result.Evicted {
		t.Error("first registration reported an eviction")
	}
	if got := r.DeviceID("sess-1"); got != "FP-1001" {
		t.Errorf("DeviceID() = %q", got)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d", r.Count())
	}
}

func TestRegistry_RegisterMissingSerial(t *testing.T) {
	r := New(nil)

	_, err := r.Register("sess-1", "10.0.0.5:51234", "")
	if !errors.Is(err, ErrMissingSerial) {
		t.Fatalf("Register() error = %v, expected ErrMissingSerial", err)
	}
	if got := r.DeviceID("sess-1"); got != UnknownDevice {
		t.Errorf("DeviceID() after failed register = %q", got)
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	var evictedSession, evictedSerial string
	r := New(func(sessionID, serial string) {
		evictedSession = sessionID
		evictedSerial = serial
	})

	if _, err := r.Register("sess-old", "10.0.0.5:1", "FP-1001"); err != nil {
		t.Fatal(err)
	}

	result, err := r.Register("sess-new", "10.0.0.6:2", "FP-1001")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !result.Evicted || result.EvictedSession != "sess-old" {
		t.Errorf("result = %+v, expected eviction of sess-old", result)
	}
	if evictedSession != "sess-old" || evictedSerial != "FP-1001" {
		t.Errorf("evict callback got (%q, %q)", evictedSession, evictedSerial)
	}

	if got := r.DeviceID("sess-new"); got != "FP-1001" {
		t.Errorf("DeviceID(sess-new) = %q", got)
	}
	if got := r.DeviceID("sess-old"); got != UnknownDevice {
		t.Errorf("DeviceID(sess-old) = %q, expected unknown after eviction", got)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, expected 1", r.Count())
	}
}

func TestRegistry_ReRegisterSameSession(t *testing.T) {
	evictions := 0
	r := New(func(string, string) { evictions++ })

	if _, err := r.Register("sess-1", "addr", "FP-1001"); err != nil {
		t.Fatal(err)
	}
	result, err := r.Register("sess-1", "addr", "FP-1001")
	if err != nil {
		t.Fatalf("re-Register() error = %v", err)
	}
	if result.Evicted || evictions != 0 {
		t.Error("re-registration of the same session triggered an eviction")
	}
}

func TestRegistry_SessionChangesSerial(t *testing.T) {
	r := New(nil)

	if _, err := r.Register("sess-1", "addr", "FP-1001"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register("sess-1", "addr", "FP-2002"); err != nil {
		t.Fatal(err)
	}

	if got := r.DeviceID("sess-1"); got != "FP-2002" {
		t.Errorf("DeviceID() = %q, expected new serial", got)
	}

	// The old serial is free for someone else.
	result, err := r.Register("sess-2", "addr", "FP-1001")
	if err != nil {
		t.Fatal(err)
	}
	if result.Evicted {
		t.Error("stale serial binding caused an eviction")
	}
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	r := New(nil)

	if _, err := r.Register("sess-1", "addr", "FP-1001"); err != nil {
		t.Fatal(err)
	}
	r.Remove("sess-1")
	r.Remove("sess-1")
	r.Remove("never-registered")

	if r.Count() != 0 {
		t.Errorf("Count() = %d after remove", r.Count())
	}
	if got := r.DeviceID("sess-1"); got != UnknownDevice {
		t.Errorf("DeviceID() = %q after remove", got)
	}
}

func TestRegistry_RemoveEvictedDoesNotClobberWinner(t *testing.T) {
	r := New(nil)

	r.Register("sess-old", "addr", "FP-1001")
	r.Register("sess-new", "addr", "FP-1001")

	// The evicted session's close path runs Remove; the winner keeps the
	// serial.
	r.Remove("sess-old")

	if got := r.DeviceID("sess-new"); got != "FP-1001" {
		t.Errorf("DeviceID(sess-new) = %q after evicted session removal", got)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := New(nil)

	r.Register("sess-1", "10.0.0.5:1", "FP-1001")
	r.Register("sess-2", "10.0.0.6:2", "FP-2002")

	entries := r.Snapshot()
	if len(entries) != 2 {
		t.Fatalf("Snapshot() returned %d entries", len(entries))
	}

	serials := map[string]bool{}
	for _, e := range entries {
		serials[e.Serial] = true
		if e.RegisteredAt.IsZero() {
			t.Errorf("entry %s has zero registration time", e.Serial)
		}
	}
	if !serials["FP-1001"] || !serials["FP-2002"] {
		t.Errorf("Snapshot() serials = %v", serials)
	}
}
