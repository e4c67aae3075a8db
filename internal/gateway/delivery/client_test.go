package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClient_Classification(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		expected Status
	}{
		{
			name:     "200 delivered",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
			expected: StatusDelivered,
		},
		{
			name:     "201 delivered",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) },
			expected: StatusDelivered,
		},
		{
			name:     "404 employee not found",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			expected: StatusEmployeeNotFound,
		},
		{
			name:     "400 bad request",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) },
			expected: StatusBadRequest,
		},
		{
			name:     "500 server error",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			expected: StatusServerError,
		},
		{
			name:     "503 server error",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			expected: StatusServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewHTTPClient(srv.URL, 2*time.Second)
			status := client.Deliver(context.Background(), Punch{
				EnrollID:  "101",
				Name:      "Alice",
				PunchTime: time.Now(),
				DeviceID:  "FP-1001",
			})
			if status != tt.expected {
				t.Errorf("Deliver() = %q, expected %q", status, tt.expected)
			}
		})
	}
}

func TestHTTPClient_FormPayload(t *testing.T) {
	var gotForm map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		gotForm = map[string]string{
			"punchingcode":  r.PostFormValue("punchingcode"),
			"employee_name": r.PostFormValue("employee_name"),
			"time":          r.PostFormValue("time"),
			"device_id":     r.PostFormValue("device_id"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 2*time.Second)
	punchTime := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	status := client.Deliver(context.Background(), Punch{
		EnrollID:  "101",
		Name:      "Alice Mwangi",
		PunchTime: punchTime,
		DeviceID:  "FP-1001",
	})
	if status != StatusDelivered {
		t.Fatalf("Deliver() = %q", status)
	}

	if gotForm["punchingcode"] != "101" {
		t.Errorf("punchingcode = %q", gotForm["punchingcode"])
	}
	if gotForm["employee_name"] != "Alice Mwangi" {
		t.Errorf("employee_name = %q", gotForm["employee_name"])
	}
	// Backend wants day-first timestamps.
	if gotForm["time"] != "10-03-2026 08:30:00" {
		t.Errorf("time = %q, expected 10-03-2026 08:30:00", gotForm["time"])
	}
	if gotForm["device_id"] != "FP-1001" {
		t.Errorf("device_id = %q", gotForm["device_id"])
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 50*time.Millisecond)
	status := client.Deliver(context.Background(), Punch{
		EnrollID:  "101",
		Name:      "Alice",
		PunchTime: time.Now(),
		DeviceID:  "FP-1001",
	})
	if status != StatusTimeout {
		t.Errorf("Deliver() = %q, expected timeout", status)
	}
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	// A server that is already closed refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	client := NewHTTPClient(endpoint, time.Second)
	status := client.Deliver(context.Background(), Punch{
		EnrollID:  "101",
		Name:      "Alice",
		PunchTime: time.Now(),
		DeviceID:  "FP-1001",
	})
	if status != StatusConnectionError {
		t.Errorf("Deliver() = %q, expected connection_error", status)
	}
}

func TestStatus_Transient(t *testing.T) {
	transient := []Status{StatusServerError, StatusTimeout, StatusConnectionError}
	for _, s := range transient {
		if !s.Transient() {
			t.Errorf("%q.Transient() = false", s)
		}
	}

	permanent := []Status{StatusDelivered, StatusEmployeeNotFound, StatusBadRequest,
		StatusInvalidTimestamp, StatusMissingData, StatusDuplicate}
	for _, s := range permanent {
		if s.Transient() {
			t.Errorf("%q.Transient() = true", s)
		}
	}
}
