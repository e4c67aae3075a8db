package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Status classifies the outcome of one punch delivery.
type Status string

const (
	StatusDelivered        Status = "success"
	StatusEmployeeNotFound Status = "employee_not_found"
	StatusBadRequest       Status = "bad_request"
	StatusServerError      Status = "server_error"
	StatusTimeout          Status = "timeout"
	StatusConnectionError  Status = "connection_error"
	StatusInvalidTimestamp Status = "invalid_timestamp"
	StatusMissingData      Status = "missing_required_data"
	StatusDuplicate        Status = "duplicate"
)

// Transient reports whether a redelivery attempt could still succeed.
func (s Status) Transient() bool {
	switch s {
	case StatusServerError, StatusTimeout, StatusConnectionError:
		return true
	}
	return false
}

// Success reports whether the punch reached the backend (or provably
// already had).
func (s Status) Success() bool {
	return s == StatusDelivered || s == StatusDuplicate
}

// BackendTimeLayout is the punch time format the attendance backend expects.
const BackendTimeLayout = "02-01-2006 15:04:05"

// Punch is one attendance event bound for the backend.
type Punch struct {
	EnrollID  string
	Name      string
	PunchTime time.Time
	DeviceID  string
}

// Client delivers punches to the attendance backend.
type Client interface {
	Deliver(ctx context.Context, punch Punch) Status
}

// HTTPClient posts punches as form data.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Deliver posts one punch and classifies the result. It never returns an
// error: every outcome maps onto a Status the pipeline can act on.
func (c *HTTPClient) Deliver(ctx context.Context, punch Punch) Status {
	form := url.Values{}
	form.Set("punchingcode", punch.EnrollID)
	form.Set("employee_name", punch.Name)
	form.Set("time", punch.PunchTime.Format(BackendTimeLayout))
	form.Set("device_id", punch.DeviceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return StatusConnectionError
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return StatusTimeout
		}
		return StatusConnectionError
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return StatusDelivered
	case resp.StatusCode == http.StatusNotFound:
		return StatusEmployeeNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return StatusBadRequest
	default:
		return StatusServerError
	}
}

func isTimeout(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
