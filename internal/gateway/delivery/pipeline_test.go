package delivery

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"biogate-server-go/internal/gateway/dedup"
	"biogate-server-go/internal/gateway/protocol"
	"biogate-server-go/internal/platform/storage"
	platformtest "biogate-server-go/internal/platform/testing"
)

// stubClient returns a scripted status per enroll id.
type stubClient struct {
	mu       sync.Mutex
	statuses map[string]Status
	calls    []string
}

func (c *stubClient) Deliver(ctx context.Context, punch Punch) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, punch.EnrollID)
	if status, ok := c.statuses[punch.EnrollID]; ok {
		return status
	}
	return StatusDelivered
}

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func setupPipeline(t *testing.T, client Client) (*Pipeline, storage.CheckinQueueRepository) {
	t.Helper()

	db, err := storage.InitDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	queue := storage.NewCheckinQueueRepository(db)

	dedupStore := dedup.NewMemory(dedup.Config{TTL: time.Minute})
	t.Cleanup(func() { dedupStore.Close(context.Background()) })

	logger := platformtest.SetupTestLogger(t)
	return NewPipeline(client, dedupStore, queue, logger), queue
}

func record(enrollID, name, timeStr string) protocol.Record {
	return protocol.Record{EnrollID: enrollID, Name: name, Time: timeStr}
}

func TestPipeline_AllDelivered(t *testing.T) {
	client := &stubClient{}
	pipeline, _ := setupPipeline(t, client)

	resp := pipeline.ProcessBatch(context.Background(), protocol.CmdSendLog, []protocol.Record{
		record("101", "Alice", "2026-03-10 08:30:00"),
		record("102", "Brian", "2026-03-10 08:31:00"),
	}, "FP-1001")

	if !resp.Result {
		t.Errorf("result = false, details: %+v", resp.Details)
	}
	if resp.Ret != protocol.CmdSendLog {
		t.Errorf("ret = %q", resp.Ret)
	}
	if !strings.Contains(resp.Message, "All 2 records") {
		t.Errorf("message = %q", resp.Message)
	}
	if len(resp.Details) != 2 {
		t.Fatalf("got %d details", len(resp.Details))
	}
	for _, d := range resp.Details {
		if d.Status != "success" {
			t.Errorf("detail %+v not success", d)
		}
	}
}

func TestPipeline_IncompleteRecordsSkipDelivery(t *testing.T) {
	client := &stubClient{}
	pipeline, _ := setupPipeline(t, client)

	resp := pipeline.ProcessBatch(context.Background(), protocol.CmdSendLog, []protocol.Record{
		record("101", "Alice", "2026-03-10 08:30:00"),
		record("", "Nameless", "2026-03-10 08:31:00"),
		record("103", "", "2026-03-10 08:32:00"),
	}, "FP-1001")

	if resp.Result {
		t.Error("result = true with incomplete records")
	}
	// Incomplete records never reach the backend.
	if client.callCount() != 1 {
		t.Errorf("backend called %d times, expected 1", client.callCount())
	}

	missing := 0
	for _, d := range resp.Details {
		if d.Reason == string(StatusMissingData) {
			missing++
		}
	}
	if missing != 2 {
		t.Errorf("got %d missing_required_data details, expected 2", missing)
	}
}

func TestPipeline_MalformedTimestampRejectedLocally(t *testing.T) {
	client := &stubClient{}
	pipeline, queue := setupPipeline(t, client)

	resp := pipeline.ProcessBatch(context.Background(), protocol.CmdSendLog, []protocol.Record{
		record("101", "Alice", "10/03/2026 8:30"),
	}, "FP-1001")

	if resp.Result {
		t.Error("result = true for malformed timestamp")
	}
	if client.callCount() != 0 {
		t.Errorf("backend called for malformed timestamp")
	}
	if resp.Details[0].Reason != string(StatusInvalidTimestamp) {
		t.Errorf("reason = %q", resp.Details[0].Reason)
	}

	// Invalid timestamps are permanent: nothing queued.
	pending, _ := queue.ListPending(context.Background())
	if len(pending) != 0 {
		t.Errorf("%d punches queued for a permanent rejection", len(pending))
	}
}

func TestPipeline_EmployeeNotFoundNotRequeued(t *testing.T) {
	client := &stubClient{statuses: map[string]Status{"101": StatusEmployeeNotFound}}
	pipeline, queue := setupPipeline(t, client)

	resp := pipeline.ProcessBatch(context.Background(), protocol.CmdSendLog, []protocol.Record{
		record("101", "Ghost", "2026-03-10 08:30:00"),
	}, "FP-1001")

	if resp.Result {
		t.Error("result = true for unknown employee")
	}
	if resp.Details[0].Status != string(StatusEmployeeNotFound) {
		t.Errorf("status = %q", resp.Details[0].Status)
	}
	if !strings.Contains(resp.Details[0].Reason, "not registered") {
		t.Errorf("reason = %q", resp.Details[0].Reason)
	}

	pending, _ := queue.ListPending(context.Background())
	if len(pending) != 0 {
		t.Errorf("404 punch was queued for retry")
	}
}

func TestPipeline_TransientFailureQueued(t *testing.T) {
	client := &stubClient{statuses: map[string]Status{
		"101": StatusTimeout,
		"102": StatusServerError,
	}}
	pipeline, queue := setupPipeline(t, client)

	resp := pipeline.ProcessBatch(context.Background(), protocol.CmdSendLog, []protocol.Record{
		record("101", "Alice", "2026-03-10 08:30:00"),
		record("102", "Brian", "2026-03-10 08:31:00"),
		record("103", "Carol", "2026-03-10 08:32:00"),
	}, "FP-1001")

	if resp.Result {
		t.Error("result = true with transient failures")
	}
	if !strings.Contains(resp.Message, "1 of 3") {
		t.Errorf("message = %q", resp.Message)
	}

	pending, err := queue.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("%d punches queued, expected 2", len(pending))
	}
	if pending[0].LastError != string(StatusTimeout) {
		t.Errorf("queued reason = %q", pending[0].LastError)
	}
	if len(pending[0].Payload) == 0 {
		t.Error("queued punch has no raw payload")
	}
}

func TestPipeline_DuplicateAcknowledgedWithoutSecondCall(t *testing.T) {
	client := &stubClient{}
	pipeline, _ := setupPipeline(t, client)

	batch := []protocol.Record{record("101", "Alice", "2026-03-10 08:30:00")}

	first := pipeline.ProcessBatch(context.Background(), protocol.CmdSendLog, batch, "FP-1001")
	if !first.Result {
		t.Fatalf("first batch failed: %+v", first.Details)
	}

	second := pipeline.ProcessBatch(context.Background(), protocol.CmdGetAllLog, batch, "FP-1001")
	if !second.Result {
		t.Errorf("duplicate batch not acknowledged: %+v", second.Details)
	}
	if second.Details[0].Reason != string(StatusDuplicate) {
		t.Errorf("duplicate reason = %q", second.Details[0].Reason)
	}
	if client.callCount() != 1 {
		t.Errorf("backend called %d times, expected 1", client.callCount())
	}
}

func TestPipeline_EmptyBatchRejected(t *testing.T) {
	client := &stubClient{}
	pipeline, _ := setupPipeline(t, client)

	resp := pipeline.ProcessBatch(context.Background(), protocol.CmdSendLog, nil, "FP-1001")
	if resp.Result {
		t.Error("empty batch result = true")
	}
	if resp.Reason != "No records provided" {
		t.Errorf("reason = %q", resp.Reason)
	}
	if client.callCount() != 0 {
		t.Errorf("backend called %d times for an empty batch", client.callCount())
	}
}
