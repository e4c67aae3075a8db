package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"biogate-server-go/internal/gateway/dedup"
	"biogate-server-go/internal/gateway/delivery"
	"biogate-server-go/internal/gateway/registry"
	"biogate-server-go/internal/platform/config"
	"biogate-server-go/internal/platform/storage"
	platformtest "biogate-server-go/internal/platform/testing"
	"biogate-server-go/internal/util/work"
)

// attendanceStub mimics the backend: known employees get 200, unknown get
// 404, and one employee always trips a 500.
func attendanceStub(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.PostFormValue("punchingcode") {
		case "101":
			w.WriteHeader(http.StatusOK)
		case "500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupEndToEnd(t *testing.T) (*testEnv, storage.CheckinQueueRepository) {
	t.Helper()

	backend := attendanceStub(t)
	client := delivery.NewHTTPClient(backend.URL, 2*time.Second)

	logger := platformtest.SetupTestLogger(t)

	db, err := storage.InitDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	queue := storage.NewCheckinQueueRepository(db)

	dedupStore := dedup.NewMemory(dedup.Config{TTL: time.Minute})
	t.Cleanup(func() { dedupStore.Close(context.Background()) })

	pipeline := delivery.NewPipeline(client, dedupStore, queue, logger)

	workers := work.NewWorkQueue[func()](2, func(job func()) error {
		job()
		return nil
	})
	t.Cleanup(workers.Stop)

	reg := registry.New(nil)
	conn := newFakeConn("sess-e2e")
	handler := NewHandler(conn, Deps{
		Registry: reg,
		Pipeline: pipeline,
		Workers:  workers,
		Logger:   logger,
		Policy:   config.UnknownCommandEcho,
	})

	go handler.Handle()
	t.Cleanup(handler.Close)

	return &testEnv{handler: handler, conn: conn, registry: reg, workers: workers}, queue
}

func TestEndToEnd_RegisterAndUpload(t *testing.T) {
	env, queue := setupEndToEnd(t)

	env.send(t, `{"cmd":"reg","sn":"FP-1001"}`)
	resp := env.recv(t)
	if resp.Ret != "reg" || !resp.Result {
		t.Fatalf("reg response = %+v", resp)
	}

	env.send(t, `{"cmd":"sendlog","sn":"FP-1001","record":[`+
		`{"enrollid":101,"name":"Alice","time":"2026-03-10 08:30:00"},`+
		`{"enrollid":999,"name":"Ghost","time":"2026-03-10 08:31:00"}]}`)
	resp = env.recv(t)

	if resp.Ret != "sendlog" {
		t.Errorf("ret = %q", resp.Ret)
	}
	if resp.Result {
		t.Error("result = true with an unknown employee in the batch")
	}
	if len(resp.Details) != 2 {
		t.Fatalf("details = %+v", resp.Details)
	}
	if resp.Details[0].Status != "success" {
		t.Errorf("first detail = %+v", resp.Details[0])
	}
	if resp.Details[1].Status != "employee_not_found" {
		t.Errorf("second detail = %+v", resp.Details[1])
	}

	// Permanent failures do not enter the retry queue.
	pending, err := queue.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %+v", pending)
	}
}

func TestEndToEnd_BackendErrorQueuesRetry(t *testing.T) {
	env, queue := setupEndToEnd(t)

	env.send(t, `{"cmd":"reg","sn":"FP-1001"}`)
	env.recv(t)

	env.send(t, `{"cmd":"sendlog","sn":"FP-1001","record":[{"enrollid":500,"name":"Carol","time":"2026-03-10 09:00:00"}]}`)
	resp := env.recv(t)

	if resp.Result {
		t.Errorf("result = true for a failed delivery: %+v", resp)
	}

	pending, err := queue.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].EnrollID != "500" || pending[0].DeviceID != "FP-1001" {
		t.Errorf("queued checkin = %+v", pending[0])
	}
}

func TestEndToEnd_DuplicateUploadAcknowledgedOnce(t *testing.T) {
	env, _ := setupEndToEnd(t)

	env.send(t, `{"cmd":"reg","sn":"FP-1001"}`)
	env.recv(t)

	frame := `{"cmd":"sendlog","sn":"FP-1001","record":[{"enrollid":101,"name":"Alice","time":"2026-03-10 08:30:00"}]}`

	env.send(t, frame)
	first := env.recv(t)
	if !first.Result {
		t.Fatalf("first upload failed: %+v", first)
	}

	// The same punch again: acknowledged without another backend call.
	env.send(t, frame)
	second := env.recv(t)
	if !second.Result {
		t.Errorf("duplicate upload not acknowledged: %+v", second)
	}
	if len(second.Details) != 1 || second.Details[0].Status != "success" {
		t.Errorf("duplicate details = %+v", second.Details)
	}
}
