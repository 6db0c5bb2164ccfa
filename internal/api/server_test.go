package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tbracken/foundry/internal/api"
	"github.com/tbracken/foundry/internal/config"
	"github.com/tbracken/foundry/internal/probe"
	"github.com/tbracken/foundry/internal/store"
	"github.com/tbracken/foundry/internal/worker"
)

// admitAllProber admits every spawn and reports a bare host.
type admitAllProber struct{}

func (admitAllProber) CanSpawn(context.Context, probe.Requirements) (bool, error) {
	return true, nil
}

func (admitAllProber) Topology(context.Context) (probe.Topology, error) {
	return probe.Topology{CPUCores: 4, TotalMemoryMB: 8192}, nil
}

func newTestServer(t *testing.T, pol config.Policy) *api.Server {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	spawner, err := worker.NewSpawner(pol, admitAllProber{}, logger)
	if err != nil {
		t.Fatalf("NewSpawner: %v", err)
	}
	mgr := worker.NewManager(spawner, 10, db, logger)
	t.Cleanup(func() { mgr.TerminateAll() })

	return api.NewServer(":0", mgr, db, logger)
}

// spawnBody builds the JSON request that runs sh with the given script.
func spawnBody(t *testing.T, script string) *bytes.Buffer {
	t.Helper()
	body := fmt.Sprintf(`{
		"template": {
			"kind": "custom",
			"app": {"name": "sh", "executable": "/bin/sh", "args": ["-c", %q]}
		},
		"task": {"kind": "idle"},
		"deployment": "local"
	}`, script)
	return bytes.NewBufferString(body)
}

func doRequest(t *testing.T, srv *api.Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeInfo(t *testing.T, rec *httptest.ResponseRecorder) worker.Info {
	t.Helper()
	var info worker.Info
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode worker info: %v", err)
	}
	return info
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var health struct {
		Status        string `json:"status"`
		ActiveWorkers int    `json:"active_workers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.ActiveWorkers != 0 {
		t.Errorf("health = %+v, want ok with no workers", health)
	}

	doRequest(t, srv, http.MethodPost, "/v1/workers", spawnBody(t, "sleep 60"))

	rec = doRequest(t, srv, http.MethodGet, "/healthz", nil)
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.ActiveWorkers != 1 {
		t.Errorf("active workers = %d, want 1", health.ActiveWorkers)
	}
}

func TestSpawnAndGetWorker(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	rec := doRequest(t, srv, http.MethodPost, "/v1/workers", spawnBody(t, "sleep 60"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	info := decodeInfo(t, rec)
	if info.ID == "" {
		t.Fatal("spawned worker must have an id")
	}
	if info.State != worker.StateRunning {
		t.Errorf("state = %q, want running", info.State)
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/workers/"+info.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/workers?active=true", nil)
	var infos []worker.Info
	if err := json.NewDecoder(rec.Body).Decode(&infos); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(infos) != 1 {
		t.Errorf("active workers = %d, want 1", len(infos))
	}
}

func TestSpawnInvalidBody(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	rec := doRequest(t, srv, http.MethodPost, "/v1/workers", bytes.NewBufferString("{nope"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSpawnDisabledPolicy(t *testing.T) {
	pol := config.DefaultPolicy()
	pol.Approval = config.ApprovalDisabled
	srv := newTestServer(t, pol)

	rec := doRequest(t, srv, http.MethodPost, "/v1/workers", spawnBody(t, "exit 0"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestSpawnDistributedNotImplemented(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	body := bytes.NewBufferString(`{
		"task": {"kind": "idle"},
		"deployment": "distributed"
	}`)
	rec := doRequest(t, srv, http.MethodPost, "/v1/workers", body)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501: %s", rec.Code, rec.Body.String())
	}
}

func TestGetWorkerNotFound(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	rec := doRequest(t, srv, http.MethodGet, "/v1/workers/01MISSING", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTerminateWorker(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	rec := doRequest(t, srv, http.MethodPost, "/v1/workers", spawnBody(t, "sleep 60"))
	info := decodeInfo(t, rec)

	rec = doRequest(t, srv, http.MethodDelete, "/v1/workers/"+info.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	terminated := decodeInfo(t, rec)
	if !terminated.IsTerminal {
		t.Error("worker should be terminal after delete")
	}

	// Idempotent: a second delete also succeeds.
	rec = doRequest(t, srv, http.MethodDelete, "/v1/workers/"+info.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second delete status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/v1/workers/01MISSING", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown delete status = %d, want 404", rec.Code)
	}
}

func TestWaitWorkerReturnsResult(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	rec := doRequest(t, srv, http.MethodPost, "/v1/workers", spawnBody(t, "exit 5"))
	info := decodeInfo(t, rec)

	rec = doRequest(t, srv, http.MethodPost, "/v1/workers/"+info.ID+"/wait?timeout_ms=5000", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var result worker.TaskResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ExitCode != 5 || result.Success {
		t.Errorf("result = %+v, want exit 5 and no success", result)
	}
}

func TestWaitWorkerTimeout(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	rec := doRequest(t, srv, http.MethodPost, "/v1/workers", spawnBody(t, "sleep 60"))
	info := decodeInfo(t, rec)

	rec = doRequest(t, srv, http.MethodPost, "/v1/workers/"+info.ID+"/wait?timeout_ms=50", nil)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestUpdateProgress(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	rec := doRequest(t, srv, http.MethodPost, "/v1/workers", spawnBody(t, "sleep 60"))
	info := decodeInfo(t, rec)

	body := bytes.NewBufferString(`{"progress": 0.75}`)
	rec = doRequest(t, srv, http.MethodPut, "/v1/workers/"+info.ID+"/progress", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	updated := decodeInfo(t, rec)
	if updated.Progress != 0.75 {
		t.Errorf("progress = %v, want 0.75", updated.Progress)
	}

	rec = doRequest(t, srv, http.MethodPut, "/v1/workers/01MISSING/progress",
		bytes.NewBufferString(`{"progress": 0.5}`))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown worker status = %d, want 404", rec.Code)
	}
}

func TestTerminateAllWorkers(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	for i := 0; i < 2; i++ {
		doRequest(t, srv, http.MethodPost, "/v1/workers", spawnBody(t, "sleep 60"))
	}

	rec := doRequest(t, srv, http.MethodPost, "/v1/workers/terminate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	doRequest(t, srv, http.MethodPost, "/v1/workers", spawnBody(t, "sleep 60"))

	rec := doRequest(t, srv, http.MethodGet, "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		ActiveWorkers int            `json:"active_workers"`
		Total         int            `json:"total"`
		ByState       map[string]int `json:"by_state"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if resp.ActiveWorkers != 1 || resp.Total != 1 {
		t.Errorf("stats = %+v, want one active worker", resp)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t, config.DefaultPolicy())

	doRequest(t, srv, http.MethodPost, "/v1/workers", spawnBody(t, "sleep 60"))

	rec := doRequest(t, srv, http.MethodGet, "/v1/history?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Workers []json.RawMessage `json:"workers"`
		Total   int               `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if resp.Total != 1 || len(resp.Workers) != 1 {
		t.Errorf("history = %+v, want one record", resp)
	}
}
