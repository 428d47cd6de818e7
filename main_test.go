package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gluk-w/pingmatrix/internal/handlers"
	"github.com/gluk-w/pingmatrix/internal/middleware"
	"github.com/gluk-w/pingmatrix/internal/model"
	"github.com/gluk-w/pingmatrix/internal/sshproxy"
	"github.com/gluk-w/pingmatrix/internal/storage"
	"github.com/gluk-w/pingmatrix/internal/worker"
)

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	prevStore, prevStream := handlers.Store, handlers.Stream
	handlers.Store = storage.NewMemoryStore()
	handlers.Stream = handlers.NewHub()
	t.Cleanup(func() { handlers.Store, handlers.Stream = prevStore, prevStream })

	ui := t.TempDir()
	if err := os.WriteFile(filepath.Join(ui, "index.html"), []byte("<title>ping matrix</title>"), 0644); err != nil {
		t.Fatal(err)
	}
	allow, err := middleware.ParseAllowlist("127.0.0.0/8,::1/128")
	if err != nil {
		t.Fatal(err)
	}
	return newServerRouter(allow, ui)
}

func do(h http.Handler, method, path, remote, contentType, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.RemoteAddr = remote
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func stored(t *testing.T, h http.Handler) []model.Measurement {
	t.Helper()
	w := do(h, http.MethodGet, "/pings", "198.51.100.7:4000", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /pings = %d", w.Code)
	}
	var resp struct {
		Pings []model.Measurement `json:"pings"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp.Pings
}

func TestIngestFromAllowlistedAddress(t *testing.T) {
	h := setupServer(t)
	w := do(h, http.MethodPost, "/pings", "127.0.0.1:40000", "application/json", `{"src":"a","dst":"b","latency_ms":15}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST = %d: %s", w.Code, w.Body.String())
	}
	got := stored(t, h)
	if len(got) != 1 || got[0] != (model.Measurement{Source: "a", Destination: "b", LatencyMillis: 15}) {
		t.Fatalf("pings = %v", got)
	}
}

func TestIngestRejectedOutsideAllowlist(t *testing.T) {
	h := setupServer(t)
	r := httptest.NewRequest(http.MethodPost, "/pings", strings.NewReader(`{"src":"a","dst":"b","latency_ms":15}`))
	r.RemoteAddr = "203.0.113.9:40000"
	r.Header.Set("X-Forwarded-For", "127.0.0.1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("POST = %d", w.Code)
	}
	if got := stored(t, h); len(got) != 0 {
		t.Fatalf("store changed: %v", got)
	}
}

func TestIngestValidationOrder(t *testing.T) {
	h := setupServer(t)
	// Allowlist is checked before content type and body.
	if w := do(h, http.MethodPost, "/pings", "203.0.113.9:1", "text/plain", "junk"); w.Code != http.StatusForbidden {
		t.Fatalf("non-allowlisted junk = %d, want 403", w.Code)
	}
	if w := do(h, http.MethodPost, "/pings", "127.0.0.1:1", "text/plain", `{"src":"a","dst":"b","latency_ms":1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("wrong content type = %d, want 400", w.Code)
	}
	if w := do(h, http.MethodPost, "/pings", "127.0.0.1:1", "", `{"src":"a"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("partial body = %d, want 400", w.Code)
	}
	if w := do(h, http.MethodPost, "/pings", "[::1]:1", "", `{"src":"a","dst":"b","latency_ms":2}`); w.Code != http.StatusCreated {
		t.Fatalf("ipv6 loopback without content type = %d, want 201", w.Code)
	}
	if got := stored(t, h); len(got) != 1 {
		t.Fatalf("pings = %v", got)
	}
}

func TestFallthroughRoutes(t *testing.T) {
	h := setupServer(t)
	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/nope.js", http.StatusNotFound},
		{http.MethodPost, "/other", http.StatusNotImplemented},
		{http.MethodPut, "/pings", http.StatusNotImplemented},
		{http.MethodDelete, "/pings", http.StatusNotImplemented},
		{http.MethodPatch, "/health", http.StatusNotImplemented},
		{http.MethodOptions, "/pings", http.StatusNotFound},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		w := do(h, tt.method, tt.path, "127.0.0.1:1", "", "")
		if w.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
		}
	}
}

func TestMetricsCountIngest(t *testing.T) {
	h := setupServer(t)
	do(h, http.MethodPost, "/pings", "127.0.0.1:1", "", `{"src":"a","dst":"b","latency_ms":2}`)
	w := do(h, http.MethodGet, "/metrics", "127.0.0.1:1", "", "")
	if !strings.Contains(w.Body.String(), `pingmatrix_ingest_total{code="201"}`) {
		t.Fatal("ingest counter missing from /metrics")
	}
}

type stubAgent struct{}

func (stubAgent) Status() worker.Status { return worker.Status{Running: true} }

type stubSessions struct{}

func (stubSessions) States() map[model.HostID]sshproxy.StateInfo { return nil }

func TestAgentRouter(t *testing.T) {
	h := newAgentRouter(stubAgent{}, stubSessions{})
	if w := do(h, http.MethodGet, "/health", "127.0.0.1:1", "", ""); w.Code != http.StatusOK {
		t.Fatalf("/health = %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/metrics", "127.0.0.1:1", "", ""); w.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", w.Code)
	}
}
