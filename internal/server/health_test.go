package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/strata-io/strata/internal/worker"
)

var _ worker.Monitor = (*HealthServer)(nil)

func healthz(t *testing.T, h *HealthServer, method string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.handleHealthz(w, httptest.NewRequest(method, "/healthz", nil))
	return w
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *HealthServer)
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no workers",
			setup:      func(*HealthServer) {},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name: "running workers",
			setup: func(h *HealthServer) {
				h.WorkerStarted("checkpoint-server")
				h.WorkerStarted("trim-coordinator")
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name: "stopped worker",
			setup: func(h *HealthServer) {
				h.WorkerStarted("checkpoint-server")
				h.WorkerStopped("checkpoint-server")
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDegraded,
		},
		{
			name: "stale worker",
			setup: func(h *HealthServer) {
				h.WorkerStarted("trim-coordinator")
				h.workers["trim-coordinator"].lastBeat = time.Now().Add(-DefaultStaleAfter - time.Second)
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDegraded,
		},
		{
			name: "stale worker with staleness disabled",
			setup: func(h *HealthServer) {
				h.SetStaleAfter(0)
				h.WorkerStarted("checkpoint-server")
				h.workers["checkpoint-server"].lastBeat = time.Now().Add(-time.Hour)
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name:       "shutting down",
			setup:      func(h *HealthServer) { h.SetShuttingDown() },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusShuttingDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthServer(":0", nil)
			tt.setup(h)

			w := healthz(t, h, http.MethodGet)
			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %q", ct)
			}
			if status := decodeStatus(t, w); status.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, status.Status)
			}
		})
	}
}

func TestHealthzHeadAndMethod(t *testing.T) {
	h := NewHealthServer(":0", nil)

	w := healthz(t, h, http.MethodHead)
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("HEAD: code %d, body %q", w.Code, w.Body.String())
	}

	w = healthz(t, h, http.MethodPost)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: expected %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}

func TestWorkerBeat(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.WorkerStarted("checkpoint-server")
	before := h.workers["checkpoint-server"].lastBeat

	time.Sleep(5 * time.Millisecond)
	h.WorkerBeat("checkpoint-server")
	h.WorkerBeat("checkpoint-server")
	h.WorkerBeat("unknown")

	ws := h.Liveness().Workers["checkpoint-server"]
	if ws.Beats != 2 || !ws.Running || !ws.Healthy {
		t.Errorf("worker status = %+v", ws)
	}
	if !h.workers["checkpoint-server"].lastBeat.After(before) {
		t.Error("beat should move the last beat time")
	}
	if _, ok := h.Liveness().Workers["unknown"]; ok {
		t.Error("beats for unregistered workers are ignored")
	}
}

func TestWorkerMonitorIntegration(t *testing.T) {
	h := NewHealthServer(":0", nil)
	handle := worker.Start("checkpoint-server", func(l *worker.Loop) error {
		for !l.Wait(0) {
			l.Beat()
		}
		return nil
	}, worker.WithMonitor(h))

	handle.Wake()
	deadline := time.Now().Add(2 * time.Second)
	for h.Liveness().Workers["checkpoint-server"].Beats == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ws := h.Liveness().Workers["checkpoint-server"]; !ws.Running || ws.Beats == 0 {
		t.Errorf("worker status after wake = %+v", ws)
	}

	if err := handle.Stop(); err != nil {
		t.Fatal(err)
	}
	if status := h.Liveness(); status.Status != StatusDegraded {
		t.Errorf("expected %q after the worker exited, got %q", StatusDegraded, status.Status)
	}
}

func TestStartServesEndpoints(t *testing.T) {
	h := NewHealthServer("127.0.0.1:0", nil)
	h.RegisterHandler("/debug/state", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "state")
	}))
	h.RegisterHandler("", nil)
	if err := h.Start(); err != nil {
		t.Fatalf("failed to start health server: %v", err)
	}
	defer h.Close()

	for path, want := range map[string]int{
		"/healthz":     http.StatusOK,
		"/readyz":      http.StatusOK,
		"/debug/state": http.StatusTeapot,
	} {
		resp, err := http.Get("http://" + h.Addr() + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}

	if err := h.Close(); err != nil {
		t.Errorf("failed to close health server: %v", err)
	}
}

func TestAddrBeforeStart(t *testing.T) {
	h := NewHealthServer("127.0.0.1:9091", nil)
	if h.Addr() != "127.0.0.1:9091" {
		t.Errorf("Addr() = %q", h.Addr())
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close() without Start() should not error: %v", err)
	}
	if h.IsShuttingDown() {
		t.Error("should not be shutting down initially")
	}
	h.SetShuttingDown()
	if !h.IsShuttingDown() {
		t.Error("should be shutting down after SetShuttingDown")
	}
}
