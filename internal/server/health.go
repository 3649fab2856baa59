// Package server serves the HTTP health and readiness endpoints of stratad
// and tracks the liveness of its background workers.
//
//	/healthz  liveness: not shutting down and every registered worker alive
//	/readyz   readiness: every ReadinessChecker passes within the timeout
//	/debug/pprof/...
//
// Extra handlers such as /debug/state are mounted with RegisterHandler.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strata-io/strata/internal/logging"
)

// Status values reported by /healthz and /readyz.
const (
	StatusOK           = "ok"
	StatusDegraded     = "degraded"
	StatusNotReady     = "not_ready"
	StatusShuttingDown = "shutting_down"
)

// DefaultReadinessTimeout bounds each readiness check.
const DefaultReadinessTimeout = 5 * time.Second

// DefaultStaleAfter is how long a worker may go without a beat before
// /healthz reports it unhealthy.
const DefaultStaleAfter = 30 * time.Second

// ReadinessChecker is implemented by components that take part in /readyz:
// the checkpoint archive and the background workers.
type ReadinessChecker interface {
	Name() string
	// CheckReady returns nil when the component is ready.
	CheckReady(ctx context.Context) error
}

// Status is the body of both endpoints.
type Status struct {
	Status  string                  `json:"status"`
	Workers map[string]WorkerStatus `json:"workers,omitempty"`
	Checks  map[string]CheckResult  `json:"checks,omitempty"`
}

// WorkerStatus describes one registered worker.
type WorkerStatus struct {
	Running bool   `json:"running"`
	Healthy bool   `json:"healthy"`
	Beats   uint64 `json:"beats"`
	// SinceBeatMs is the time since the last beat, or since registration.
	SinceBeatMs int64 `json:"sinceBeatMs"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

type workerState struct {
	running  bool
	beats    uint64
	lastBeat time.Time
}

// HealthServer serves liveness and readiness. It implements worker.Monitor.
type HealthServer struct {
	addr   string
	logger *logging.Logger

	shuttingDown atomic.Bool

	mu               sync.RWMutex
	boundAddr        string
	server           *http.Server
	workers          map[string]*workerState
	checks           []ReadinessChecker
	readinessTimeout time.Duration
	staleAfter       time.Duration
	handlers         map[string]http.Handler
}

// NewHealthServer creates a health server for addr. It does not listen
// until Start.
func NewHealthServer(addr string, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.Global()
	}
	return &HealthServer{
		addr:             addr,
		logger:           logger.WithComponent("health"),
		workers:          make(map[string]*workerState),
		readinessTimeout: DefaultReadinessTimeout,
		staleAfter:       DefaultStaleAfter,
		handlers:         make(map[string]http.Handler),
	}
}

// RegisterHandler mounts handler at pattern. Call before Start.
func (h *HealthServer) RegisterHandler(pattern string, handler http.Handler) {
	if pattern == "" || handler == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[pattern] = handler
}

// RegisterReadinessCheck adds checker to /readyz.
func (h *HealthServer) RegisterReadinessCheck(checker ReadinessChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, checker)
}

func (h *HealthServer) SetReadinessTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessTimeout = d
}

// SetStaleAfter sets the beat deadline for workers. Zero disables
// staleness and only checks that they are running.
func (h *HealthServer) SetStaleAfter(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staleAfter = d
}

// WorkerStarted registers name as a running worker.
func (h *HealthServer) WorkerStarted(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[name] = &workerState{running: true, lastBeat: time.Now()}
}

// WorkerBeat records a liveness beat for name.
func (h *HealthServer) WorkerBeat(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.workers[name]; ok {
		w.beats++
		w.lastBeat = time.Now()
	}
}

// WorkerStopped marks name as exited. It stays listed as unhealthy until it
// is started again.
func (h *HealthServer) WorkerStopped(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.workers[name]; ok {
		w.running = false
	}
}

// SetShuttingDown fails both endpoints from now on.
func (h *HealthServer) SetShuttingDown() {
	h.shuttingDown.Store(true)
}

func (h *HealthServer) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// Start listens on the configured address and serves in the background.
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	h.mu.RLock()
	for pattern, handler := range h.handlers {
		mux.Handle(pattern, handler)
	}
	h.mu.RUnlock()

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		// readiness checks may take up to the readiness timeout
		WriteTimeout: 10 * time.Second,
	}

	h.mu.Lock()
	h.server = srv
	h.boundAddr = ln.Addr().String()
	h.mu.Unlock()

	h.logger.Infof("health server listening", map[string]any{"addr": ln.Addr().String()})
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorf("health server error", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (h *HealthServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.boundAddr != "" {
		return h.boundAddr
	}
	return h.addr
}

// Close shuts the server down. Safe before Start.
func (h *HealthServer) Close() error {
	h.mu.RLock()
	srv := h.server
	h.mu.RUnlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeStatus(w, r, h.Liveness())
}

func (h *HealthServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeStatus(w, r, h.Readiness(r.Context()))
}

func writeStatus(w http.ResponseWriter, r *http.Request, status Status) {
	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusOK {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if r.Method != http.MethodHead {
		json.NewEncoder(w).Encode(status)
	}
}

// shutdownStatus returns the shutting-down status, or false when running.
func (h *HealthServer) shutdownStatus() (Status, bool) {
	if !h.shuttingDown.Load() {
		return Status{}, false
	}
	return Status{
		Status: StatusShuttingDown,
		Checks: map[string]CheckResult{
			"shutdown": {Healthy: false, Message: "engine is shutting down"},
		},
	}, true
}

// Liveness reports whether every registered worker is running and, unless
// staleness is disabled, has beaten recently.
func (h *HealthServer) Liveness() Status {
	if s, ok := h.shutdownStatus(); ok {
		return s
	}
	status := Status{
		Status:  StatusOK,
		Workers: make(map[string]WorkerStatus),
		Checks: map[string]CheckResult{
			"shutdown": {Healthy: true, Message: "engine is running"},
		},
	}

	now := time.Now()
	h.mu.RLock()
	defer h.mu.RUnlock()

	healthy := true
	for name, w := range h.workers {
		since := now.Sub(w.lastBeat)
		ok := w.running && (h.staleAfter <= 0 || since < h.staleAfter)
		status.Workers[name] = WorkerStatus{
			Running:     w.running,
			Healthy:     ok,
			Beats:       w.beats,
			SinceBeatMs: since.Milliseconds(),
		}
		healthy = healthy && ok
	}

	switch {
	case !healthy:
		status.Status = StatusDegraded
		status.Checks["workers"] = CheckResult{Healthy: false, Message: "one or more workers are stopped or stale"}
	case len(h.workers) > 0:
		status.Checks["workers"] = CheckResult{Healthy: true, Message: "all workers are running"}
	}
	return status
}

// Readiness runs every readiness check concurrently, each bounded by the
// readiness timeout.
func (h *HealthServer) Readiness(ctx context.Context) Status {
	if s, ok := h.shutdownStatus(); ok {
		return s
	}

	h.mu.RLock()
	checks := append([]ReadinessChecker(nil), h.checks...)
	timeout := h.readinessTimeout
	h.mu.RUnlock()

	results := make([]error, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = c.CheckReady(checkCtx)
		}()
	}
	wg.Wait()

	status := Status{
		Status: StatusOK,
		Checks: map[string]CheckResult{
			"shutdown": {Healthy: true, Message: "engine is running"},
		},
	}
	for i, c := range checks {
		if err := results[i]; err != nil {
			status.Status = StatusNotReady
			status.Checks[c.Name()] = CheckResult{Healthy: false, Message: err.Error()}
			continue
		}
		status.Checks[c.Name()] = CheckResult{Healthy: true, Message: "ready"}
	}
	return status
}
