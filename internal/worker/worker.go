// Package worker runs a single owned background goroutine with a coalescing
// wake signal and a stop that always joins.
//
// A Handle replaces the "thread + is-set flag + manual join" triple: a nil or
// already stopped Handle is safe to Stop again, and Stop returns only after
// the goroutine has exited.
package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrPanicked wraps a panic value recovered from a worker body when
// RecoverPanics is enabled.
var ErrPanicked = errors.New("worker: panicked")

// Monitor receives liveness updates for a worker. server.HealthServer
// implements it.
type Monitor interface {
	WorkerStarted(name string)
	WorkerBeat(name string)
	WorkerStopped(name string)
}

// RunFunc is the body of a worker. It returns when l.Wait or l.Sleep reports
// a stop, or on error.
type RunFunc func(l *Loop) error

// Option configures a Handle.
type Option func(*Handle)

// WithMonitor registers the worker with m for its lifetime.
func WithMonitor(m Monitor) Option {
	return func(h *Handle) {
		h.monitor = m
	}
}

// RecoverPanics turns a panic in the body into an error returned by Stop and
// Err. By default panics propagate and crash the process.
func RecoverPanics() Option {
	return func(h *Handle) {
		h.recoverPanics = true
	}
}

// Handle owns one background goroutine.
type Handle struct {
	name          string
	monitor       Monitor
	recoverPanics bool

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	err      error
}

// Start launches run in a new goroutine and returns its handle.
func Start(name string, run RunFunc, opts ...Option) *Handle {
	h := &Handle{
		name:   name,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.monitor != nil {
		h.monitor.WorkerStarted(name)
	}

	go h.run(run)
	return h
}

func (h *Handle) run(run RunFunc) {
	defer close(h.doneCh)
	if h.monitor != nil {
		defer h.monitor.WorkerStopped(h.name)
	}
	if h.recoverPanics {
		defer func() {
			if r := recover(); r != nil {
				h.setErr(fmt.Errorf("%w: %s: %v", ErrPanicked, h.name, r))
			}
		}()
	}

	l := &Loop{h: h}
	if err := run(l); err != nil {
		h.setErr(err)
	}
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// Name returns the worker name.
func (h *Handle) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}

// Wake signals the worker. Multiple wakes before the worker observes one
// coalesce into a single wake. Returns true if this call queued a wake.
func (h *Handle) Wake() bool {
	if h == nil {
		return false
	}
	select {
	case h.wake <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop requests the worker to exit and waits for it. It is safe to call on a
// nil Handle and more than once. The returned error is the body's error.
func (h *Handle) Stop() error {
	if h == nil {
		return nil
	}
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	<-h.doneCh
	return h.Err()
}

// Done is closed when the goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.doneCh
}

// Running reports whether the goroutine is still executing.
func (h *Handle) Running() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.doneCh:
		return false
	default:
		return true
	}
}

// Err returns the body's error once it has exited.
func (h *Handle) Err() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Loop is passed to a worker body and provides its waits.
type Loop struct {
	h *Handle
}

// Wait blocks until a wake, a stop or the timeout. d == 0 waits only for a
// wake or a stop. It returns true if the worker has been asked to stop.
func (l *Loop) Wait(d time.Duration) (stopped bool) {
	if l.Stopping() {
		return true
	}
	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-l.h.stopCh:
		return true
	case <-l.h.wake:
		return false
	case <-timeout:
		return false
	}
}

// Sleep waits for d ignoring wakes. It returns true if interrupted by a stop.
func (l *Loop) Sleep(d time.Duration) (stopped bool) {
	if d <= 0 {
		return l.Stopping()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-l.h.stopCh:
		return true
	case <-t.C:
		return false
	}
}

// Stopping reports whether Stop has been requested.
func (l *Loop) Stopping() bool {
	select {
	case <-l.h.stopCh:
		return true
	default:
		return false
	}
}

// Beat reports liveness to the monitor, if any.
func (l *Loop) Beat() {
	if l.h.monitor != nil {
		l.h.monitor.WorkerBeat(l.h.name)
	}
}
