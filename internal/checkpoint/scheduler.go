// Package checkpoint runs the background checkpoint server: a single
// goroutine that checkpoints the engine on a timer and/or when the journal
// grows past a threshold.
package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/strata-io/strata/internal/logging"
	"github.com/strata-io/strata/internal/worker"
)

// Scheduler states.
const (
	StateStopped       = "stopped"
	StateWaiting       = "waiting"
	StateCheckpointing = "checkpointing"
)

const (
	eventStart = "start"
	eventWake  = "wake"
	eventDone  = "done"
	eventStop  = "stop"
)

// Trigger labels passed to the metrics recorder.
const (
	TriggerTimer = "timer"
	TriggerLog   = "log"
)

// Checkpointer durably persists engine state.
type Checkpointer interface {
	Checkpoint(ctx context.Context, name string) error
}

// CheckpointerFunc adapts a function to Checkpointer.
type CheckpointerFunc func(ctx context.Context, name string) error

// Checkpoint calls f(ctx, name).
func (f CheckpointerFunc) Checkpoint(ctx context.Context, name string) error {
	return f(ctx, name)
}

// LogResetter clears the "journal bytes written since last checkpoint"
// counter.
type LogResetter interface {
	ResetWritten()
}

// FatalFunc handles a failed checkpoint. The default logs and panics.
type FatalFunc func(err error)

// MetricsRecorder receives scheduler observations.
type MetricsRecorder interface {
	RecordCheckpoint(trigger string, d time.Duration, err error)
	RecordSignal(woke bool)
	SetRunning(running bool)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The global logger is used otherwise.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithMetrics records checkpoints, signals and the running state on m.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLogResetter clears the journal's written counter on configuration
// and after each log-triggered checkpoint.
func WithLogResetter(r LogResetter) Option {
	return func(s *Scheduler) {
		s.resetter = r
	}
}

// WithFatalHandler replaces the panic issued on checkpoint failure.
func WithFatalHandler(f FatalFunc) Option {
	return func(s *Scheduler) {
		s.fatal = f
	}
}

// WithMonitor reports the checkpoint server's liveness to m.
func WithMonitor(m worker.Monitor) Option {
	return func(s *Scheduler) {
		s.monitor = m
	}
}

// Scheduler owns the checkpoint server goroutine and its trigger state.
type Scheduler struct {
	cp       Checkpointer
	logger   *logging.Logger
	metrics  MetricsRecorder
	resetter LogResetter
	fatal    FatalFunc
	monitor  worker.Monitor

	// configMu serializes Configure and Stop.
	configMu sync.Mutex

	mu        sync.Mutex
	wait      time.Duration
	logSize   int64
	name      string
	debounce  time.Duration
	signalled bool
	handle    *worker.Handle

	state *fsm.FSM
}

// New creates a stopped scheduler that checkpoints through cp.
func New(cp Checkpointer, opts ...Option) *Scheduler {
	s := &Scheduler{cp: cp}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Global()
	}
	s.logger = s.logger.WithComponent("checkpoint")
	if s.fatal == nil {
		logger := s.logger
		s.fatal = func(err error) {
			logger.Fatalf("checkpoint server error", map[string]any{"error": err.Error()})
		}
	}

	s.state = fsm.NewFSM(
		StateStopped,
		fsm.Events{
			{Name: eventStart, Src: []string{StateStopped}, Dst: StateWaiting},
			{Name: eventWake, Src: []string{StateWaiting}, Dst: StateCheckpointing},
			{Name: eventDone, Src: []string{StateCheckpointing}, Dst: StateWaiting},
			{Name: eventStop, Src: []string{StateWaiting, StateCheckpointing}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debugf("checkpoint server state", map[string]any{
					"from":  e.Src,
					"to":    e.Dst,
					"event": e.Event,
				})
			},
		},
	)
	return s
}

// Configure replaces the running configuration. Any running server is
// stopped and joined first. It returns whether a new server was started.
func (s *Scheduler) Configure(cfg Config) (bool, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	if err := s.stopLocked(); err != nil {
		s.logger.Warnf("previous checkpoint server exited with error", map[string]any{
			"error": err.Error(),
		})
	}

	if cfg.Wait < 0 || cfg.LogSize < 0 {
		return false, errors.New("checkpoint: wait and log size must not be negative")
	}
	if (cfg.Wait != 0 || cfg.LogSize != 0) && cfg.InMemory {
		return false, ErrInMemoryCheckpoint
	}

	if s.resetter != nil {
		s.resetter.ResetWritten()
	}

	logSize := cfg.LogSize
	if !cfg.LogEnabled && logSize != 0 {
		s.logger.Warnf("checkpoint log size ignored, journal disabled", map[string]any{
			"logSize": logSize,
		})
		logSize = 0
	}
	if cfg.Wait == 0 && logSize == 0 {
		return false, nil
	}

	name, err := ValidateName(cfg.Name)
	if err != nil {
		return false, err
	}

	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}

	s.mu.Lock()
	s.wait = cfg.Wait
	s.logSize = logSize
	s.name = name
	s.debounce = debounce
	s.signalled = false
	s.mu.Unlock()

	if err := s.state.Event(context.Background(), eventStart); err != nil {
		return false, err
	}

	var opts []worker.Option
	if s.monitor != nil {
		opts = append(opts, worker.WithMonitor(s.monitor))
	}
	h := worker.Start("checkpoint-server", s.run, opts...)

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetRunning(true)
	}
	s.logger.Infof("checkpoint server started", map[string]any{
		"waitSecs": cfg.Wait.Seconds(),
		"logSize":  logSize,
		"name":     name,
	})
	return true, nil
}

// Signal reports the journal size written since the last checkpoint. At or
// above the log-size threshold it wakes the server, at most once until the
// next checkpoint completes. It returns whether this call woke the server.
func (s *Scheduler) Signal(logBytes int64) bool {
	s.mu.Lock()
	if s.handle == nil || s.logSize == 0 || logBytes < s.logSize || s.signalled {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordSignal(false)
		}
		return false
	}
	s.signalled = true
	h := s.handle
	s.mu.Unlock()

	h.Wake()
	if s.metrics != nil {
		s.metrics.RecordSignal(true)
	}
	return true
}

// Running reports whether the server goroutine is alive.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.Running()
}

// State returns the scheduler state.
func (s *Scheduler) State() string {
	return s.state.Current()
}

// Stop clears the signal, stops and joins the server and clears all
// configuration. Safe to call repeatedly and when never started. The error
// is the one that terminated the server, if any.
func (s *Scheduler) Stop() error {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	return s.stopLocked()
}

func (s *Scheduler) stopLocked() error {
	s.mu.Lock()
	s.signalled = false
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	err := h.Stop()

	s.mu.Lock()
	s.handle = nil
	s.wait = 0
	s.logSize = 0
	s.name = ""
	s.debounce = 0
	s.signalled = false
	s.mu.Unlock()

	if s.state.Can(eventStop) {
		_ = s.state.Event(context.Background(), eventStop)
	}
	if s.metrics != nil {
		s.metrics.SetRunning(false)
	}
	s.logger.Info("checkpoint server stopped")
	return err
}

func (s *Scheduler) run(l *worker.Loop) error {
	ctx := context.Background()

	s.mu.Lock()
	wait, logSize, name, debounce := s.wait, s.logSize, s.name, s.debounce
	s.mu.Unlock()

	for {
		// With only a log size configured this waits for a signal.
		if l.Wait(wait) {
			return nil
		}
		l.Beat()

		s.mu.Lock()
		trigger := TriggerTimer
		if s.signalled {
			trigger = TriggerLog
		}
		s.mu.Unlock()

		_ = s.state.Event(ctx, eventWake)
		started := time.Now()
		err := s.cp.Checkpoint(ctx, name)
		elapsed := time.Since(started)
		if s.metrics != nil {
			s.metrics.RecordCheckpoint(trigger, elapsed, err)
		}
		if err != nil {
			s.fatal(err)
			return err
		}
		s.logger.Infof("checkpoint complete", map[string]any{
			"name":       name,
			"trigger":    trigger,
			"durationMs": elapsed.Milliseconds(),
		})
		_ = s.state.Event(ctx, eventDone)

		if logSize != 0 {
			if s.resetter != nil {
				s.resetter.ResetWritten()
			}
			s.mu.Lock()
			s.signalled = false
			s.mu.Unlock()

			// Absorb a wake raised while the checkpoint ran.
			if debounce > 0 && l.Wait(debounce) {
				return nil
			}
		}
	}
}
