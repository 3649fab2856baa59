package checkpoint

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-io/strata/internal/logging"
)

// fakeEngine counts checkpoints and optionally holds each one until released.
type fakeEngine struct {
	mu      sync.Mutex
	names   []string
	resets  atomic.Int32
	hold    chan struct{}
	started chan struct{}
	err     error
}

func (e *fakeEngine) Checkpoint(_ context.Context, name string) error {
	if e.started != nil {
		select {
		case e.started <- struct{}{}:
		default:
		}
	}
	if e.hold != nil {
		<-e.hold
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
	return e.err
}

func (e *fakeEngine) ResetWritten() {
	e.resets.Add(1)
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.names)
}

func newTestScheduler(e *fakeEngine, opts ...Option) *Scheduler {
	opts = append([]Option{WithLogger(logging.Discard()), WithLogResetter(e)}, opts...)
	return New(e, opts...)
}

func TestNeverStartsWithoutTriggers(t *testing.T) {
	e := &fakeEngine{}
	s := newTestScheduler(e)

	for _, cfg := range []Config{
		{},
		{LogEnabled: true},
		{Name: "nightly", LogEnabled: true},
		{InMemory: true},
	} {
		started, err := s.Configure(cfg)
		require.NoError(t, err)
		assert.False(t, started)
		assert.False(t, s.Running())
		assert.Equal(t, StateStopped, s.State())
	}
}

func TestInMemoryRejectsCheckpointConfig(t *testing.T) {
	s := newTestScheduler(&fakeEngine{})

	for _, cfg := range []Config{
		{LogSize: 1 << 20, InMemory: true, LogEnabled: true},
		{Wait: time.Second, InMemory: true},
	} {
		started, err := s.Configure(cfg)
		assert.ErrorIs(t, err, ErrInMemoryCheckpoint)
		assert.False(t, started)
		assert.False(t, s.Running())
	}
}

func TestLogSizeIgnoredWithoutJournal(t *testing.T) {
	s := newTestScheduler(&fakeEngine{})

	started, err := s.Configure(Config{LogSize: 1024, LogEnabled: false})
	require.NoError(t, err)
	assert.False(t, started)

	// the timer still runs, but log signals are ignored
	started, err = s.Configure(Config{Wait: time.Hour, LogSize: 1024, LogEnabled: false})
	require.NoError(t, err)
	assert.True(t, started)
	assert.False(t, s.Signal(4096))
	require.NoError(t, s.Stop())
}

func TestInvalidNameRejected(t *testing.T) {
	s := newTestScheduler(&fakeEngine{})
	_, err := s.Configure(Config{Wait: time.Hour, Name: "bad name"})
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.False(t, s.Running())
}

func TestSignalCoalesces(t *testing.T) {
	e := &fakeEngine{hold: make(chan struct{}), started: make(chan struct{}, 1)}
	s := newTestScheduler(e)

	started, err := s.Configure(Config{LogSize: 1000, LogEnabled: true})
	require.NoError(t, err)
	require.True(t, started)
	t.Cleanup(func() { _ = s.Stop() })

	woke := []bool{s.Signal(1000), s.Signal(1500), s.Signal(2000)}
	assert.Equal(t, []bool{true, false, false}, woke)

	<-e.started
	close(e.hold)

	require.Eventually(t, func() bool { return e.count() == 1 }, 2*time.Second, time.Millisecond)
	// give a redundant wake, if any, time to produce a second checkpoint
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, e.count())
	assert.Equal(t, []string{DefaultName}, e.names)
}

func TestSignalBelowThreshold(t *testing.T) {
	e := &fakeEngine{}
	s := newTestScheduler(e)
	_, err := s.Configure(Config{LogSize: 1000, LogEnabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	assert.False(t, s.Signal(999))
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, e.count())
}

func TestSignalRearmsAfterCheckpoint(t *testing.T) {
	e := &fakeEngine{}
	s := newTestScheduler(e)
	_, err := s.Configure(Config{LogSize: 100, LogEnabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	require.True(t, s.Signal(100))
	require.Eventually(t, func() bool { return e.count() == 1 }, 2*time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return s.Signal(150) }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return e.count() == 2 }, 2*time.Second, time.Millisecond)
	// one reset on Configure plus one per log-triggered checkpoint
	require.Eventually(t, func() bool { return e.resets.Load() >= 3 }, 2*time.Second, time.Millisecond)
}

func TestTimedCheckpoints(t *testing.T) {
	e := &fakeEngine{}
	s := newTestScheduler(e)
	_, err := s.Configure(Config{Wait: 5 * time.Millisecond, Name: "periodic"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.count() >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Stop())

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Equal(t, "periodic", e.names[0])
}

func TestStopIdempotent(t *testing.T) {
	s := newTestScheduler(&fakeEngine{})
	assert.NoError(t, s.Stop(), "stop when never started")
	assert.NoError(t, s.Stop())

	_, err := s.Configure(Config{Wait: time.Hour})
	require.NoError(t, err)
	assert.True(t, s.Running())
	assert.Equal(t, StateWaiting, s.State())

	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
	assert.False(t, s.Running())
	assert.Equal(t, StateStopped, s.State())
	assert.False(t, s.Signal(1<<40))
}

func TestReconfigureReplacesServer(t *testing.T) {
	e := &fakeEngine{}
	s := newTestScheduler(e)

	_, err := s.Configure(Config{Wait: time.Hour, Name: "first"})
	require.NoError(t, err)
	_, err = s.Configure(Config{Wait: 5 * time.Millisecond, Name: "second"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.count() >= 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Stop())

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.names {
		assert.Equal(t, "second", n)
	}

	// reconfiguring to no triggers leaves the scheduler stopped
	started, err := s.Configure(Config{})
	require.NoError(t, err)
	assert.False(t, started)
}

func TestCheckpointFailureIsFatal(t *testing.T) {
	boom := errors.New("disk full")
	e := &fakeEngine{err: boom}

	fatal := make(chan error, 1)
	s := newTestScheduler(e, WithFatalHandler(func(err error) { fatal <- err }))
	_, err := s.Configure(Config{Wait: time.Millisecond})
	require.NoError(t, err)

	select {
	case err := <-fatal:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("fatal handler not invoked")
	}

	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Stop(), boom)
	assert.Equal(t, 1, e.count(), "failed checkpoint is not retried")
}

func TestDefaultFatalUsesLoggerHook(t *testing.T) {
	var msg atomic.Value
	logger := logging.New(logging.Config{
		Level:   logging.LevelError,
		Output:  &discardWriter{},
		OnFatal: func(m string) { msg.Store(m) },
	})
	e := &fakeEngine{err: errors.New("EIO")}
	s := New(e, WithLogger(logger))
	_, err := s.Configure(Config{Wait: time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return msg.Load() != nil }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "checkpoint server error: EIO", msg.Load())
	_ = s.Stop()
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestValidateName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", DefaultName, false},
		{DefaultName, DefaultName, false},
		{"nightly", "nightly", false},
		{"v1.2_backup-3", "v1.2_backup-3", false},
		{DefaultName + ".1", "", true},
		{"all", "", true},
		{"has space", "", true},
		{"slash/name", "", true},
		{"näme", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ValidateName(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
