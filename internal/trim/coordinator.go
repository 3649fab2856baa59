// Package trim batches freed extents and reclaims them with device discards
// from a single background goroutine.
package trim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/strata-io/strata/internal/logging"
	"github.com/strata-io/strata/internal/worker"
)

// Defaults applied by NewCoordinator for zero Config fields.
const (
	DefaultCapacity          = 4096
	DefaultMinLength         = 4096
	DefaultCooldownThreshold = 10000
	DefaultCooldown          = 50 * time.Millisecond
)

// Config controls batching and backpressure.
type Config struct {
	// Capacity bounds the pending buffer.
	Capacity int
	// TriggerExtents wakes the coordinator once this many extents are
	// pending. Zero wakes on every free.
	TriggerExtents int
	// TriggerBytes wakes the coordinator once this many bytes are pending.
	// Zero disables the byte trigger.
	TriggerBytes int64
	// MinLength is the smallest merged range worth discarding.
	MinLength int64
	// Interval adds a periodic wake. Zero waits only for producer signals.
	Interval     time.Duration
	Backpressure Policy
	// Cooldown is slept after each batch when TriggerExtents is at least
	// CooldownThreshold.
	CooldownThreshold int
	Cooldown          time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MinLength <= 0 {
		c.MinLength = DefaultMinLength
	}
	if c.CooldownThreshold <= 0 {
		c.CooldownThreshold = DefaultCooldownThreshold
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	return c
}

// BatchResult summarizes one drain.
type BatchResult struct {
	Extents   int
	Ranges    int
	Discarded int
	Skipped   int
	Rejected  int
	Failed    int
	Bytes     int64
}

// MetricsRecorder receives coordinator observations.
type MetricsRecorder interface {
	RecordEnqueued()
	RecordDropped(policy Policy)
	RecordBatch(res BatchResult, d time.Duration)
	SetPending(n int)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The global logger is used otherwise.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithMetrics records enqueues, drops, batches and the pending count on m.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithMonitor reports the coordinator goroutine's liveness to m.
func WithMonitor(m worker.Monitor) Option {
	return func(c *Coordinator) {
		c.monitor = m
	}
}

// Coordinator owns the pending extent buffer, its staging copy and the
// discard goroutine.
type Coordinator struct {
	cfg       Config
	discarder Discarder
	logger    *logging.Logger
	metrics   MetricsRecorder
	monitor   worker.Monitor

	buf *pendingBuffer

	// drainMu serializes drains and guards staging.
	drainMu sync.Mutex
	staging []Extent

	mu      sync.Mutex
	handle  *worker.Handle
	stopped bool
}

// NewCoordinator creates a coordinator. Call Start to launch its goroutine.
func NewCoordinator(d Discarder, cfg Config, opts ...Option) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		cfg:       cfg,
		discarder: d,
		buf:       newPendingBuffer(cfg.Capacity),
		staging:   make([]Extent, 0, cfg.Capacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Global()
	}
	c.logger = c.logger.WithComponent("trim")
	if c.discarder == nil {
		c.discarder = NopDiscarder{}
	}
	return c
}

// Start launches the coordinator goroutine. It is a no-op if already running.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrClosed
	}
	if c.handle != nil {
		return nil
	}

	opts := []worker.Option{}
	if c.monitor != nil {
		opts = append(opts, worker.WithMonitor(c.monitor))
	}
	c.handle = worker.Start("trim-coordinator", c.run, opts...)

	c.logger.Infof("trim coordinator started", map[string]any{
		"capacity":       c.cfg.Capacity,
		"triggerExtents": c.cfg.TriggerExtents,
		"minLength":      c.cfg.MinLength,
		"backpressure":   c.cfg.Backpressure.String(),
	})
	return nil
}

// Running reports whether the goroutine is alive.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle.Running()
}

// NotifyFree records [start, end) as freed. When the buffer is full the
// configured policy applies: PolicyDropNewest returns ErrBufferFull,
// PolicyDropOldest evicts the oldest entry and returns nil, PolicyBlock waits
// until space frees, ctx is done or the coordinator closes.
func (c *Coordinator) NotifyFree(ctx context.Context, start, end int64) error {
	e := Extent{Start: start, End: end}
	if !e.Valid() {
		c.logger.Warnf("ignoring invalid freed extent", map[string]any{
			"start": start,
			"end":   end,
		})
		return ErrInvalidExtent
	}

	evicted, full, err := c.buf.push(ctx, e, c.cfg.Backpressure)
	if full {
		c.wake()
	}
	if err != nil {
		if errors.Is(err, ErrBufferFull) {
			c.logger.Warnf("pending extent buffer full, dropping newest", map[string]any{
				"start": start,
				"end":   end,
			})
			if c.metrics != nil {
				c.metrics.RecordDropped(PolicyDropNewest)
			}
		}
		return err
	}
	if evicted != nil {
		c.logger.Warnf("pending extent buffer full, dropping oldest", map[string]any{
			"start": evicted.Start,
			"end":   evicted.End,
		})
		if c.metrics != nil {
			c.metrics.RecordDropped(PolicyDropOldest)
		}
	}
	if c.metrics != nil {
		c.metrics.RecordEnqueued()
		c.metrics.SetPending(c.buf.len())
	}

	if !full && c.triggered() {
		c.wake()
	}
	return nil
}

func (c *Coordinator) triggered() bool {
	if c.cfg.TriggerExtents <= 0 {
		return true
	}
	if c.buf.len() >= c.cfg.TriggerExtents {
		return true
	}
	return c.cfg.TriggerBytes > 0 && c.buf.pendingBytes() >= c.cfg.TriggerBytes
}

func (c *Coordinator) wake() {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	h.Wake()
}

// Pending returns the number of extents waiting in the shared buffer.
func (c *Coordinator) Pending() int {
	return c.buf.len()
}

func (c *Coordinator) cooldownEnabled() bool {
	return c.cfg.Cooldown > 0 && c.cfg.TriggerExtents >= c.cfg.CooldownThreshold
}

func (c *Coordinator) run(l *worker.Loop) error {
	ctx := context.Background()
	for {
		stopped := l.Wait(c.cfg.Interval)
		l.Beat()

		res := c.DrainOnce(ctx)
		if stopped {
			return nil
		}
		if res.Extents > 0 && c.cooldownEnabled() {
			if l.Sleep(c.cfg.Cooldown) {
				c.DrainOnce(ctx)
				return nil
			}
		}
	}
}

// DrainOnce swaps the pending buffer into the staging copy, merges it and
// issues one discard per merged range. Discard failures are logged and
// counted, never returned.
func (c *Coordinator) DrainOnce(ctx context.Context) BatchResult {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	started := time.Now()
	c.staging = c.buf.drainInto(c.staging[:0])
	if c.metrics != nil {
		c.metrics.SetPending(c.buf.len())
	}

	var res BatchResult
	res.Extents = len(c.staging)
	if res.Extents == 0 {
		return res
	}

	ranges, rejected := Merge(c.staging)
	res.Ranges = len(ranges)
	res.Rejected = len(rejected)
	for _, r := range rejected {
		c.logger.Errorf("rejecting merged range with non-positive length", map[string]any{
			"start":  r.Start,
			"end":    r.End,
			"length": r.Len(),
		})
	}

	for _, r := range ranges {
		if r.Len() < c.cfg.MinLength {
			res.Skipped++
			continue
		}
		if err := c.discarder.Discard(ctx, r, c.cfg.MinLength); err != nil {
			res.Failed++
			c.logger.Warnf("discard failed", map[string]any{
				"start":  r.Start,
				"end":    r.End,
				"length": r.Len(),
				"error":  err.Error(),
			})
			continue
		}
		res.Discarded++
		res.Bytes += r.Len()
	}

	clear(c.staging)
	c.staging = c.staging[:0]

	elapsed := time.Since(started)
	if c.metrics != nil {
		c.metrics.RecordBatch(res, elapsed)
	}
	c.logger.Debugf("trim batch", map[string]any{
		"extents":   res.Extents,
		"ranges":    res.Ranges,
		"discarded": res.Discarded,
		"skipped":   res.Skipped,
		"rejected":  res.Rejected,
		"failed":    res.Failed,
		"bytes":     res.Bytes,
		"elapsedMs": elapsed.Milliseconds(),
	})
	return res
}

// Stop closes the pending buffer, lets the goroutine drain once more and
// joins it, then releases the buffers. Blocked producers return ErrClosed.
// Safe to call repeatedly and without Start.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	h := c.handle
	c.handle = nil
	c.mu.Unlock()

	c.buf.close()

	var err error
	if h != nil {
		err = h.Stop()
	} else {
		c.DrainOnce(context.Background())
	}

	c.drainMu.Lock()
	c.staging = nil
	c.drainMu.Unlock()
	c.buf.release()

	c.logger.Info("trim coordinator stopped")
	return err
}
