// Package engine ties the storage pieces together: an aligned data file, the
// write-ahead journal, checkpoint manifests, the background checkpoint
// scheduler and the discard coordinator.
//
// Directory layout:
//
//	<dir>/data/collection-0.wt   block data
//	<dir>/index/                 created when directoryForIndexes is set
//	<dir>/journal/journal.log    write-ahead journal
//	<dir>/checkpoints/<name>.json
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strata-io/strata/internal/checkpoint"
	"github.com/strata-io/strata/internal/config"
	"github.com/strata-io/strata/internal/fileio"
	"github.com/strata-io/strata/internal/journal"
	"github.com/strata-io/strata/internal/logging"
	"github.com/strata-io/strata/internal/objectstore"
	"github.com/strata-io/strata/internal/trim"
)

const (
	dataFileName    = "collection-0.wt"
	journalFileName = "journal.log"
	archiveTimeout  = 30 * time.Second
)

var (
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine: closed")
	// ErrTrimDisabled is returned by DrainTrim when trim is off.
	ErrTrimDisabled = errors.New("engine: trim disabled")
)

// Engine owns the data file, the journal and the background workers.
type Engine struct {
	cfg    config.Config
	logger *logging.Logger

	dataDir       string
	journalDir    string
	checkpointDir string

	data      *fileio.File
	mem       *memDevice
	journal   *journal.Journal
	placement fileio.PlacementPolicy
	trim      *trim.Coordinator
	scheduler *checkpoint.Scheduler
	archive   *Archive

	// writeMu is held shared by writers across their journal append and
	// data write, and exclusively by a checkpoint while it captures the
	// journal offset.
	writeMu sync.RWMutex
	// cpMu serializes checkpoints.
	cpMu sync.Mutex

	mu       sync.Mutex
	last     *Manifest
	sequence uint64
	// closing is set when Close starts; closed once the workers have
	// stopped and the final checkpoint is written.
	closing bool
	closed  bool
}

// Open creates or reopens an engine. Any journal records written after the
// last checkpoint are replayed into the data file. On error everything
// opened so far is closed again.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.Global()
	}

	e := &Engine{
		cfg:    *cfg,
		logger: logger.WithComponent("engine"),
	}
	if err := e.open(ctx, &o); err != nil {
		e.closeResources()
		return nil, err
	}

	e.logger.Infof("engine opened", map[string]any{
		"dir":        cfg.Engine.Dir,
		"inMemory":   cfg.Engine.InMemory,
		"journal":    e.journal != nil,
		"directIO":   e.data.DirectIO(),
		"placement":  placementName(e.placement),
		"trim":       e.trim != nil,
		"checkpoint": e.scheduler.Running(),
	})
	return e, nil
}

func (e *Engine) open(ctx context.Context, o *options) error {
	cfg := &e.cfg

	if !cfg.Engine.InMemory {
		if err := e.createLayout(); err != nil {
			return err
		}
	}

	placement, err := fileio.NewPlacement(fileio.PlacementConfig{
		Strategy:          cfg.IO.Placement.Strategy,
		Boundary:          cfg.IO.Placement.Boundary,
		CollectionPattern: cfg.IO.Placement.CollectionPattern,
		IndexPattern:      cfg.IO.Placement.IndexPattern,
		JournalPattern:    cfg.IO.Placement.JournalPattern,
		LeftStream:        fileio.Stream(cfg.IO.Placement.LeftStream),
		RightStream:       fileio.Stream(cfg.IO.Placement.RightStream),
		Mapper:            o.mapper,
		Logger:            e.logger,
	})
	if err != nil {
		return err
	}
	e.placement = placement

	fopts := fileio.Options{
		DirectIO:  cfg.IO.DirectIO,
		Alignment: cfg.IO.Alignment,
		MaxChunk:  int(cfg.IO.MaxChunkBytes),
		Placement: placement,
		Advisor:   o.advisor,
		Logger:    e.logger,
		Metrics:   o.metrics.IO,
	}

	if cfg.Engine.InMemory {
		e.mem = &memDevice{}
		memOpts := fopts
		memOpts.DirectIO = false
		memOpts.Alignment = 0
		memOpts.Placement = nil
		e.data = fileio.NewFile(e.mem, "memory:"+dataFileName, memOpts)
	} else {
		e.data, err = fileio.Open(filepath.Join(e.dataDir, dataFileName), fopts)
		if err != nil {
			return err
		}

		manifests, err := loadManifests(e.checkpointDir)
		if err != nil {
			return err
		}
		if m := latest(manifests); m != nil {
			e.last = m
			e.sequence = m.Sequence
		}
	}

	if cfg.Engine.LogEnabled && !cfg.Engine.InMemory {
		e.journal, err = journal.Open(ctx, filepath.Join(e.journalDir, journalFileName), journal.Options{
			Compressor: cfg.Engine.JournalCompressor,
			OnWrite:    e.onJournalWrite,
			Logger:     e.logger,
			Metrics:    o.metrics.Journal,
			File:       fopts,
		})
		if err != nil {
			return err
		}
		if err := e.recover(ctx); err != nil {
			return err
		}
	}

	if o.archive != nil {
		e.archive = NewArchive(objectstore.NewInstrumentedStore(o.archive, o.metrics.ObjectStore), cfg.Archive.Prefix)
	}

	if cfg.Trim.Enabled {
		if err := e.startTrim(o); err != nil {
			return err
		}
	}

	schedOpts := []checkpoint.Option{
		checkpoint.WithLogger(e.logger),
		checkpoint.WithMetrics(o.metrics.Checkpoint),
	}
	if e.journal != nil {
		schedOpts = append(schedOpts, checkpoint.WithLogResetter(e.journal))
	}
	if o.monitor != nil {
		schedOpts = append(schedOpts, checkpoint.WithMonitor(o.monitor))
	}
	if o.fatal != nil {
		schedOpts = append(schedOpts, checkpoint.WithFatalHandler(o.fatal))
	}
	e.scheduler = checkpoint.New(e, schedOpts...)

	if _, err := e.scheduler.Configure(e.schedulerConfig(cfg.Checkpoint)); err != nil {
		return fmt.Errorf("engine: checkpoint configuration: %w", err)
	}
	return nil
}

func (e *Engine) createLayout() error {
	dir := e.cfg.Engine.Dir
	e.dataDir = filepath.Join(dir, "data")
	e.journalDir = filepath.Join(dir, "journal")
	e.checkpointDir = filepath.Join(dir, "checkpoints")

	dirs := []string{e.dataDir, e.checkpointDir}
	if e.cfg.Engine.LogEnabled {
		dirs = append(dirs, e.journalDir)
	}
	if e.cfg.Engine.DirectoryForIndexes {
		dirs = append(dirs, filepath.Join(dir, "index"))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("engine: create %s: %w", d, err)
		}
	}
	return nil
}

func (e *Engine) startTrim(o *options) error {
	cfg := e.cfg.Trim
	policy, err := trim.ParsePolicy(cfg.Backpressure)
	if err != nil {
		return err
	}

	d := o.discarder
	if d == nil {
		mode := cfg.Mode
		if e.cfg.Engine.InMemory {
			mode = "none"
		}
		d, err = trim.NewDiscarder(mode, e.data)
		if err != nil {
			return err
		}
	}

	trimOpts := []trim.Option{
		trim.WithLogger(e.logger),
		trim.WithMetrics(o.metrics.Trim),
	}
	if o.monitor != nil {
		trimOpts = append(trimOpts, trim.WithMonitor(o.monitor))
	}
	e.trim = trim.NewCoordinator(d, trim.Config{
		Capacity:          cfg.Capacity,
		TriggerExtents:    cfg.Freq,
		TriggerBytes:      cfg.TriggerBytes,
		MinLength:         cfg.MinLengthBytes,
		Interval:          time.Duration(cfg.IntervalMs) * time.Millisecond,
		Backpressure:      policy,
		CooldownThreshold: cfg.CooldownThreshold,
		Cooldown:          time.Duration(cfg.CooldownMs) * time.Millisecond,
	}, trimOpts...)
	return e.trim.Start()
}

func (e *Engine) schedulerConfig(c config.CheckpointConfig) checkpoint.Config {
	debounce := time.Duration(c.DebounceMs) * time.Millisecond
	if c.DebounceMs < 0 {
		debounce = -1
	}
	return checkpoint.Config{
		Wait:       time.Duration(c.WaitSecs) * time.Second,
		LogSize:    c.LogSizeBytes,
		Name:       c.Name,
		Debounce:   debounce,
		InMemory:   e.cfg.Engine.InMemory,
		LogEnabled: e.journal != nil,
	}
}

func (e *Engine) onJournalWrite(written int64) {
	if s := e.scheduler; s != nil {
		s.Signal(written)
	}
}

// recover replays journal writes recorded after the last checkpoint.
func (e *Engine) recover(ctx context.Context) error {
	var from int64
	if e.last != nil {
		from = e.last.JournalOffset
	}

	applied := 0
	err := e.journal.Replay(ctx, func(offset int64, payload []byte) error {
		if offset < from {
			return nil
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return fmt.Errorf("journal offset %d: %w", offset, err)
		}
		if rec.op != opWrite {
			return nil
		}
		buf := rec.data
		if e.data.DirectIO() {
			buf = fileio.AlignedBuffer(len(rec.data))
			copy(buf, rec.data)
		}
		if err := e.data.Write(ctx, rec.offset, buf); err != nil {
			return err
		}
		applied++
		return nil
	})
	if err != nil {
		return fmt.Errorf("engine: journal recovery: %w", err)
	}
	if applied > 0 {
		e.logger.Infof("journal recovery complete", map[string]any{
			"from":    from,
			"applied": applied,
		})
	}
	return nil
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// WriteBlock journals buf and writes it to the data file at offset. With
// direct I/O, buf, its length and offset must be aligned.
func (e *Engine) WriteBlock(ctx context.Context, offset int64, buf []byte) error {
	e.writeMu.RLock()
	defer e.writeMu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return err
	}

	if e.journal != nil {
		if _, err := e.journal.Append(ctx, encodeWrite(offset, buf)); err != nil {
			return err
		}
	}
	return e.data.Write(ctx, offset, buf)
}

// ReadBlock fills buf from the data file at offset.
func (e *Engine) ReadBlock(ctx context.Context, offset int64, buf []byte) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.data.Read(ctx, offset, buf)
}

// Free hands the range [start, end) to the discard coordinator. With trim
// disabled the range is only journaled.
func (e *Engine) Free(ctx context.Context, start, end int64) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if end <= start {
		return fmt.Errorf("%w: [%d,%d)", trim.ErrInvalidExtent, start, end)
	}

	if e.journal != nil {
		e.writeMu.RLock()
		_, err := e.journal.Append(ctx, encodeFree(start, end))
		e.writeMu.RUnlock()
		if err != nil {
			if errors.Is(err, journal.ErrClosed) {
				return ErrClosed
			}
			return err
		}
	}
	if e.trim == nil {
		return nil
	}
	return e.trim.NotifyFree(ctx, start, end)
}

// Checkpoint makes all completed writes durable and records a manifest
// under name. It is the operation run by the checkpoint scheduler.
func (e *Engine) Checkpoint(ctx context.Context, name string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.checkpoint(ctx, name)
}

func (e *Engine) checkpoint(ctx context.Context, name string) error {
	if e.cfg.Engine.InMemory {
		return checkpoint.ErrInMemoryCheckpoint
	}
	name, err := checkpoint.ValidateName(name)
	if err != nil {
		return err
	}

	e.cpMu.Lock()
	defer e.cpMu.Unlock()
	started := time.Now()

	// Every record below offset has its data write completed.
	e.writeMu.Lock()
	var offset int64
	if e.journal != nil {
		offset = e.journal.Size()
	}
	e.writeMu.Unlock()

	if err := e.data.Sync(); err != nil {
		return fmt.Errorf("engine: sync data: %w", err)
	}
	if e.journal != nil {
		if err := e.journal.Sync(); err != nil {
			return fmt.Errorf("engine: sync journal: %w", err)
		}
	}

	e.mu.Lock()
	seq := e.sequence + 1
	e.mu.Unlock()

	m := &Manifest{
		ID:            uuid.NewString(),
		Name:          name,
		Sequence:      seq,
		JournalOffset: offset,
		DataFile:      e.data.Name(),
		DataSize:      e.dataSize(),
		Compressor:    e.cfg.Engine.JournalCompressor,
		CreatedAt:     time.Now().UTC(),
	}
	data, err := writeManifest(e.checkpointDir, m)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.sequence = seq
	e.last = m
	e.mu.Unlock()

	fields := map[string]any{
		"name":          name,
		"id":            m.ID,
		"sequence":      seq,
		"journalOffset": offset,
		"durationMs":    time.Since(started).Milliseconds(),
	}
	if e.archive != nil {
		actx, cancel := context.WithTimeout(ctx, archiveTimeout)
		key, err := e.archive.Upload(actx, m, data)
		cancel()
		if err != nil {
			e.logger.Warnf("checkpoint archive upload failed", map[string]any{
				"name":  name,
				"id":    m.ID,
				"error": err.Error(),
			})
		} else {
			fields["archiveKey"] = key
		}
	}
	e.logger.Infof("checkpoint written", fields)
	return nil
}

func (e *Engine) dataSize() int64 {
	if e.mem != nil {
		return e.mem.size()
	}
	info, err := os.Stat(e.data.Name())
	if err != nil {
		return 0
	}
	return info.Size()
}

// LastCheckpoint returns the most recent manifest, or nil if none exists.
func (e *Engine) LastCheckpoint() *Manifest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	m := *e.last
	return &m
}

// Reconfigure replaces the checkpoint triggers, restarting the scheduler.
func (e *Engine) Reconfigure(c config.CheckpointConfig) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	started, err := e.scheduler.Configure(e.schedulerConfig(c))
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg.Checkpoint = c
	e.mu.Unlock()
	e.logger.Infof("checkpoint reconfigured", map[string]any{"running": started})
	return nil
}

// DrainTrim runs one discard pass synchronously.
func (e *Engine) DrainTrim(ctx context.Context) (trim.BatchResult, error) {
	if err := e.checkOpen(); err != nil {
		return trim.BatchResult{}, err
	}
	if e.trim == nil {
		return trim.BatchResult{}, ErrTrimDisabled
	}
	return e.trim.DrainOnce(ctx), nil
}

// Archive returns the manifest archive, or nil when none is configured.
func (e *Engine) Archive() *Archive {
	return e.archive
}

// CheckpointRunning reports whether the checkpoint server is running.
func (e *Engine) CheckpointRunning() bool {
	return e.scheduler != nil && e.scheduler.Running()
}

// TrimRunning reports whether the discard coordinator is running.
func (e *Engine) TrimRunning() bool {
	return e.trim != nil && e.trim.Running()
}

// Close stops the background workers, takes a final checkpoint when the
// engine is durable and closes all files. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return nil
	}
	e.closing = true
	e.mu.Unlock()

	var errs []error
	if e.scheduler != nil {
		if err := e.scheduler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("engine: checkpoint server: %w", err))
		}
	}
	if e.trim != nil {
		if err := e.trim.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("engine: trim coordinator: %w", err))
		}
	}
	if !e.cfg.Engine.InMemory && e.data != nil && len(errs) == 0 {
		if err := e.checkpoint(context.Background(), checkpoint.DefaultName); err != nil {
			errs = append(errs, fmt.Errorf("engine: final checkpoint: %w", err))
		}
	}
	// Wait out in-flight writers before the files go away.
	e.writeMu.Lock()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	errs = append(errs, e.closeFiles()...)
	e.writeMu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		e.logger.Errorf("engine closed with errors", map[string]any{"error": err.Error()})
	} else {
		e.logger.Info("engine closed")
	}
	return err
}

// closeResources is the rollback path for a failed Open.
func (e *Engine) closeResources() {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	if e.trim != nil {
		e.trim.Stop()
	}
	e.closeFiles()
}

func (e *Engine) closeFiles() []error {
	var errs []error
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.data != nil {
		if err := e.data.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.placement != nil {
		fileio.ClosePlacement(e.placement)
	}
	if e.archive != nil {
		if err := e.archive.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func placementName(p fileio.PlacementPolicy) string {
	if p == nil {
		return "none"
	}
	return p.Strategy()
}

// State is a point-in-time view of the engine, served on /debug/state.
type State struct {
	Dir               string    `json:"dir"`
	InMemory          bool      `json:"inMemory"`
	DirectIO          bool      `json:"directIO"`
	Alignment         int       `json:"alignment"`
	Placement         string    `json:"placement"`
	CheckpointState   string    `json:"checkpointState"`
	CheckpointRunning bool      `json:"checkpointRunning"`
	JournalSize       int64     `json:"journalSize"`
	JournalWritten    int64     `json:"journalWritten"`
	TrimRunning       bool      `json:"trimRunning"`
	TrimPending       int       `json:"trimPending"`
	LastCheckpoint    *Manifest `json:"lastCheckpoint,omitempty"`
	Closed            bool      `json:"closed"`
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()

	s := State{
		Dir:               e.cfg.Engine.Dir,
		InMemory:          e.cfg.Engine.InMemory,
		DirectIO:          e.data.DirectIO(),
		Alignment:         e.data.Alignment(),
		Placement:         placementName(e.placement),
		CheckpointState:   e.scheduler.State(),
		CheckpointRunning: e.CheckpointRunning(),
		TrimRunning:       e.TrimRunning(),
		LastCheckpoint:    e.LastCheckpoint(),
		Closed:            closed,
	}
	if e.journal != nil {
		s.JournalSize = e.journal.Size()
		s.JournalWritten = e.journal.Written()
	}
	if e.trim != nil {
		s.TrimPending = e.trim.Pending()
	}
	return s
}

// StateHandler serves State as JSON.
func (e *Engine) StateHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(e.State()); err != nil {
			e.logger.Warnf("failed to encode engine state", map[string]any{"error": err.Error()})
		}
	})
}
