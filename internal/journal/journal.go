// Package journal implements the engine's append-only write-ahead log.
// Each record is framed as:
//
//	length   uint32  encoded payload length
//	checksum uint64  xxhash of the encoded payload
//	codec    uint8   codec id
//	payload  []byte
//
// The journal tracks the bytes appended since the last checkpoint and reports
// them to an OnWrite hook, which drives log-size checkpoints.
package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/strata-io/strata/internal/fileio"
	"github.com/strata-io/strata/internal/logging"
)

const headerSize = 4 + 8 + 1

// MaxRecordSize bounds a single encoded record payload.
const MaxRecordSize = 64 << 20

var (
	// ErrCorrupt is returned when a record fails its checksum or framing.
	ErrCorrupt = errors.New("journal: corrupt record")
	// ErrTooLarge is returned for payloads above MaxRecordSize once encoded.
	ErrTooLarge = errors.New("journal: record too large")
	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal: closed")
)

// MetricsRecorder receives journal observations.
type MetricsRecorder interface {
	RecordAppend(raw, encoded int, d time.Duration, err error)
	SetWritten(n int64)
}

// Options configures a Journal.
type Options struct {
	// Compressor names the codec for new records.
	Compressor string
	// OnWrite is called after each append with the bytes written since the
	// last ResetWritten.
	OnWrite func(written int64)
	Logger  *logging.Logger
	Metrics MetricsRecorder
	// File is passed to fileio.Open; DirectIO is ignored since records are
	// not block aligned.
	File fileio.Options
}

// Journal is an append-only record log.
type Journal struct {
	path    string
	codec   Codec
	onWrite func(int64)
	logger  *logging.Logger
	metrics MetricsRecorder

	mu     sync.Mutex
	file   *fileio.File
	size   int64
	closed bool

	written atomic.Int64
}

// Open opens or creates the journal at path and recovers its end offset.
// A torn or corrupt tail is ignored and overwritten by the next append.
func Open(ctx context.Context, path string, opts Options) (*Journal, error) {
	codec, err := CodecByName(opts.Compressor)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.WithComponent("journal")

	fopts := opts.File
	fopts.DirectIO = false
	fopts.Alignment = 0
	if fopts.Logger == nil {
		fopts.Logger = logger
	}
	f, err := fileio.Open(path, fopts)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		path:    path,
		codec:   codec,
		onWrite: opts.OnWrite,
		logger:  logger,
		metrics: opts.Metrics,
		file:    f,
	}

	info, err := os.Stat(path)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: stat %s: %w", path, err)
	}
	end, err := j.scan(ctx, info.Size(), nil)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		f.Close()
		return nil, err
	}
	if end < info.Size() {
		logger.Warnf("ignoring journal tail", map[string]any{
			"file":      path,
			"validEnd":  end,
			"fileSize":  info.Size(),
			"truncated": info.Size() - end,
		})
	}
	j.size = end

	logger.Infof("journal opened", map[string]any{
		"file":       path,
		"size":       end,
		"compressor": codec.Name(),
	})
	return j, nil
}

// Append encodes payload as a new record and returns its offset.
func (j *Journal) Append(ctx context.Context, payload []byte) (int64, error) {
	started := time.Now()
	encoded, err := j.codec.Encode(payload)
	if err != nil {
		j.record(len(payload), 0, started, err)
		return 0, fmt.Errorf("journal: encode: %w", err)
	}
	if len(encoded) > MaxRecordSize {
		j.record(len(payload), len(encoded), started, ErrTooLarge)
		return 0, ErrTooLarge
	}

	rec := make([]byte, headerSize+len(encoded))
	binary.BigEndian.PutUint32(rec[0:4], uint32(len(encoded)))
	binary.BigEndian.PutUint64(rec[4:12], xxhash.Sum64(encoded))
	rec[12] = j.codec.ID()
	copy(rec[headerSize:], encoded)

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return 0, ErrClosed
	}
	offset := j.size
	if err := j.file.Write(ctx, offset, rec); err != nil {
		j.mu.Unlock()
		j.record(len(payload), len(rec), started, err)
		return 0, err
	}
	j.size += int64(len(rec))
	j.mu.Unlock()

	written := j.written.Add(int64(len(rec)))
	j.record(len(payload), len(rec), started, nil)
	if j.metrics != nil {
		j.metrics.SetWritten(written)
	}
	if j.onWrite != nil {
		j.onWrite(written)
	}
	return offset, nil
}

func (j *Journal) record(raw, encoded int, started time.Time, err error) {
	if j.metrics != nil {
		j.metrics.RecordAppend(raw, encoded, time.Since(started), err)
	}
}

// Written returns the bytes appended since the last ResetWritten.
func (j *Journal) Written() int64 {
	return j.written.Load()
}

// ResetWritten clears the written counter. Called at each checkpoint.
func (j *Journal) ResetWritten() {
	j.written.Store(0)
	if j.metrics != nil {
		j.metrics.SetWritten(0)
	}
}

// Size returns the offset the next record will be written at.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Sync flushes appended records to stable storage.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return j.file.Sync()
}

// Replay calls fn for every record in order, up to the current end.
func (j *Journal) Replay(ctx context.Context, fn func(offset int64, payload []byte) error) error {
	end := j.Size()
	_, err := j.scan(ctx, end, fn)
	return err
}

// scan walks records from offset 0 up to limit and returns the end of the
// last valid record.
func (j *Journal) scan(ctx context.Context, limit int64, fn func(int64, []byte) error) (int64, error) {
	var (
		pos    int64
		header [headerSize]byte
	)
	for pos+headerSize <= limit {
		if err := j.file.Read(ctx, pos, header[:]); err != nil {
			return pos, err
		}
		length := int64(binary.BigEndian.Uint32(header[0:4]))
		sum := binary.BigEndian.Uint64(header[4:12])
		codecID := header[12]
		if length > MaxRecordSize || pos+headerSize+length > limit {
			return pos, fmt.Errorf("%w: bad length %d at offset %d", ErrCorrupt, length, pos)
		}

		body := make([]byte, length)
		if length > 0 {
			if err := j.file.Read(ctx, pos+headerSize, body); err != nil {
				return pos, err
			}
		}
		if xxhash.Sum64(body) != sum {
			return pos, fmt.Errorf("%w: checksum mismatch at offset %d", ErrCorrupt, pos)
		}

		if fn != nil {
			payload, err := decodePayload(codecID, body)
			if err != nil {
				return pos, fmt.Errorf("%w: decode at offset %d: %v", ErrCorrupt, pos, err)
			}
			if err := fn(pos, payload); err != nil {
				return pos, err
			}
		}
		pos += headerSize + length
	}
	return pos, nil
}

// Close syncs and closes the journal. Safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return errors.Join(j.file.Sync(), j.file.Close())
}
