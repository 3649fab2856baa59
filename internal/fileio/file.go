// Package fileio implements chunked positioned I/O over a file handle with
// direct-I/O alignment checks and optional data-placement hints.
package fileio

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ncw/directio"

	"github.com/strata-io/strata/internal/logging"
)

// DefaultMaxChunk caps a single device transfer.
const DefaultMaxChunk = 1 << 30

// Device is the positioned-I/O surface a File drives. *os.File satisfies it.
type Device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Fd() uintptr
	Sync() error
	Close() error
}

// MetricsRecorder receives per-operation observations.
type MetricsRecorder interface {
	RecordRead(bytes int, calls int, err error)
	RecordWrite(bytes int, calls int, err error)
	RecordAdvise(stream Stream, err error)
}

// Options controls how a File performs I/O.
type Options struct {
	// DirectIO opens with O_DIRECT and enforces Alignment.
	DirectIO bool
	// Alignment is the required buffer/length/offset alignment for direct
	// I/O. Zero selects directio.AlignSize when DirectIO is set.
	Alignment int
	// MaxChunk caps each device call. Zero selects DefaultMaxChunk. With
	// direct I/O it is rounded down to a multiple of Alignment, and never
	// below one Alignment, so every chunk stays aligned.
	MaxChunk int
	// Placement selects a stream for each write. Nil disables hints.
	Placement PlacementPolicy
	// Advisor applies placement hints. Nil selects the platform advisor.
	Advisor Advisor
	Logger  *logging.Logger
	Metrics MetricsRecorder
	// Flag and Perm are passed to the open call. Zero Flag means
	// O_RDWR|O_CREATE.
	Flag int
	Perm os.FileMode
}

// File is a handle for chunked, optionally direct, positioned I/O.
type File struct {
	dev       Device
	name      string
	directIO  bool
	alignment int
	maxChunk  int
	placement PlacementPolicy
	advisor   Advisor
	logger    *logging.Logger
	metrics   MetricsRecorder

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open opens name for chunked I/O.
func Open(name string, opts Options) (*File, error) {
	flag := opts.Flag
	if flag == 0 {
		flag = os.O_RDWR | os.O_CREATE
	}
	perm := opts.Perm
	if perm == 0 {
		perm = 0o644
	}

	var (
		f   *os.File
		err error
	)
	if opts.DirectIO {
		f, err = directio.OpenFile(name, flag, perm)
	} else {
		f, err = os.OpenFile(name, flag, perm)
	}
	if err != nil {
		return nil, fmt.Errorf("fileio: open %s: %w", name, err)
	}
	return NewFile(f, name, opts), nil
}

// NewFile wraps an existing device.
func NewFile(dev Device, name string, opts Options) *File {
	alignment := opts.Alignment
	if opts.DirectIO && alignment == 0 {
		alignment = directio.AlignSize
	}
	maxChunk := opts.MaxChunk
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunk
	}
	if opts.DirectIO && alignment > 0 {
		maxChunk = max(maxChunk-maxChunk%alignment, alignment)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	advisor := opts.Advisor
	if advisor == nil && opts.Placement != nil {
		advisor = NewAdvisor()
	}
	return &File{
		dev:       dev,
		name:      name,
		directIO:  opts.DirectIO,
		alignment: alignment,
		maxChunk:  maxChunk,
		placement: opts.Placement,
		advisor:   advisor,
		logger:    logger.WithComponent("fileio"),
		metrics:   opts.Metrics,
	}
}

// Name returns the file name used in diagnostics.
func (f *File) Name() string { return f.name }

// Fd returns the underlying descriptor.
func (f *File) Fd() uintptr { return f.dev.Fd() }

// DirectIO reports whether alignment is enforced.
func (f *File) DirectIO() bool { return f.directIO }

// Alignment returns the enforced alignment, 0 when none.
func (f *File) Alignment() int { return f.alignment }

// MaxChunk returns the largest single device transfer.
func (f *File) MaxChunk() int { return f.maxChunk }

// Sync flushes the file to stable storage.
func (f *File) Sync() error {
	if f.closed.Load() {
		return fmt.Errorf("fileio: sync %s: %w", f.name, ErrClosed)
	}
	if err := f.dev.Sync(); err != nil {
		return fmt.Errorf("fileio: sync %s: %w", f.name, err)
	}
	return nil
}

// Close closes the underlying device once. Later Read, Write and Sync calls
// return ErrClosed.
func (f *File) Close() error {
	f.closed.Store(true)
	f.closeOnce.Do(func() {
		f.closeErr = f.dev.Close()
	})
	return f.closeErr
}

// AlignedBuffer returns a zeroed buffer of n bytes whose address satisfies
// directio.AlignSize.
func AlignedBuffer(n int) []byte {
	return directio.AlignedBlock(n)
}

func (f *File) checkAlignment(op string, offset int64, buf []byte) error {
	if !f.directIO || f.alignment == 0 {
		return nil
	}
	a := f.alignment
	fail := func(field string) error {
		return &AlignmentError{
			Op:        op,
			Name:      f.name,
			Alignment: a,
			Length:    len(buf),
			Offset:    offset,
			Field:     field,
		}
	}
	if len(buf) < a || len(buf)%a != 0 {
		return fail("length")
	}
	if uintptr(unsafe.Pointer(&buf[0]))&uintptr(a-1) != 0 {
		return fail("buffer address")
	}
	if offset%int64(a) != 0 {
		return fail("offset")
	}
	return nil
}
