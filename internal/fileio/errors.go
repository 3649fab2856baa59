package fileio

import (
	"errors"
	"fmt"
)

var (
	// ErrShortRead is returned when the device reports zero bytes before the
	// requested length has been satisfied.
	ErrShortRead = errors.New("fileio: short read")

	// ErrShortWrite is returned when the device accepts zero bytes without
	// reporting an error.
	ErrShortWrite = errors.New("fileio: short write")

	// ErrClosed is returned by operations on a closed File.
	ErrClosed = errors.New("fileio: file closed")
)

// IOError describes a failed positioned read or write. Length and Offset are
// those of the original request, not of the failing chunk.
type IOError struct {
	Op     string
	Name   string
	Length int
	Offset int64
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s error: failed to %s %d bytes at offset %d: %v",
		e.Name, e.Op, e.Op, e.Length, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// AlignmentError is returned before any device call when a direct I/O request
// does not satisfy the file's alignment.
type AlignmentError struct {
	Op        string
	Name      string
	Alignment int
	Length    int
	Offset    int64
	Field     string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("%s %s: %s not aligned to %d (length %d, offset %d)",
		e.Name, e.Op, e.Field, e.Alignment, e.Length, e.Offset)
}
