//go:build !linux

package trim

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by discarders that need Linux.
var ErrUnsupported = errors.New("trim: discard unsupported on this platform")

// PunchHoleDiscarder deallocates ranges inside the file. Linux only.
type PunchHoleDiscarder struct {
	File Descriptor
}

// Discard returns ErrUnsupported.
func (PunchHoleDiscarder) Discard(context.Context, Extent, int64) error {
	return ErrUnsupported
}

// FSTrimDiscarder issues FITRIM. Linux only.
type FSTrimDiscarder struct {
	File Descriptor
}

// Discard returns ErrUnsupported.
func (FSTrimDiscarder) Discard(context.Context, Extent, int64) error {
	return ErrUnsupported
}
