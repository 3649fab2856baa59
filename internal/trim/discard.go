package trim

import (
	"context"
	"fmt"
)

// Discarder issues one device-level discard for a merged range.
type Discarder interface {
	Discard(ctx context.Context, r Extent, minLen int64) error
}

// DiscarderFunc adapts a function to Discarder.
type DiscarderFunc func(ctx context.Context, r Extent, minLen int64) error

// Discard calls f(ctx, r, minLen).
func (f DiscarderFunc) Discard(ctx context.Context, r Extent, minLen int64) error {
	return f(ctx, r, minLen)
}

// Descriptor is the only thing a discarder needs from a file handle.
type Descriptor interface {
	Fd() uintptr
}

// NopDiscarder accepts every range and does nothing.
type NopDiscarder struct{}

// Discard always succeeds.
func (NopDiscarder) Discard(context.Context, Extent, int64) error { return nil }

// NewDiscarder returns the discarder for mode: "punch-hole" deallocates the
// range inside the data file, "fstrim" issues FITRIM on the file's
// filesystem, "none" does nothing.
func NewDiscarder(mode string, d Descriptor) (Discarder, error) {
	switch mode {
	case "punch-hole":
		return PunchHoleDiscarder{File: d}, nil
	case "fstrim":
		return FSTrimDiscarder{File: d}, nil
	case "", "none":
		return NopDiscarder{}, nil
	default:
		return nil, fmt.Errorf("trim: unknown discard mode %q", mode)
	}
}
