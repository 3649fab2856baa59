//go:build !linux

package fileio

import "errors"

// ErrUnsupported is returned by platform hooks not available on this OS.
var ErrUnsupported = errors.New("fileio: unsupported on this platform")

// Advisor applies a stream hint to a descriptor.
type Advisor interface {
	Advise(fd uintptr, stream Stream) error
}

type nopAdvisor struct{}

// NewAdvisor returns the platform advisor.
func NewAdvisor() Advisor {
	return nopAdvisor{}
}

func (nopAdvisor) Advise(uintptr, Stream) error { return nil }

// FIBMapper is unavailable off Linux.
type FIBMapper struct{}

func (FIBMapper) PhysicalBlock(uintptr, uint64) (uint64, error) {
	return 0, ErrUnsupported
}
