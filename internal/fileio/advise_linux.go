//go:build linux

package fileio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RWH_WRITE_LIFE_EXTREME (linux/fcntl.h) and FIBMAP (linux/fs.h) are not
// exported by x/sys/unix.
const (
	rwhWriteLifeExtreme = 5
	ioctlFIBMAP         = 1
)

// Advisor applies a stream hint to a descriptor.
type Advisor interface {
	Advise(fd uintptr, stream Stream) error
}

// RWHintAdvisor maps streams to fcntl write-lifetime hints.
type RWHintAdvisor struct{}

// NewAdvisor returns the platform advisor.
func NewAdvisor() Advisor {
	return RWHintAdvisor{}
}

// Advise sets the write-lifetime hint for stream on fd. StreamNone is a
// no-op.
func (RWHintAdvisor) Advise(fd uintptr, stream Stream) error {
	if stream <= StreamNone {
		return nil
	}
	hint := uint64(stream)
	if hint > rwhWriteLifeExtreme {
		hint = rwhWriteLifeExtreme
	}
	_, _, errno := unix.Syscall(unix.SYS_FCNTL, fd, unix.F_SET_RW_HINT, uintptr(unsafe.Pointer(&hint)))
	if errno != 0 {
		return fmt.Errorf("fcntl F_SET_RW_HINT %d: %w", hint, errno)
	}
	return nil
}

// FIBMapper resolves physical blocks with the FIBMAP ioctl. It usually
// requires CAP_SYS_RAWIO.
type FIBMapper struct{}

// PhysicalBlock returns the physical block backing logical.
func (FIBMapper) PhysicalBlock(fd uintptr, logical uint64) (uint64, error) {
	block := uint32(logical)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, ioctlFIBMAP, uintptr(unsafe.Pointer(&block)))
	if errno != 0 {
		return 0, fmt.Errorf("ioctl FIBMAP %d: %w", logical, errno)
	}
	return uint64(block), nil
}
