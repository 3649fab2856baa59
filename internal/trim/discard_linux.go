//go:build linux

package trim

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctlFITRIM is _IOWR('X', 121, struct fstrim_range) from linux/fs.h.
// x/sys/unix exports the FICLONE and FIDEDUPERANGE ioctls of that header
// but not FITRIM.
const ioctlFITRIM = 0xc0185879

type fstrimRange struct {
	start  uint64
	length uint64
	minLen uint64
}

// PunchHoleDiscarder deallocates ranges inside the file with fallocate.
type PunchHoleDiscarder struct {
	File Descriptor
}

// Discard punches a hole over r, keeping the file size.
func (p PunchHoleDiscarder) Discard(_ context.Context, r Extent, _ int64) error {
	mode := uint32(unix.FALLOC_FL_PUNCH_HOLE | unix.FALLOC_FL_KEEP_SIZE)
	if err := unix.Fallocate(int(p.File.Fd()), mode, r.Start, r.Len()); err != nil {
		return fmt.Errorf("fallocate punch-hole %s: %w", r, err)
	}
	return nil
}

// FSTrimDiscarder issues FITRIM against the filesystem holding File. The
// range is interpreted by the filesystem, usually in device byte offsets.
// Requires CAP_SYS_ADMIN.
type FSTrimDiscarder struct {
	File Descriptor
}

// Discard trims r, skipping free extents shorter than minLen.
func (f FSTrimDiscarder) Discard(_ context.Context, r Extent, minLen int64) error {
	arg := fstrimRange{
		start:  uint64(r.Start),
		length: uint64(r.Len()),
		minLen: uint64(minLen),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.File.Fd(), ioctlFITRIM, uintptr(unsafe.Pointer(&arg)))
	if errno != 0 {
		return fmt.Errorf("ioctl FITRIM %s: %w", r, errno)
	}
	return nil
}
