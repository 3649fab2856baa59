package engine

import (
	"io"
	"sync"
)

// memDevice is the data device of an in-memory engine.
type memDevice struct {
	mu   sync.RWMutex
	data []byte
}

func (m *memDevice) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memDevice) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

func (m *memDevice) size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

func (*memDevice) Fd() uintptr  { return ^uintptr(0) }
func (*memDevice) Sync() error  { return nil }
func (*memDevice) Close() error { return nil }
