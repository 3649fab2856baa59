package trim

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is returned to producers once the coordinator has stopped.
	ErrClosed = errors.New("trim: coordinator closed")

	// ErrBufferFull is returned under PolicyDropNewest when the pending
	// buffer has no room; the incoming extent is discarded.
	ErrBufferFull = errors.New("trim: pending buffer full")

	// ErrInvalidExtent is returned for extents with Start >= End.
	ErrInvalidExtent = errors.New("trim: invalid extent")
)

// Policy selects what NotifyFree does when the pending buffer is full.
type Policy int

const (
	// PolicyDropNewest rejects the incoming extent.
	PolicyDropNewest Policy = iota
	// PolicyDropOldest evicts the oldest pending extent to make room.
	PolicyDropOldest
	// PolicyBlock waits for the coordinator to drain, until the context is
	// done or the coordinator closes.
	PolicyBlock
)

func (p Policy) String() string {
	switch p {
	case PolicyDropNewest:
		return "drop-newest"
	case PolicyDropOldest:
		return "drop-oldest"
	case PolicyBlock:
		return "block"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "drop-newest":
		return PolicyDropNewest, nil
	case "drop-oldest":
		return PolicyDropOldest, nil
	case "block":
		return PolicyBlock, nil
	default:
		return 0, fmt.Errorf("trim: unknown backpressure policy %q", s)
	}
}

// pendingBuffer is the bounded ring shared between producers and the
// coordinator. The lock is held only for O(1) work and the drain copy.
type pendingBuffer struct {
	mu      sync.Mutex
	notFull *sync.Cond
	ring    []Extent
	head    int
	count   int
	bytes   int64
	closed  bool
}

func newPendingBuffer(capacity int) *pendingBuffer {
	b := &pendingBuffer{ring: make([]Extent, capacity)}
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// push appends e according to policy. It returns the evicted extent under
// PolicyDropOldest, and whether the buffer is full after the push.
func (b *pendingBuffer) push(ctx context.Context, e Extent, policy Policy) (evicted *Extent, full bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, false, ErrClosed
	}

	if b.count == len(b.ring) {
		switch policy {
		case PolicyDropNewest:
			return nil, true, ErrBufferFull
		case PolicyDropOldest:
			old := b.ring[b.head]
			b.head = (b.head + 1) % len(b.ring)
			b.count--
			b.bytes -= old.Len()
			evicted = &old
		case PolicyBlock:
			if err := b.waitForSpace(ctx); err != nil {
				return nil, true, err
			}
		}
	}

	b.ring[(b.head+b.count)%len(b.ring)] = e
	b.count++
	b.bytes += e.Len()
	return evicted, b.count == len(b.ring), nil
}

// waitForSpace blocks until there's room, the context is canceled or the
// buffer is closed. Called with b.mu held.
func (b *pendingBuffer) waitForSpace(ctx context.Context) error {
	for b.count == len(b.ring) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.closed {
			return ErrClosed
		}

		// Wake on context cancellation.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				b.mu.Lock()
				b.notFull.Broadcast()
				b.mu.Unlock()
			case <-done:
			}
		}()
		b.notFull.Wait()
		close(done)
	}
	if b.closed {
		return ErrClosed
	}
	return nil
}

// drainInto appends all pending extents to dst in arrival order and clears
// the ring.
func (b *pendingBuffer) drainInto(dst []Extent) []Extent {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < b.count; i++ {
		dst = append(dst, b.ring[(b.head+i)%len(b.ring)])
	}
	b.head = 0
	b.count = 0
	b.bytes = 0
	b.notFull.Broadcast()
	return dst
}

func (b *pendingBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *pendingBuffer) pendingBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// close wakes blocked producers and rejects further pushes.
func (b *pendingBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.notFull.Broadcast()
}

// release drops the ring storage after the final drain.
func (b *pendingBuffer) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring = nil
	b.head = 0
	b.count = 0
	b.bytes = 0
}
