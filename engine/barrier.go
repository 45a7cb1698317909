package engine

import (
	"context"
	"sync"
)

// Barrier lets any number of callers block in Wait until a separate
// Signal call releases every caller currently waiting (and only those —
// a caller arriving after Signal blocks again until the next Signal).
type Barrier struct {
	mu      sync.Mutex
	release chan struct{}
	waiting int
}

// NewBarrier constructs a Barrier with no one waiting.
func NewBarrier() *Barrier {
	return &Barrier{release: make(chan struct{})}
}

// Wait blocks until the next Signal call, or ctx is cancelled.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	ch := b.release
	b.waiting++
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		b.waiting--
		b.mu.Unlock()
		return ctx.Err()
	}
}

// Signal releases every caller currently blocked in Wait.
func (b *Barrier) Signal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.release)
	b.release = make(chan struct{})
	b.waiting = 0
}

// Count reports how many callers are currently blocked in Wait.
func (b *Barrier) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting
}
