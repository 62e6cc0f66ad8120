// Package framebuffer hands decoded frames from the decode goroutine to the
// presentation side. It holds at most one pending frame: a commit replaces
// whatever the consumer has not collected yet. The producer never waits.
package framebuffer

import (
	"errors"
	"sync"
)

var (
	ErrWriteInProgress = errors.New("framebuffer: write already in progress")
	ErrNotInFlight     = errors.New("framebuffer: frame is not the in-flight frame")
)

type Stats struct {
	Committed uint64
	Dropped   uint64
	Consumed  uint64
	// ConsecutiveDrops counts replaced frames since the last consume.
	ConsecutiveDrops uint64
	Pending          bool
}

// Buffer is the two slot handoff. The mutex only ever guards pointer swaps
// and counters, never a copy of pixel data.
type Buffer struct {
	mu       sync.Mutex
	pending  *Frame
	inflight *Frame
	spare    *Frame
	seq      uint64

	committed        uint64
	dropped          uint64
	consumed         uint64
	consecutiveDrops uint64

	ready chan struct{}
}

func New() *Buffer {
	return &Buffer{ready: make(chan struct{}, 1)}
}

// BeginWrite hands the in-flight slot to the producer. Only one write may be
// open at a time.
func (b *Buffer) BeginWrite() (*Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inflight != nil {
		return nil, ErrWriteInProgress
	}
	f := b.spare
	b.spare = nil
	if f == nil {
		f = &Frame{}
	}
	f.reset()
	b.inflight = f
	return f, nil
}

// Commit publishes f as the pending frame. An uncollected pending frame is
// dropped and its storage kept for the next write.
func (b *Buffer) Commit(f *Frame) error {
	b.mu.Lock()
	if f == nil || f != b.inflight {
		b.mu.Unlock()
		return ErrNotInFlight
	}
	b.inflight = nil
	b.seq++
	f.Seq = b.seq
	if old := b.pending; old != nil {
		b.dropped++
		b.consecutiveDrops++
		if b.spare == nil {
			b.spare = old
		}
	}
	b.pending = f
	b.committed++
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return nil
}

// Abort gives the in-flight slot back without publishing.
func (b *Buffer) Abort(f *Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f == nil || f != b.inflight {
		return
	}
	b.inflight = nil
	if b.spare == nil {
		b.spare = f
	}
}

// ConsumeLatest takes the pending frame. It reports false when nothing was
// committed since the previous call.
func (b *Buffer) ConsumeLatest() (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.pending
	if f == nil {
		return nil, false
	}
	b.pending = nil
	b.consumed++
	b.consecutiveDrops = 0
	return f, true
}

// Recycle returns a consumed frame so its planes can be reused. The caller
// must not touch f afterwards.
func (b *Buffer) Recycle(f *Frame) {
	if f == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if f == b.pending || f == b.inflight {
		return
	}
	if b.spare == nil {
		b.spare = f
	}
}

// Ready receives a value after a commit. It is a wakeup, not a count: the
// consumer should call ConsumeLatest and may find nothing.
func (b *Buffer) Ready() <-chan struct{} {
	return b.ready
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Committed:        b.committed,
		Dropped:          b.dropped,
		Consumed:         b.consumed,
		ConsecutiveDrops: b.consecutiveDrops,
		Pending:          b.pending != nil,
	}
}
