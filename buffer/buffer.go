// Package buffer implements the mode-switchable message container from
// spec §4.2: either a bounded FIFO queue ("buffered" mode) or a
// single-slot latest-value cell ("coalescing" mode).
package buffer

import (
	"errors"
	"time"

	"github.com/coregx/relay/protocol"
)

// Mode selects a Buffer's queueing discipline.
type Mode int

const (
	// Buffered holds up to Capacity items in FIFO order. Capacity 0
	// means unbounded.
	Buffered Mode = iota
	// Coalescing holds at most one item; Add overwrites any pending
	// value.
	Coalescing
)

// ErrFull is returned by Add in Buffered mode when the queue is at
// capacity and the timeout elapses before room frees up.
var ErrFull = errors.New("buffer: full")

// Buffer is a mode-switchable container of protocol.Message values. The
// zero value is not usable; construct with New.
//
// All operations are safe for concurrent use: a one-slot channel used as
// a binary semaphore serialises Add/Pop/SwitchMode, and waiters park on
// channels that are closed and replaced on change, matching the
// lock-around-shared-mutable-state discipline the teacher applies to its
// Hub's clients map (coregx-stream/websocket/hub.go).
type Buffer struct {
	mu       chan struct{} // binary semaphore; see lock()/unlock()
	notEmpty chan struct{} // closed and replaced whenever an item becomes available
	notFull  chan struct{} // closed and replaced whenever room becomes available

	mode     Mode
	capacity int

	queue []protocol.Message // used in Buffered mode
	slot  *protocol.Message  // used in Coalescing mode
}

// New constructs a Buffer in the given mode and capacity. Capacity is
// ignored in Coalescing mode.
func New(mode Mode, capacity int) *Buffer {
	b := &Buffer{
		mu:       make(chan struct{}, 1),
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
		mode:     mode,
		capacity: capacity,
	}
	b.mu <- struct{}{}
	return b
}

func (b *Buffer) lock()   { <-b.mu }
func (b *Buffer) unlock() { b.mu <- struct{}{} }

// signal wakes every goroutine parked on ch by closing it and installing
// a fresh channel in its place; callers must hold the lock.
func signal(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}

// SwitchMode changes the buffer's discipline. Per spec §4.2: switching
// drops pending items unless the target mode and capacity match the
// current ones exactly.
func (b *Buffer) SwitchMode(mode Mode, capacity int) {
	b.lock()
	defer b.unlock()

	if mode == b.mode && (mode == Coalescing || capacity == b.capacity) {
		return
	}

	b.mode = mode
	b.capacity = capacity
	b.queue = nil
	b.slot = nil
	signal(&b.notFull)
}

// Empty reports whether the buffer currently holds no item.
func (b *Buffer) Empty() bool {
	b.lock()
	defer b.unlock()
	return b.emptyLocked()
}

func (b *Buffer) emptyLocked() bool {
	if b.mode == Coalescing {
		return b.slot == nil
	}
	return len(b.queue) == 0
}

// Add enqueues msg. In Buffered mode it blocks until capacity permits,
// returning ErrFull if timeout elapses first (timeout <= 0 means block
// forever). In Coalescing mode it never blocks: it overwrites any
// pending value and timeout is ignored.
func (b *Buffer) Add(msg protocol.Message, timeout time.Duration) error {
	b.lock()

	if b.mode == Coalescing {
		b.slot = &msg
		signal(&b.notEmpty)
		b.unlock()
		return nil
	}

	deadline := deadlineFor(timeout)
	for b.capacity > 0 && len(b.queue) >= b.capacity {
		waitCh := b.notFull
		b.unlock()

		if !wait(waitCh, deadline) {
			return ErrFull
		}
		b.lock()
	}

	b.queue = append(b.queue, msg)
	signal(&b.notEmpty)
	b.unlock()
	return nil
}

// Pop dequeues and returns the head item (Buffered mode, FIFO order) or
// the single pending item (Coalescing mode, consuming it). It blocks
// until an item is available or timeout elapses (timeout <= 0 means
// block forever), returning ok=false on timeout.
func (b *Buffer) Pop(timeout time.Duration) (msg protocol.Message, ok bool) {
	deadline := deadlineFor(timeout)

	b.lock()
	for b.emptyLocked() {
		waitCh := b.notEmpty
		b.unlock()

		if !wait(waitCh, deadline) {
			return protocol.Message{}, false
		}
		b.lock()
	}
	defer b.unlock()

	if b.mode == Coalescing {
		msg = *b.slot
		b.slot = nil
		return msg, true
	}

	msg = b.queue[0]
	b.queue = b.queue[1:]
	signal(&b.notFull)
	return msg, true
}

func deadlineFor(timeout time.Duration) (deadline time.Time) {
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	return deadline
}

// wait blocks on ch until it closes (signalled) or deadline passes; a
// zero deadline means wait forever. Returns false on timeout.
func wait(ch chan struct{}, deadline time.Time) bool {
	if deadline.IsZero() {
		<-ch
		return true
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
