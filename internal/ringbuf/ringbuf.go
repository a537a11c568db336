package ringbuf

import (
	"errors"
	"sync"

	"github.com/lanikai/camhal/internal/frame"
)

// ErrClosed is returned by BlockingPush once the buffer has been closed.
var ErrClosed = errors.New("ringbuf: closed")

/*
A Buffer is a fixed-capacity FIFO of frame sets, written by one producer and read
by any number of consumers. Producers block while the buffer is full, consumers
while it is empty. The producer calls Finish once it will never push again;
consumers then drain what is left and observe the end of the stream. Close shuts
the buffer down for both sides.

Example usage:

	buf := ringbuf.New(10)
	go func() {
		defer buf.Finish()
		for _, s := range sets {
			if buf.BlockingPush(s) != nil {
				return
			}
		}
	}()
	for {
		s, ok := buf.BlockingPop()
		if !ok {
			break
		}
		// Do something with s
	}
*/
type Buffer struct {
	mu       sync.Mutex
	notFull  sync.Cond
	notEmpty sync.Cond

	slots []*frame.Set
	front int // index of the oldest element
	size  int

	finished bool
	closed   bool
}

// New returns an empty buffer holding at most capacity sets.
func New(capacity int) *Buffer {
	if capacity < 1 {
		panic("ringbuf: capacity must be positive")
	}
	b := &Buffer{
		slots: make([]*frame.Set, capacity),
	}
	b.notFull.L = &b.mu
	b.notEmpty.L = &b.mu
	return b
}

// push appends s. Caller holds mu and has checked for space.
func (b *Buffer) push(s *frame.Set) {
	b.slots[(b.front+b.size)%len(b.slots)] = s
	b.size++
	b.notEmpty.Signal()
}

// TryPush appends s if there is room. It never blocks.
func (b *Buffer) TryPush(s *frame.Set) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.finished || b.size == len(b.slots) {
		return false
	}
	b.push(s)
	return true
}

// BlockingPush waits until there is room, then appends s.
func (b *Buffer) BlockingPush(s *frame.Set) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size == len(b.slots) && !b.closed {
		b.notFull.Wait()
	}
	if b.closed {
		return ErrClosed
	}
	if b.finished {
		panic("ringbuf: push after finish")
	}
	b.push(s)
	return nil
}

// wait blocks until there is data, or no data will ever come. Caller holds mu.
func (b *Buffer) wait() bool {
	for b.size == 0 && !b.finished && !b.closed {
		b.notEmpty.Wait()
	}
	return b.size > 0 && !b.closed
}

// BlockingPop waits for data and removes the oldest set. It returns false
// when the buffer is closed, or finished and drained.
func (b *Buffer) BlockingPop() (*frame.Set, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.wait() {
		return nil, false
	}

	s := b.slots[b.front]
	b.slots[b.front] = nil
	b.front = (b.front + 1) % len(b.slots)
	b.size--
	b.notFull.Signal()
	return s, true
}

// Peek waits like BlockingPop but leaves the oldest set in place.
func (b *Buffer) Peek() (*frame.Set, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.wait() {
		return nil, false
	}
	return b.slots[b.front], true
}

// Finish marks the end of the stream and wakes every waiting consumer.
func (b *Buffer) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.finished = true
	b.notEmpty.Broadcast()
}

// Close releases every blocked producer and consumer. Subsequent pushes fail
// and pops return false. Close is idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for i := range b.slots {
		b.slots[i] = nil
	}
	b.size = 0
	b.notFull.Broadcast()
	b.notEmpty.Broadcast()
}

// Exhausted reports whether the producer finished and all data was consumed,
// or the buffer was closed.
func (b *Buffer) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed || (b.finished && b.size == 0)
}

// Finished reports whether the producer called Finish.
func (b *Buffer) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// Len returns the number of buffered sets.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the capacity.
func (b *Buffer) Cap() int {
	return len(b.slots)
}
