//////////////////////////////////////////////////////////////////////////////
//
// Virtual time shared by file-backed capture sources
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package vtime

import (
	"container/heap"
	"sync"
	"time"

	"github.com/lanikai/camhal/internal/logging"
)

var log = logging.DefaultLogger.WithTag("vtime")

type Options struct {
	// Pace releases against the wall clock, so recorded data replays at the
	// rate it was captured. Without it, sources only stay in lockstep with
	// each other and run as fast as they are consumed.
	Realtime bool

	// Playback speed factor for Realtime. Zero means 1.
	Speed float64
}

/*
A Synchronizer sequences the consumption of several independently buffered
sources by the timestamps of their data. Each source registers a Handle, pushes
the timestamp of every set it produces, and, before handing a set to a caller,
waits until that set's timestamp is due. A timestamp is due once no other
source has an earlier one pending and, in Realtime mode, once the wall clock
has caught up with it.

Negative timestamps mean "unknown" and are always due immediately.

Example usage:

	sync := vtime.New(vtime.Options{Realtime: true})
	h := sync.Register("left")
	defer h.Close()

	h.PushTime(s.DeviceTime) // producer, for every set
	...
	h.WaitForTime(s.DeviceTime) // consumer, before handing out s
	h.PopTime()
*/
type Synchronizer struct {
	opts Options

	mu sync.Mutex

	// Handles with at least one pending known timestamp, ordered by head.
	queue handleQueue
	refs  int

	// Closed and replaced whenever the queue changes.
	changed chan struct{}

	// Clock origin: virtual time base corresponds to wall time start.
	based bool
	base  float64
	start time.Time
	last  float64

	closed bool
}

// New returns a synchronizer without any sources.
func New(opts Options) *Synchronizer {
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	return &Synchronizer{
		opts:    opts,
		changed: make(chan struct{}),
	}
}

// Register adds a source and returns its handle. Each handle holds one
// reference to the synchronizer until it is closed.
func (s *Synchronizer) Register(name string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs++
	log.Debug("%s registered (%d sources)", name, s.refs)
	return &Handle{sync: s, name: name, index: -1}
}

// Refs returns the number of open handles.
func (s *Synchronizer) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Close releases every waiter. Handles stay usable but never block again.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.notify()
}

// notify wakes all waiters. Caller holds mu.
func (s *Synchronizer) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// earliestOther returns the smallest pending head of any handle but h.
// Caller holds mu.
func (s *Synchronizer) earliestOther(h *Handle) (float64, bool) {
	if len(s.queue) == 0 {
		return 0, false
	}
	if s.queue[0] != h {
		return s.queue[0].head(), true
	}

	// h is at the top of the heap; the runner-up is one of its children.
	var (
		best  float64
		found bool
	)
	for _, i := range []int{1, 2} {
		if i < len(s.queue) {
			if t := s.queue[i].head(); !found || t < best {
				best, found = t, true
			}
		}
	}
	return best, found
}

// deadline returns the wall time at which t becomes due. Caller holds mu.
func (s *Synchronizer) deadline(t float64) time.Time {
	if !s.based || t < s.last {
		// First timestamp, or time went backwards (e.g. a looping source
		// wrapped around): start a new epoch at t.
		if s.based {
			log.Debug("time went backwards from %.6f to %.6f, rebasing", s.last, t)
		}
		s.based = true
		s.base = t
		s.start = time.Now()
	}
	offset := (t - s.base) / s.opts.Speed
	return s.start.Add(time.Duration(offset * float64(time.Second)))
}

// A Handle is one source's view of a Synchronizer.
type Handle struct {
	sync *Synchronizer
	name string

	// Timestamps of produced but not yet consumed sets, in production order.
	times []float64

	// Position in the synchronizer's heap, or -1 when not queued.
	index int

	closed bool
}

// head returns the first pending known timestamp. Unknown timestamps at the
// front of the queue never hold other sources back.
func (h *Handle) head() float64 {
	for _, t := range h.times {
		if t >= 0 {
			return t
		}
	}
	return -1
}

// update moves h to its correct place in the heap. Caller holds mu.
func (h *Handle) update() {
	s := h.sync
	queued := h.index >= 0
	known := h.head() >= 0 && !h.closed

	switch {
	case queued && known:
		heap.Fix(&s.queue, h.index)
	case queued && !known:
		heap.Remove(&s.queue, h.index)
	case !queued && known:
		heap.Push(&s.queue, h)
	}
	s.notify()
}

// PushTime records the timestamp of a newly produced set.
func (h *Handle) PushTime(t float64) {
	s := h.sync
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.closed {
		return
	}
	h.times = append(h.times, t)
	h.update()
}

// PopTime retires the timestamp of the set just consumed. The following
// pending timestamp becomes this source's position in virtual time.
func (h *Handle) PopTime() {
	s := h.sync
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.closed || len(h.times) == 0 {
		return
	}
	h.times = h.times[1:]
	h.update()
}

// WaitForTime blocks until t is due. Unknown (negative) timestamps are due
// immediately, as is everything once the handle or synchronizer is closed.
func (h *Handle) WaitForTime(t float64) {
	if t < 0 {
		return
	}

	s := h.sync
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		s.mu.Lock()
		if h.closed || s.closed {
			s.mu.Unlock()
			return
		}
		changed := s.changed

		if other, ok := s.earliestOther(h); ok && other < t {
			// Another source is behind; wait for it to catch up.
			s.mu.Unlock()
			<-changed
			continue
		}

		if !s.opts.Realtime {
			s.last = t
			s.mu.Unlock()
			return
		}

		wait := time.Until(s.deadline(t))
		if wait <= 0 {
			s.last = t
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-timer.C:
		case <-changed:
			timer.Stop()
		}
	}
}

// Pending returns the number of timestamps pushed but not yet popped.
func (h *Handle) Pending() int {
	s := h.sync
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(h.times)
}

// Close drops the source from the synchronizer, so other sources no longer
// wait for it. Close is idempotent.
func (h *Handle) Close() {
	s := h.sync
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	h.times = nil
	h.update()
	s.refs--
	log.Debug("%s unregistered (%d sources)", h.name, s.refs)
}

// handleQueue is a min-heap of handles keyed by their head timestamp.
type handleQueue []*Handle

func (q handleQueue) Len() int           { return len(q) }
func (q handleQueue) Less(i, j int) bool { return q[i].head() < q[j].head() }

func (q handleQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *handleQueue) Push(x interface{}) {
	h := x.(*Handle)
	h.index = len(*q)
	*q = append(*q, h)
}

func (q *handleQueue) Pop() interface{} {
	old := *q
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*q = old[:n-1]
	return h
}
