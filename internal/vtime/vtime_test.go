package vtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitReturns(t *testing.T, h *Handle, ts float64, within time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.WaitForTime(ts)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(within):
		t.Fatalf("WaitForTime(%v) still blocked after %v", ts, within)
	}
}

func TestUnknownNeverBlocks(t *testing.T) {
	s := New(Options{Realtime: true})
	a := s.Register("a")
	b := s.Register("b")
	b.PushTime(0.5)

	waitReturns(t, a, -1, 100*time.Millisecond)
}

func TestSingleSourceLockstepIsImmediate(t *testing.T) {
	s := New(Options{})
	a := s.Register("a")
	for _, ts := range []float64{10, 20, 30} {
		a.PushTime(ts)
	}
	for _, ts := range []float64{10, 20, 30} {
		waitReturns(t, a, ts, 100*time.Millisecond)
		a.PopTime()
	}
	assert.Equal(t, 0, a.Pending())
}

func TestLockstepReleasesInTimestampOrder(t *testing.T) {
	s := New(Options{})
	a := s.Register("a")
	b := s.Register("b")

	a.PushTime(1)
	a.PushTime(3)
	b.PushTime(2)
	b.PushTime(4)

	var (
		mu    sync.Mutex
		order []float64
		wg    sync.WaitGroup
	)
	consume := func(h *Handle, times []float64) {
		defer wg.Done()
		for _, ts := range times {
			h.WaitForTime(ts)
			mu.Lock()
			order = append(order, ts)
			mu.Unlock()
			h.PopTime()
		}
	}

	wg.Add(2)
	go consume(b, []float64{2, 4})
	time.Sleep(20 * time.Millisecond)
	go consume(a, []float64{1, 3})
	wg.Wait()

	assert.Equal(t, []float64{1, 2, 3, 4}, order)
}

func TestCloseReleasesOtherSources(t *testing.T) {
	s := New(Options{})
	a := s.Register("a")
	b := s.Register("b")
	require.Equal(t, 2, s.Refs())

	a.PushTime(1)
	b.PushTime(5)

	done := make(chan struct{})
	go func() {
		b.WaitForTime(5)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("b released while a is behind")
	case <-time.After(30 * time.Millisecond):
	}

	a.Close()
	a.Close()
	assert.Equal(t, 1, s.Refs())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("b not released after a closed")
	}
}

func TestSynchronizerCloseReleasesWaiters(t *testing.T) {
	s := New(Options{Realtime: true})
	a := s.Register("a")
	a.PushTime(0)
	a.WaitForTime(0)
	a.PopTime()

	a.PushTime(3600)
	done := make(chan struct{})
	go func() {
		a.WaitForTime(3600)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Close")
	}
}

func TestRealtimePacing(t *testing.T) {
	s := New(Options{Realtime: true, Speed: 2})
	a := s.Register("a")
	times := []float64{100, 100.1, 100.2, 100.3}
	for _, ts := range times {
		a.PushTime(ts)
	}

	start := time.Now()
	for _, ts := range times {
		a.WaitForTime(ts)
		a.PopTime()
	}
	elapsed := time.Since(start)

	// 0.3s of recorded time at double speed.
	assert.GreaterOrEqual(t, elapsed, 140*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestRealtimeRebasesWhenTimeGoesBackwards(t *testing.T) {
	s := New(Options{Realtime: true})
	a := s.Register("a")

	a.PushTime(50)
	a.WaitForTime(50)
	a.PopTime()

	// A loop wrapped around; this must not wait for (or skip past) epoch 50.
	a.PushTime(1)
	waitReturns(t, a, 1, 100*time.Millisecond)
}

func TestUnknownHeadDoesNotHoldOthersBack(t *testing.T) {
	s := New(Options{})
	a := s.Register("a")
	b := s.Register("b")

	a.PushTime(-1)
	b.PushTime(7)

	waitReturns(t, b, 7, 100*time.Millisecond)
}
