package producer

import (
	"sync"

	"github.com/lanikai/camhal/internal/logging"
)

var log = logging.DefaultLogger.WithTag("producer")

// A Func is a long-running function, e.g. a read loop. It should terminate
// promptly when the quit channel is closed.
type Func func(quit <-chan struct{})

// A Loop runs a Func in a single background goroutine. It is started at most
// once. Stop closes the quit channel, runs the interrupt hook so a Func
// blocked elsewhere (e.g. on a full buffer) wakes up, and waits for the Func
// to return.
type Loop struct {
	name string
	run  Func

	// Called by Stop after quit is closed and before joining.
	Interrupt func()

	// Closed when Stop() is requested, to trigger run loop exit.
	quit chan struct{}

	// Closed when run loop actually terminates.
	terminated chan struct{}

	started bool
	stopped bool

	sync.Mutex
}

func New(name string, run Func) *Loop {
	return &Loop{
		name:       name,
		run:        run,
		quit:       make(chan struct{}),
		terminated: make(chan struct{}),
	}
}

// Start launches the goroutine. It panics if called twice.
func (loop *Loop) Start() {
	loop.Lock()
	defer loop.Unlock()

	if loop.started {
		panic("producer: loop already started")
	}
	loop.started = true

	go func() {
		defer close(loop.terminated)
		log.Debug("Starting loop %s", loop.name)
		loop.run(loop.quit)
		log.Debug("Loop %s returned", loop.name)
	}()
}

// Stop requests termination and blocks until the goroutine has exited. It is
// safe to call more than once, and on a loop that was never started.
func (loop *Loop) Stop() {
	loop.Lock()
	defer loop.Unlock()

	if loop.stopped {
		return
	}
	loop.stopped = true
	close(loop.quit)

	if !loop.started {
		return
	}
	if loop.Interrupt != nil {
		loop.Interrupt()
	}
	<-loop.terminated
	log.Debug("Stopped loop %s", loop.name)
}

// Done is closed once the goroutine has returned, whether it was stopped or
// finished on its own.
func (loop *Loop) Done() <-chan struct{} {
	return loop.terminated
}

// Running reports whether the goroutine has been started and not yet returned.
func (loop *Loop) Running() bool {
	loop.Lock()
	started := loop.started
	loop.Unlock()

	if !started {
		return false
	}
	select {
	case <-loop.terminated:
		return false
	default:
		return true
	}
}
