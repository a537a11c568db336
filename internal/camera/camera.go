//////////////////////////////////////////////////////////////////////////////
//
// Camera driver capability interface
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package camera

import (
	"io"
	"sync/atomic"

	"github.com/lanikai/camhal/internal/frame"
)

/*
A Driver delivers synchronized multi-channel frame sets. Capture blocks until the
next set is available and returns false once the source is exhausted or closed.

Example usage:

	cam, err := camera.Open("filereader:[Channels=[left.*pgm,right.*pgm]]//data")
	if err != nil {
		// Configuration error
	}
	defer cam.Close()
	for {
		s, ok := cam.Capture()
		if !ok {
			break
		}
		// Do something with s.Images
	}

Capabilities that only some drivers have are exposed through accessor methods
that report whether the driver supports them, rather than through type
assertions on the concrete driver.
*/
type Driver interface {
	io.Closer

	// Capture returns the next frame set. The caller owns the returned set.
	Capture() (*frame.Set, bool)

	NumChannels() int
	Width(idx int) int
	Height(idx int) int

	State() State

	// Playback is implemented by recorded sources.
	Playback() (Playback, bool)

	// Device is implemented by live hardware.
	Device() (Device, bool)
}

// Playback exposes the position of a recorded source.
type Playback interface {
	// Number of frame sets in the recording.
	NumFrames() int

	// Next cursor index the producer will read.
	Cursor() int

	Looping() bool

	// Err returns the error that ended the stream early, if any.
	Err() error
}

// Device exposes live hardware controls.
type Device interface {
	// Path of the device node.
	Path() string

	// Err returns the error that ended the stream, if any.
	Err() error

	// Dropped returns the number of frames discarded because the consumer
	// fell behind.
	Dropped() uint64
}

// State is a point in a driver's lifecycle.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Running
	Stopping
	Destroyed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Destroyed:
		return "destroyed"
	default:
		return "invalid"
	}
}

// Lifecycle is a State that can be shared between goroutines. Drivers embed
// it to implement State().
type Lifecycle struct {
	state int32
}

func (l *Lifecycle) State() State {
	return State(atomic.LoadInt32(&l.state))
}

func (l *Lifecycle) SetState(s State) {
	atomic.StoreInt32(&l.state, int32(s))
}

// Transition moves from one state to another, and reports whether the driver
// was in the expected state.
func (l *Lifecycle) Transition(from, to State) bool {
	return atomic.CompareAndSwapInt32(&l.state, int32(from), int32(to))
}
