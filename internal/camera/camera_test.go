package camera

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/camhal/internal/frame"
)

func TestParseURI(t *testing.T) {
	u, err := ParseURI("filereader:[NumChannels=2,Channels=[l.*png,r.*png],Loop]//data/run1")
	require.NoError(t, err)
	assert.Equal(t, "filereader", u.Scheme)
	assert.Equal(t, "data/run1", u.Resource)
	assert.Equal(t, []string{"l.*png", "r.*png"}, u.Properties.List("Channels"))
	assert.True(t, u.Properties.Has("Loop"))

	u, err = ParseURI("v4l2:///dev/video0")
	require.NoError(t, err)
	assert.Equal(t, "/dev/video0", u.Resource)

	u, err = ParseURI("filereader")
	require.NoError(t, err)
	assert.Equal(t, "filereader", u.Scheme)
	assert.Empty(t, u.Resource)

	for _, bad := range []string{"", ":[a=1]", "filereader:[a=1", "filereader:data"} {
		_, err := ParseURI(bad)
		assert.True(t, IsConfigError(err), "%q: %v", bad, err)
	}
}

func TestURIString(t *testing.T) {
	u, err := ParseURI("filereader:[b=2,a=1]//dir")
	require.NoError(t, err)
	assert.Equal(t, "filereader:[a=1,b=2]//dir", u.String())
}

type fakeDriver struct {
	Lifecycle
	closed bool
}

func (d *fakeDriver) Capture() (*frame.Set, bool) { return nil, false }
func (d *fakeDriver) NumChannels() int { return 1 }
func (d *fakeDriver) Width(int) int { return 4 }
func (d *fakeDriver) Height(int) int { return 3 }
func (d *fakeDriver) Playback() (Playback, bool) { return nil, false }
func (d *fakeDriver) Device() (Device, bool) { return nil, false }
func (d *fakeDriver) Close() error { d.closed = true; return nil }

func TestRegistry(t *testing.T) {
	var gotOpts Options
	Register("fake-test", func(u *URI, opts Options) (Driver, error) {
		gotOpts = opts
		if u.Resource == "bad" {
			return nil, ConfigError("bad resource")
		}
		return &fakeDriver{}, nil
	})
	assert.Contains(t, Drivers(), "fake-test")
	assert.Panics(t, func() {
		Register("FAKE-TEST", func(*URI, Options) (Driver, error) { return nil, nil })
	})

	d, err := Open("Fake-Test://ok")
	require.NoError(t, err)
	assert.Equal(t, 4, d.Width(0))
	assert.Nil(t, gotOpts.Sync)

	_, err = Open("fake-test://bad")
	assert.True(t, IsConfigError(err))
	assert.True(t, errors.Is(err, ErrConfig))

	_, err = Open("nosuchdriver://x")
	assert.True(t, errors.Is(err, ErrUnknownDriver))
}

func TestLifecycle(t *testing.T) {
	var l Lifecycle
	assert.Equal(t, Uninitialized, l.State())
	assert.True(t, l.Transition(Uninitialized, Initializing))
	assert.False(t, l.Transition(Uninitialized, Running))
	l.SetState(Destroyed)
	assert.Equal(t, "destroyed", l.State().String())
}
