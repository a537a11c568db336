//////////////////////////////////////////////////////////////////////////////
//
// File-backed camera driver
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package filereader

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/camhal/internal/camera"
	"github.com/lanikai/camhal/internal/decode"
	"github.com/lanikai/camhal/internal/files"
	"github.com/lanikai/camhal/internal/frame"
	"github.com/lanikai/camhal/internal/logging"
	"github.com/lanikai/camhal/internal/producer"
	"github.com/lanikai/camhal/internal/ringbuf"
	"github.com/lanikai/camhal/internal/vtime"
)

var log = logging.DefaultLogger.WithTag("filereader")

func init() {
	camera.Register("filereader", func(u *camera.URI, opts camera.Options) (camera.Driver, error) {
		cfg, err := ParseConfig(u.Properties, u.Resource)
		if err != nil {
			return nil, err
		}
		return New(cfg, opts.Sync)
	})
}

// Driver replays recorded image sequences. A background producer decodes one
// frame set per cursor position into a bounded buffer; Capture hands the sets
// out in order, paced by a virtual time synchronizer.
type Driver struct {
	camera.Lifecycle

	cfg *Config

	// Per-channel file lists, all of length numFrames.
	files     [][]string
	numFrames int

	// Sidecar timestamps, indexed by cursor. Nil without a TimestampFile.
	times []float64

	// Geometry of the first set, per channel.
	width  []int
	height []int

	ring   *ringbuf.Buffer
	cache  *decode.Cache
	loop   *producer.Loop
	handle *vtime.Handle

	// Private synchronizer, closed with the driver. Nil when shared.
	ownSync *vtime.Synchronizer

	// Serializes consumers so each paces against its own set.
	captureMu sync.Mutex

	// Guards cursor, count and err.
	mu     sync.Mutex
	cursor int
	count  int
	err    error

	// Producer only. Each wrap of a looping recording adds to epoch so that
	// device times keep increasing and lockstep with other sources holds.
	wrapped bool
	epoch   float64
	last    float64
	period  float64

	closeOnce sync.Once
}

// New validates cfg, resolves every channel's files, reads the first
// cfg.BufferSize sets and starts the producer. clock may be shared with other
// drivers; when nil the driver uses a private one.
func New(cfg *Config, clock *vtime.Synchronizer) (*Driver, error) {
	d := &Driver{
		cfg:    cfg,
		cursor: cfg.StartFrame,
		last:   frame.Unknown,
	}
	d.SetState(camera.Initializing)

	if err := d.resolve(); err != nil {
		d.SetState(camera.Destroyed)
		return nil, err
	}

	mode := decode.Unchanged
	if cfg.Greyscale {
		mode = decode.Greyscale
	}
	d.cache = decode.NewCache(cfg.CacheSize, mode)
	d.ring = ringbuf.New(cfg.BufferSize)

	if clock == nil {
		d.ownSync = vtime.New(vtime.Options{})
		clock = d.ownSync
	}
	d.handle = clock.Register(cfg.Name)

	if err := d.prefill(); err != nil {
		d.handle.Close()
		if d.ownSync != nil {
			d.ownSync.Close()
		}
		d.SetState(camera.Destroyed)
		return nil, err
	}

	d.loop = producer.New(cfg.Name, d.run)
	d.loop.Interrupt = d.ring.Close
	d.SetState(camera.Running)
	if !d.ring.Finished() {
		d.loop.Start()
	}

	log.Info("%s: %d channel(s), %d frame(s) from %s", cfg.Name, len(d.files), d.numFrames, cfg.Dir)
	return d, nil
}

// resolve builds the file lists and checks that they are consistent.
func (d *Driver) resolve() error {
	cfg := d.cfg
	d.files = make([][]string, len(cfg.Patterns))
	for i, pattern := range cfg.Patterns {
		paths, err := files.FindChannel(cfg.Dir, pattern)
		if err != nil {
			return errors.Wrapf(camera.ErrConfig, "channel %d: %v", i, err)
		}
		if len(paths) == 0 {
			return camera.ConfigError("channel %d: no files match '%s' in %s", i, pattern, cfg.Dir)
		}
		if err := files.CheckReadable(paths); err != nil {
			return errors.Wrapf(camera.ErrConfig, "channel %d: %v", i, err)
		}
		d.files[i] = paths
	}

	d.numFrames = len(d.files[0])
	for i := 1; i < len(d.files); i++ {
		if len(d.files[i]) != d.numFrames {
			return camera.ConfigError("uneven number of files: channel 0 has %d, channel %d has %d",
				d.numFrames, i, len(d.files[i]))
		}
	}

	if cfg.StartFrame >= d.numFrames {
		return camera.ConfigError("StartFrame %d is past the last of %d frames", cfg.StartFrame, d.numFrames)
	}

	if cfg.TimestampFile != "" {
		path := cfg.TimestampFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Dir, path)
		}
		times, err := files.LoadTimestamps(path)
		if err != nil {
			return errors.Wrapf(camera.ErrConfig, "%v", err)
		}
		if len(times) < d.numFrames {
			return camera.ConfigError("%s has %d timestamps for %d frames", path, len(times), d.numFrames)
		}
		d.times = times
	}
	return nil
}

// prefill reads up to a full buffer before the producer starts, so a new
// driver has data and known geometry.
func (d *Driver) prefill() error {
	for i := 0; i < d.cfg.BufferSize; i++ {
		s, ok, err := d.next()
		if err != nil {
			return errors.Wrapf(camera.ErrConfig, "%v", err)
		}
		if !ok {
			d.ring.Finish()
			break
		}
		if i == 0 {
			d.width = make([]int, s.NumChannels())
			d.height = make([]int, s.NumChannels())
			for ch := range s.Images {
				d.width[ch], d.height[ch] = s.Width(ch), s.Height(ch)
			}
		}
		d.handle.PushTime(s.DeviceTime)
		d.ring.TryPush(s)
	}
	return nil
}

// run is the producer loop.
func (d *Driver) run(quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		default:
		}

		s, ok, err := d.next()
		if err != nil {
			log.Error("%s: %v", d.cfg.Name, err)
			d.mu.Lock()
			d.err = err
			d.mu.Unlock()
			d.ring.Finish()
			return
		}
		if !ok {
			log.Debug("%s: end of recording", d.cfg.Name)
			d.ring.Finish()
			return
		}

		d.handle.PushTime(s.DeviceTime)
		if err := d.ring.BlockingPush(s); err != nil {
			// Closed while waiting for space.
			return
		}
	}
}

// next decodes the set at the cursor and advances it. It reports false at the
// end of a recording that does not loop.
func (d *Driver) next() (*frame.Set, bool, error) {
	d.mu.Lock()
	if d.cursor >= d.numFrames {
		if !d.cfg.Loop {
			d.mu.Unlock()
			return nil, false, nil
		}
		d.cursor = d.cfg.StartFrame
		d.wrapped = true
	}
	idx, count := d.cursor, d.count
	d.mu.Unlock()

	s := frame.NewSet(len(d.files))
	s.Seq = idx
	s.Count = count
	for ch := range d.files {
		img, err := d.cache.File(d.files[ch][idx])
		if err != nil {
			return nil, false, err
		}
		img.Timestamp = d.timestamp(idx, count, img.Path)
		s.Images[ch] = img
	}
	s.StampDevice()
	d.advance(s)

	d.mu.Lock()
	d.cursor = idx + 1
	d.count++
	d.mu.Unlock()
	return s, true, nil
}

// advance maps the set's device time onto the driver's running clock. After a
// wrap, a recording that starts over at an earlier time is shifted to follow
// the last set by one frame period. Wall-clock stamps are left alone.
func (d *Driver) advance(s *frame.Set) {
	if s.DeviceTime < 0 || (d.times == nil && d.cfg.TimeKeeper == SystemTime) {
		return
	}
	t := s.DeviceTime + d.epoch
	if d.wrapped && d.last >= 0 && t <= d.last {
		d.epoch += d.last + d.framePeriod() - t
		t = s.DeviceTime + d.epoch
	}
	d.wrapped = false
	if d.last >= 0 && t > d.last {
		d.period = t - d.last
	}
	d.last = t
	s.DeviceTime = t
}

// framePeriod is the gap between the two most recent sets, else one period
// of the configured frequency, else a second.
func (d *Driver) framePeriod() float64 {
	switch {
	case d.period > 0:
		return d.period
	case d.cfg.Frequency > 0:
		return 1 / d.cfg.Frequency
	}
	return 1
}

// timestamp picks the first known of: sidecar entry or wall clock, the
// number in the file name, the set counter over the frequency.
func (d *Driver) timestamp(idx, count int, path string) float64 {
	if d.times != nil {
		return d.times[idx]
	}
	if d.cfg.TimeKeeper == SystemTime {
		return float64(time.Now().UnixNano()) / 1e9
	}
	if t := files.FilenameTimestamp(path); t >= 0 {
		return t
	}
	if d.cfg.Frequency > 0 {
		return float64(count) / d.cfg.Frequency
	}
	return frame.Unknown
}

// Capture returns the next frame set once its timestamp is due. It returns
// false once the recording is exhausted or the driver is closed.
func (d *Driver) Capture() (*frame.Set, bool) {
	if d.State() != camera.Running || d.ring.Exhausted() {
		return nil, false
	}

	d.captureMu.Lock()
	defer d.captureMu.Unlock()

	front, ok := d.ring.Peek()
	if !ok {
		return nil, false
	}
	d.handle.WaitForTime(front.DeviceTime)

	s, ok := d.ring.BlockingPop()
	if !ok {
		return nil, false
	}
	d.handle.PopTime()
	return s, true
}

func (d *Driver) NumChannels() int {
	return len(d.files)
}

func (d *Driver) Width(idx int) int {
	if idx < 0 || idx >= len(d.width) {
		return 0
	}
	return d.width[idx]
}

func (d *Driver) Height(idx int) int {
	if idx < 0 || idx >= len(d.height) {
		return 0
	}
	return d.height[idx]
}

func (d *Driver) Playback() (camera.Playback, bool) {
	return d, true
}

func (d *Driver) Device() (camera.Device, bool) {
	return nil, false
}

// NumFrames returns the number of sets in the recording.
func (d *Driver) NumFrames() int {
	return d.numFrames
}

// Cursor returns the index the producer reads next.
func (d *Driver) Cursor() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

func (d *Driver) Looping() bool {
	return d.cfg.Loop
}

// Err returns the decode error that ended the stream, if any.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// CacheStats returns the decode cache hits and lookups.
func (d *Driver) CacheStats() (hits, lookups int) {
	return d.cache.Stats()
}

// Close stops the producer, waiting for it to exit, and releases the buffer.
// It is safe to call more than once.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.SetState(camera.Stopping)
		d.loop.Stop()
		d.ring.Close()
		d.handle.Close()
		if d.ownSync != nil {
			d.ownSync.Close()
		}
		d.SetState(camera.Destroyed)
		log.Debug("%s: closed", d.cfg.Name)
	})
	return nil
}
