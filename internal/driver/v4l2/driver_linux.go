//go:build linux && (amd64 || arm64)

package v4l2

import (
	"sync"
	"sync/atomic"

	"github.com/lanikai/camhal/internal/camera"
	"github.com/lanikai/camhal/internal/frame"
	"github.com/lanikai/camhal/internal/producer"
	"github.com/lanikai/camhal/internal/ringbuf"
)

// Poll interval of the read loop, bounding how long Close waits.
const pollTimeoutMs = 100

func init() {
	camera.Register("v4l2", func(u *camera.URI, _ camera.Options) (camera.Driver, error) {
		cfg, err := ParseConfig(u.Properties, u.Resource)
		if err != nil {
			return nil, err
		}
		return Open(cfg)
	})
}

// Driver captures single-channel luminance frames from a video4linux2 device.
// Live frames are never paced; when the consumer falls behind, new frames
// are dropped.
type Driver struct {
	camera.Lifecycle

	cfg  *Config
	dev  *device
	ring *ringbuf.Buffer
	loop *producer.Loop

	dropped uint64

	mu    sync.Mutex
	err   error
	count int

	closeOnce sync.Once
}

// Open configures the device and starts streaming.
func Open(cfg *Config) (*Driver, error) {
	d := &Driver{cfg: cfg}
	d.SetState(camera.Initializing)

	dev, err := openDevice(cfg.Path)
	if err != nil {
		d.SetState(camera.Destroyed)
		return nil, camera.ConfigError("%v", err)
	}
	d.dev = dev

	fail := func(err error) (*Driver, error) {
		dev.Close()
		d.SetState(camera.Destroyed)
		return nil, camera.ConfigError("%s: %v", cfg.Path, err)
	}

	if err := dev.setPixelFormat(cfg.Width, cfg.Height, cfg.Format); err != nil {
		return fail(err)
	}
	if cfg.HFlip {
		if err := dev.flipHorizontal(); err != nil {
			return fail(err)
		}
	}
	if cfg.VFlip {
		if err := dev.flipVertical(); err != nil {
			return fail(err)
		}
	}
	if err := dev.start(cfg.KernelBuffers); err != nil {
		return fail(err)
	}

	d.ring = ringbuf.New(cfg.BufferSize)
	d.loop = producer.New(cfg.Name, d.readLoop)
	d.loop.Interrupt = d.ring.Close
	d.SetState(camera.Running)
	d.loop.Start()

	log.Info("%s: streaming %dx%d %s from %s", cfg.Name, dev.width, dev.height, formatName(dev.format), cfg.Path)
	return d, nil
}

// readLoop repeatedly reads from the device and offers each frame to the
// buffer. It exits on quit or an unrecoverable device error.
func (d *Driver) readLoop(quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		default:
		}

		raw, err := d.dev.readFrame(pollTimeoutMs)
		if err != nil {
			log.Error("%s: %v", d.cfg.Name, err)
			d.mu.Lock()
			d.err = err
			d.mu.Unlock()
			d.ring.Finish()
			return
		}
		if raw == nil {
			continue
		}

		img, err := toImage(d.dev.format, d.dev.width, d.dev.height, d.dev.bytesPerLine, raw.data)
		if err != nil {
			log.Warn("%s: %v", d.cfg.Name, err)
			continue
		}
		img.Path = d.cfg.Path
		img.Timestamp = raw.time

		s := frame.NewSet(1)
		s.Seq = int(raw.sequence)
		s.Images[0] = img
		s.StampDevice()

		d.mu.Lock()
		s.Count = d.count
		d.count++
		d.mu.Unlock()

		if !d.ring.TryPush(s) {
			if n := atomic.AddUint64(&d.dropped, 1); n%100 == 1 {
				log.Warn("%s: consumer falling behind, %d frame(s) dropped", d.cfg.Name, n)
			}
		}
	}
}

// Capture blocks until the next frame arrives.
func (d *Driver) Capture() (*frame.Set, bool) {
	if d.State() != camera.Running {
		return nil, false
	}
	return d.ring.BlockingPop()
}

func (d *Driver) NumChannels() int {
	return 1
}

func (d *Driver) Width(idx int) int {
	if idx != 0 {
		return 0
	}
	return d.dev.width
}

func (d *Driver) Height(idx int) int {
	if idx != 0 {
		return 0
	}
	return d.dev.height
}

func (d *Driver) Playback() (camera.Playback, bool) {
	return nil, false
}

func (d *Driver) Device() (camera.Device, bool) {
	return d, true
}

func (d *Driver) Path() string {
	return d.cfg.Path
}

// Err returns the device error that ended the stream, if any.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Driver) Dropped() uint64 {
	return atomic.LoadUint64(&d.dropped)
}

// Close stops streaming and releases the device.
func (d *Driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.SetState(camera.Stopping)
		d.loop.Stop()
		d.ring.Close()
		err = d.dev.Close()
		d.SetState(camera.Destroyed)
	})
	return err
}
