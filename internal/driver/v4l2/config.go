package v4l2

import (
	"strings"

	"github.com/lanikai/camhal/internal/camera"
	"github.com/lanikai/camhal/internal/props"
)

const (
	DefaultDevice     = "/dev/video0"
	DefaultBufferSize = 4
)

type Config struct {
	Name string

	// Device path, usually "/dev/video0".
	Path string

	Format uint32 // Pixel format fourcc (GREY, Y16 or YUYV)
	Width  int    // Requested width in pixels; the device may adjust it
	Height int    // Requested height in pixels

	HFlip bool // Flip video horizontally
	VFlip bool // Flip video vertically

	// Number of kernel capture buffers.
	KernelBuffers int

	// Capacity of the frame set buffer. Frames arriving while it is full are
	// dropped.
	BufferSize int
}

// ParseConfig reads the driver properties. The URI resource is the device
// path.
func ParseConfig(p *props.Map, resource string) (*Config, error) {
	cfg := &Config{
		Name: p.String("name", "v4l2", "id"),
		Path: resource,
	}
	if cfg.Path == "" {
		cfg.Path = p.String("Device", DefaultDevice, "dev")
	}

	var err error
	format := p.String("PixelFormat", "GREY", "Format")
	if cfg.Format, err = ParseFormat(format); err != nil {
		return nil, err
	}
	if cfg.Width, err = p.Int("Width", 640, "w"); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if cfg.Height, err = p.Int("Height", 480, "h"); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, camera.ConfigError("invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.HFlip, err = p.Bool("HFlip", false, "hflip"); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if cfg.VFlip, err = p.Bool("VFlip", false, "vflip"); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if cfg.KernelBuffers, err = p.Int("KernelBuffers", 4); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if cfg.BufferSize, err = p.Int("BufferSize", DefaultBufferSize); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if cfg.KernelBuffers < 1 || cfg.BufferSize < 1 {
		return nil, camera.ConfigError("KernelBuffers and BufferSize must be at least 1")
	}
	return cfg, nil
}

// ParseFormat converts a fourcc name such as "YUYV" to its code.
func ParseFormat(name string) (uint32, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "GREY", "GRAY", "Y8":
		return V4L2_PIX_FMT_GREY, nil
	case "Y16":
		return V4L2_PIX_FMT_Y16, nil
	case "YUYV", "YUY2":
		return V4L2_PIX_FMT_YUYV, nil
	}
	return 0, camera.ConfigError("unsupported pixel format '%s'", name)
}
