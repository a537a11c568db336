package filereader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lanikai/camhal/internal/camera"
	"github.com/lanikai/camhal/internal/props"
)

const (
	DefaultBufferSize = 35

	// Time keepers.
	SystemTime = "SystemTime"
	FileName   = "FileName"
)

// Config is the validated form of a filereader property map.
type Config struct {
	Name string

	// Base directory that channel patterns are relative to.
	Dir string

	// One file pattern per channel.
	Patterns []string

	BufferSize int
	StartFrame int
	Loop       bool
	Greyscale  bool

	// SystemTime or FileName. SystemTime stamps each image with the wall
	// clock at the moment it is decoded, not when it was recorded: pre-filled
	// sets carry nearly equal times, and Realtime pacing then follows decode
	// speed. Use a TimestampFile to replay recorded times.
	TimeKeeper string

	// Fallback frame rate in Hz; zero when not configured.
	Frequency float64

	// Optional sidecar file with one timestamp per frame set.
	TimestampFile string

	// Number of decoded images to keep; zero disables the cache.
	CacheSize int
}

// ParseConfig reads the driver properties. The URI resource, if present,
// overrides DataSourceDir.
func ParseConfig(p *props.Map, resource string) (*Config, error) {
	cfg := &Config{
		Name: p.String("name", "", "id"),
		Dir:  p.String("DataSourceDir", ".", "sdir"),
	}
	if resource != "" {
		cfg.Dir = resource
	}
	if cfg.Name == "" {
		cfg.Name = "filereader"
	}

	var err error
	if cfg.Patterns, err = channelPatterns(p); err != nil {
		return nil, err
	}

	if cfg.BufferSize, err = p.Int("BufferSize", DefaultBufferSize, "buffsize"); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if cfg.BufferSize < 1 {
		return nil, camera.ConfigError("BufferSize must be at least 1, got %d", cfg.BufferSize)
	}
	if cfg.StartFrame, err = p.Int("StartFrame", 0, "sf"); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if cfg.StartFrame < 0 {
		return nil, camera.ConfigError("StartFrame must not be negative, got %d", cfg.StartFrame)
	}
	if cfg.Loop, err = p.Bool("Loop", false, "loop"); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if cfg.Greyscale, err = p.Bool("ForceGreyscale", false, "grey", "greyscale"); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if cfg.Frequency, err = p.Float("frequency", 0, "Frequency"); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if cfg.CacheSize, err = p.Int("CacheSize", 0); err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	cfg.TimestampFile = p.String("TimestampFile", "")

	// A numeric time keeper is a frame rate.
	tk := p.String("TimeKeeper", FileName, "timekeeper")
	switch {
	case strings.EqualFold(tk, SystemTime):
		cfg.TimeKeeper = SystemTime
	case strings.EqualFold(tk, FileName):
		cfg.TimeKeeper = FileName
	default:
		f, err := strconv.ParseFloat(tk, 64)
		if err != nil {
			return nil, camera.ConfigError("TimeKeeper must be %s, %s or a frequency, got '%s'", SystemTime, FileName, tk)
		}
		cfg.TimeKeeper = FileName
		if cfg.Frequency == 0 {
			cfg.Frequency = f
		}
	}
	if cfg.Frequency < 0 {
		return nil, camera.ConfigError("frequency must not be negative, got %g", cfg.Frequency)
	}
	return cfg, nil
}

// channelPatterns returns one pattern per channel, from either a Channels
// list or NumChannels plus Channel-<i> keys.
func channelPatterns(p *props.Map) ([]string, error) {
	if list := p.List("Channels"); len(list) > 0 {
		if p.Has("NumChannels") {
			n, err := p.Int("NumChannels", 0)
			if err != nil {
				return nil, camera.ConfigError("%v", err)
			}
			if n != len(list) {
				return nil, camera.ConfigError("NumChannels is %d but %d channel patterns were given", n, len(list))
			}
		}
		return list, nil
	}

	n, err := p.Int("NumChannels", 0)
	if err != nil {
		return nil, camera.ConfigError("%v", err)
	}
	if n < 1 {
		return nil, camera.ConfigError("no channels specified, set NumChannels")
	}

	patterns := make([]string, n)
	for i := range patterns {
		key := fmt.Sprintf("Channel-%d", i)
		var aliases []string
		switch i {
		case 0:
			aliases = []string{"lfile", "chan0"}
		case 1:
			aliases = []string{"rfile", "chan1"}
		default:
			aliases = []string{fmt.Sprintf("chan%d", i)}
		}
		patterns[i] = p.String(key, "", aliases...)
		if patterns[i] == "" {
			return nil, camera.ConfigError("missing file pattern for %s", key)
		}
	}
	return patterns, nil
}
