package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lanikai/camhal/internal/camera"
	"github.com/lanikai/camhal/internal/props"
)

// Config is the YAML configuration file.
type Config struct {
	Realtime *bool          `yaml:"realtime"`
	Speed    float64        `yaml:"speed"`
	Cameras  []CameraConfig `yaml:"cameras"`
}

type CameraConfig struct {
	Name string `yaml:"name"`
	URI  string `yaml:"uri"`

	// Defaults for properties the URI does not set.
	Properties *props.Map `yaml:"properties"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	for i, c := range cfg.Cameras {
		if c.URI == "" {
			return nil, errors.Errorf("config: camera %d has no uri", i)
		}
	}
	return &cfg, nil
}

// resolve parses the camera URI and fills in its properties and name.
func (c CameraConfig) resolve() (*camera.URI, string, error) {
	u, err := camera.ParseURI(c.URI)
	if err != nil {
		return nil, "", err
	}
	if c.Properties != nil {
		merged := c.Properties.Clone()
		merged.Merge(u.Properties)
		u.Properties = merged
	}

	name := u.Properties.String("name", "", "id")
	if name == "" {
		name = c.Name
	}
	if name == "" {
		name = uuid.NewString()
	}
	u.Properties.Set("name", name)
	return u, name, nil
}
