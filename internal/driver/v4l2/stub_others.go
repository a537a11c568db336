//go:build !linux || !(amd64 || arm64)

package v4l2

import (
	"github.com/pkg/errors"

	"github.com/lanikai/camhal/internal/camera"
)

var ErrUnsupported = errors.New("v4l2: not supported on this platform")

func init() {
	camera.Register("v4l2", func(u *camera.URI, _ camera.Options) (camera.Driver, error) {
		if _, err := ParseConfig(u.Properties, u.Resource); err != nil {
			return nil, err
		}
		log.Warn("%v", ErrUnsupported)
		return nil, ErrUnsupported
	})
}
