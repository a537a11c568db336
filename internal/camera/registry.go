package camera

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/camhal/internal/logging"
	"github.com/lanikai/camhal/internal/vtime"
)

var log = logging.DefaultLogger.WithTag("camera")

// Options carry the collaborators a driver needs besides its properties.
type Options struct {
	// Shared virtual clock for recorded sources. Drivers create a private
	// one when nil.
	Sync *vtime.Synchronizer
}

type Option func(*Options)

// WithSynchronizer makes recorded sources pace against s, keeping them in
// step with every other source using s.
func WithSynchronizer(s *vtime.Synchronizer) Option {
	return func(o *Options) {
		o.Sync = s
	}
}

// A function used to open a specific driver. It performs all initialization
// synchronously; on error no background work may be left running.
type OpenFunc func(u *URI, opts Options) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]OpenFunc{}
)

// Register a driver, identified by name. URIs with this scheme are opened with
// the given function. Registering the same name twice panics.
func Register(name string, open OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name = strings.ToLower(name)
	if _, dup := registry[name]; dup {
		panic("camera: driver registered twice: " + name)
	}
	registry[name] = open
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var names []string
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open a camera from its URI. See ParseURI for the syntax.
func Open(uri string, options ...Option) (Driver, error) {
	u, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return OpenURI(u, options...)
}

// OpenURI opens an already parsed URI.
func OpenURI(u *URI, options ...Option) (Driver, error) {
	var opts Options
	for _, o := range options {
		o(&opts)
	}

	log.Debug("Registered drivers: %v", Drivers())

	registryMu.RLock()
	open, found := registry[strings.ToLower(u.Scheme)]
	registryMu.RUnlock()
	if !found {
		return nil, errors.Wrapf(ErrUnknownDriver, "'%s'", u.Scheme)
	}

	d, err := open(u, opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "open %s", u.Scheme)
	}
	log.Info("Opened %s with %d channel(s)", u, d.NumChannels())
	return d, nil
}

// ConfigError returns an error whose cause is ErrConfig.
func ConfigError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfig, format, args...)
}

// IsConfigError reports whether err was caused by a bad configuration.
func IsConfigError(err error) bool {
	return errors.Cause(err) == ErrConfig
}

// The cause of a wrapped URI or property error.
func wrapConfig(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(ErrConfig, err.Error())
}
