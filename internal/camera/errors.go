package camera

import "errors"

var (
	// ErrConfig is the cause of every error a driver returns from Open
	// because of its properties or data files.
	ErrConfig = errors.New("configuration error")

	ErrUnknownDriver = errors.New("unknown camera driver")
)
