package process

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a previous run is alive.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrStartFailed is returned when the binary cannot be launched.
	ErrStartFailed = errors.New("process: start failed")

	// ErrExited is reported when the process exits with status 0 without Stop.
	ErrExited = errors.New("process: exited")
)
