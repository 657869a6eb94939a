package lifecycle

import "errors"

var (
	// ErrClosed is returned by Start, Stop and Reset once Run has exited.
	ErrClosed = errors.New("lifecycle: controller closed")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("lifecycle: controller already running")

	// ErrRetryExhausted is recorded on the transition into StateFaulted.
	ErrRetryExhausted = errors.New("lifecycle: retry budget exhausted")

	// ErrSessionLost fails a handshake whose session was gone by the time
	// its result was handled.
	ErrSessionLost = errors.New("lifecycle: broker session lost during handshake")

	// ErrSessionUnstable is wrapped into the fault recorded when broker
	// sessions keep dropping before they become stable.
	ErrSessionUnstable = errors.New("lifecycle: broker session unstable")

	// ErrInvalidPolicy is returned by RetryPolicy.Validate.
	ErrInvalidPolicy = errors.New("lifecycle: invalid retry policy")
)
