package journal

import "errors"

var (
	// ErrInvalidRetention is returned by Prune for a non-positive age.
	ErrInvalidRetention = errors.New("journal: retention must be positive")

	// ErrInvalidTransition is returned when a transition has no cause or timestamp.
	ErrInvalidTransition = errors.New("journal: invalid transition")
)
