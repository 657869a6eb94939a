package credentials

import (
	"errors"
	"fmt"
)

// Domain-specific errors for configuration loading.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrFieldTooLong is returned when a field's encoded length, including
	// its terminator, exceeds the declared bound.
	ErrFieldTooLong = errors.New("credentials: field too long")

	// ErrInvalidPort is returned when the port is not an integer in [1, 65535].
	ErrInvalidPort = errors.New("credentials: invalid port")

	// ErrInvalidCharacter is returned when a field contains a NUL byte.
	ErrInvalidCharacter = errors.New("credentials: field contains NUL byte")

	// ErrMissingField is returned when a required field is empty.
	ErrMissingField = errors.New("credentials: required field is empty")

	// ErrCorruptRecord is returned when a persisted record has the wrong size.
	ErrCorruptRecord = errors.New("credentials: corrupt record")
)

// ConfigError describes why a single field was rejected.
//
// It wraps one of the sentinel errors above, so callers can use
// errors.Is(err, credentials.ErrFieldTooLong) without inspecting Field.
type ConfigError struct {
	// Field is the configuration field name (e.g. "ssid", "port").
	Field string

	// Err is the underlying sentinel.
	Err error

	// Length and Max are set for ErrFieldTooLong.
	Length int
	Max    int
}

func (e *ConfigError) Error() string {
	if errors.Is(e.Err, ErrFieldTooLong) {
		return fmt.Sprintf("%s: %s (encoded %d bytes, max %d)", e.Err, e.Field, e.Length, e.Max)
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
