package network

import "fmt"

// Layer identifies which half of the session dropped.
type Layer uint8

const (
	LayerLink Layer = iota + 1
	LayerBroker
)

// String returns the layer name used in logs and transition causes.
func (l Layer) String() string {
	switch l {
	case LayerLink:
		return "link"
	case LayerBroker:
		return "broker"
	default:
		return fmt.Sprintf("layer(%d)", uint8(l))
	}
}

// Event reports an unexpected loss of one layer.
type Event struct {
	Layer Layer
	Err   error
}

// Logger is the logging surface used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
