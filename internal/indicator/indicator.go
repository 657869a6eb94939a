package indicator

import (
	"context"
	"sync"
	"sync/atomic"
)

// Hardware identifiers of the status LED.
const (
	NumLEDs     = 1
	LEDPin      = 4
	LEDPowerPin = 5
)

// Color is the indicator color. Numeric values are the firmware color codes.
type Color uint8

const (
	Off   Color = 0
	Red   Color = 1
	Green Color = 2
	Blue  Color = 3
)

// String returns the lower-case color name.
func (c Color) String() string {
	switch c {
	case Off:
		return "off"
	case Red:
		return "red"
	case Green:
		return "green"
	case Blue:
		return "blue"
	default:
		return "unknown"
	}
}

// Driver is the surface the lifecycle controller commands.
// Implementations must not block and must not fail observably.
type Driver interface {
	SetPower(on bool)
	SetColor(c Color)
}

// Device is a physical or virtual LED backend. Errors are reported to the
// Indicator, which logs and swallows them.
type Device interface {
	SetPower(on bool) error
	SetColor(c Color) error
	Close() error
}

// Logger is the logging interface used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// output is a power/color pair.
type output struct {
	power bool
	color Color
}

// Indicator implements Driver on top of a Device.
//
// Thread Safety:
//   - SetPower/SetColor are safe for concurrent use and never block on the device.
//   - Device calls happen on a single worker goroutine.
type Indicator struct {
	dev    Device
	logger Logger

	mu      sync.Mutex
	want    output
	have    output
	applied bool // have reflects the device

	kick     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	faults atomic.Uint64
}

// New creates an Indicator for dev. The initial commanded state is
// powered off with color Off. Call Start to begin driving the device.
func New(dev Device) *Indicator {
	return &Indicator{
		dev:    dev,
		logger: noopLogger{},
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger used for fault reporting.
func (i *Indicator) SetLogger(logger Logger) {
	i.logger = logger
}

// Start launches the worker and pushes the initial state to the device.
func (i *Indicator) Start(ctx context.Context) {
	i.wg.Add(1)
	go i.run(ctx)
	i.signal()
}

// Close stops the worker and closes the device.
// Safe to call multiple times.
func (i *Indicator) Close() error {
	var err error
	i.stopOnce.Do(func() {
		close(i.done)
		i.wg.Wait()
		err = i.dev.Close()
	})
	return err
}

// SetPower implements Driver.
func (i *Indicator) SetPower(on bool) {
	i.mu.Lock()
	if i.want.power == on {
		i.mu.Unlock()
		return
	}
	i.want.power = on
	i.mu.Unlock()
	i.signal()
}

// SetColor implements Driver.
func (i *Indicator) SetColor(c Color) {
	i.mu.Lock()
	if i.want.color == c {
		i.mu.Unlock()
		return
	}
	i.want.color = c
	i.mu.Unlock()
	i.signal()
}

// Color returns the last commanded color.
func (i *Indicator) Color() Color {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.want.color
}

// Powered returns the last commanded power state.
func (i *Indicator) Powered() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.want.power
}

// Faults returns the number of device errors swallowed so far.
func (i *Indicator) Faults() uint64 {
	return i.faults.Load()
}

func (i *Indicator) signal() {
	select {
	case i.kick <- struct{}{}:
	default:
		// A pending kick will pick up the latest state.
	}
}

func (i *Indicator) run(ctx context.Context) {
	defer i.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-i.done:
			return
		case <-i.kick:
			i.apply()
		}
	}
}

// apply converges the device on the commanded state. The color is set
// before power is switched on, so the LED never lights with a stale color.
func (i *Indicator) apply() {
	i.mu.Lock()
	want, have, applied := i.want, i.have, i.applied
	i.mu.Unlock()

	ok := true
	if !applied || want.color != have.color {
		ok = i.setColor(want.color) && ok
	}
	if !applied || want.power != have.power {
		ok = i.setPower(want.power) && ok
	}

	i.mu.Lock()
	if ok {
		i.have = want
		i.applied = true
	} else {
		// Force a full re-apply on the next command.
		i.applied = false
	}
	i.mu.Unlock()
}

func (i *Indicator) setPower(on bool) bool {
	if err := i.dev.SetPower(on); err != nil {
		i.faults.Add(1)
		i.logger.Warn("indicator fault", "op", "set_power", "on", on, "error", err)
		return false
	}
	return true
}

func (i *Indicator) setColor(c Color) bool {
	if err := i.dev.SetColor(c); err != nil {
		i.faults.Add(1)
		i.logger.Warn("indicator fault", "op", "set_color", "color", c.String(), "error", err)
		return false
	}
	return true
}
