package indicator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// ErrNoPublisher is returned by MQTTDevice while no broker session exists.
var ErrNoPublisher = errors.New("indicator: mirror publisher not connected")

// =============================================================================
// Log device
// =============================================================================

// LogDevice reports indicator changes through a logger.
type LogDevice struct {
	logger Logger
}

// NewLogDevice creates a device that only logs.
func NewLogDevice(logger Logger) *LogDevice {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogDevice{logger: logger}
}

func (d *LogDevice) SetPower(on bool) error {
	d.logger.Info("indicator power", "on", on)
	return nil
}

func (d *LogDevice) SetColor(c Color) error {
	d.logger.Info("indicator color", "color", c.String())
	return nil
}

func (d *LogDevice) Close() error { return nil }

// =============================================================================
// Serial device
// =============================================================================

// SerialConfig describes an LED controller attached over a serial port.
type SerialConfig struct {
	Port     string
	BaudRate int
	DataPin  int
	PowerPin int
	NumLEDs  int
}

// SerialDevice drives an LED controller with a line protocol:
//
//	PWR <power_pin> <0|1>
//	LED <data_pin> <index> <color_code>
//
// The port is opened on first use and reopened after a write failure.
type SerialDevice struct {
	cfg  SerialConfig
	open func() (io.WriteCloser, error)

	mu   sync.Mutex
	port io.WriteCloser
}

// NewSerialDevice creates a serial LED device. Zero pins and LED count
// fall back to the board defaults.
func NewSerialDevice(cfg SerialConfig) *SerialDevice {
	if cfg.DataPin == 0 {
		cfg.DataPin = LEDPin
	}
	if cfg.PowerPin == 0 {
		cfg.PowerPin = LEDPowerPin
	}
	if cfg.NumLEDs <= 0 {
		cfg.NumLEDs = NumLEDs
	}
	d := &SerialDevice{cfg: cfg}
	d.open = func() (io.WriteCloser, error) {
		return serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	}
	return d
}

func (d *SerialDevice) SetPower(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return d.write(fmt.Sprintf("PWR %d %d\n", d.cfg.PowerPin, v))
}

func (d *SerialDevice) SetColor(c Color) error {
	var buf []byte
	for idx := 0; idx < d.cfg.NumLEDs; idx++ {
		buf = fmt.Appendf(buf, "LED %d %d %d\n", d.cfg.DataPin, idx, uint8(c))
	}
	return d.write(string(buf))
}

func (d *SerialDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

func (d *SerialDevice) write(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		port, err := d.open()
		if err != nil {
			return fmt.Errorf("open serial port %q: %w", d.cfg.Port, err)
		}
		d.port = port
	}

	if _, err := io.WriteString(d.port, line); err != nil {
		d.port.Close() //nolint:errcheck // write error takes precedence
		d.port = nil
		return fmt.Errorf("write serial port %q: %w", d.cfg.Port, err)
	}
	return nil
}

// =============================================================================
// MQTT mirror device
// =============================================================================

// Publisher is the MQTT surface the mirror needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// mirrorPayload is the JSON published on the indicator topic.
type mirrorPayload struct {
	Power bool   `json:"power"`
	Color string `json:"color"`
	Code  uint8  `json:"code"`
}

// MQTTDevice mirrors the indicator to a retained MQTT topic.
// It fails while the broker session is down; the Indicator swallows that.
type MQTTDevice struct {
	pub   Publisher
	topic string

	mu    sync.Mutex
	power bool
	color Color
}

// NewMQTTDevice creates a mirror publishing to topic.
func NewMQTTDevice(pub Publisher, topic string) *MQTTDevice {
	return &MQTTDevice{pub: pub, topic: topic}
}

func (d *MQTTDevice) SetPower(on bool) error {
	d.mu.Lock()
	d.power = on
	d.mu.Unlock()
	return d.publish()
}

func (d *MQTTDevice) SetColor(c Color) error {
	d.mu.Lock()
	d.color = c
	d.mu.Unlock()
	return d.publish()
}

func (d *MQTTDevice) Close() error { return nil }

func (d *MQTTDevice) publish() error {
	if !d.pub.IsConnected() {
		return ErrNoPublisher
	}

	d.mu.Lock()
	payload, err := json.Marshal(mirrorPayload{Power: d.power, Color: d.color.String(), Code: uint8(d.color)})
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshalling indicator mirror: %w", err)
	}

	return d.pub.Publish(d.topic, payload, 1, true)
}

// =============================================================================
// Multi device
// =============================================================================

// MultiDevice fans every command out to several devices.
// All devices are attempted; errors are joined.
type MultiDevice []Device

func (m MultiDevice) SetPower(on bool) error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.SetPower(on))
	}
	return errors.Join(errs...)
}

func (m MultiDevice) SetColor(c Color) error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.SetColor(c))
	}
	return errors.Join(errs...)
}

func (m MultiDevice) Close() error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}
