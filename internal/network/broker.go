package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/linklight/internal/infrastructure/mqtt"
)

// Broker is the MQTT session layer.
//
// Drops delivers an error each time an established session is lost
// without Disconnect being called.
type Broker interface {
	Connect(ctx context.Context, host string, port int, user, pass string) error
	Disconnect()
	IsConnected() bool
	Drops() <-chan error
}

// BrokerConfig holds the session settings that do not come from the
// credentials record.
type BrokerConfig struct {
	ClientID       string
	DeviceID       string
	URL            string
	BootID         string
	TLS            bool
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// session is the subset of *mqtt.Client used by MQTTBroker.
type session interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
	Close() error
	SetOnDisconnect(func(err error))
}

// MQTTBroker dials one paho session per Connect.
//
// It also satisfies indicator.Publisher, so the indicator can be mirrored
// over whichever session is current.
type MQTTBroker struct {
	cfg   BrokerConfig
	dial  func(ctx context.Context, opts mqtt.Options) (session, error)
	drops chan error

	mu      sync.Mutex
	current session
	logger  Logger
}

// NewMQTTBroker creates a broker layer. No connection is made until Connect.
func NewMQTTBroker(cfg BrokerConfig) *MQTTBroker {
	b := &MQTTBroker{
		cfg:    cfg,
		drops:  make(chan error, 1),
		logger: noopLogger{},
	}
	b.dial = func(ctx context.Context, opts mqtt.Options) (session, error) {
		client, err := mqtt.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		client.SetLogger(b.logger)
		return client, nil
	}
	return b
}

// SetLogger sets the logger.
func (b *MQTTBroker) SetLogger(logger Logger) {
	b.logger = logger
}

// Topics returns the topic builder for this device.
func (b *MQTTBroker) Topics() mqtt.Topics {
	return mqtt.Topics{DeviceID: b.cfg.DeviceID}
}

// Connect replaces any current session with a new one.
func (b *MQTTBroker) Connect(ctx context.Context, host string, port int, user, pass string) error {
	b.Disconnect()

	sess, err := b.dial(ctx, mqtt.Options{
		Host:           host,
		Port:           port,
		Username:       user,
		Password:       pass,
		TLS:            b.cfg.TLS,
		ClientID:       b.cfg.ClientID,
		QoS:            b.cfg.QoS,
		KeepAlive:      b.cfg.KeepAlive,
		ConnectTimeout: b.cfg.ConnectTimeout,
		Topics:         b.Topics(),
		URL:            b.cfg.URL,
		BootID:         b.cfg.BootID,
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.current = sess
	b.mu.Unlock()

	sess.SetOnDisconnect(func(err error) {
		b.lost(sess, err)
	})
	// A session that died before the callback was installed is a failed
	// handshake, not a drop.
	if !sess.IsConnected() {
		b.mu.Lock()
		if b.current == sess {
			b.current = nil
		}
		b.mu.Unlock()
		_ = sess.Close()
		return fmt.Errorf("session closed during handshake: %w", mqtt.ErrNotConnected)
	}
	return nil
}

// lost reports a drop for sess if it is still the current session.
func (b *MQTTBroker) lost(sess session, err error) {
	b.mu.Lock()
	if b.current != sess {
		b.mu.Unlock()
		return
	}
	b.current = nil
	b.mu.Unlock()

	b.logger.Warn("broker session lost", "error", err)
	select {
	case b.drops <- err:
	default:
	}
}

// Disconnect closes the current session, if any. It does not report a drop.
func (b *MQTTBroker) Disconnect() {
	b.mu.Lock()
	sess := b.current
	b.current = nil
	b.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			b.logger.Warn("closing broker session failed", "error", err)
		}
	}
}

// IsConnected reports whether a live session exists.
func (b *MQTTBroker) IsConnected() bool {
	b.mu.Lock()
	sess := b.current
	b.mu.Unlock()
	return sess != nil && sess.IsConnected()
}

// Drops returns the drop channel.
func (b *MQTTBroker) Drops() <-chan error {
	return b.drops
}

// Publish sends on the current session.
// Returns mqtt.ErrNotConnected when there is none.
func (b *MQTTBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	sess := b.current
	b.mu.Unlock()
	if sess == nil {
		return mqtt.ErrNotConnected
	}
	return sess.Publish(topic, payload, qos, retained)
}
