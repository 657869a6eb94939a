package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// eventBuffer absorbs drops while the controller is busy.
const eventBuffer = 8

// ClientConfig configures a Client.
type ClientConfig struct {
	SSID     string
	Password string

	// AssociationTimeout bounds Connect. Zero means no bound beyond ctx.
	AssociationTimeout time.Duration

	// BrokerTimeout bounds ConnectBroker. Zero means no bound beyond ctx.
	BrokerTimeout time.Duration
}

// Client joins a Link and a Broker into the two-layer session the
// lifecycle controller drives.
//
// Every failure is returned wrapped in ErrAssociationFailed or
// ErrBrokerFailed, and additionally ErrTimeout when the attempt ran out of
// time. Unexpected drops of either layer are delivered on Events.
type Client struct {
	cfg    ClientConfig
	link   Link
	broker Broker

	events    chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	logger    Logger
}

// NewClient creates a client and starts forwarding drops to Events.
// Call Close to release it.
func NewClient(cfg ClientConfig, link Link, broker Broker) *Client {
	c := &Client{
		cfg:    cfg,
		link:   link,
		broker: broker,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		logger: noopLogger{},
	}
	c.wg.Add(1)
	go c.forward()
	return c
}

// SetLogger sets the logger.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

func (c *Client) forward() {
	defer c.wg.Done()
	for {
		var ev Event
		select {
		case <-c.done:
			return
		case err := <-c.link.Drops():
			ev = Event{Layer: LayerLink, Err: err}
		case err := <-c.broker.Drops():
			ev = Event{Layer: LayerBroker, Err: err}
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// Connect associates the link layer with the configured network.
func (c *Client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	attemptCtx, cancel := withTimeout(ctx, c.cfg.AssociationTimeout)
	defer cancel()

	if err := c.link.Associate(attemptCtx, c.cfg.SSID, c.cfg.Password); err != nil {
		return classify(ctx, attemptCtx, ErrAssociationFailed, err)
	}
	return nil
}

// Disconnect dissociates the link layer. Best-effort.
func (c *Client) Disconnect() {
	c.link.Dissociate()
}

// IsConnected reports link association.
func (c *Client) IsConnected() bool {
	return c.link.Associated()
}

// ConnectBroker establishes the broker session. The link must be associated.
func (c *Client) ConnectBroker(ctx context.Context, host string, port int, user, pass string) error {
	if c.isClosed() {
		return ErrClosed
	}
	if !c.link.Associated() {
		return fmt.Errorf("%w: %w", ErrBrokerFailed, ErrNotAssociated)
	}
	attemptCtx, cancel := withTimeout(ctx, c.cfg.BrokerTimeout)
	defer cancel()

	if err := c.broker.Connect(attemptCtx, host, port, user, pass); err != nil {
		return classify(ctx, attemptCtx, ErrBrokerFailed, err)
	}
	return nil
}

// DisconnectBroker closes the broker session. Best-effort.
func (c *Client) DisconnectBroker() {
	c.broker.Disconnect()
}

// IsBrokerConnected reports whether a broker session is live.
func (c *Client) IsBrokerConnected() bool {
	return c.broker.IsConnected()
}

// Events delivers unexpected drops of either layer.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close tears down both layers and stops event forwarding.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.broker.Disconnect()
		c.link.Dissociate()
		c.wg.Wait()
	})
	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classify wraps err in class, adding ErrTimeout when the attempt's own
// deadline (not the caller's) expired.
func classify(parent, attempt context.Context, class, err error) error {
	if parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", class, ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", class, err)
}
