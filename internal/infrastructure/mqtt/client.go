package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Options describes one broker session.
//
// Host, Port and the credentials come from the validated device
// configuration; the remaining fields come from the daemon config.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool

	ClientID       string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	// Topics builds the per-device topic names.
	Topics Topics

	// URL and BootID are announced in status messages.
	URL    string
	BootID string
}

// Client wraps paho.mqtt.golang for a single broker session.
//
// Unlike a long-lived service client it never reconnects on its own:
// a lost connection is reported through the OnDisconnect callback and the
// caller decides whether and when to dial again.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	opts   Options

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger for error logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect establishes a session with the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options (broker URL, auth, TLS, no auto-reconnect)
//  2. Configures Last Will and Testament (LWT) for offline detection
//  3. Attempts the connection, bounded by ctx and opts.ConnectTimeout
//  4. Publishes online status to linklight/<device>/status
//
// Parameters:
//   - ctx: Cancels the connection attempt
//   - opts: Session options
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed wrapping the cause (refused, auth, ErrTimeout)
func Connect(ctx context.Context, opts Options) (*Client, error) {
	popts := buildClientOptions(opts)
	configureLWT(popts, opts)

	c := &Client{opts: opts}

	popts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	popts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(popts)
	token := c.client.Connect()
	if err := waitToken(ctx, token, connectTimeout(opts)); err != nil {
		// The attempt may still complete in the background; make sure a
		// late success does not leave an orphaned session.
		go func() {
			token.Wait()
			c.client.Disconnect(0)
		}()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// OnConnectHandler runs asynchronously, so set state here to ensure
	// IsConnected() is true as soon as Connect returns.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// waitToken waits for a paho token, the context, or the timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}

func connectTimeout(opts Options) time.Duration {
	if opts.ConnectTimeout > 0 {
		return opts.ConnectTimeout
	}
	return defaultConnectTimeout
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.publishStatus(statusOnline, "")

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost unexpectedly.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// publishStatus publishes a retained status message. Best-effort.
func (c *Client) publishStatus(status, reason string) {
	payload, err := buildStatusPayload(c.opts, status, reason)
	if err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("building MQTT status payload failed", "error", err)
		}
		return
	}
	token := c.client.Publish(c.opts.Topics.Status(), c.opts.QoS, true, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT status publish timed out", "status", status)
		}
	}
}

// Close gracefully disconnects from the MQTT broker.
//
// It publishes a graceful offline status (distinct from the LWT crash
// status) and disconnects with a short quiesce period.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus(statusOffline, reasonGraceful)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback to be invoked when the connection is established.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when the connection is lost.
// It is not called for Close.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error logging.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
