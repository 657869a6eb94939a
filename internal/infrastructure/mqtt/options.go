package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is used when Options.ConnectTimeout is zero.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is used when Options.KeepAlive is zero.
	defaultKeepAlive = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Status message values.
const (
	statusOnline   = "online"
	statusOffline  = "offline"
	reasonGraceful = "graceful_shutdown"
	reasonCrash    = "unexpected_disconnect"
)

// brokerURL returns tcp:// or ssl:// host:port.
func brokerURL(opts Options) string {
	scheme := "tcp"
	if opts.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, opts.Host, opts.Port)
}

// buildClientOptions creates paho MQTT options for one session.
//
// Reconnection and connect-retry stay off; the lifecycle controller
// schedules every retry through its own backoff policy.
func buildClientOptions(opts Options) *pahomqtt.ClientOptions {
	popts := pahomqtt.NewClientOptions()

	popts.AddBroker(brokerURL(opts))
	popts.SetClientID(opts.ClientID)

	if opts.Username != "" {
		popts.SetUsername(opts.Username)
		popts.SetPassword(opts.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	popts.SetCleanSession(true)

	popts.SetAutoReconnect(false)
	popts.SetConnectRetry(false)

	popts.SetConnectTimeout(connectTimeout(opts))

	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	popts.SetKeepAlive(keepAlive)

	if opts.TLS {
		popts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: opts.Host,
		})
	}

	return popts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// Topic: linklight/<device>/status
// QoS: 1
// Retained: true (new subscribers see last status)
func configureLWT(popts *pahomqtt.ClientOptions, opts Options) {
	payload, err := buildStatusPayload(opts, statusOffline, reasonCrash)
	if err != nil {
		return
	}
	popts.SetBinaryWill(opts.Topics.Status(), payload, 1, true)
}

// StatusMessage is the retained device status payload.
type StatusMessage struct {
	Status    string `json:"status"`
	DeviceID  string `json:"device_id"`
	ClientID  string `json:"client_id"`
	URL       string `json:"url,omitempty"`
	BootID    string `json:"boot_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func buildStatusPayload(opts Options, status, reason string) ([]byte, error) {
	return json.Marshal(StatusMessage{
		Status:    status,
		DeviceID:  opts.Topics.DeviceID,
		ClientID:  opts.ClientID,
		URL:       opts.URL,
		BootID:    opts.BootID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
