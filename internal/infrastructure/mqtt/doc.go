// Package mqtt provides the broker session transport for linklight.
//
// This package manages:
//   - A single broker session per Client (no automatic reconnection)
//   - Retained online/offline status with Last Will and Testament
//   - Message publishing with validation and timeouts
//
// # Architecture
//
// The lifecycle controller owns retry policy. A Client is dialled for each
// session attempt and discarded when the session ends; a lost connection is
// reported once through SetOnDisconnect.
//
//	lifecycle.Controller → network.MQTTBroker → mqtt.Client → broker
//
// # Topics
//
//	linklight/{device_id}/status     retained online/offline, LWT
//	linklight/{device_id}/indicator  retained indicator mirror
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, mqtt.Options{
//	    Host: "broker.local", Port: 1883,
//	    ClientID: "linklight-porch",
//	    Topics:   mqtt.Topics{DeviceID: "porch"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) outside the lab
//   - Credentials are validated against the broker ACL
package mqtt
