// Package network implements the two-layer network session: a WiFi link
// and an MQTT broker session on top of it.
//
// The Client exposes commands for both layers and a single Events channel
// for unexpected drops. It never retries; the lifecycle controller owns
// all retry and backoff decisions.
//
// # Link backends
//
//   - InterfaceLink: waits for a host interface to be up with an address
//   - SupplicantLink: runs wpa_supplicant for the configured network
//   - StaticLink: always associated
//
// # Broker backend
//
// MQTTBroker dials a fresh paho session for each ConnectBroker call and
// reports its loss once on Drops.
package network
