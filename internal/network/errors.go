package network

import "errors"

// Failure classes surfaced to the lifecycle controller.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAssociationFailed is returned when the link layer could not associate.
	ErrAssociationFailed = errors.New("network: association failed")

	// ErrBrokerFailed is returned when the broker session could not be established.
	ErrBrokerFailed = errors.New("network: broker connection failed")

	// ErrTimeout is wrapped into the above when an attempt ran out of time.
	ErrTimeout = errors.New("network: timed out")

	// ErrNotAssociated is returned by ConnectBroker while the link is down.
	ErrNotAssociated = errors.New("network: link not associated")

	// ErrLinkDown is reported as a drop when the interface loses its address.
	ErrLinkDown = errors.New("network: link down")

	// ErrSupplicantExited is reported as a drop when wpa_supplicant exits.
	ErrSupplicantExited = errors.New("network: wpa_supplicant exited")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("network: client closed")
)
