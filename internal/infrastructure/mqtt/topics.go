package mqtt

import "fmt"

// TopicPrefix is the base for all linklight topics.
//
// Scheme: linklight/{device_id}/{category}
const TopicPrefix = "linklight"

// Topics provides builders for a device's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{DeviceID: "porch"}
//	topics.Status() // "linklight/porch/status"
type Topics struct {
	DeviceID string
}

// Status returns the retained online/offline status topic (also the LWT topic).
func (t Topics) Status() string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, t.DeviceID)
}

// Indicator returns the retained indicator mirror topic.
func (t Topics) Indicator() string {
	return fmt.Sprintf("%s/%s/indicator", TopicPrefix, t.DeviceID)
}

// AllDevices returns a wildcard matching every device's topics.
func (Topics) AllDevices() string {
	return TopicPrefix + "/#"
}
