// Package credentials is the configuration store for the device's network
// and broker identity.
//
// This package manages:
//   - Bounded credential fields (SSID, WiFi password, MQTT user/password)
//   - Broker target fields (host, port, URL)
//   - Validation at load time against the firmware buffer sizes
//   - The persisted fixed-width record used by provisioning tools
//
// # Bounds
//
// Every bound includes a NUL terminator, mirroring the firmware buffers:
// a 20-byte SSID buffer holds at most 19 bytes of SSID. A field that does
// not fit is rejected with ErrFieldTooLong. Fields are never truncated,
// since a truncated password or host is a different credential.
//
// # Usage
//
//	store := credentials.NewStore(credentials.NewFileSource("/var/lib/linklight/credentials.bin"))
//	cfg, err := store.Load()
//	if err != nil {
//	    // configuration errors are fatal at startup
//	    return err
//	}
//
// # Security
//
// The record file holds plaintext secrets and is written with 0600
// permissions. Never log Password or MQTTPass.
package credentials
