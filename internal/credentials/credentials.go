package credentials

import (
	"fmt"
	"strconv"
	"strings"
)

// Field bounds in bytes, including the NUL terminator.
const (
	SSIDLen     = 20
	PasswordLen = 20
	HostLen     = 40
	PortLen     = 6
	URLLen      = 100
	MQTTUserLen = 20
	MQTTPassLen = 20
)

// Valid TCP port range.
const (
	minPort = 1
	maxPort = 65535
)

// Record is an unvalidated set of connection fields as read from a source.
type Record struct {
	SSID     string
	Password string
	MQTTUser string
	MQTTPass string
	Host     string
	Port     string
	URL      string
}

// ConnectionConfig holds validated network and broker identity.
//
// Values are only produced by Validate (directly or through Store.Load),
// so every field is known to fit its bound. It is passed by value;
// holders keep their own copy for the lifetime of a session.
type ConnectionConfig struct {
	SSID     string
	Password string
	MQTTUser string
	MQTTPass string
	Host     string
	Port     string
	URL      string
}

// PortNumber returns the broker port as an integer.
// The port was range-checked by Validate, so the conversion cannot fail.
func (c ConnectionConfig) PortNumber() int {
	n, _ := strconv.Atoi(c.Port) //nolint:errcheck // validated at load time
	return n
}

// BrokerAddress returns host:port for logging.
func (c ConnectionConfig) BrokerAddress() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// field describes one bounded field for validation and encoding.
type field struct {
	name     string
	bound    int
	required bool
}

// layout is the persisted field order. FileSource depends on it.
var layout = []field{
	{name: "ssid", bound: SSIDLen, required: true},
	{name: "password", bound: PasswordLen},
	{name: "mqtt_user", bound: MQTTUserLen},
	{name: "mqtt_pass", bound: MQTTPassLen},
	{name: "host", bound: HostLen, required: true},
	{name: "port", bound: PortLen, required: true},
	{name: "url", bound: URLLen},
}

// RecordSize is the length in bytes of a persisted record.
var RecordSize = func() int {
	n := 0
	for _, f := range layout {
		n += f.bound
	}
	return n
}()

func (r Record) values() []string {
	return []string{r.SSID, r.Password, r.MQTTUser, r.MQTTPass, r.Host, r.Port, r.URL}
}

func (c ConnectionConfig) values() []string {
	return Record(c).values()
}

// Validate checks every field of r against its bound and returns the
// validated configuration.
//
// Fields are checked in layout order and the first failure is returned
// as a *ConfigError. On failure the zero ConnectionConfig is returned.
func Validate(r Record) (ConnectionConfig, error) {
	for i, v := range r.values() {
		if err := checkField(layout[i], v); err != nil {
			return ConnectionConfig{}, err
		}
	}

	if err := checkPort(r.Port); err != nil {
		return ConnectionConfig{}, err
	}

	return ConnectionConfig(r), nil
}

// checkField applies the length, character and presence rules to one field.
func checkField(f field, v string) error {
	if encoded := len(v) + 1; encoded > f.bound {
		return &ConfigError{Field: f.name, Err: ErrFieldTooLong, Length: encoded, Max: f.bound}
	}
	if strings.IndexByte(v, 0) >= 0 {
		return &ConfigError{Field: f.name, Err: ErrInvalidCharacter}
	}
	if f.required && v == "" {
		return &ConfigError{Field: f.name, Err: ErrMissingField}
	}
	return nil
}

// checkPort requires plain ASCII digits in [1, 65535].
// strconv.Atoi alone would accept a leading sign.
func checkPort(p string) error {
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return &ConfigError{Field: "port", Err: ErrInvalidPort}
		}
	}
	n, err := strconv.Atoi(p)
	if err != nil || n < minPort || n > maxPort {
		return &ConfigError{Field: "port", Err: ErrInvalidPort}
	}
	return nil
}

// Source supplies an unvalidated record.
type Source interface {
	Read() (Record, error)
}

// StaticSource returns a fixed record, typically built from the daemon
// configuration file.
type StaticSource Record

// Read implements Source.
func (s StaticSource) Read() (Record, error) {
	return Record(s), nil
}

// Store loads validated connection configuration from a Source.
// It neither caches nor retries.
type Store struct {
	source Source
}

// NewStore creates a store reading from src.
func NewStore(src Source) *Store {
	return &Store{source: src}
}

// Load reads and validates the configuration.
//
// Returns:
//   - ConnectionConfig: validated configuration (zero value on error)
//   - error: source read error, or *ConfigError for a rejected field
func (s *Store) Load() (ConnectionConfig, error) {
	r, err := s.source.Read()
	if err != nil {
		return ConnectionConfig{}, fmt.Errorf("reading credentials: %w", err)
	}
	return Validate(r)
}
