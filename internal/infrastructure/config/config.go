package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the linklight daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
//
// Credential fields here (network.ssid, mqtt.broker.host, ...) are raw input.
// Their length bounds are enforced by the credentials package, not by Validate.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Network   NetworkConfig   `yaml:"network"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Retry     RetryConfig     `yaml:"retry"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig identifies this device.
type DeviceConfig struct {
	ID string `yaml:"id"`

	// URL is the device's configured endpoint, announced in its status message.
	URL string `yaml:"url"`

	// CredentialsFile is an optional provisioned record. When set it replaces
	// network.ssid/password, mqtt.broker.host/port, mqtt.auth and device.url.
	CredentialsFile string `yaml:"credentials_file"`
}

// Network link backends.
const (
	LinkBackendInterface  = "interface"
	LinkBackendSupplicant = "supplicant"
	LinkBackendStatic     = "static"
)

// NetworkConfig contains WiFi association settings.
type NetworkConfig struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`

	// Backend selects the link implementation: interface, supplicant or static.
	Backend string `yaml:"backend"`

	// Interface is the host network interface to watch (e.g. "wlan0").
	Interface string `yaml:"interface"`

	// AssociationTimeout bounds a single association attempt.
	AssociationTimeout time.Duration `yaml:"association_timeout"`

	// PollInterval is how often the link is checked for drops.
	PollInterval time.Duration `yaml:"poll_interval"`

	Supplicant SupplicantConfig `yaml:"supplicant"`
}

// SupplicantConfig contains wpa_supplicant process settings.
type SupplicantConfig struct {
	// Binary is the path to the wpa_supplicant executable.
	Binary string `yaml:"binary"`

	// ConfigPath is where the generated supplicant config is written.
	ConfigPath string `yaml:"config_path"`

	// Driver is the wpa_supplicant driver (-D), e.g. "nl80211".
	Driver string `yaml:"driver"`

	// GracefulTimeout is how long to wait for SIGTERM before SIGKILL.
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker         MQTTBrokerConfig `yaml:"broker"`
	Auth           MQTTAuthConfig   `yaml:"auth"`
	QoS            int              `yaml:"qos"`
	KeepAlive      time.Duration    `yaml:"keep_alive"`
	ConnectTimeout time.Duration    `yaml:"connect_timeout"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`

	// Port is kept as text; the credentials store validates it.
	Port string `yaml:"port"`

	TLS bool `yaml:"tls"`

	// ClientID defaults to "linklight-<device id>" when empty.
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RetryConfig contains per-state retry policies.
type RetryConfig struct {
	Association RetryPolicyConfig `yaml:"association"`
	Session     RetryPolicyConfig `yaml:"session"`

	// StableSession is the uptime after which a broker drop no longer
	// counts as a flap against the session policy.
	StableSession time.Duration `yaml:"stable_session"`
}

// RetryPolicyConfig is an exponential backoff schedule with a hard attempt limit.
type RetryPolicyConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// Indicator backends.
const (
	IndicatorBackendLog    = "log"
	IndicatorBackendSerial = "serial"
	IndicatorBackendNone   = "none"
)

// IndicatorConfig contains status LED settings.
type IndicatorConfig struct {
	// Backend selects the LED device: log, serial or none.
	Backend string `yaml:"backend"`

	// Mirror additionally publishes the indicator to MQTT.
	Mirror bool `yaml:"mirror"`

	DataPin  int `yaml:"data_pin"`
	PowerPin int `yaml:"power_pin"`
	NumLEDs  int `yaml:"num_leds"`

	Serial SerialConfig `yaml:"serial"`
}

// SerialConfig contains serial LED controller settings.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// DatabaseConfig contains SQLite transition journal settings.
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local HTTP control API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	JWT       JWTConfig        `yaml:"jwt"`
	Panel     PanelConfig      `yaml:"panel"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// JWTConfig contains command token settings.
//
// With an empty Secret lifecycle commands need no token.
type JWTConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// PanelConfig controls the status page served at "/".
type PanelConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir serves the page from disk instead of the embedded copy.
	Dir string `yaml:"dir"`
}

// APITimeoutConfig contains HTTP server timeouts.
type APITimeoutConfig struct {
	Read  time.Duration `yaml:"read"`
	Write time.Duration `yaml:"write"`
	Idle  time.Duration `yaml:"idle"`
}

// WebSocketConfig contains transition stream settings.
type WebSocketConfig struct {
	MaxMessageSize int           `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LINKLIGHT_SECTION_KEY
// For example: LINKLIGHT_WIFI_SSID, LINKLIGHT_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID: "linklight-01",
		},
		Network: NetworkConfig{
			Backend:            LinkBackendInterface,
			Interface:          "wlan0",
			AssociationTimeout: 15 * time.Second,
			PollInterval:       2 * time.Second,
			Supplicant: SupplicantConfig{
				Binary:          "/usr/sbin/wpa_supplicant",
				ConfigPath:      "./data/wpa_supplicant.conf",
				Driver:          "nl80211",
				GracefulTimeout: 5 * time.Second,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: "1883",
			},
			QoS:            1,
			KeepAlive:      30 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Retry: RetryConfig{
			Association: RetryPolicyConfig{
				MaxAttempts:  5,
				InitialDelay: 1 * time.Second,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
			},
			Session: RetryPolicyConfig{
				MaxAttempts:  5,
				InitialDelay: 1 * time.Second,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
			},
			StableSession: 30 * time.Second,
		},
		Indicator: IndicatorConfig{
			Backend:  IndicatorBackendLog,
			DataPin:  4,
			PowerPin: 5,
			NumLEDs:  1,
			Serial: SerialConfig{
				BaudRate: 115200,
			},
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/linklight.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			JWT: JWTConfig{
				TokenTTL: 24 * time.Hour,
			},
			Panel: PanelConfig{
				Enabled: true,
			},
			Timeouts: APITimeoutConfig{
				Read:  10 * time.Second,
				Write: 10 * time.Second,
				Idle:  60 * time.Second,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 4096,
				PingInterval:   30 * time.Second,
				PongTimeout:    10 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LINKLIGHT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("LINKLIGHT_CREDENTIALS_FILE"); v != "" {
		cfg.Device.CredentialsFile = v
	}

	// WiFi
	if v := os.Getenv("LINKLIGHT_WIFI_SSID"); v != "" {
		cfg.Network.SSID = v
	}
	if v := os.Getenv("LINKLIGHT_WIFI_PASSWORD"); v != "" {
		cfg.Network.Password = v
	}

	// MQTT
	if v := os.Getenv("LINKLIGHT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LINKLIGHT_MQTT_PORT"); v != "" {
		cfg.MQTT.Broker.Port = v
	}
	if v := os.Getenv("LINKLIGHT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LINKLIGHT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("LINKLIGHT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("LINKLIGHT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("LINKLIGHT_API_JWT_SECRET"); v != "" {
		cfg.API.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	// Network validation
	switch c.Network.Backend {
	case LinkBackendInterface, LinkBackendSupplicant:
		if c.Network.Interface == "" {
			errs = append(errs, "network.interface is required for the "+c.Network.Backend+" backend")
		}
	case LinkBackendStatic:
	default:
		errs = append(errs, "network.backend must be interface, supplicant, or static")
	}
	if c.Network.Backend == LinkBackendSupplicant {
		if c.Network.Supplicant.Binary == "" {
			errs = append(errs, "network.supplicant.binary is required")
		}
		if c.Network.Supplicant.ConfigPath == "" {
			errs = append(errs, "network.supplicant.config_path is required")
		}
	}
	if c.Network.AssociationTimeout <= 0 {
		errs = append(errs, "network.association_timeout must be positive")
	}
	if c.Network.PollInterval <= 0 {
		errs = append(errs, "network.poll_interval must be positive")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.connect_timeout must be positive")
	}

	// Retry validation
	errs = append(errs, c.Retry.Association.validate("retry.association")...)
	errs = append(errs, c.Retry.Session.validate("retry.session")...)
	if c.Retry.StableSession <= 0 {
		errs = append(errs, "retry.stable_session must be positive")
	}

	// Indicator validation
	switch c.Indicator.Backend {
	case IndicatorBackendLog, IndicatorBackendNone:
	case IndicatorBackendSerial:
		if c.Indicator.Serial.Port == "" {
			errs = append(errs, "indicator.serial.port is required for the serial backend")
		}
		if c.Indicator.Serial.BaudRate <= 0 {
			errs = append(errs, "indicator.serial.baud_rate must be positive")
		}
	default:
		errs = append(errs, "indicator.backend must be log, serial, or none")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when enabled")
		}
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.API.WebSocket.PingInterval <= 0 || c.API.WebSocket.PongTimeout <= 0 {
			errs = append(errs, "api.websocket ping_interval and pong_timeout must be positive")
		}
		if c.API.WebSocket.MaxMessageSize <= 0 {
			errs = append(errs, "api.websocket.max_message_size must be positive")
		}
	}
	const minJWTSecretLength = 32
	if c.API.JWT.Secret != "" {
		if len(c.API.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "api.jwt.secret must be at least 32 characters")
		}
		if c.API.JWT.TokenTTL <= 0 {
			errs = append(errs, "api.jwt.token_ttl must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (p RetryPolicyConfig) validate(prefix string) []string {
	var errs []string
	if p.MaxAttempts < 1 {
		errs = append(errs, prefix+".max_attempts must be at least 1")
	}
	if p.InitialDelay <= 0 {
		errs = append(errs, prefix+".initial_delay must be positive")
	}
	if p.MaxDelay < p.InitialDelay {
		errs = append(errs, prefix+".max_delay must not be less than initial_delay")
	}
	if p.Multiplier < 1 {
		errs = append(errs, prefix+".multiplier must be at least 1")
	}
	return errs
}

// ClientID returns the configured MQTT client ID, or one derived from the device ID.
func (c *Config) ClientID() string {
	if c.MQTT.Broker.ClientID != "" {
		return c.MQTT.Broker.ClientID
	}
	return "linklight-" + c.Device.ID
}

// RetentionPeriod returns the transition journal retention as a Duration.
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}
