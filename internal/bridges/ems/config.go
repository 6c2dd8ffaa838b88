package ems

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultGatewayConnection is the default gateway connection address.
const DefaultGatewayConnection = "serial:///dev/ttyUSB0?baud=9600"

// Config is the root configuration for the EMS bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge   BridgeConfig    `yaml:"bridge"`
	Gateway  GatewaySettings `yaml:"gateway"`
	MQTT     MQTTSettings    `yaml:"mqtt"`
	Devices  []DeviceConfig  `yaml:"devices"`
	Recorder RecorderConfig  `yaml:"recorder"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance.
	// Used in MQTT client ID and health reporting.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`

	// PollInterval is how often fetchable telegram types are requested
	// from each device (seconds). 0 disables polling.
	// Default: 60 seconds.
	PollInterval int `yaml:"poll_interval"`

	// Fahrenheit makes temperature setpoints arrive in °F.
	Fahrenheit bool `yaml:"fahrenheit"`
}

// GatewaySettings contains bus gateway connection settings.
type GatewaySettings struct {
	// Connection is the gateway URL.
	// Supported formats:
	//   - "serial:///dev/ttyUSB0?baud=9600"
	//   - "tcp://gateway.local:7000"
	//   - "ws://gateway.local/ems"
	Connection string `yaml:"connection"`

	// Address is the bus address the bridge sends from.
	// Default: 0x0B.
	Address int `yaml:"address"`

	// ConnectTimeout is the maximum time to wait for connection (seconds).
	// Default: 10 seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReconnectInterval is the delay between reconnection attempts (seconds).
	// Default: 5 seconds.
	ReconnectInterval int `yaml:"reconnect_interval"`

	// TxQueueSize bounds telegrams waiting for the bus. Default: 32.
	TxQueueSize int `yaml:"tx_queue_size"`

	// TxInterval is the gap between transmitted frames (milliseconds).
	// Default: 100.
	TxInterval int `yaml:"tx_interval_ms"`
}

// MQTTSettings contains MQTT broker connection settings.
type MQTTSettings struct {
	// Broker is the MQTT broker URL.
	// Example: "tcp://localhost:1883"
	Broker string `yaml:"broker"`

	// ClientID is the MQTT client identifier.
	// Default: bridge.id + "-mqtt"
	ClientID string `yaml:"client_id"`

	// Username for MQTT authentication (optional).
	Username string `yaml:"username"`

	// Password for MQTT authentication (optional).
	// WARNING: Never log this value. Use String() method for safe logging.
	Password string `yaml:"password"`

	// QoS is the MQTT quality of service level (0, 1, or 2).
	// Default: 1.
	QoS int `yaml:"qos"`

	// KeepAlive is the MQTT keep-alive interval (seconds).
	// Default: 60 seconds.
	KeepAlive int `yaml:"keep_alive"`
}

// String returns a string representation with password masked.
func (m MQTTSettings) String() string {
	password := ""
	if m.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("MQTTSettings{Broker:%q, ClientID:%q, Username:%q, Password:%s, QoS:%d, KeepAlive:%d}",
		m.Broker, m.ClientID, m.Username, password, m.QoS, m.KeepAlive)
}

// MarshalJSON implements json.Marshaler to redact password in JSON output.
func (m MQTTSettings) MarshalJSON() ([]byte, error) {
	type redacted MQTTSettings
	safe := redacted(m)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is the log output format: json or text.
	Format string `yaml:"format"`
}

// RecorderConfig controls the telegram type recorder.
type RecorderConfig struct {
	// Enabled records every seen (source, type) pair in SQLite.
	Enabled bool `yaml:"enabled"`
}

// DeviceConfig defines one bus device handled by the bridge.
type DeviceConfig struct {
	// DeviceID is the Gray Logic device identifier.
	DeviceID string `yaml:"device_id"`

	// Type names the device profile, e.g. "extension".
	Type string `yaml:"type"`

	// BusID is the device's bus address. YAML hex literals (0x15) work.
	BusID int `yaml:"bus_id"`

	// Name is a display name. Defaults to the profile description.
	Name string `yaml:"name"`

	// Brand, ProductID and Version are informational.
	Brand     string `yaml:"brand"`
	ProductID int    `yaml:"product_id"`
	Version   string `yaml:"version"`
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EMS_BRIDGE_SECTION_KEY
// For example: EMS_BRIDGE_GATEWAY_CONNECTION, EMS_BRIDGE_MQTT_BROKER
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func LoadConfig(path string) (*Config, error) {
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
		Bridge: BridgeConfig{
			ID:             "ems-bridge-01",
			HealthInterval: 30,
			PollInterval:   60,
		},
		Gateway: GatewaySettings{
			Connection:        DefaultGatewayConnection,
			Address:           int(AddrGateway),
			ConnectTimeout:    10,
			ReconnectInterval: 5,
			TxQueueSize:       defaultTxQueueSize,
			TxInterval:        100,
		},
		MQTT: MQTTSettings{
			Broker:    "tcp://localhost:1883",
			QoS:       1,
			KeepAlive: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Devices: []DeviceConfig{},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EMS_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("EMS_BRIDGE_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.PollInterval = n
		}
	}

	if v := os.Getenv("EMS_BRIDGE_GATEWAY_CONNECTION"); v != "" {
		cfg.Gateway.Connection = v
	}

	if v := os.Getenv("EMS_BRIDGE_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("EMS_BRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("EMS_BRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateDevices()...)
	errs = append(errs, c.validateLogging()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.PollInterval < 0 {
		errs = append(errs, "bridge.poll_interval must not be negative")
	}
	return errs
}

func (c *Config) validateGateway() []string {
	var errs []string
	if c.Gateway.Connection == "" {
		errs = append(errs, "gateway.connection is required")
	} else if _, err := parseConnectionURL(c.Gateway.Connection); err != nil {
		errs = append(errs, fmt.Sprintf("gateway.connection %q is invalid: %v", c.Gateway.Connection, err))
	}
	if c.Gateway.Address < 1 || c.Gateway.Address > 0x7F {
		errs = append(errs, "gateway.address must be between 0x01 and 0x7F")
	}
	if c.Gateway.ConnectTimeout < 1 {
		errs = append(errs, "gateway.connect_timeout must be at least 1 second")
	}
	if c.Gateway.TxQueueSize < 1 {
		errs = append(errs, "gateway.tx_queue_size must be at least 1")
	}
	if c.Gateway.TxInterval < 0 {
		errs = append(errs, "gateway.tx_interval_ms must not be negative")
	}
	return errs
}

func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	return errs
}

func (c *Config) validateDevices() []string {
	var errs []string
	deviceIDs := make(map[string]bool)

	for i, dev := range c.Devices {
		if dev.DeviceID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].device_id is required", i))
			continue
		}
		if deviceIDs[dev.DeviceID] {
			errs = append(errs, fmt.Sprintf("devices[%d].device_id %q is duplicate", i, dev.DeviceID))
		}
		deviceIDs[dev.DeviceID] = true

		if dev.Type == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].type is required", i))
		}
		if dev.BusID < 1 || dev.BusID > 0x7F {
			errs = append(errs, fmt.Sprintf("devices[%d].bus_id must be between 0x01 and 0x7F", i))
		}
		if dev.ProductID < 0 || dev.ProductID > 0xFF {
			errs = append(errs, fmt.Sprintf("devices[%d].product_id must fit in one byte", i))
		}
	}

	return errs
}

func (c *Config) validateLogging() []string {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level %q is invalid (use debug, info, warn, or error)", c.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Sprintf("logging.format %q is invalid (use json or text)", c.Logging.Format))
	}

	return errs
}

// ToGatewayConfig converts settings to a GatewayConfig.
func (c *Config) ToGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Connection:        c.Gateway.Connection,
		Address:           byte(c.Gateway.Address), //nolint:gosec // validated to 0x01..0x7F
		ConnectTimeout:    time.Duration(c.Gateway.ConnectTimeout) * time.Second,
		ReconnectInterval: time.Duration(c.Gateway.ReconnectInterval) * time.Second,
		TxQueueSize:       c.Gateway.TxQueueSize,
		TxInterval:        time.Duration(c.Gateway.TxInterval) * time.Millisecond,
	}
}

// DeviceInfos returns the configured devices as factory input.
func (c *Config) DeviceInfos() []DeviceInfo {
	infos := make([]DeviceInfo, 0, len(c.Devices))
	for _, dev := range c.Devices {
		infos = append(infos, DeviceInfo{
			ID:        dev.DeviceID,
			Type:      dev.Type,
			BusID:     byte(dev.BusID),     //nolint:gosec // validated to 0x01..0x7F
			ProductID: byte(dev.ProductID), //nolint:gosec // validated to one byte
			Version:   dev.Version,
			Name:      dev.Name,
			Brand:     dev.Brand,
		})
	}
	return infos
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetPollInterval returns the fetch interval, zero when polling is off.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Bridge.PollInterval) * time.Second
}

// GetMQTTClientID returns the MQTT client ID, defaulting to bridge ID if not set.
func (c *Config) GetMQTTClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return c.Bridge.ID + "-mqtt"
}
