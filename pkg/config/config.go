package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"onemeter-mqtt-bridge/pkg/logger"
)

// Config represents the complete application configuration.
// Supports config file versions 1.0 and 1.1 (1.1 adds the per-device
// dedupe_by_timestamp flag).
type Config struct {
	Version       string                  `yaml:"version,omitempty"`
	MQTT          MQTTConfig              `yaml:"mqtt"`
	HomeAssistant HAConfig                `yaml:"homeassistant"`
	Bridge        BridgeConfig            `yaml:"bridge"`
	Devices       map[string]DeviceConfig `yaml:"devices"`
	HTTP          HTTPConfig              `yaml:"http"`
	Logging       logger.LoggingConfig    `yaml:"logging"`
}

// MQTTConfig contains MQTT broker settings shared by the subscriber
// and the per-device publishers.
type MQTTConfig struct {
	Broker            string `yaml:"broker"`
	Port              int    `yaml:"port"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	ClientID          string `yaml:"client_id"`
	RetryDelay        int    `yaml:"retry_delay"`        // milliseconds between connection retries
	KeepAlive         int    `yaml:"keep_alive"`         // seconds
	HeartbeatInterval int    `yaml:"heartbeat_interval"` // seconds between presence refreshes
}

// HAConfig contains Home Assistant MQTT discovery settings and the
// bridge-level topics. Per-device identity lives in DeviceConfig.
type HAConfig struct {
	DiscoveryPrefix   string                  `yaml:"discovery_prefix"` // e.g. "homeassistant"
	StatusTopic       string                  `yaml:"status_topic"`     // bridge availability topic
	DiagnosticTopic   string                  `yaml:"diagnostic_topic"` // bridge diagnostics topic
	DeviceDiagnostics DeviceDiagnosticsConfig `yaml:"device_diagnostics"`
}

// DeviceDiagnosticsConfig controls the per-device diagnostic sensor.
type DeviceDiagnosticsConfig struct {
	Enabled              bool                       `yaml:"enabled"`
	PublishOnStateChange bool                       `yaml:"publish_on_state_change"`
	Intervals            DiagnosticIntervalsConfig  `yaml:"intervals"`
	Thresholds           DiagnosticThresholdsConfig `yaml:"thresholds"`
}

// DiagnosticIntervalsConfig holds diagnostic publish timing.
type DiagnosticIntervalsConfig struct {
	PublishInterval int `yaml:"publish_interval"` // seconds between periodic diagnostic publishes
}

// DiagnosticThresholdsConfig holds the state classification thresholds
// for the per-device diagnostic sensor.
type DiagnosticThresholdsConfig struct {
	IdleTimeout              int     `yaml:"idle_timeout"`               // seconds without a pulse before reporting idle
	WarningSuccessRate       float64 `yaml:"warning_success_rate"`       // percent, below this state is warning
	ErrorSuccessRate         float64 `yaml:"error_success_rate"`         // percent, below this state is error
	WarningConsecutiveErrors int     `yaml:"warning_consecutive_errors"` // consecutive failures before warning
	ErrorConsecutiveErrors   int     `yaml:"error_consecutive_errors"`   // consecutive failures before error
}

// BridgeConfig holds pipeline timing knobs.
type BridgeConfig struct {
	ForecastTickMinutes     int `yaml:"forecast_tick_minutes"`      // periodic forecast recompute, default 60
	RestoreTimeoutSeconds   int `yaml:"restore_timeout_seconds"`    // wait for the retained snapshot at attach
	ErrorGracePeriodSeconds int `yaml:"error_grace_period_seconds"` // publish failures tolerated before offline
}

// HTTPConfig controls the health/metrics/websocket endpoint.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoadConfig loads configuration from the first readable location,
// validates the file version, applies defaults and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	paths := []string{
		configPath,
		"/etc/onemeter-mqtt-bridge/config.yaml",
		"/etc/onemeter-mqtt-bridge.yaml",
		"./config.yaml",
	}

	var data []byte
	var err error
	var usedPath string

	for _, path := range paths {
		if path == "" {
			continue
		}
		// #nosec G304 - Paths are from a hardcoded list of safe configuration file locations
		data, err = os.ReadFile(path)
		if err == nil {
			usedPath = path
			break
		}
	}

	if err != nil {
		return nil, fmt.Errorf("cannot read configuration file from any of the locations: %v. Last error: %w", paths, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("configuration file %s: %w", usedPath, err)
	}

	logger.LogStartup("Configuration loaded from %s (version %s, %d device(s))",
		usedPath, cfg.Version, len(cfg.Devices))
	return cfg, nil
}

// LoadConfigFromString parses configuration from a string. Used by tests.
func LoadConfigFromString(yamlContent string) (*Config, error) {
	return parseConfig([]byte(yamlContent))
}

// parseConfig runs version check, unmarshal, defaulting and validation.
func parseConfig(data []byte) (*Config, error) {
	var versionCheck VersionInfo
	if err := yaml.Unmarshal(data, &versionCheck); err != nil {
		return nil, fmt.Errorf("error parsing configuration version: %w", err)
	}
	if err := ValidateVersion(versionCheck.Version); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = CurrentVersion
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "onemeter-mqtt-bridge"
	}
	if c.MQTT.RetryDelay == 0 {
		c.MQTT.RetryDelay = 5000
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60
	}
	if c.MQTT.HeartbeatInterval == 0 {
		c.MQTT.HeartbeatInterval = 60
	}

	if c.HomeAssistant.DiscoveryPrefix == "" {
		c.HomeAssistant.DiscoveryPrefix = "homeassistant"
	}
	if c.HomeAssistant.StatusTopic == "" {
		c.HomeAssistant.StatusTopic = "onemeter/bridge/status"
	}
	if c.HomeAssistant.DiagnosticTopic == "" {
		c.HomeAssistant.DiagnosticTopic = "onemeter/bridge/diagnostic"
	}
	if c.HomeAssistant.DeviceDiagnostics.Intervals.PublishInterval == 0 {
		c.HomeAssistant.DeviceDiagnostics.Intervals.PublishInterval = 60
	}
	thresholds := &c.HomeAssistant.DeviceDiagnostics.Thresholds
	if thresholds.IdleTimeout == 0 {
		thresholds.IdleTimeout = 3600
	}
	if thresholds.WarningSuccessRate == 0 {
		thresholds.WarningSuccessRate = 90
	}
	if thresholds.ErrorSuccessRate == 0 {
		thresholds.ErrorSuccessRate = 50
	}
	if thresholds.WarningConsecutiveErrors == 0 {
		thresholds.WarningConsecutiveErrors = 3
	}
	if thresholds.ErrorConsecutiveErrors == 0 {
		thresholds.ErrorConsecutiveErrors = 10
	}

	if c.Bridge.ForecastTickMinutes == 0 {
		c.Bridge.ForecastTickMinutes = 60
	}
	if c.Bridge.RestoreTimeoutSeconds == 0 {
		c.Bridge.RestoreTimeoutSeconds = 3
	}
	if c.Bridge.ErrorGracePeriodSeconds == 0 {
		c.Bridge.ErrorGracePeriodSeconds = 15
	}

	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}

	if c.Logging.Level == "" {
		c.Logging.Level = logger.LogLevelInfo
	}

	for id, device := range c.Devices {
		device.ApplyDefaults()
		c.Devices[id] = device
	}
}

// Validate checks the whole configuration field by field.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port must be between 1 and 65535, got %d", c.MQTT.Port)
	}
	if c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required")
	}
	if c.MQTT.RetryDelay < 0 {
		return fmt.Errorf("mqtt.retry_delay must not be negative, got %d", c.MQTT.RetryDelay)
	}
	if c.MQTT.KeepAlive < 0 {
		return fmt.Errorf("mqtt.keep_alive must not be negative, got %d", c.MQTT.KeepAlive)
	}
	if c.MQTT.HeartbeatInterval < 0 {
		return fmt.Errorf("mqtt.heartbeat_interval must not be negative, got %d", c.MQTT.HeartbeatInterval)
	}

	if c.HomeAssistant.DiscoveryPrefix == "" {
		return fmt.Errorf("homeassistant.discovery_prefix is required")
	}
	if c.HomeAssistant.StatusTopic == "" {
		return fmt.Errorf("homeassistant.status_topic is required")
	}

	if c.Bridge.ForecastTickMinutes <= 0 {
		return fmt.Errorf("bridge.forecast_tick_minutes must be positive, got %d", c.Bridge.ForecastTickMinutes)
	}
	if c.Bridge.RestoreTimeoutSeconds <= 0 {
		return fmt.Errorf("bridge.restore_timeout_seconds must be positive, got %d", c.Bridge.RestoreTimeoutSeconds)
	}

	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	if err := ValidateDevices(c.Devices); err != nil {
		return err
	}

	return nil
}
