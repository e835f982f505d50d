package config

import (
	"fmt"

	"onemeter-mqtt-bridge/pkg/decoder"
	"onemeter-mqtt-bridge/pkg/errors"
)

// Device identity announced to Home Assistant. The OneMeter S10 is the
// only gateway model this bridge speaks to.
const (
	DeviceManufacturer = "OneMeter"
	DeviceModel        = "S10"

	BridgeDeviceID           = "onemeter_bridge"
	BridgeDeviceName         = "OneMeter MQTT Bridge"
	BridgeDeviceManufacturer = "OneMeter"
	BridgeDeviceModel        = "MQTT Bridge"
)

// Wizard defaults for a new meter entry.
const (
	DefaultDeviceID            = "om9613"
	DefaultMAC                 = "E58D81019613"
	DefaultSubscribeTopic      = "onemeter/s10/v1"
	DefaultImpulsesPerKWh      = 1000
	DefaultMaxPowerKW          = 20
	DefaultPowerAverageWindow  = 2
	DefaultPowerTimeoutSeconds = 300
)

// DeviceConfig is one impulse-counting meter. The map key in
// Config.Devices is the device_id used in topics and unique ids.
type DeviceConfig struct {
	Name                string  `yaml:"name,omitempty"`           // Display name, defaults to "OneMeter <device_id>"
	MAC                 string  `yaml:"mac"`                      // Target MAC inside the dev_list frame, 12 hex digits
	SubscribeTopic      string  `yaml:"subscribe_topic"`          // Inbound raw-pulse topic
	ImpulsesPerKWh      int     `yaml:"impulses_per_kwh"`         // Meter constant
	MaxPowerKW          float64 `yaml:"max_power_kw"`             // Safety cap for the power estimate
	PowerAverageWindow  int     `yaml:"power_average_window"`     // Sample count for the moving average
	PowerTimeoutSeconds int     `yaml:"power_timeout_seconds"`    // Idle interval after which power reports 0
	InitialKWh          float64 `yaml:"initial_kwh"`              // Seed when no retained snapshot exists
	MonthlyUsageKWh     float64 `yaml:"monthly_usage_kwh"`        // Month-to-date used to seed the month baseline
	DedupeByTimestamp   bool    `yaml:"dedupe_by_timestamp"`      // V1.1+: suppress frames repeating the previous ts
	Enabled             *bool   `yaml:"enabled,omitempty"`        // nil means enabled
	Manufacturer        string  `yaml:"manufacturer,omitempty"`   // Override for HA device registry
	Model               string  `yaml:"model,omitempty"`          // Override for HA device registry
}

// DefaultDeviceConfig returns a device entry carrying the wizard defaults.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		MAC:                 DefaultMAC,
		SubscribeTopic:      DefaultSubscribeTopic,
		ImpulsesPerKWh:      DefaultImpulsesPerKWh,
		MaxPowerKW:          DefaultMaxPowerKW,
		PowerAverageWindow:  DefaultPowerAverageWindow,
		PowerTimeoutSeconds: DefaultPowerTimeoutSeconds,
	}
}

// ApplyDefaults fills unset fields with their documented defaults.
// MAC has no default here: an explicit selector is required per entry.
func (d *DeviceConfig) ApplyDefaults() {
	if d.SubscribeTopic == "" {
		d.SubscribeTopic = DefaultSubscribeTopic
	}
	if d.ImpulsesPerKWh == 0 {
		d.ImpulsesPerKWh = DefaultImpulsesPerKWh
	}
	if d.MaxPowerKW == 0 {
		d.MaxPowerKW = DefaultMaxPowerKW
	}
	if d.PowerAverageWindow == 0 {
		d.PowerAverageWindow = DefaultPowerAverageWindow
	}
	if d.PowerTimeoutSeconds == 0 {
		d.PowerTimeoutSeconds = DefaultPowerTimeoutSeconds
	}
	if d.Manufacturer == "" {
		d.Manufacturer = DeviceManufacturer
	}
	if d.Model == "" {
		d.Model = DeviceModel
	}
}

// IsEnabled reports whether the device participates in the pipeline.
func (d *DeviceConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// DisplayName returns the HA-facing name for the device.
func (d *DeviceConfig) DisplayName(deviceID string) string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("OneMeter %s", deviceID)
}

// Validate checks a single device entry. Violations carry the stable
// error keys surfaced to the configuration flow.
func (d *DeviceConfig) Validate(deviceID string) error {
	if deviceID == "" {
		return errors.NewValidationError("device_id", "invalid_device_id", deviceID)
	}
	if !decoder.ValidMAC(d.MAC) {
		return errors.NewValidationError("mac", "invalid_mac", d.MAC)
	}
	if d.SubscribeTopic == "" {
		return errors.NewValidationError("subscribe_topic", "invalid_topic", d.SubscribeTopic)
	}
	if d.ImpulsesPerKWh <= 0 {
		return errors.NewValidationError("impulses_per_kwh", "invalid_impulses", d.ImpulsesPerKWh)
	}
	if d.MaxPowerKW <= 0 {
		return errors.NewValidationError("max_power_kw", "invalid_max_power", d.MaxPowerKW)
	}
	if d.PowerAverageWindow <= 0 {
		return errors.NewValidationError("power_average_window", "invalid_average_window", d.PowerAverageWindow)
	}
	if d.PowerTimeoutSeconds <= 0 {
		return errors.NewValidationError("power_timeout_seconds", "invalid_timeout", d.PowerTimeoutSeconds)
	}
	if d.InitialKWh < 0 {
		return errors.NewValidationError("initial_kwh", "invalid_initial_kwh", d.InitialKWh)
	}
	if d.MonthlyUsageKWh < 0 {
		return errors.NewValidationError("monthly_usage_kwh", "invalid_monthly_usage", d.MonthlyUsageKWh)
	}
	return nil
}

// ValidateDevices validates all devices and checks for conflicts.
// Two entries selecting the same MAC on the same topic would double
// count every pulse, so that is rejected as already configured.
func ValidateDevices(devices map[string]DeviceConfig) error {
	if len(devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}

	type selector struct {
		mac   string
		topic string
	}
	used := make(map[selector]string)

	for deviceID, device := range devices {
		if err := device.Validate(deviceID); err != nil {
			return fmt.Errorf("device '%s': %w", deviceID, err)
		}

		sel := selector{mac: decoder.NormalizeMAC(device.MAC), topic: device.SubscribeTopic}
		if other, exists := used[sel]; exists {
			return fmt.Errorf("device '%s': %w", deviceID,
				errors.NewValidationError("mac", "already_configured",
					fmt.Sprintf("%s on %s (also claimed by '%s')", device.MAC, device.SubscribeTopic, other)))
		}
		used[sel] = deviceID
	}

	return nil
}

// EnabledDevices returns the subset of devices that participate.
func EnabledDevices(devices map[string]DeviceConfig) map[string]DeviceConfig {
	enabled := make(map[string]DeviceConfig)
	for deviceID, device := range devices {
		if device.IsEnabled() {
			enabled[deviceID] = device
		}
	}
	return enabled
}
