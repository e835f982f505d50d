package config

import (
	"onemeter-mqtt-bridge/pkg/decoder"
	"onemeter-mqtt-bridge/pkg/errors"
)

// The configuration wizard mirrors the two-step flow of the original
// integration: identity first, meter constants second. Each step
// validates on its own so a UI can surface the error key next to the
// offending field before moving on.

// WizardStep1 carries the device identity fields.
type WizardStep1 struct {
	DeviceID        string
	MAC             string
	SubscribeTopic  string
	InitialKWh      float64
	MonthlyUsageKWh float64
}

// WizardStep2 carries the meter constants.
type WizardStep2 struct {
	ImpulsesPerKWh      int
	MaxPowerKW          float64
	PowerAverageWindow  int
	PowerTimeoutSeconds int
}

// NewWizardStep1 returns step 1 pre-filled with the documented defaults.
func NewWizardStep1() WizardStep1 {
	return WizardStep1{
		DeviceID:       DefaultDeviceID,
		MAC:            DefaultMAC,
		SubscribeTopic: DefaultSubscribeTopic,
	}
}

// NewWizardStep2 returns step 2 pre-filled with the documented defaults.
func NewWizardStep2() WizardStep2 {
	return WizardStep2{
		ImpulsesPerKWh:      DefaultImpulsesPerKWh,
		MaxPowerKW:          DefaultMaxPowerKW,
		PowerAverageWindow:  DefaultPowerAverageWindow,
		PowerTimeoutSeconds: DefaultPowerTimeoutSeconds,
	}
}

// Validate checks step 1 against the already configured devices.
// A duplicate device_id aborts the flow with key "already_configured".
func (s *WizardStep1) Validate(existing map[string]DeviceConfig) error {
	if s.DeviceID == "" {
		return errors.NewValidationError("device_id", "invalid_device_id", s.DeviceID)
	}
	if _, taken := existing[s.DeviceID]; taken {
		return errors.NewValidationError("device_id", "already_configured", s.DeviceID)
	}
	if !decoder.ValidMAC(s.MAC) {
		return errors.NewValidationError("mac", "invalid_mac", s.MAC)
	}
	if s.SubscribeTopic == "" {
		return errors.NewValidationError("topic", "invalid_topic", s.SubscribeTopic)
	}
	if s.InitialKWh < 0 {
		return errors.NewValidationError("initial_kwh", "invalid_initial_kwh", s.InitialKWh)
	}
	if s.MonthlyUsageKWh < 0 {
		return errors.NewValidationError("monthly_usage_kwh", "invalid_monthly_usage", s.MonthlyUsageKWh)
	}
	return nil
}

// Validate checks step 2.
func (s *WizardStep2) Validate() error {
	if s.ImpulsesPerKWh <= 0 {
		return errors.NewValidationError("impulses_per_kwh", "invalid_impulses", s.ImpulsesPerKWh)
	}
	if s.MaxPowerKW <= 0 {
		return errors.NewValidationError("max_power_kw", "invalid_max_power", s.MaxPowerKW)
	}
	if s.PowerAverageWindow <= 0 {
		return errors.NewValidationError("power_average_window", "invalid_average_window", s.PowerAverageWindow)
	}
	if s.PowerTimeoutSeconds <= 0 {
		return errors.NewValidationError("power_timeout_seconds", "invalid_timeout", s.PowerTimeoutSeconds)
	}
	return nil
}

// AddDevice runs both wizard steps and inserts the resulting entry.
func (c *Config) AddDevice(step1 WizardStep1, step2 WizardStep2) error {
	if err := step1.Validate(c.Devices); err != nil {
		return err
	}
	if err := step2.Validate(); err != nil {
		return err
	}

	device := DeviceConfig{
		MAC:                 decoder.NormalizeMAC(step1.MAC),
		SubscribeTopic:      step1.SubscribeTopic,
		InitialKWh:          step1.InitialKWh,
		MonthlyUsageKWh:     step1.MonthlyUsageKWh,
		ImpulsesPerKWh:      step2.ImpulsesPerKWh,
		MaxPowerKW:          step2.MaxPowerKW,
		PowerAverageWindow:  step2.PowerAverageWindow,
		PowerTimeoutSeconds: step2.PowerTimeoutSeconds,
	}
	device.ApplyDefaults()

	if c.Devices == nil {
		c.Devices = make(map[string]DeviceConfig)
	}
	c.Devices[step1.DeviceID] = device

	return ValidateDevices(c.Devices)
}

// UpdateDevice is the options editor: it replaces an existing entry
// after running the same validation the wizard applies.
func (c *Config) UpdateDevice(deviceID string, device DeviceConfig) error {
	if _, exists := c.Devices[deviceID]; !exists {
		return errors.NewValidationError("device_id", "invalid_device_id", deviceID)
	}

	device.ApplyDefaults()
	if err := device.Validate(deviceID); err != nil {
		return err
	}

	updated := make(map[string]DeviceConfig, len(c.Devices))
	for id, d := range c.Devices {
		updated[id] = d
	}
	updated[deviceID] = device
	if err := ValidateDevices(updated); err != nil {
		return err
	}

	c.Devices[deviceID] = device
	return nil
}
