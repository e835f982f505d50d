package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "onemeter-mqtt-bridge/pkg/errors"
)

func validationKey(t *testing.T, err error) string {
	t.Helper()
	var validationErr *bridgeerrors.ValidationError
	require.True(t, errors.As(err, &validationErr), "expected a validation error, got %v", err)
	return validationErr.Key
}

func TestWizardDefaults(t *testing.T) {
	step1 := NewWizardStep1()
	assert.Equal(t, "om9613", step1.DeviceID)
	assert.Equal(t, "E58D81019613", step1.MAC)
	assert.Equal(t, "onemeter/s10/v1", step1.SubscribeTopic)

	step2 := NewWizardStep2()
	assert.Equal(t, 1000, step2.ImpulsesPerKWh)
	assert.Equal(t, 20.0, step2.MaxPowerKW)
	assert.Equal(t, 2, step2.PowerAverageWindow)
	assert.Equal(t, 300, step2.PowerTimeoutSeconds)
}

func TestWizardAddDevice(t *testing.T) {
	cfg := &Config{}

	step1 := NewWizardStep1()
	step1.MAC = "e5:8d:81:01:96:13" // separated lowercase form must be accepted
	step1.InitialKWh = 1234.5
	step1.MonthlyUsageKWh = 42

	require.NoError(t, cfg.AddDevice(step1, NewWizardStep2()))

	device, exists := cfg.Devices["om9613"]
	require.True(t, exists)
	assert.Equal(t, "E58D81019613", device.MAC, "MAC is stored normalized")
	assert.Equal(t, 1234.5, device.InitialKWh)
	assert.Equal(t, 42.0, device.MonthlyUsageKWh)
	assert.Equal(t, "S10", device.Model)
}

func TestWizardRejectsDuplicateDeviceID(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.AddDevice(NewWizardStep1(), NewWizardStep2()))

	err := cfg.AddDevice(NewWizardStep1(), NewWizardStep2())
	require.Error(t, err)
	assert.Equal(t, "already_configured", validationKey(t, err))
}

func TestWizardStep1FieldKeys(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*WizardStep1)
		key    string
	}{
		{"empty id", func(s *WizardStep1) { s.DeviceID = "" }, "invalid_device_id"},
		{"bad mac", func(s *WizardStep1) { s.MAC = "xyz" }, "invalid_mac"},
		{"empty topic", func(s *WizardStep1) { s.SubscribeTopic = "" }, "invalid_topic"},
		{"negative initial", func(s *WizardStep1) { s.InitialKWh = -1 }, "invalid_initial_kwh"},
		{"negative monthly", func(s *WizardStep1) { s.MonthlyUsageKWh = -1 }, "invalid_monthly_usage"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step1 := NewWizardStep1()
			tc.mutate(&step1)
			err := step1.Validate(nil)
			require.Error(t, err)
			assert.Equal(t, tc.key, validationKey(t, err))
		})
	}
}

func TestWizardStep2FieldKeys(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*WizardStep2)
		key    string
	}{
		{"zero impulses", func(s *WizardStep2) { s.ImpulsesPerKWh = 0 }, "invalid_impulses"},
		{"zero max power", func(s *WizardStep2) { s.MaxPowerKW = 0 }, "invalid_max_power"},
		{"zero window", func(s *WizardStep2) { s.PowerAverageWindow = 0 }, "invalid_average_window"},
		{"zero timeout", func(s *WizardStep2) { s.PowerTimeoutSeconds = 0 }, "invalid_timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step2 := NewWizardStep2()
			tc.mutate(&step2)
			err := step2.Validate()
			require.Error(t, err)
			assert.Equal(t, tc.key, validationKey(t, err))
		})
	}
}

func TestUpdateDevice(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.AddDevice(NewWizardStep1(), NewWizardStep2()))

	device := cfg.Devices["om9613"]
	device.MaxPowerKW = 11
	require.NoError(t, cfg.UpdateDevice("om9613", device))
	assert.Equal(t, 11.0, cfg.Devices["om9613"].MaxPowerKW)
}

func TestUpdateDeviceUnknownID(t *testing.T) {
	cfg := &Config{}
	err := cfg.UpdateDevice("nope", DefaultDeviceConfig())
	require.Error(t, err)
	assert.Equal(t, "invalid_device_id", validationKey(t, err))
}

func TestUpdateDeviceRejectsSelectorConflict(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.AddDevice(NewWizardStep1(), NewWizardStep2()))

	second := NewWizardStep1()
	second.DeviceID = "garage"
	second.MAC = "AABBCCDDEEFF"
	require.NoError(t, cfg.AddDevice(second, NewWizardStep2()))

	// Point the second meter at the first one's selector.
	device := cfg.Devices["garage"]
	device.MAC = "E58D81019613"
	err := cfg.UpdateDevice("garage", device)
	require.Error(t, err)
	assert.Equal(t, "already_configured", validationKey(t, err))

	assert.Equal(t, "AABBCCDDEEFF", cfg.Devices["garage"].MAC, "failed update must not be applied")
}
