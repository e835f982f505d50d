package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "onemeter-mqtt-bridge/pkg/errors"
)

const minimalYAML = `
version: "1.1"
mqtt:
  broker: 192.168.1.10
devices:
  om9613:
    mac: "E58D81019613"
`

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfigFromString(minimalYAML)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.10", cfg.MQTT.Broker)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "onemeter-mqtt-bridge", cfg.MQTT.ClientID)
	assert.Equal(t, 5000, cfg.MQTT.RetryDelay)
	assert.Equal(t, 60, cfg.MQTT.KeepAlive)
	assert.Equal(t, 60, cfg.MQTT.HeartbeatInterval)

	assert.Equal(t, "homeassistant", cfg.HomeAssistant.DiscoveryPrefix)
	assert.Equal(t, "onemeter/bridge/status", cfg.HomeAssistant.StatusTopic)
	assert.Equal(t, "onemeter/bridge/diagnostic", cfg.HomeAssistant.DiagnosticTopic)

	assert.Equal(t, 60, cfg.Bridge.ForecastTickMinutes)
	assert.Equal(t, 3, cfg.Bridge.RestoreTimeoutSeconds)
	assert.Equal(t, 15, cfg.Bridge.ErrorGracePeriodSeconds)

	device := cfg.Devices["om9613"]
	assert.Equal(t, "onemeter/s10/v1", device.SubscribeTopic)
	assert.Equal(t, 1000, device.ImpulsesPerKWh)
	assert.Equal(t, 20.0, device.MaxPowerKW)
	assert.Equal(t, 2, device.PowerAverageWindow)
	assert.Equal(t, 300, device.PowerTimeoutSeconds)
	assert.Equal(t, "OneMeter", device.Manufacturer)
	assert.Equal(t, "S10", device.Model)
	assert.False(t, device.DedupeByTimestamp, "dedupe is opt-in")
	assert.True(t, device.IsEnabled())
}

func TestLoadConfigRejectsUnknownVersion(t *testing.T) {
	_, err := LoadConfigFromString(`
version: "2.0"
mqtt:
  broker: localhost
devices:
  om9613:
    mac: "E58D81019613"
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incompatible configuration version")
}

func TestLoadConfigV10WithoutDedupe(t *testing.T) {
	cfg, err := LoadConfigFromString(`
version: "1.0"
mqtt:
  broker: localhost
devices:
  om9613:
    mac: "E58D81019613"
`)
	require.NoError(t, err)
	assert.False(t, cfg.Devices["om9613"].DedupeByTimestamp)
}

func TestLoadConfigDedupeFlag(t *testing.T) {
	cfg, err := LoadConfigFromString(`
version: "1.1"
mqtt:
  broker: localhost
devices:
  om9613:
    mac: "E58D81019613"
    dedupe_by_timestamp: true
`)
	require.NoError(t, err)
	assert.True(t, cfg.Devices["om9613"].DedupeByTimestamp)
}

func TestLoadConfigRequiresDevices(t *testing.T) {
	_, err := LoadConfigFromString(`
mqtt:
  broker: localhost
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one device")
}

func TestLoadConfigRejectsBadMAC(t *testing.T) {
	_, err := LoadConfigFromString(`
mqtt:
  broker: localhost
devices:
  om9613:
    mac: "not-a-mac"
`)
	require.Error(t, err)

	var validationErr *bridgeerrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "invalid_mac", validationErr.Key)
}

func TestLoadConfigRejectsNegativeImpulses(t *testing.T) {
	_, err := LoadConfigFromString(`
mqtt:
  broker: localhost
devices:
  om9613:
    mac: "E58D81019613"
    impulses_per_kwh: -5
`)
	require.Error(t, err)

	var validationErr *bridgeerrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "invalid_impulses", validationErr.Key)
}

func TestLoadConfigRejectsDuplicateSelector(t *testing.T) {
	_, err := LoadConfigFromString(`
mqtt:
  broker: localhost
devices:
  om9613:
    mac: "E58D81019613"
  om9613_copy:
    mac: "e5:8d:81:01:96:13"
`)
	require.Error(t, err)

	var validationErr *bridgeerrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "already_configured", validationErr.Key)
}

func TestEnabledDevicesSkipsDisabled(t *testing.T) {
	cfg, err := LoadConfigFromString(`
mqtt:
  broker: localhost
devices:
  om9613:
    mac: "E58D81019613"
  garage:
    mac: "AABBCCDDEEFF"
    subscribe_topic: onemeter/garage/v1
    enabled: false
`)
	require.NoError(t, err)

	enabled := EnabledDevices(cfg.Devices)
	assert.Len(t, enabled, 1)
	_, exists := enabled["om9613"]
	assert.True(t, exists)
}

func TestValidateRejectsBadPort(t *testing.T) {
	_, err := LoadConfigFromString(`
mqtt:
  broker: localhost
  port: 70000
devices:
  om9613:
    mac: "E58D81019613"
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}
