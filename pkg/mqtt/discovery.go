package mqtt

import (
	"onemeter-mqtt-bridge/pkg/config"
)

// SensorConfig is the Home Assistant MQTT discovery payload for a
// sensor entity.
type SensorConfig struct {
	Name                   string     `json:"name"`
	UniqueID               string     `json:"unique_id"`
	StateTopic             string     `json:"state_topic"`
	UnitOfMeasurement      string     `json:"unit_of_measurement,omitempty"`
	DeviceClass            string     `json:"device_class,omitempty"`
	StateClass             string     `json:"state_class,omitempty"`
	Device                 DeviceInfo `json:"device"`
	ValueTemplate          string     `json:"value_template"`
	AvailabilityTopic      string     `json:"availability_topic"`
	AvailabilityMode       string     `json:"availability_mode,omitempty"`
	PayloadAvailable       string     `json:"payload_available"`
	PayloadNotAvailable    string     `json:"payload_not_available"`
	JSONAttributesTopic    string     `json:"json_attributes_topic,omitempty"`
	JSONAttributesTemplate string     `json:"json_attributes_template,omitempty"`
	EntityCategory         string     `json:"entity_category,omitempty"`
}

// DeviceInfo groups entities under one device in the HA registry.
type DeviceInfo struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// NewDeviceInfo builds the registry entry for a configured meter.
func NewDeviceInfo(deviceID string, device config.DeviceConfig) *DeviceInfo {
	return &DeviceInfo{
		Name:         device.DisplayName(deviceID),
		Identifiers:  []string{deviceID},
		Manufacturer: device.Manufacturer,
		Model:        device.Model,
	}
}

// BridgeDeviceInfo is the registry entry for the bridge itself; the
// bridge-level diagnostic sensor hangs off it.
func BridgeDeviceInfo() *DeviceInfo {
	return &DeviceInfo{
		Name:         config.BridgeDeviceName,
		Identifiers:  []string{config.BridgeDeviceID},
		Manufacturer: config.BridgeDeviceManufacturer,
		Model:        config.BridgeDeviceModel,
	}
}
