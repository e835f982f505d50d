package topics

import "fmt"

// Topic builders for the processed-state tree and for Home Assistant
// MQTT discovery. Standalone functions to avoid import cycles between
// the mqtt and meter packages.

// StateTopic is the consolidated processed-state topic for a meter.
// Pattern: onemeter/energy/{device_id}/state
func StateTopic(deviceID string) string {
	return fmt.Sprintf("onemeter/energy/%s/state", deviceID)
}

// StatusTopic is the retained presence topic for a meter.
// Pattern: onemeter/energy/{device_id}/status
func StatusTopic(deviceID string) string {
	return fmt.Sprintf("onemeter/energy/%s/status", deviceID)
}

// AttributesTopic carries the forecast bookkeeping attributes.
// Pattern: onemeter/energy/{device_id}/attributes
func AttributesTopic(deviceID string) string {
	return fmt.Sprintf("onemeter/energy/%s/attributes", deviceID)
}

// BuildDiscoveryTopic constructs the discovery config topic for a sensor
// Pattern: {prefix}/sensor/{device_id}/{device_id}_{sensor_key}/config
func BuildDiscoveryTopic(prefix, deviceID, sensorKey string) string {
	return fmt.Sprintf("%s/sensor/%s/%s_%s/config", prefix, deviceID, deviceID, sensorKey)
}

// BuildUniqueID constructs the unique ID for a sensor
// Pattern: {device_id}_{sensor_key}
func BuildUniqueID(deviceID, sensorKey string) string {
	return fmt.Sprintf("%s_%s", deviceID, sensorKey)
}

// BuildDeviceDiagnosticDiscoveryTopic constructs discovery topic for per-device diagnostic sensor
// Pattern: {prefix}/sensor/{device_id}/{device_id}_diagnostic/config
func BuildDeviceDiagnosticDiscoveryTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/sensor/%s/%s_diagnostic/config", prefix, deviceID, deviceID)
}

// BuildDeviceDiagnosticStateTopic constructs state topic for per-device diagnostic sensor
// Pattern: onemeter/energy/{device_id}/diagnostic
func BuildDeviceDiagnosticStateTopic(deviceID string) string {
	return fmt.Sprintf("onemeter/energy/%s/diagnostic", deviceID)
}

// BuildDeviceDiagnosticUniqueID constructs unique ID for per-device diagnostic sensor
// Pattern: {device_id}_diagnostic
func BuildDeviceDiagnosticUniqueID(deviceID string) string {
	return fmt.Sprintf("%s_diagnostic", deviceID)
}
