package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"onemeter-mqtt-bridge/pkg/config"
	"onemeter-mqtt-bridge/pkg/logger"
	"onemeter-mqtt-bridge/pkg/topics"
)

// DeviceDiagnosticTopic handles per-device diagnostic sensor publishing
type DeviceDiagnosticTopic struct {
	config *config.HAConfig
}

// NewDeviceDiagnosticTopic creates a new device diagnostic topic handler
func NewDeviceDiagnosticTopic(config *config.HAConfig) *DeviceDiagnosticTopic {
	return &DeviceDiagnosticTopic{config: config}
}

// DeviceMetrics represents pipeline metrics tracked per meter.
// Dropped frames are decode failures on the meter's own traffic;
// ignored frames addressed other devices and are normal.
type DeviceMetrics struct {
	LastPulseTime            time.Time
	LastPublishSuccess       time.Time
	ConsecutivePublishErrors int
	TotalPulses              int64
	DroppedFrames            int64
	IgnoredFrames            int64
	PublishCount             int64
	PublishErrors            int64
	TotalPublishTime         time.Duration
	LastError                string
	LastErrorTime            time.Time
	CurrentState             string // operational, warning, error, idle
}

// DeviceDiagnosticState represents the state payload for the device
// diagnostic sensor.
type DeviceDiagnosticState struct {
	State                    string  `json:"state"`
	LastPulse                string  `json:"last_pulse,omitempty"`
	LastPublishSuccess       string  `json:"last_publish_success,omitempty"`
	ConsecutivePublishErrors int     `json:"consecutive_publish_errors"`
	TotalPulses              int64   `json:"total_pulses"`
	DroppedFrames            int64   `json:"dropped_frames"`
	IgnoredFrames            int64   `json:"ignored_frames"`
	PublishCount             int64   `json:"publish_count"`
	PublishErrors            int64   `json:"publish_errors"`
	PublishSuccessRate       float64 `json:"publish_success_rate"`
	AvgPublishMs             int64   `json:"avg_publish_ms,omitempty"`
	LastError                string  `json:"last_error,omitempty"`
	LastErrorTime            string  `json:"last_error_time,omitempty"`
}

// PublishDiscovery publishes discovery configuration for the device
// diagnostic sensor.
func (d *DeviceDiagnosticTopic) PublishDiscovery(ctx context.Context, client paho.Client, deviceID string, deviceInfo *DeviceInfo) error {
	if !client.IsConnected() {
		return fmt.Errorf("client is not connected")
	}

	discoveryTopic := topics.BuildDeviceDiagnosticDiscoveryTopic(d.config.DiscoveryPrefix, deviceID)
	stateTopic := topics.BuildDeviceDiagnosticStateTopic(deviceID)
	uniqueID := topics.BuildDeviceDiagnosticUniqueID(deviceID)

	sensorConfig := SensorConfig{
		Name:                   deviceInfo.Name + " Diagnostic",
		UniqueID:               uniqueID,
		StateTopic:             stateTopic,
		DeviceClass:            "enum",
		Device:                 *deviceInfo,
		ValueTemplate:          "{{ value_json.state }}",
		AvailabilityTopic:      d.config.StatusTopic,
		AvailabilityMode:       "latest",
		PayloadAvailable:       "online",
		PayloadNotAvailable:    "offline",
		JSONAttributesTemplate: "{{ value_json | tojson }}",
		EntityCategory:         "diagnostic",
	}

	configJSON, err := json.Marshal(sensorConfig)
	if err != nil {
		return fmt.Errorf("error serializing device diagnostic configuration: %w", err)
	}

	logger.LogDebug("📡 Publishing device diagnostic discovery for %s: %s", deviceID, discoveryTopic)

	token := client.Publish(discoveryTopic, 0, true, configJSON)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("error publishing device diagnostic discovery: %w", token.Error())
	}

	return nil
}

// PublishState publishes device diagnostic state
func (d *DeviceDiagnosticTopic) PublishState(ctx context.Context, client paho.Client, deviceID string, metrics *DeviceMetrics) error {
	if !client.IsConnected() {
		return fmt.Errorf("client not connected")
	}

	successRate := 100.0
	if metrics.PublishCount > 0 {
		successRate = (float64(metrics.PublishCount-metrics.PublishErrors) / float64(metrics.PublishCount)) * 100.0
	}

	avgPublishMs := int64(0)
	if successful := metrics.PublishCount - metrics.PublishErrors; successful > 0 {
		avgPublishMs = metrics.TotalPublishTime.Milliseconds() / successful
	}

	state := DeviceDiagnosticState{
		State:                    metrics.CurrentState,
		ConsecutivePublishErrors: metrics.ConsecutivePublishErrors,
		TotalPulses:              metrics.TotalPulses,
		DroppedFrames:            metrics.DroppedFrames,
		IgnoredFrames:            metrics.IgnoredFrames,
		PublishCount:             metrics.PublishCount,
		PublishErrors:            metrics.PublishErrors,
		PublishSuccessRate:       successRate,
		AvgPublishMs:             avgPublishMs,
	}

	if !metrics.LastPulseTime.IsZero() {
		state.LastPulse = metrics.LastPulseTime.Format(time.RFC3339)
	}
	if !metrics.LastPublishSuccess.IsZero() {
		state.LastPublishSuccess = metrics.LastPublishSuccess.Format(time.RFC3339)
	}
	if metrics.LastError != "" {
		state.LastError = metrics.LastError
		if !metrics.LastErrorTime.IsZero() {
			state.LastErrorTime = metrics.LastErrorTime.Format(time.RFC3339)
		}
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("error marshaling device diagnostic state: %w", err)
	}

	stateTopic := topics.BuildDeviceDiagnosticStateTopic(deviceID)
	token := client.Publish(stateTopic, 0, false, payload)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("error publishing device diagnostic state: %w", token.Error())
		}
	}

	logger.LogDebug("📊 Published device diagnostic for %s: state=%s, publish_success_rate=%.1f%%",
		deviceID, metrics.CurrentState, successRate)

	return nil
}

// CalculateDeviceState classifies a meter from its metrics. A meter
// with no pulse inside the idle timeout is "idle", not an error: a
// switched-off consumer simply stops pulsing.
func CalculateDeviceState(metrics *DeviceMetrics, thresholds *config.DiagnosticThresholdsConfig) string {
	if !metrics.LastPulseTime.IsZero() {
		if time.Since(metrics.LastPulseTime).Seconds() > float64(thresholds.IdleTimeout) {
			return "idle"
		}
	}

	successRate := 100.0
	if metrics.PublishCount > 0 {
		successRate = (float64(metrics.PublishCount-metrics.PublishErrors) / float64(metrics.PublishCount)) * 100.0
	}

	if successRate < thresholds.ErrorSuccessRate || metrics.ConsecutivePublishErrors >= thresholds.ErrorConsecutiveErrors {
		return "error"
	}

	if successRate < thresholds.WarningSuccessRate || metrics.ConsecutivePublishErrors >= thresholds.WarningConsecutiveErrors {
		return "warning"
	}

	return "operational"
}
