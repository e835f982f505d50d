package diagnostics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"onemeter-mqtt-bridge/pkg/config"
	"onemeter-mqtt-bridge/pkg/logger"
	"onemeter-mqtt-bridge/pkg/meter"
	"onemeter-mqtt-bridge/pkg/mqtt"
)

// DeviceManager aggregates per-meter pipeline metrics and publishes
// the diagnostic sensor. It sits on the pulse path as a
// meter.Recorder, so every record call stays cheap: counters only,
// publishing happens from its own loop.
type DeviceManager struct {
	publishers  map[string]mqtt.PublisherInterface // per-device publisher sessions
	config      *config.DeviceDiagnosticsConfig
	devices     map[string]config.DeviceConfig
	metrics     map[string]*mqtt.DeviceMetrics
	lastState   map[string]string    // Last published state per device
	lastPublish map[string]time.Time // Last publish time per device
	mu          sync.RWMutex
}

// NewDeviceManager creates a new device diagnostic manager
func NewDeviceManager(publishers map[string]mqtt.PublisherInterface, diagnosticConfig *config.DeviceDiagnosticsConfig, devices map[string]config.DeviceConfig) *DeviceManager {
	manager := &DeviceManager{
		publishers:  publishers,
		config:      diagnosticConfig,
		devices:     devices,
		metrics:     make(map[string]*mqtt.DeviceMetrics),
		lastState:   make(map[string]string),
		lastPublish: make(map[string]time.Time),
	}

	for deviceID, device := range devices {
		if device.IsEnabled() {
			manager.metrics[deviceID] = &mqtt.DeviceMetrics{
				CurrentState: "operational", // Start optimistic
			}
		}
	}

	return manager
}

// RecordPulse implements meter.Recorder.
func (m *DeviceManager) RecordPulse(deviceID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.metricsFor(deviceID)
	metrics.LastPulseTime = at
	metrics.TotalPulses++
}

// RecordDrop implements meter.Recorder. Frames addressed to other
// devices are normal traffic on a shared topic and count separately
// from real decode failures.
func (m *DeviceManager) RecordDrop(deviceID string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.metricsFor(deviceID)
	if reason == meter.DropOtherDevice {
		metrics.IgnoredFrames++
		return
	}
	metrics.DroppedFrames++
	metrics.LastError = "dropped frame: " + reason
	metrics.LastErrorTime = time.Now()
}

// RecordPublish implements meter.Recorder.
func (m *DeviceManager) RecordPublish(deviceID string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.metricsFor(deviceID)
	metrics.PublishCount++
	if err != nil {
		metrics.PublishErrors++
		metrics.ConsecutivePublishErrors++
		metrics.LastError = err.Error()
		metrics.LastErrorTime = time.Now()
		return
	}
	metrics.ConsecutivePublishErrors = 0
	metrics.LastPublishSuccess = time.Now()
	metrics.TotalPublishTime += duration
}

// metricsFor returns the metrics block for a device, creating it for
// devices added at runtime. Must be called with mu held.
func (m *DeviceManager) metricsFor(deviceID string) *mqtt.DeviceMetrics {
	metrics, exists := m.metrics[deviceID]
	if !exists {
		metrics = &mqtt.DeviceMetrics{CurrentState: "operational"}
		m.metrics[deviceID] = metrics
	}
	return metrics
}

// StartDiagnosticsLoop starts the periodic device diagnostics publishing loop
func (m *DeviceManager) StartDiagnosticsLoop(ctx context.Context) {
	// Start with a small delay to let devices attach
	select {
	case <-ctx.Done():
		return
	case <-time.After(5 * time.Second):
	}

	ticker := time.NewTicker(5 * time.Second) // Check every 5 seconds
	defer ticker.Stop()

	logger.LogInfo("📊 Device diagnostics loop started")

	for {
		select {
		case <-ctx.Done():
			logger.LogDebug("📊 Device diagnostics loop stopped")
			return
		case <-ticker.C:
			m.publishDiagnostics(ctx)
		}
	}
}

// PublishDiscoveryForAllDevices publishes discovery messages for all enabled devices
func (m *DeviceManager) PublishDiscoveryForAllDevices(ctx context.Context) error {
	for deviceID, device := range m.devices {
		if !device.IsEnabled() {
			continue
		}

		publisher, exists := m.publishers[deviceID]
		if !exists {
			continue
		}

		deviceInfo := mqtt.NewDeviceInfo(deviceID, device)
		if err := publisher.PublishDeviceDiagnosticDiscovery(ctx, deviceID, deviceInfo); err != nil {
			logger.LogWarn("⚠️ Error publishing device diagnostic discovery for %s: %v", deviceID, err)
		} else {
			logger.LogDebug("📊 Published device diagnostic discovery for %s", deviceID)
		}

		time.Sleep(100 * time.Millisecond)
	}

	return nil
}

// publishDiagnostics publishes diagnostic state for all devices based
// on the configured interval, immediately on a state change. The
// metrics are copied under the lock and the broker publish runs on
// the copies, so a stalled broker never blocks the record calls on
// the pulse path.
func (m *DeviceManager) publishDiagnostics(ctx context.Context) {
	type pendingPublish struct {
		deviceID  string
		publisher mqtt.PublisherInterface
		metrics   mqtt.DeviceMetrics
		newState  string
		lastState string
	}

	m.mu.Lock()
	thresholds := &m.config.Thresholds
	interval := time.Duration(m.config.Intervals.PublishInterval) * time.Second

	due := make([]pendingPublish, 0, len(m.metrics))
	for deviceID, metrics := range m.metrics {
		publisher, exists := m.publishers[deviceID]
		if !exists {
			continue
		}

		newState := mqtt.CalculateDeviceState(metrics, thresholds)

		lastState := m.lastState[deviceID]
		lastPublish := m.lastPublish[deviceID]

		if newState == lastState && time.Since(lastPublish) < interval {
			continue
		}

		metrics.CurrentState = newState
		due = append(due, pendingPublish{
			deviceID:  deviceID,
			publisher: publisher,
			metrics:   *metrics,
			newState:  newState,
			lastState: lastState,
		})
	}
	m.mu.Unlock()

	for _, p := range due {
		if p.newState != p.lastState && m.config.PublishOnStateChange {
			logger.LogInfo("📊 Device %s state changed: %s → %s", p.deviceID, p.lastState, p.newState)
		}

		metrics := p.metrics
		if err := p.publisher.PublishDeviceDiagnosticState(ctx, p.deviceID, &metrics); err != nil {
			logger.LogWarn("⚠️ Error publishing device diagnostic for %s: %v", p.deviceID, err)
			continue
		}

		m.mu.Lock()
		m.lastState[p.deviceID] = p.newState
		m.lastPublish[p.deviceID] = time.Now()
		m.mu.Unlock()
	}
}

// GetMetrics returns a copy of metrics for a specific device (for testing/debugging)
func (m *DeviceManager) GetMetrics(deviceID string) (*mqtt.DeviceMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics, exists := m.metrics[deviceID]
	if !exists {
		return nil, fmt.Errorf("device %s not found", deviceID)
	}

	metricsCopy := *metrics
	return &metricsCopy, nil
}
