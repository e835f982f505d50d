package builder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"onemeter-mqtt-bridge/pkg/config"
	"onemeter-mqtt-bridge/pkg/diagnostics"
	"onemeter-mqtt-bridge/pkg/health"
	"onemeter-mqtt-bridge/pkg/logger"
	"onemeter-mqtt-bridge/pkg/meter"
	"onemeter-mqtt-bridge/pkg/mqtt"
)

// Application bundles the running pieces of the bridge: the shared
// subscriber session, one publisher and one coordinator per meter, and
// the health/diagnostic sinks around them.
type Application struct {
	config            *config.Config
	subscriber        SubscriberInterface
	publishers        map[string]DevicePublisherInterface
	coordinators      map[string]*meter.Coordinator
	healthMonitor     *health.BrokerHealthMonitor
	diagnosticManager *diagnostics.DeviceManager
}

// Start connects the MQTT sessions, announces the entities and attaches
// every coordinator. Coordinators that fail to attach are reported but
// do not abort startup; Attach is retried on the next forecast tick.
func (a *Application) Start(ctx context.Context) error {
	logger.LogStartup("Starting OneMeter MQTT Bridge with %d device(s)", len(a.coordinators))

	if err := a.subscriber.Connect(ctx); err != nil {
		return fmt.Errorf("subscriber connect: %w", err)
	}

	for deviceID, pub := range a.publishers {
		if err := pub.Connect(ctx); err != nil {
			return fmt.Errorf("publisher connect for %s: %w", deviceID, err)
		}
	}

	for deviceID, pub := range a.publishers {
		if err := pub.PublishEntityDiscovery(ctx); err != nil {
			logger.LogWarn("⚠️ Discovery publish failed for %s: %v", deviceID, err)
		}
	}
	if a.diagnosticManager != nil {
		if err := a.diagnosticManager.PublishDiscoveryForAllDevices(ctx); err != nil {
			logger.LogWarn("⚠️ Diagnostic discovery publish failed: %v", err)
		}
	}

	attached := 0
	for _, deviceID := range a.deviceIDs() {
		if err := a.coordinators[deviceID].Attach(ctx); err != nil {
			logger.LogError("❌ Attach failed for device %s: %v", deviceID, err)
			continue
		}
		attached++
	}
	if attached == 0 {
		return fmt.Errorf("no device could be attached")
	}

	logger.LogStartup("Bridge online: %d/%d device(s) attached", attached, len(a.coordinators))
	return nil
}

// Stop detaches every coordinator, marks the bridge offline and closes
// the MQTT sessions. Safe to call after a failed Start.
func (a *Application) Stop(ctx context.Context) {
	logger.LogInfo("🔄 Stopping bridge...")

	for _, deviceID := range a.deviceIDs() {
		a.coordinators[deviceID].Detach(ctx)
	}

	if err := a.subscriber.PublishBridgeStatus(ctx, "offline"); err != nil {
		logger.LogWarn("⚠️ Failed to publish bridge offline status: %v", err)
	}

	for _, pub := range a.publishers {
		pub.Disconnect()
	}
	a.subscriber.Disconnect()

	logger.LogInfo("✅ Bridge stopped")
}

// ExecuteTick implements scheduler.TickExecutor. A tick refreshes the
// forecast of one meter; for a detached meter it retries Attach instead
// so a broker hiccup at startup heals itself.
func (a *Application) ExecuteTick(ctx context.Context, deviceID string, now time.Time) {
	coordinator, exists := a.coordinators[deviceID]
	if !exists {
		logger.LogWarn("⚠️ Tick for unknown device %s", deviceID)
		return
	}

	if !coordinator.IsSubscribed() {
		if err := coordinator.Attach(ctx); err != nil {
			logger.LogWarn("⚠️ Re-attach failed for device %s: %v", deviceID, err)
			return
		}
		logger.LogInfo("✅ Device %s re-attached", deviceID)
		return
	}

	coordinator.Tick(ctx, now)
}

// TickIntervals returns the per-device forecast tick interval in
// seconds, for the tick scheduler.
func (a *Application) TickIntervals() map[string]int {
	minutes := a.config.Bridge.ForecastTickMinutes
	if minutes <= 0 {
		minutes = 60
	}
	intervals := make(map[string]int, len(a.coordinators))
	for deviceID := range a.coordinators {
		intervals[deviceID] = minutes * 60
	}
	return intervals
}

// Snapshots returns the current snapshot of every meter, ordered by
// device ID. Serves the Prometheus collector and the websocket hello.
func (a *Application) Snapshots() []meter.Snapshot {
	now := time.Now()
	snapshots := make([]meter.Snapshot, 0, len(a.coordinators))
	for _, deviceID := range a.deviceIDs() {
		snapshots = append(snapshots, a.coordinators[deviceID].Snapshot(now))
	}
	return snapshots
}

// Subscriber returns the shared inbound session.
func (a *Application) Subscriber() SubscriberInterface {
	return a.subscriber
}

// Publisher returns the outbound session for one device, or nil.
func (a *Application) Publisher(deviceID string) DevicePublisherInterface {
	return a.publishers[deviceID]
}

// Coordinator returns the coordinator for one device, or nil.
func (a *Application) Coordinator(deviceID string) *meter.Coordinator {
	return a.coordinators[deviceID]
}

// HealthMonitor returns the publish-path health monitor.
func (a *Application) HealthMonitor() *health.BrokerHealthMonitor {
	return a.healthMonitor
}

// DiagnosticManager returns the device diagnostic manager, or nil when
// diagnostics are disabled.
func (a *Application) DiagnosticManager() *diagnostics.DeviceManager {
	return a.diagnosticManager
}

// DeviceIDs returns the configured device IDs in stable order.
func (a *Application) DeviceIDs() []string {
	return a.deviceIDs()
}

func (a *Application) deviceIDs() []string {
	ids := make([]string, 0, len(a.coordinators))
	for deviceID := range a.coordinators {
		ids = append(ids, deviceID)
	}
	sort.Strings(ids)
	return ids
}

var _ mqtt.PublisherInterface = (DevicePublisherInterface)(nil)
