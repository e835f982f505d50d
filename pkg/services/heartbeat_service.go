package services

import (
	"context"
	"time"

	"onemeter-mqtt-bridge/pkg/health"
	"onemeter-mqtt-bridge/pkg/logger"
)

// BridgeStatusPublisher publishes bridge-level availability and
// diagnostics on the shared session.
type BridgeStatusPublisher interface {
	PublishBridgeStatus(ctx context.Context, status string) error
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// DevicePresencePublisher refreshes the retained per-device
// availability message.
type DevicePresencePublisher interface {
	PublishOnline(ctx context.Context) error
}

// HeartbeatService periodically republishes the retained availability
// messages so a restarted broker (or Home Assistant) sees the bridge
// come back without waiting for the next pulse.
type HeartbeatService struct {
	statusPublisher BridgeStatusPublisher
	devices         map[string]DevicePresencePublisher
	healthMonitor   *health.BrokerHealthMonitor
	interval        time.Duration
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(
	statusPublisher BridgeStatusPublisher,
	devices map[string]DevicePresencePublisher,
	healthMonitor *health.BrokerHealthMonitor,
	intervalSeconds int,
) *HeartbeatService {
	interval := time.Duration(intervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &HeartbeatService{
		statusPublisher: statusPublisher,
		devices:         devices,
		healthMonitor:   healthMonitor,
		interval:        interval,
	}
}

// Start runs the heartbeat loop until the context is cancelled.
func (h *HeartbeatService) Start(ctx context.Context) {
	logger.LogInfo("💓 Heartbeat service started (interval: %v)", h.interval)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.LogInfo("💓 Heartbeat service stopped")
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

// beat refreshes the retained status messages once. Skipped while the
// publish path is marked offline so the availability flip-flop is not
// fought by the heartbeat.
func (h *HeartbeatService) beat(ctx context.Context) {
	if h.healthMonitor != nil && !h.healthMonitor.IsOnline() {
		logger.LogDebug("💓 Heartbeat skipped: publish path offline")
		return
	}

	if err := h.statusPublisher.PublishBridgeStatus(ctx, "online"); err != nil {
		logger.LogWarn("⚠️ Heartbeat bridge status failed: %v", err)
		return
	}

	for deviceID, device := range h.devices {
		if err := device.PublishOnline(ctx); err != nil {
			logger.LogWarn("⚠️ Heartbeat device status failed for %s: %v", deviceID, err)
		}
	}

	if err := h.statusPublisher.PublishDiagnostic(ctx, 0, "OneMeter MQTT bridge running"); err != nil {
		logger.LogDebug("💓 Heartbeat diagnostic failed: %v", err)
	}
}
