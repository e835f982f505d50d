package services

import (
	"context"
	"time"

	bridgeerrors "onemeter-mqtt-bridge/pkg/errors"
	"onemeter-mqtt-bridge/pkg/health"
	"onemeter-mqtt-bridge/pkg/logger"
)

// AvailabilityService turns publish outcomes into the bridge
// availability flip-flop. It sits on the coordinator event stream as a
// meter.Recorder: transient publish failures are tolerated inside the
// grace period, sustained failure flips the retained bridge status to
// offline, and the first success afterwards flips it back.
type AvailabilityService struct {
	statusPublisher BridgeStatusPublisher
	healthMonitor   *health.BrokerHealthMonitor
}

// NewAvailabilityService creates a new availability service
func NewAvailabilityService(statusPublisher BridgeStatusPublisher, healthMonitor *health.BrokerHealthMonitor) *AvailabilityService {
	return &AvailabilityService{
		statusPublisher: statusPublisher,
		healthMonitor:   healthMonitor,
	}
}

// RecordPulse implements meter.Recorder. Pulses carry no publish
// outcome, nothing to do.
func (s *AvailabilityService) RecordPulse(deviceID string, at time.Time) {}

// RecordDrop implements meter.Recorder.
func (s *AvailabilityService) RecordDrop(deviceID string, reason string) {}

// RecordPublish implements meter.Recorder.
func (s *AvailabilityService) RecordPublish(deviceID string, duration time.Duration, err error) {
	if err != nil {
		s.recordError(deviceID, err)
	} else {
		s.recordSuccess(deviceID)
	}
}

func (s *AvailabilityService) recordError(deviceID string, err error) {
	shouldMarkOffline := s.healthMonitor.RecordError()

	if s.healthMonitor.GetConsecutiveErrors() == 1 {
		logger.LogWarn("⚠️ Publish failed for %s, grace period started: %v", deviceID, err)
		return
	}

	if shouldMarkOffline && s.healthMonitor.IsOnline() {
		s.healthMonitor.MarkOffline()
		logger.LogError("❌ Publish path down for %v (%d consecutive errors), marking bridge offline",
			s.healthMonitor.GetTimeSinceFirstError().Round(time.Second),
			s.healthMonitor.GetConsecutiveErrors())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if pubErr := s.statusPublisher.PublishBridgeStatus(ctx, "offline"); pubErr != nil {
			logger.LogWarn("⚠️ Failed to publish offline status: %v", pubErr)
		}
		if diagErr := s.statusPublisher.PublishDiagnostic(ctx, bridgeerrors.CodeMQTT,
			"State publishing failing, bridge marked offline"); diagErr != nil {
			logger.LogDebug("🔍 Failed to publish offline diagnostic: %v", diagErr)
		}
		return
	}

	if s.healthMonitor.IsInGracePeriod() {
		logger.LogWarn("⚠️ Publish failed for %s (in grace period, %v since first error): %v",
			deviceID, s.healthMonitor.GetTimeSinceFirstError().Round(time.Second), err)
	}
}

func (s *AvailabilityService) recordSuccess(deviceID string) {
	wasOffline := !s.healthMonitor.IsOnline()
	s.healthMonitor.RecordSuccess()

	if wasOffline {
		s.healthMonitor.MarkOnline()
		logger.LogInfo("✅ Publish path recovered, marking bridge online")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.statusPublisher.PublishBridgeStatus(ctx, "online"); err != nil {
			logger.LogWarn("⚠️ Failed to publish online status: %v", err)
		}
		if err := s.statusPublisher.PublishDiagnostic(ctx, 0, "State publishing recovered"); err != nil {
			logger.LogDebug("🔍 Failed to publish recovery diagnostic: %v", err)
		}
	}
}
