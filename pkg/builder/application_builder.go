package builder

import (
	"context"
	"fmt"
	"time"

	"onemeter-mqtt-bridge/pkg/config"
	"onemeter-mqtt-bridge/pkg/diagnostics"
	"onemeter-mqtt-bridge/pkg/health"
	"onemeter-mqtt-bridge/pkg/meter"
	"onemeter-mqtt-bridge/pkg/mqtt"
)

// ApplicationBuilder provides a fluent interface for constructing Application instances
// Following Builder pattern to enable dependency injection and improve testability
type ApplicationBuilder struct {
	config            *config.Config
	subscriber        SubscriberInterface
	restorer          meter.Restorer
	publishers        map[string]DevicePublisherInterface
	healthMonitor     *health.BrokerHealthMonitor
	diagnosticManager *diagnostics.DeviceManager
	recorders         []meter.Recorder
	observers         []meter.Observer
	errorGracePeriod  time.Duration
}

// SubscriberInterface defines the contract for the shared inbound session
// Enables mocking and testing
type SubscriberInterface interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Subscribe(topic string, handler func(topic string, payload []byte)) (cancel func() error, err error)
	PublishBridgeStatus(ctx context.Context, status string) error
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// DevicePublisherInterface defines the contract for per-device outbound sessions
// Enables mocking and testing
type DevicePublisherInterface interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	PublishState(ctx context.Context, snap meter.Snapshot) error
	PublishOnline(ctx context.Context) error
	PublishOffline(ctx context.Context) error
	PublishEntityDiscovery(ctx context.Context) error
	PublishDeviceDiagnosticDiscovery(ctx context.Context, deviceID string, deviceInfo *mqtt.DeviceInfo) error
	PublishDeviceDiagnosticState(ctx context.Context, deviceID string, metrics *mqtt.DeviceMetrics) error
}

// NewApplicationBuilder creates a new builder with default configuration
func NewApplicationBuilder(cfg *config.Config) *ApplicationBuilder {
	gracePeriod := 15 * time.Second
	if cfg != nil && cfg.Bridge.ErrorGracePeriodSeconds > 0 {
		gracePeriod = time.Duration(cfg.Bridge.ErrorGracePeriodSeconds) * time.Second
	}
	return &ApplicationBuilder{
		config:           cfg,
		publishers:       make(map[string]DevicePublisherInterface),
		errorGracePeriod: gracePeriod,
	}
}

// WithSubscriber sets a custom subscriber implementation
func (b *ApplicationBuilder) WithSubscriber(sub SubscriberInterface) *ApplicationBuilder {
	b.subscriber = sub
	return b
}

// WithRestorer sets a custom snapshot restorer
func (b *ApplicationBuilder) WithRestorer(restorer meter.Restorer) *ApplicationBuilder {
	b.restorer = restorer
	return b
}

// WithDevicePublisher sets a custom publisher for one device
func (b *ApplicationBuilder) WithDevicePublisher(deviceID string, pub DevicePublisherInterface) *ApplicationBuilder {
	b.publishers[deviceID] = pub
	return b
}

// WithHealthMonitor sets a custom health monitor
func (b *ApplicationBuilder) WithHealthMonitor(monitor *health.BrokerHealthMonitor) *ApplicationBuilder {
	b.healthMonitor = monitor
	return b
}

// WithDiagnosticManager sets a custom diagnostic manager
func (b *ApplicationBuilder) WithDiagnosticManager(manager *diagnostics.DeviceManager) *ApplicationBuilder {
	b.diagnosticManager = manager
	return b
}

// WithRecorder adds a pipeline event sink attached to every coordinator
func (b *ApplicationBuilder) WithRecorder(rec meter.Recorder) *ApplicationBuilder {
	b.recorders = append(b.recorders, rec)
	return b
}

// WithObserver adds a snapshot observer attached to every coordinator
func (b *ApplicationBuilder) WithObserver(obs meter.Observer) *ApplicationBuilder {
	b.observers = append(b.observers, obs)
	return b
}

// WithErrorGracePeriod sets the error grace period
func (b *ApplicationBuilder) WithErrorGracePeriod(period time.Duration) *ApplicationBuilder {
	b.errorGracePeriod = period
	return b
}

// Build constructs the Application with all dependencies
// Creates default implementations for any missing dependencies
func (b *ApplicationBuilder) Build() (*Application, error) {
	if b.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	enabled := config.EnabledDevices(b.config.Devices)
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no enabled devices configured")
	}

	if b.subscriber == nil {
		b.subscriber = mqtt.NewClient(&b.config.MQTT, &b.config.HomeAssistant)
	}

	// The default restorer reads the retained snapshot over the shared
	// subscriber session. An injected subscriber of another type must
	// bring its own restorer.
	if b.restorer == nil {
		if subscriberClient, ok := b.subscriber.(*mqtt.Client); ok {
			b.restorer = mqtt.NewStateRestorer(subscriberClient, b.config.Bridge.RestoreTimeoutSeconds)
		}
	}

	for deviceID, device := range enabled {
		if _, exists := b.publishers[deviceID]; !exists {
			b.publishers[deviceID] = mqtt.NewDevicePublisher(deviceID, device, &b.config.MQTT, &b.config.HomeAssistant)
		}
	}

	if b.healthMonitor == nil {
		b.healthMonitor = health.NewBrokerHealthMonitor(b.errorGracePeriod)
	}

	// Diagnostic manager is optional and created only if enabled
	if b.diagnosticManager == nil && b.config.HomeAssistant.DeviceDiagnostics.Enabled {
		diagPublishers := make(map[string]mqtt.PublisherInterface, len(b.publishers))
		for deviceID, pub := range b.publishers {
			diagPublishers[deviceID] = pub
		}
		b.diagnosticManager = diagnostics.NewDeviceManager(
			diagPublishers,
			&b.config.HomeAssistant.DeviceDiagnostics,
			enabled,
		)
	}

	coordinators := make(map[string]*meter.Coordinator, len(enabled))
	for deviceID, device := range enabled {
		coordinator := meter.NewCoordinator(deviceID, device, b.subscriber, b.publishers[deviceID], b.restorer)
		if b.diagnosticManager != nil {
			coordinator.AddRecorder(b.diagnosticManager)
		}
		for _, rec := range b.recorders {
			coordinator.AddRecorder(rec)
		}
		for _, obs := range b.observers {
			coordinator.AddObserver(obs)
		}
		coordinators[deviceID] = coordinator
	}

	app := &Application{
		config:            b.config,
		subscriber:        b.subscriber,
		publishers:        b.publishers,
		coordinators:      coordinators,
		healthMonitor:     b.healthMonitor,
		diagnosticManager: b.diagnosticManager,
	}

	return app, nil
}
