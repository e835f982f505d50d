package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"onemeter-mqtt-bridge/pkg/config"
	"onemeter-mqtt-bridge/pkg/entities"
	bridgeerrors "onemeter-mqtt-bridge/pkg/errors"
	"onemeter-mqtt-bridge/pkg/logger"
	"onemeter-mqtt-bridge/pkg/meter"
	"onemeter-mqtt-bridge/pkg/topics"
)

// DevicePublisher owns the outbound session for one meter. Each meter
// gets its own paho client because the broker allows exactly one last
// will per connection and every meter needs its own retained
// offline marker.
type DevicePublisher struct {
	client     paho.Client
	deviceID   string
	device     config.DeviceConfig
	mqttConfig *config.MQTTConfig
	haConfig   *config.HAConfig
	diagnostic *DeviceDiagnosticTopic

	mu         sync.Mutex
	lastKWh    float64
	hasLastKWh bool
}

// NewDevicePublisher creates the publisher session for one meter.
func NewDevicePublisher(deviceID string, device config.DeviceConfig, cfg *config.MQTTConfig, haCfg *config.HAConfig) *DevicePublisher {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(fmt.Sprintf("%s_pub_%s", cfg.ClientID, deviceID))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 60
	}
	opts.SetKeepAlive(time.Duration(keepAlive) * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWill(topics.StatusTopic(deviceID), "offline", 1, true)

	opts.SetOnConnectHandler(func(client paho.Client) {
		logger.LogInfo("Publisher for %s connected to MQTT broker", deviceID)
	})
	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		logger.LogError("Publisher for %s disconnected: %v", deviceID, err)
	})

	p := &DevicePublisher{
		deviceID:   deviceID,
		device:     device,
		mqttConfig: cfg,
		haConfig:   haCfg,
		diagnostic: NewDeviceDiagnosticTopic(haCfg),
	}
	p.client = paho.NewClient(opts)
	return p
}

// Connect connects the publisher to the broker with infinite retry.
func (p *DevicePublisher) Connect(ctx context.Context) error {
	return connectWithRetry(ctx, p.client, "Publisher "+p.deviceID, p.mqttConfig.RetryDelay)
}

// Disconnect closes the session without touching the retained status;
// Detach publishes the offline marker explicitly before this.
func (p *DevicePublisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// IsConnected checks the session state.
func (p *DevicePublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// PublishState publishes the consolidated retained state document and
// the forecast attributes. Implements meter.StatePublisher.
//
// The counter is monotonic, so a document whose kwh is below the last
// published value is refused rather than retained: a regressing
// snapshot would poison the next restore.
func (p *DevicePublisher) PublishState(ctx context.Context, snap meter.Snapshot) error {
	if !p.client.IsConnected() {
		return bridgeerrors.NewMQTTError("publish state", fmt.Errorf("client is not connected"), p.mqttConfig.Broker)
	}

	doc := NewStateDocument(snap)
	if err := doc.Validate(); err != nil {
		return bridgeerrors.NewMQTTError("publish state", err, p.mqttConfig.Broker)
	}

	p.mu.Lock()
	if p.hasLastKWh && doc.KWh < p.lastKWh {
		last := p.lastKWh
		p.mu.Unlock()
		return bridgeerrors.NewMQTTError("publish state",
			fmt.Errorf("kwh decreased for %s: %.3f -> %.3f (counter is monotonic)", p.deviceID, last, doc.KWh),
			p.mqttConfig.Broker)
	}
	p.lastKWh = doc.KWh
	p.hasLastKWh = true
	p.mu.Unlock()

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("error serializing state document: %w", err)
	}

	logger.LogDebug("📤 Publishing %s state: %d imp, %.3f kWh, %.3f kW, forecast %d kWh",
		p.deviceID, doc.Impulses, doc.KWh, doc.PowerKW, doc.ForecastKWh)

	token := p.client.Publish(topics.StateTopic(p.deviceID), 1, true, payload)
	if err := waitToken(ctx, token, "publish state", p.mqttConfig.Broker); err != nil {
		return err
	}

	return p.publishAttributes(ctx, snap)
}

// publishAttributes publishes the forecast bookkeeping attributes.
// Best effort on top of a successful state publish.
func (p *DevicePublisher) publishAttributes(ctx context.Context, snap meter.Snapshot) error {
	attrs := entities.AttributesFromSnapshot(snap)
	payload, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("error serializing attributes: %w", err)
	}

	token := p.client.Publish(topics.AttributesTopic(p.deviceID), 1, true, payload)
	return waitToken(ctx, token, "publish attributes", p.mqttConfig.Broker)
}

// PublishOnline publishes retained "online" on the device status topic.
func (p *DevicePublisher) PublishOnline(ctx context.Context) error {
	return p.publishStatus(ctx, "online")
}

// PublishOffline publishes retained "offline" on the device status topic.
func (p *DevicePublisher) PublishOffline(ctx context.Context) error {
	return p.publishStatus(ctx, "offline")
}

func (p *DevicePublisher) publishStatus(ctx context.Context, status string) error {
	if !p.client.IsConnected() {
		return bridgeerrors.NewMQTTError("publish status", fmt.Errorf("client is not connected"), p.mqttConfig.Broker)
	}
	token := p.client.Publish(topics.StatusTopic(p.deviceID), 1, true, status)
	return waitToken(ctx, token, "publish status "+status, p.mqttConfig.Broker)
}

// PublishEntityDiscovery publishes the discovery configuration for all
// three sensors of this meter.
func (p *DevicePublisher) PublishEntityDiscovery(ctx context.Context) error {
	if !p.client.IsConnected() {
		return bridgeerrors.NewMQTTError("publish discovery", fmt.Errorf("client is not connected"), p.mqttConfig.Broker)
	}

	deviceInfo := NewDeviceInfo(p.deviceID, p.device)

	for _, view := range entities.Views() {
		sensorConfig := SensorConfig{
			Name:                view.DisplayName(deviceInfo.Name),
			UniqueID:            topics.BuildUniqueID(p.deviceID, view.Key),
			StateTopic:          topics.StateTopic(p.deviceID),
			UnitOfMeasurement:   view.Unit,
			DeviceClass:         view.DeviceClass,
			StateClass:          view.StateClass,
			Device:              *deviceInfo,
			ValueTemplate:       view.ValueTemplate,
			AvailabilityTopic:   topics.StatusTopic(p.deviceID),
			PayloadAvailable:    "online",
			PayloadNotAvailable: "offline",
		}
		if view.WithAttributes {
			sensorConfig.JSONAttributesTopic = topics.AttributesTopic(p.deviceID)
		}

		configJSON, err := json.Marshal(sensorConfig)
		if err != nil {
			return fmt.Errorf("error serializing discovery for %s: %w", view.Key, err)
		}

		discoveryTopic := topics.BuildDiscoveryTopic(p.haConfig.DiscoveryPrefix, p.deviceID, view.Key)
		logger.LogDebug("📡 Publishing discovery for %s: %s", view.Key, discoveryTopic)

		token := p.client.Publish(discoveryTopic, 0, true, configJSON)
		if err := waitToken(ctx, token, "publish discovery "+view.Key, p.mqttConfig.Broker); err != nil {
			logger.LogError("❌ Error publishing discovery for %s: %v", view.Key, err)
			continue
		}

		// Small pause between publications
		time.Sleep(100 * time.Millisecond)
	}

	return nil
}

// PublishDeviceDiagnosticDiscovery publishes the discovery config for
// this meter's diagnostic sensor. Implements PublisherInterface.
func (p *DevicePublisher) PublishDeviceDiagnosticDiscovery(ctx context.Context, deviceID string, deviceInfo *DeviceInfo) error {
	return p.diagnostic.PublishDiscovery(ctx, p.client, deviceID, deviceInfo)
}

// PublishDeviceDiagnosticState publishes this meter's diagnostic state.
// Implements PublisherInterface.
func (p *DevicePublisher) PublishDeviceDiagnosticState(ctx context.Context, deviceID string, metrics *DeviceMetrics) error {
	return p.diagnostic.PublishState(ctx, p.client, deviceID, metrics)
}
