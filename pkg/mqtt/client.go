package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"onemeter-mqtt-bridge/pkg/config"
	bridgeerrors "onemeter-mqtt-bridge/pkg/errors"
	"onemeter-mqtt-bridge/pkg/logger"
)

// Client is the shared subscriber session. All raw-pulse subscriptions
// and the bridge-level status/diagnostic topics go through it; the
// per-device publishers keep their own sessions so each can carry its
// own last will.
//
// Several meters may share one subscribe topic: a single dev_list
// frame carries records for multiple devices. The client therefore
// keeps a list of registrations per topic and fans every inbound
// message out to all of them. The broker subscription is taken when
// the first registration on a topic arrives and dropped with the last.
type Client struct {
	client   paho.Client
	config   *config.MQTTConfig
	haConfig *config.HAConfig

	mu        sync.RWMutex
	connected bool
	nextID    uint64
	handlers  map[string][]registration
}

// registration is one handler attached to a topic.
type registration struct {
	id      uint64
	handler func(topic string, payload []byte)
}

// NewClient creates the subscriber client. The last will marks the
// bridge offline when the session dies.
func NewClient(cfg *config.MQTTConfig, haCfg *config.HAConfig) *Client {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID + "_subscriber")
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 60
	}
	opts.SetKeepAlive(time.Duration(keepAlive) * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWill(haCfg.StatusTopic, "offline", 1, true)

	c := &Client{
		config:   cfg,
		haConfig: haCfg,
		handlers: make(map[string][]registration),
	}

	opts.SetOnConnectHandler(func(client paho.Client) {
		c.mu.Lock()
		c.connected = true
		topics := make([]string, 0, len(c.handlers))
		for topic := range c.handlers {
			topics = append(topics, topic)
		}
		c.mu.Unlock()

		logger.LogInfo("Subscriber connected to MQTT broker")

		if token := client.Publish(haCfg.StatusTopic, 1, true, "online"); token.Wait() && token.Error() != nil {
			logger.LogWarn("Error publishing online status on connect: %v", token.Error())
		}

		// Re-establish subscriptions after a reconnect; paho does not
		// replay them on a clean session.
		for _, topic := range topics {
			if err := c.subscribe(client, topic); err != nil {
				logger.LogError("Error resubscribing to %s: %v", topic, err)
			}
		}
	})

	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		logger.LogError("Subscriber disconnected: %v", err)
	})

	c.client = paho.NewClient(opts)
	return c
}

// Connect connects to the broker with infinite retry.
func (c *Client) Connect(ctx context.Context) error {
	return connectWithRetry(ctx, c.client, "Subscriber", c.config.RetryDelay)
}

// Disconnect publishes retained "offline" and closes the session.
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		if token := c.client.Publish(c.haConfig.StatusTopic, 1, true, "offline"); token.Wait() && token.Error() != nil {
			logger.LogWarn("Error publishing offline status: %v", token.Error())
		}
		c.client.Disconnect(250)
	}
}

// IsConnected checks the session state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Subscribe registers a handler for a topic and returns a cancel
// function that removes exactly this registration. Successful
// registrations survive reconnects; on an error return nothing is
// left behind.
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) (func() error, error) {
	id, first := c.register(topic, handler)
	cancel := func() error { return c.unsubscribe(topic, id) }

	if !first {
		return cancel, nil
	}

	if !c.client.IsConnected() {
		c.drop(topic, id)
		return nil, bridgeerrors.NewMQTTError("subscribe "+topic, fmt.Errorf("client is not connected"), c.config.Broker)
	}
	if err := c.subscribe(c.client, topic); err != nil {
		c.drop(topic, id)
		return nil, err
	}
	return cancel, nil
}

// register appends a registration and reports whether it is the first
// one on its topic.
func (c *Client) register(topic string, handler func(string, []byte)) (id uint64, first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id = c.nextID
	first = len(c.handlers[topic]) == 0
	c.handlers[topic] = append(c.handlers[topic], registration{id: id, handler: handler})
	return id, first
}

// drop removes one registration and reports whether the topic has no
// registrations left.
func (c *Client) drop(topic string, id uint64) (last bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	regs := c.handlers[topic]
	for i, reg := range regs {
		if reg.id == id {
			regs = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(c.handlers, topic)
		return true
	}
	c.handlers[topic] = regs
	return false
}

// subscribe takes the broker subscription for a topic. Inbound
// messages fan out to every registration current at delivery time.
func (c *Client) subscribe(client paho.Client, topic string) error {
	token := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		c.dispatch(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return bridgeerrors.NewMQTTError("subscribe "+topic, token.Error(), c.config.Broker)
	}
	logger.LogInfo("Subscribed to: %s", topic)
	return nil
}

// dispatch delivers one inbound message to all handlers registered on
// its topic. Handlers run outside the lock.
func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.RLock()
	regs := make([]registration, len(c.handlers[topic]))
	copy(regs, c.handlers[topic])
	c.mu.RUnlock()

	for _, reg := range regs {
		reg.handler(topic, payload)
	}
}

// unsubscribe removes one registration; the broker subscription is
// dropped only with the last registration on the topic.
func (c *Client) unsubscribe(topic string, id uint64) error {
	if last := c.drop(topic, id); !last {
		return nil
	}
	if !c.client.IsConnected() {
		return nil
	}
	if token := c.client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
		return bridgeerrors.NewMQTTError("unsubscribe "+topic, token.Error(), c.config.Broker)
	}
	return nil
}

// PublishBridgeStatus publishes the retained bridge availability value.
func (c *Client) PublishBridgeStatus(ctx context.Context, status string) error {
	if !c.client.IsConnected() {
		return bridgeerrors.NewMQTTError("publish bridge status", fmt.Errorf("client is not connected"), c.config.Broker)
	}
	token := c.client.Publish(c.haConfig.StatusTopic, 1, true, status)
	return waitToken(ctx, token, "publish bridge status", c.config.Broker)
}

// DiagnosticMessage is the payload published to the bridge diagnostic
// topic.
type DiagnosticMessage struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// PublishDiagnostic publishes a diagnostic code with a human-readable
// message. Implements the error handler's DiagnosticPublisher.
func (c *Client) PublishDiagnostic(ctx context.Context, code int, message string) error {
	if !c.client.IsConnected() {
		return fmt.Errorf("client is not connected")
	}

	payload, err := json.Marshal(DiagnosticMessage{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("error serializing diagnostic: %w", err)
	}

	token := c.client.Publish(c.haConfig.DiagnosticTopic, 0, false, payload)
	return waitToken(ctx, token, "publish diagnostic", c.config.Broker)
}

// waitToken waits for a publish token honoring context cancellation.
func waitToken(ctx context.Context, token paho.Token, op, broker string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		if token.Error() != nil {
			return bridgeerrors.NewMQTTError(op, token.Error(), broker)
		}
	}
	return nil
}
