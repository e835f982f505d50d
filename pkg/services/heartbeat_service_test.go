package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"onemeter-mqtt-bridge/pkg/health"
)

type mockPresence struct {
	mu     sync.Mutex
	online int
}

func (m *mockPresence) PublishOnline(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online++
	return nil
}

func (m *mockPresence) onlineCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func TestHeartbeatRefreshesBridgeAndDevices(t *testing.T) {
	pub := &mockStatusPublisher{}
	device := &mockPresence{}
	monitor := health.NewBrokerHealthMonitor(time.Hour)

	svc := NewHeartbeatService(pub, map[string]DevicePresencePublisher{"om9613": device}, monitor, 60)
	svc.beat(context.Background())

	assert.Equal(t, []string{"online"}, pub.publishedStatuses())
	assert.Equal(t, 1, device.onlineCalls())
	assert.Contains(t, pub.diagnostics, "OneMeter MQTT bridge running")
}

func TestHeartbeatSkippedWhileOffline(t *testing.T) {
	pub := &mockStatusPublisher{}
	device := &mockPresence{}
	monitor := health.NewBrokerHealthMonitor(time.Hour)
	monitor.MarkOffline()

	svc := NewHeartbeatService(pub, map[string]DevicePresencePublisher{"om9613": device}, monitor, 60)
	svc.beat(context.Background())

	assert.Empty(t, pub.publishedStatuses())
	assert.Equal(t, 0, device.onlineCalls())
}

func TestHeartbeatDefaultInterval(t *testing.T) {
	svc := NewHeartbeatService(&mockStatusPublisher{}, nil, nil, 0)
	assert.Equal(t, 60*time.Second, svc.interval)
}

func TestHeartbeatStartStopsOnCancel(t *testing.T) {
	svc := NewHeartbeatService(&mockStatusPublisher{}, nil, nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not stop on context cancel")
	}
}
