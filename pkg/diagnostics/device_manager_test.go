package diagnostics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onemeter-mqtt-bridge/pkg/config"
	"onemeter-mqtt-bridge/pkg/meter"
	"onemeter-mqtt-bridge/pkg/mqtt"
)

type mockDiagnosticPublisher struct {
	mu          sync.Mutex
	discoveries []string
	states      map[string]*mqtt.DeviceMetrics
}

func newMockDiagnosticPublisher() *mockDiagnosticPublisher {
	return &mockDiagnosticPublisher{states: make(map[string]*mqtt.DeviceMetrics)}
}

func (m *mockDiagnosticPublisher) PublishDeviceDiagnosticDiscovery(_ context.Context, deviceID string, _ *mqtt.DeviceInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoveries = append(m.discoveries, deviceID)
	return nil
}

func (m *mockDiagnosticPublisher) PublishDeviceDiagnosticState(_ context.Context, deviceID string, metrics *mqtt.DeviceMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *metrics
	m.states[deviceID] = &copied
	return nil
}

func testDiagnosticsConfig() *config.DeviceDiagnosticsConfig {
	return &config.DeviceDiagnosticsConfig{
		Enabled:              true,
		PublishOnStateChange: true,
		Intervals:            config.DiagnosticIntervalsConfig{PublishInterval: 60},
		Thresholds: config.DiagnosticThresholdsConfig{
			IdleTimeout:              3600,
			WarningSuccessRate:       90,
			ErrorSuccessRate:         50,
			WarningConsecutiveErrors: 3,
			ErrorConsecutiveErrors:   10,
		},
	}
}

func testDevices() map[string]config.DeviceConfig {
	return map[string]config.DeviceConfig{
		"om9613": {Name: "Main meter", MAC: "E58D81019613", SubscribeTopic: "onemeter/s10/v1"},
	}
}

func testManager() (*DeviceManager, *mockDiagnosticPublisher) {
	publisher := newMockDiagnosticPublisher()
	manager := NewDeviceManager(
		map[string]mqtt.PublisherInterface{"om9613": publisher},
		testDiagnosticsConfig(), testDevices())
	return manager, publisher
}

func TestRecordPulseAndDrops(t *testing.T) {
	manager, _ := testManager()

	at := time.Now()
	manager.RecordPulse("om9613", at)
	manager.RecordPulse("om9613", at.Add(time.Second))
	manager.RecordDrop("om9613", meter.DropOtherDevice)
	manager.RecordDrop("om9613", meter.DropMalformed)

	metrics, err := manager.GetMetrics("om9613")
	require.NoError(t, err)
	assert.Equal(t, int64(2), metrics.TotalPulses)
	assert.Equal(t, int64(1), metrics.IgnoredFrames, "other-device frames are not errors")
	assert.Equal(t, int64(1), metrics.DroppedFrames)
	assert.Equal(t, at.Add(time.Second), metrics.LastPulseTime)
}

func TestRecordPublishTracksErrorRuns(t *testing.T) {
	manager, _ := testManager()

	manager.RecordPublish("om9613", 10*time.Millisecond, nil)
	manager.RecordPublish("om9613", 0, errors.New("broker gone"))
	manager.RecordPublish("om9613", 0, errors.New("broker gone"))

	metrics, err := manager.GetMetrics("om9613")
	require.NoError(t, err)
	assert.Equal(t, int64(3), metrics.PublishCount)
	assert.Equal(t, int64(2), metrics.PublishErrors)
	assert.Equal(t, 2, metrics.ConsecutivePublishErrors)
	assert.Equal(t, "broker gone", metrics.LastError)

	manager.RecordPublish("om9613", 5*time.Millisecond, nil)
	metrics, err = manager.GetMetrics("om9613")
	require.NoError(t, err)
	assert.Equal(t, 0, metrics.ConsecutivePublishErrors, "a success ends the error run")
}

func TestPublishDiagnosticsOnStateChange(t *testing.T) {
	manager, publisher := testManager()

	manager.RecordPulse("om9613", time.Now())
	manager.publishDiagnostics(context.Background())

	publisher.mu.Lock()
	state := publisher.states["om9613"]
	publisher.mu.Unlock()
	require.NotNil(t, state, "first evaluation should publish")
	assert.Equal(t, "operational", state.CurrentState)

	// Drive the meter into an error run longer than the threshold.
	for i := 0; i < 10; i++ {
		manager.RecordPublish("om9613", 0, errors.New("broker gone"))
	}
	manager.publishDiagnostics(context.Background())

	publisher.mu.Lock()
	state = publisher.states["om9613"]
	publisher.mu.Unlock()
	assert.Equal(t, "error", state.CurrentState)
}

func TestPublishDiscoveryForAllDevices(t *testing.T) {
	manager, publisher := testManager()

	require.NoError(t, manager.PublishDiscoveryForAllDevices(context.Background()))

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Equal(t, []string{"om9613"}, publisher.discoveries)
}

type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingPublisher) PublishDeviceDiagnosticDiscovery(context.Context, string, *mqtt.DeviceInfo) error {
	return nil
}

func (b *blockingPublisher) PublishDeviceDiagnosticState(context.Context, string, *mqtt.DeviceMetrics) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func TestRecordCallsNotBlockedByStalledPublish(t *testing.T) {
	publisher := &blockingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	manager := NewDeviceManager(
		map[string]mqtt.PublisherInterface{"om9613": publisher},
		testDiagnosticsConfig(), testDevices())

	go manager.publishDiagnostics(context.Background())
	<-publisher.entered

	// The record calls run on the pulse path and must stay cheap even
	// while a diagnostic publish hangs on a half-dead broker.
	done := make(chan struct{})
	go func() {
		manager.RecordPulse("om9613", time.Now())
		manager.RecordDrop("om9613", meter.DropMalformed)
		manager.RecordPublish("om9613", time.Millisecond, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("record calls blocked behind a stalled diagnostic publish")
	}
	close(publisher.release)
}

func TestUnknownDeviceMetrics(t *testing.T) {
	manager, _ := testManager()

	_, err := manager.GetMetrics("nope")
	assert.Error(t, err)

	// Recording for an unknown device creates its metrics lazily.
	manager.RecordPulse("nope", time.Now())
	metrics, err := manager.GetMetrics("nope")
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.TotalPulses)
}
