package meter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onemeter-mqtt-bridge/pkg/config"
)

const (
	testMAC   = "E58D81019613"
	testTopic = "onemeter/s10/v1"
)

type mockSubscriber struct {
	handlers     map[string]func(topic string, payload []byte)
	subscribeErr error
	unsubscribed []string
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{handlers: make(map[string]func(string, []byte))}
}

func (m *mockSubscriber) Subscribe(topic string, handler func(string, []byte)) (func() error, error) {
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	m.handlers[topic] = handler
	return func() error {
		m.unsubscribed = append(m.unsubscribed, topic)
		delete(m.handlers, topic)
		return nil
	}, nil
}

type mockPublisher struct {
	states   []Snapshot
	online   int
	offline  int
	stateErr error
}

func (m *mockPublisher) PublishState(_ context.Context, snap Snapshot) error {
	if m.stateErr != nil {
		return m.stateErr
	}
	m.states = append(m.states, snap)
	return nil
}

func (m *mockPublisher) PublishOnline(context.Context) error  { m.online++; return nil }
func (m *mockPublisher) PublishOffline(context.Context) error { m.offline++; return nil }

func (m *mockPublisher) last(t *testing.T) Snapshot {
	t.Helper()
	require.NotEmpty(t, m.states, "expected at least one published state")
	return m.states[len(m.states)-1]
}

type mockRestorer struct {
	state RestoredState
	found bool
	err   error
}

func (m *mockRestorer) Restore(context.Context, string) (RestoredState, bool, error) {
	return m.state, m.found, m.err
}

type mockRecorder struct {
	pulses      int
	drops       map[string]int
	publishes   int
	publishErrs int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{drops: make(map[string]int)}
}

func (m *mockRecorder) RecordPulse(string, time.Time) { m.pulses++ }
func (m *mockRecorder) RecordDrop(_ string, reason string) {
	m.drops[reason]++
}
func (m *mockRecorder) RecordPublish(_ string, _ time.Duration, err error) {
	m.publishes++
	if err != nil {
		m.publishErrs++
	}
}

func testDeviceConfig() config.DeviceConfig {
	cfg := config.DeviceConfig{
		Name:           "Main meter",
		MAC:            testMAC,
		SubscribeTopic: testTopic,
	}
	cfg.ApplyDefaults()
	return cfg
}

func frame(mac string, ts int64) []byte {
	return []byte(fmt.Sprintf(`{"dev_list":[{"mac":%q,"ts":%d}]}`, mac, ts))
}

// testCoordinator wires a coordinator against mocks with a fixed clock
// anchored at start.
func testCoordinator(t *testing.T, cfg config.DeviceConfig, restorer Restorer, start time.Time) (*Coordinator, *mockSubscriber, *mockPublisher, *mockRecorder, *time.Time) {
	t.Helper()

	sub := newMockSubscriber()
	pub := &mockPublisher{}
	rec := newMockRecorder()

	now := start
	c := NewCoordinator("om9613", cfg, sub, pub, restorer)
	c.SetClock(func() time.Time { return now })
	c.AddRecorder(rec)

	return c, sub, pub, rec, &now
}

func TestCoordinatorFirstPulse(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, pub, rec, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)

	require.NoError(t, c.Attach(context.Background()))
	assert.Equal(t, PhaseAttachedSubscribed, c.Phase())
	assert.Equal(t, 1, pub.online)

	handler := sub.handlers[testTopic]
	require.NotNil(t, handler)

	handler(testTopic, frame(testMAC, start.UnixMilli()))

	snap := pub.last(t)
	assert.Equal(t, int64(1), snap.TotalImpulses)
	assert.Equal(t, 0.001, snap.KWh)
	assert.Equal(t, 0.0, snap.PowerKW, "a single pulse has no interval to derive power from")
	assert.Equal(t, 1, rec.pulses)
}

func TestCoordinatorPowerFromInterval(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, pub, _, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)
	require.NoError(t, c.Attach(context.Background()))

	handler := sub.handlers[testTopic]
	handler(testTopic, frame(testMAC, start.UnixMilli()))
	handler(testTopic, frame(testMAC, start.Add(time.Second).UnixMilli()))

	snap := pub.last(t)
	assert.Equal(t, int64(2), snap.TotalImpulses)
	assert.Equal(t, 0.002, snap.KWh)
	assert.Equal(t, 3.6, snap.PowerKW)
}

func TestCoordinatorPowerCap(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, pub, _, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)
	require.NoError(t, c.Attach(context.Background()))

	handler := sub.handlers[testTopic]
	handler(testTopic, frame(testMAC, start.UnixMilli()))
	handler(testTopic, frame(testMAC, start.Add(100*time.Millisecond).UnixMilli()))

	// 3600 / (1000 * 0.1) = 36 kW, capped at the 20 kW default.
	assert.Equal(t, 20.0, pub.last(t).PowerKW)
}

func TestCoordinatorIdlePowerZero(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, _, _, now := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)
	require.NoError(t, c.Attach(context.Background()))

	handler := sub.handlers[testTopic]
	handler(testTopic, frame(testMAC, start.UnixMilli()))
	handler(testTopic, frame(testMAC, start.Add(time.Second).UnixMilli()))

	*now = start.Add(time.Second + 301*time.Second)
	snap := c.Snapshot(*now)
	assert.Equal(t, 0.0, snap.PowerKW, "past power_timeout the reading is zero")
	assert.Equal(t, int64(2), snap.TotalImpulses, "idle affects power only")
}

func TestCoordinatorIgnoresOtherDevices(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, pub, rec, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)
	require.NoError(t, c.Attach(context.Background()))

	handler := sub.handlers[testTopic]
	handler(testTopic, frame("AABBCCDDEEFF", start.UnixMilli()))

	assert.Empty(t, pub.states)
	assert.Equal(t, 0, rec.pulses)
	assert.Equal(t, 1, rec.drops[DropOtherDevice])
	assert.Equal(t, int64(0), c.Snapshot(start).TotalImpulses)
}

func TestCoordinatorDropsMalformedFrames(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, _, rec, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)
	require.NoError(t, c.Attach(context.Background()))

	handler := sub.handlers[testTopic]
	handler(testTopic, []byte(`not json`))
	handler(testTopic, []byte(`{"other":1}`))
	handler(testTopic, []byte(fmt.Sprintf(`{"dev_list":[{"mac":%q,"ts":0}]}`, testMAC)))

	assert.Equal(t, 2, rec.drops[DropMalformed])
	assert.Equal(t, 1, rec.drops[DropBadTS])
	assert.Equal(t, int64(0), c.Snapshot(start).TotalImpulses)
}

func TestCoordinatorDuplicateTimestamps(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)

	t.Run("counted by default", func(t *testing.T) {
		c, sub, _, _, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)
		require.NoError(t, c.Attach(context.Background()))

		handler := sub.handlers[testTopic]
		handler(testTopic, frame(testMAC, start.UnixMilli()))
		handler(testTopic, frame(testMAC, start.UnixMilli()))

		snap := c.Snapshot(start)
		assert.Equal(t, int64(2), snap.TotalImpulses)
		assert.Equal(t, 0.0, snap.PowerKW, "zero interval produces no power sample")
	})

	t.Run("suppressed with dedupe_by_timestamp", func(t *testing.T) {
		cfg := testDeviceConfig()
		cfg.DedupeByTimestamp = true
		c, sub, _, rec, _ := testCoordinator(t, cfg, &mockRestorer{}, start)
		require.NoError(t, c.Attach(context.Background()))

		handler := sub.handlers[testTopic]
		handler(testTopic, frame(testMAC, start.UnixMilli()))
		handler(testTopic, frame(testMAC, start.UnixMilli()))

		assert.Equal(t, int64(1), c.Snapshot(start).TotalImpulses)
		assert.Equal(t, 1, rec.drops[DropDuplicateTS])
	})
}

func TestCoordinatorRestoreSeedsCounter(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	cfg := testDeviceConfig()
	cfg.MonthlyUsageKWh = 100

	restorer := &mockRestorer{state: RestoredState{KWh: 123.456, ForecastKWh: 150}, found: true}
	c, _, _, _, _ := testCoordinator(t, cfg, restorer, start)
	require.NoError(t, c.Attach(context.Background()))

	snap := c.Snapshot(start)
	assert.Equal(t, int64(123456), snap.TotalImpulses)
	assert.Equal(t, 123.456, snap.KWh)
	assert.Equal(t, int64(23456), snap.BaselineImpulses, "baseline backs off by the configured monthly usage")
	assert.Equal(t, int64(150), snap.ForecastKWh, "restored forecast stands until the first recompute")
}

func TestCoordinatorRestoreFailureFallsBackToInitial(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	cfg := testDeviceConfig()
	cfg.InitialKWh = 50

	restorer := &mockRestorer{err: errors.New("broker timeout")}
	c, _, _, _, _ := testCoordinator(t, cfg, restorer, start)
	require.NoError(t, c.Attach(context.Background()))

	assert.Equal(t, int64(50000), c.Snapshot(start).TotalImpulses)
}

func TestCoordinatorMonthRollover(t *testing.T) {
	endOfMonth := time.Date(2026, 3, 31, 23, 59, 0, 0, time.Local)
	cfg := testDeviceConfig()

	restorer := &mockRestorer{state: RestoredState{KWh: 123.456}, found: true}
	c, sub, pub, _, now := testCoordinator(t, cfg, restorer, endOfMonth)
	require.NoError(t, c.Attach(context.Background()))

	rollover := time.Date(2026, 4, 1, 0, 5, 0, 0, time.Local)
	*now = rollover
	sub.handlers[testTopic](testTopic, frame(testMAC, rollover.UnixMilli()))

	snap := pub.last(t)
	assert.Equal(t, int64(123457), snap.TotalImpulses)
	assert.Equal(t, int64(123457), snap.BaselineImpulses,
		"the pulse crossing the month boundary seeds the new baseline")
	assert.Equal(t, int(time.April), snap.LastMonthChecked)
	assert.Equal(t, int64(0), snap.ForecastKWh)
}

func TestCoordinatorPublishFailureKeepsState(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, pub, rec, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)
	require.NoError(t, c.Attach(context.Background()))

	pub.stateErr = errors.New("broker gone")
	sub.handlers[testTopic](testTopic, frame(testMAC, start.UnixMilli()))

	assert.Equal(t, int64(1), c.Snapshot(start).TotalImpulses, "a failed publish never rolls the counter back")
	assert.Equal(t, 1, rec.publishErrs)
}

func TestCoordinatorTickRepublishes(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, pub, _, now := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)
	require.NoError(t, c.Attach(context.Background()))

	sub.handlers[testTopic](testTopic, frame(testMAC, start.UnixMilli()))
	published := len(pub.states)

	*now = start.Add(5 * time.Minute)
	c.Tick(context.Background(), *now)
	assert.Len(t, pub.states, published+1)
}

func TestCoordinatorTickNoopWhenNotSubscribed(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, _, pub, _, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)

	c.Tick(context.Background(), start)
	assert.Empty(t, pub.states)
}

func TestCoordinatorSubscribeFailure(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, pub, _, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)

	sub.subscribeErr = errors.New("not connected")
	err := c.Attach(context.Background())
	require.Error(t, err)
	assert.Equal(t, PhaseAttachedNotSubscribed, c.Phase())
	assert.Equal(t, 0, pub.online)

	// A later attach retries the subscription without re-seeding.
	sub.subscribeErr = nil
	require.NoError(t, c.Attach(context.Background()))
	assert.Equal(t, PhaseAttachedSubscribed, c.Phase())
	assert.Equal(t, 1, pub.online)
}

func TestCoordinatorDetach(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, pub, _, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)
	require.NoError(t, c.Attach(context.Background()))

	c.Detach(context.Background())
	assert.Equal(t, PhaseUnattached, c.Phase())
	assert.Equal(t, []string{testTopic}, sub.unsubscribed)
	assert.Equal(t, 1, pub.offline)

	// Idempotent: a second detach is a no-op.
	c.Detach(context.Background())
	assert.Equal(t, 1, pub.offline)
}

func TestCoordinatorObserverNotification(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, _, _, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)
	require.NoError(t, c.Attach(context.Background()))

	var seen []Snapshot
	c.AddObserver(ObserverFunc(func(snap Snapshot) { seen = append(seen, snap) }))

	sub.handlers[testTopic](testTopic, frame(testMAC, start.UnixMilli()))
	require.Len(t, seen, 1)
	assert.Equal(t, int64(1), seen[0].TotalImpulses)
}

func TestCoordinatorPanicInHandlerIsContained(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	c, sub, _, _, _ := testCoordinator(t, testDeviceConfig(), &mockRestorer{}, start)
	require.NoError(t, c.Attach(context.Background()))

	c.AddObserver(ObserverFunc(func(Snapshot) { panic("observer bug") }))

	assert.NotPanics(t, func() {
		sub.handlers[testTopic](testTopic, frame(testMAC, start.UnixMilli()))
	})
	assert.Equal(t, int64(1), c.Snapshot(start).TotalImpulses)
}
