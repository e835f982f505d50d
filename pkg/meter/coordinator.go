package meter

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"onemeter-mqtt-bridge/pkg/config"
	"onemeter-mqtt-bridge/pkg/decoder"
	bridgeerrors "onemeter-mqtt-bridge/pkg/errors"
	"onemeter-mqtt-bridge/pkg/logger"
)

// Phase is the coordinator lifecycle state.
type Phase int

const (
	PhaseUnattached Phase = iota
	PhaseAttachedNotSubscribed
	PhaseAttachedSubscribed
	PhaseDetaching
)

// String returns the phase name for logs.
func (p Phase) String() string {
	switch p {
	case PhaseUnattached:
		return "unattached"
	case PhaseAttachedNotSubscribed:
		return "attached_not_subscribed"
	case PhaseAttachedSubscribed:
		return "attached_subscribed"
	case PhaseDetaching:
		return "detaching"
	default:
		return "unknown"
	}
}

// Drop reasons recorded for skipped inbound frames.
const (
	DropMalformed   = "malformed_frame"
	DropOtherDevice = "other_device"
	DropBadTS       = "bad_timestamp"
	DropDuplicateTS = "duplicate_ts"
)

// Subscriber is the inbound side of the MQTT session the coordinator
// holds a handle on. Subscribe returns a cancel function scoped to
// this registration, so detaching one device never tears down another
// device sharing the topic.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) (cancel func() error, err error)
}

// StatePublisher is the outbound side: consolidated state plus the
// retained presence topic.
type StatePublisher interface {
	PublishState(ctx context.Context, snap Snapshot) error
	PublishOnline(ctx context.Context) error
	PublishOffline(ctx context.Context) error
}

// RestoredState is the durable signal read back at attach.
type RestoredState struct {
	KWh         float64
	ForecastKWh int64 // display-only fallback, not authoritative
}

// Restorer reads the last persisted snapshot for a device.
type Restorer interface {
	Restore(ctx context.Context, deviceID string) (RestoredState, bool, error)
}

// Recorder receives pipeline events for diagnostics and metrics.
// All methods must be cheap; they run on the pulse path.
type Recorder interface {
	RecordPulse(deviceID string, at time.Time)
	RecordDrop(deviceID string, reason string)
	RecordPublish(deviceID string, duration time.Duration, err error)
}

// Coordinator is the single writer that owns one meter's runtime state.
// Pulse callbacks and periodic forecast ticks are serialized through
// its mutex; entity reads observe snapshots.
type Coordinator struct {
	deviceID string
	cfg      config.DeviceConfig

	dec          *decoder.Decoder
	subscriber   Subscriber
	publisher    StatePublisher
	restorer     Restorer
	recorders    []Recorder
	errorHandler *bridgeerrors.ErrorHandler

	mu          sync.Mutex
	phase       Phase
	unsub       func() error // cancels the active subscription registration
	total       int64
	power       powerEstimator
	forecast    forecastEngine
	lastImpulse time.Time
	lastTS      int64 // raw ms timestamp of the last accepted pulse

	observers []Observer
	runCtx    context.Context

	now func() time.Time
}

// NewCoordinator creates an unattached coordinator for one device.
// The restorer may be nil (fresh seed from initial_kwh); recorders are
// optional.
func NewCoordinator(deviceID string, cfg config.DeviceConfig, sub Subscriber, pub StatePublisher, restorer Restorer) *Coordinator {
	return &Coordinator{
		deviceID:     deviceID,
		cfg:          cfg,
		dec:          decoder.New(cfg.MAC),
		subscriber:   sub,
		publisher:    pub,
		restorer:     restorer,
		errorHandler: bridgeerrors.NewErrorHandler(nil),
		phase:        PhaseUnattached,
		power:        newPowerEstimator(cfg.ImpulsesPerKWh, cfg.MaxPowerKW, cfg.PowerAverageWindow, cfg.PowerTimeoutSeconds),
		forecast:     newForecastEngine(cfg.ImpulsesPerKWh),
		runCtx:       context.Background(),
		now:          time.Now,
	}
}

// DeviceID returns the device this coordinator serves.
func (c *Coordinator) DeviceID() string {
	return c.deviceID
}

// Config returns the immutable per-session configuration.
func (c *Coordinator) Config() config.DeviceConfig {
	return c.cfg
}

// Phase returns the current lifecycle phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// IsSubscribed reports whether the entities are available.
func (c *Coordinator) IsSubscribed() bool {
	return c.Phase() == PhaseAttachedSubscribed
}

// AddObserver registers a change-notification callback. Observers are
// invoked in registration order after every state mutation.
func (c *Coordinator) AddObserver(obs Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, obs)
}

// AddRecorder registers a diagnostics/metrics sink.
func (c *Coordinator) AddRecorder(rec Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorders = append(c.recorders, rec)
}

// SetClock overrides the wall clock. Used by tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Attach seeds state from the restorer, subscribes to the raw-pulse
// topic and publishes retained "online". A subscription failure leaves
// the coordinator attached but not subscribed; the entities stay
// unavailable until a later Attach succeeds.
func (c *Coordinator) Attach(ctx context.Context) error {
	c.mu.Lock()
	if c.phase == PhaseAttachedSubscribed || c.phase == PhaseDetaching {
		c.mu.Unlock()
		return nil
	}

	if c.phase == PhaseUnattached {
		c.seedLocked(ctx)
		c.phase = PhaseAttachedNotSubscribed
	}
	c.runCtx = ctx
	c.mu.Unlock()

	cancel, err := c.subscriber.Subscribe(c.cfg.SubscribeTopic, c.HandleMessage)
	if err != nil {
		logger.LogError("Device %s: subscription to %s failed: %v", c.deviceID, c.cfg.SubscribeTopic, err)
		return err
	}

	c.mu.Lock()
	c.phase = PhaseAttachedSubscribed
	c.unsub = cancel
	c.mu.Unlock()

	logger.LogInfo("Device %s attached, subscribed to %s", c.deviceID, c.cfg.SubscribeTopic)

	if err := c.publisher.PublishOnline(ctx); err != nil {
		logger.LogError("Device %s: error publishing online status: %v", c.deviceID, err)
	}
	return nil
}

// seedLocked restores the counter and month baseline. Must be called
// with mu held.
func (c *Coordinator) seedLocked(ctx context.Context) {
	restoredKWh := c.cfg.InitialKWh
	var restoredForecast int64

	if c.restorer != nil {
		state, found, err := c.restorer.Restore(ctx, c.deviceID)
		switch {
		case err != nil:
			logger.LogWarn("Device %s: snapshot restore failed, seeding from initial_kwh: %v", c.deviceID, err)
		case found:
			restoredKWh = state.KWh
			restoredForecast = state.ForecastKWh
			logger.LogInfo("Device %s: restored %.3f kWh from retained snapshot", c.deviceID, restoredKWh)
		default:
			logger.LogInfo("Device %s: no retained snapshot, seeding from initial_kwh %.3f", c.deviceID, restoredKWh)
		}
	}

	c.total = int64(math.Round(restoredKWh * float64(c.cfg.ImpulsesPerKWh)))

	baseline := c.total - int64(math.Round(c.cfg.MonthlyUsageKWh*float64(c.cfg.ImpulsesPerKWh)))
	if baseline < 0 {
		baseline = 0
	}
	c.forecast.seed(baseline, startOfMonth(c.now()), restoredForecast)
}

// Detach cancels the subscription (idempotent) and publishes retained
// "offline". A second Detach is a no-op.
func (c *Coordinator) Detach(ctx context.Context) {
	c.mu.Lock()
	if c.phase == PhaseUnattached || c.phase == PhaseDetaching {
		c.mu.Unlock()
		return
	}
	wasSubscribed := c.phase == PhaseAttachedSubscribed
	unsub := c.unsub
	c.unsub = nil
	c.phase = PhaseDetaching
	c.mu.Unlock()

	if wasSubscribed && unsub != nil {
		if err := unsub(); err != nil {
			logger.LogWarn("Device %s: unsubscribe failed: %v", c.deviceID, err)
		}
	}

	if err := c.publisher.PublishOffline(ctx); err != nil {
		logger.LogError("Device %s: error publishing offline status: %v", c.deviceID, err)
	}

	c.mu.Lock()
	c.phase = PhaseUnattached
	c.mu.Unlock()

	logger.LogInfo("Device %s detached", c.deviceID)
}

// HandleMessage processes one inbound device-list frame. A panic in
// the pulse path is caught here so one bad message cannot kill the
// subscription.
func (c *Coordinator) HandleMessage(topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogError("Device %s: recovered from panic in pulse handler: %v", c.deviceID, r)
		}
	}()

	pulse, err := c.dec.Decode(payload)
	if err != nil {
		c.handleDecodeError(topic, err)
		return
	}

	c.mu.Lock()
	if c.phase != PhaseAttachedSubscribed {
		c.mu.Unlock()
		return
	}

	if c.cfg.DedupeByTimestamp && c.lastTS != 0 && pulse.TSMillis == c.lastTS {
		c.mu.Unlock()
		logger.LogDebug("Device %s: duplicate ts %d suppressed", c.deviceID, pulse.TSMillis)
		c.record(func(r Recorder) { r.RecordDrop(c.deviceID, DropDuplicateTS) })
		return
	}

	c.total++
	c.lastImpulse = pulse.At
	c.lastTS = pulse.TSMillis
	c.power.observe(pulse.EpochSeconds())
	c.forecast.advance(pulse.At, c.total)

	snap := c.snapshotLocked(c.now())
	ctx := c.runCtx
	c.mu.Unlock()

	logger.LogDebug("Device %s: pulse %d at %s (%.3f kWh, %.3f kW)",
		c.deviceID, snap.TotalImpulses, pulse.At.Format(time.RFC3339), snap.KWh, snap.PowerKW)

	c.record(func(r Recorder) { r.RecordPulse(c.deviceID, pulse.At) })
	c.publish(ctx, snap)
	c.notify(snap)
}

// Tick recomputes the forecast from the latest pulse timestamp and
// republishes the retained state. Driven by the periodic scheduler.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	if c.phase != PhaseAttachedSubscribed {
		c.mu.Unlock()
		return
	}

	if !c.lastImpulse.IsZero() {
		c.forecast.advance(c.lastImpulse, c.total)
	}
	snap := c.snapshotLocked(now)
	c.mu.Unlock()

	logger.LogDebug("Device %s: forecast tick (%d kWh projected)", c.deviceID, snap.ForecastKWh)

	c.publish(ctx, snap)
	c.notify(snap)
}

// Snapshot returns the current state as observed at now.
func (c *Coordinator) Snapshot(now time.Time) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(now)
}

// snapshotLocked builds a snapshot. Must be called with mu held.
func (c *Coordinator) snapshotLocked(now time.Time) Snapshot {
	return Snapshot{
		DeviceID:         c.deviceID,
		TakenAt:          now,
		TotalImpulses:    c.total,
		KWh:              Round3(float64(c.total) / float64(c.cfg.ImpulsesPerKWh)),
		PowerKW:          Round3(c.power.reading(now, c.lastImpulse)),
		ForecastKWh:      c.forecast.latestKWh,
		BaselineImpulses: c.forecast.baselineImpulses,
		LastMonthChecked: int(c.forecast.lastMonthChecked),
		MonthStart:       c.forecast.monthStart,
		LastImpulse:      c.lastImpulse,
		Subscribed:       c.phase == PhaseAttachedSubscribed,
	}
}

// publish republishes the consolidated state. A failure is logged and
// recorded; the counted pulse is never rolled back.
func (c *Coordinator) publish(ctx context.Context, snap Snapshot) {
	start := c.clock()
	err := c.publisher.PublishState(ctx, snap)
	elapsed := c.clock().Sub(start)

	c.record(func(r Recorder) { r.RecordPublish(c.deviceID, elapsed, err) })
	if err != nil {
		c.errorHandler.Handle(ctx, err)
	}
}

func (c *Coordinator) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *Coordinator) notify(snap Snapshot) {
	c.mu.Lock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, obs := range observers {
		obs.OnSnapshot(snap)
	}
}

func (c *Coordinator) record(fn func(Recorder)) {
	c.mu.Lock()
	recorders := make([]Recorder, len(c.recorders))
	copy(recorders, c.recorders)
	c.mu.Unlock()

	for _, rec := range recorders {
		fn(rec)
	}
}

// handleDecodeError applies the drop policy: frames for other devices
// are skipped silently, everything else is logged through the error
// handler.
func (c *Coordinator) handleDecodeError(topic string, err error) {
	switch {
	case errors.Is(err, decoder.ErrNoMatch):
		logger.LogDebug("Device %s: frame does not address %s, skipped", c.deviceID, c.dec.TargetMAC())
		c.record(func(r Recorder) { r.RecordDrop(c.deviceID, DropOtherDevice) })
	case errors.Is(err, decoder.ErrBadTimestamp):
		c.errorHandler.Handle(c.runCtx, bridgeerrors.NewDecodeError("matched record has invalid ts", err, topic))
		c.record(func(r Recorder) { r.RecordDrop(c.deviceID, DropBadTS) })
	default:
		c.errorHandler.Handle(c.runCtx, bridgeerrors.NewDecodeError("frame decode", err, topic))
		c.record(func(r Recorder) { r.RecordDrop(c.deviceID, DropMalformed) })
	}
}
