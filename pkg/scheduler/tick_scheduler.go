package scheduler

import (
	"context"
	"sync"
	"time"

	"onemeter-mqtt-bridge/pkg/logger"
)

// TickExecutor runs one periodic job for one device. The forecast
// recompute and the diagnostic publish both implement this.
type TickExecutor interface {
	ExecuteTick(ctx context.Context, deviceID string, now time.Time)
}

// TickScheduler drives the periodic forecast recompute independently
// per device. Every meter can carry its own interval, and executions
// run one at a time so tick publishes never interleave with each other.
type TickScheduler struct {
	executor         TickExecutor
	deviceIntervals  map[string]time.Duration // deviceID -> tick interval
	lastExecutions   map[string]time.Time     // deviceID -> last execution time
	mu               sync.RWMutex             // Protect maps
	executionMutex   sync.Mutex               // Ensures only one tick executes at a time
	minCheckInterval time.Duration            // How often to check for devices that are due
}

// NewTickScheduler creates a scheduler from per-device intervals in
// seconds.
func NewTickScheduler(executor TickExecutor, deviceIntervals map[string]int) *TickScheduler {
	scheduler := &TickScheduler{
		executor:        executor,
		deviceIntervals: make(map[string]time.Duration),
		lastExecutions:  make(map[string]time.Time),
	}

	minInterval := time.Duration(0)
	for deviceID, intervalSec := range deviceIntervals {
		interval := time.Duration(intervalSec) * time.Second
		scheduler.deviceIntervals[deviceID] = interval

		if minInterval == 0 || interval < minInterval {
			minInterval = interval
		}

		logger.LogInfo("📅 Scheduled device '%s' with tick interval: %v", deviceID, interval)
	}

	// Check at most every second or at 1/10 of the minimum interval.
	if minInterval > 0 {
		scheduler.minCheckInterval = minInterval / 10
		if scheduler.minCheckInterval < time.Second {
			scheduler.minCheckInterval = time.Second
		}
	} else {
		scheduler.minCheckInterval = time.Second
	}

	logger.LogInfo("📅 Tick scheduler initialized with %d devices (check interval: %v)",
		len(deviceIntervals), scheduler.minCheckInterval)

	return scheduler
}

// Start runs the scheduler loop until the context is cancelled.
func (s *TickScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.minCheckInterval)
	defer ticker.Stop()

	logger.LogInfo("🔄 Tick scheduler started (check interval: %v)", s.minCheckInterval)

	for {
		select {
		case <-ctx.Done():
			logger.LogDebug("🔄 Tick scheduler stopped")
			return
		case <-ticker.C:
			s.checkAndExecute(ctx)
		}
	}
}

// checkAndExecute finds devices whose interval has elapsed and ticks
// them sequentially.
func (s *TickScheduler) checkAndExecute(ctx context.Context) {
	now := time.Now()

	s.mu.RLock()
	due := make([]string, 0)
	for deviceID, interval := range s.deviceIntervals {
		lastExec, exists := s.lastExecutions[deviceID]
		if !exists || now.Sub(lastExec) >= interval {
			due = append(due, deviceID)
		}
	}
	s.mu.RUnlock()

	if len(due) > 0 {
		logger.LogTrace("⏰ Devices due for tick: %v", due)
		for _, deviceID := range due {
			s.executeTick(ctx, deviceID)
		}
	}
}

// executeTick runs one device's tick under the execution lock.
func (s *TickScheduler) executeTick(ctx context.Context, deviceID string) {
	s.executionMutex.Lock()
	defer s.executionMutex.Unlock()

	startTime := time.Now()

	logger.LogTrace("🔄 Ticking device '%s'...", deviceID)
	s.executor.ExecuteTick(ctx, deviceID, startTime)

	// Record the start time even for slow ticks so intervals stay anchored.
	s.mu.Lock()
	s.lastExecutions[deviceID] = startTime
	s.mu.Unlock()

	logger.LogTrace("✅ Device '%s' ticked in %v", deviceID, time.Since(startTime))
}

// GetNextExecutionTimes returns when each device will tick next (for debugging)
func (s *TickScheduler) GetNextExecutionTimes() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := make(map[string]time.Time)
	for deviceID, interval := range s.deviceIntervals {
		if lastExec, exists := s.lastExecutions[deviceID]; exists {
			next[deviceID] = lastExec.Add(interval)
		} else {
			next[deviceID] = time.Now() // Will tick immediately
		}
	}
	return next
}
