package health

import (
	"sync"
	"time"

	"onemeter-mqtt-bridge/pkg/recovery"
)

// BrokerHealthMonitor tracks the health of the outbound publish path
// and feeds both the availability flip-flop and the HTTP health
// endpoint.
type BrokerHealthMonitor struct {
	isOnline        bool
	lastErrorTime   time.Time
	lastSuccessTime time.Time
	totalSuccesses  int64
	totalErrors     int64
	errorManager    *recovery.ErrorRecoveryManager
	mu              sync.RWMutex
}

// NewBrokerHealthMonitor creates a new broker health monitor
func NewBrokerHealthMonitor(gracePeriod time.Duration) *BrokerHealthMonitor {
	return &BrokerHealthMonitor{
		isOnline:     true,
		errorManager: recovery.NewErrorRecoveryManager(gracePeriod),
	}
}

// IsOnline returns whether the publish path is currently considered healthy.
func (m *BrokerHealthMonitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isOnline
}

// RecordSuccess records a successful publish.
func (m *BrokerHealthMonitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorManager.RecordSuccess()
	m.isOnline = true
	m.lastSuccessTime = time.Now()
	m.totalSuccesses++
}

// RecordError records a failed publish and returns whether the device
// availability should flip to offline.
func (m *BrokerHealthMonitor) RecordError() (shouldMarkOffline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastErrorTime = time.Now()
	m.totalErrors++
	m.errorManager.RecordError()

	return m.errorManager.ShouldMarkOffline()
}

// MarkOffline explicitly marks the publish path as offline
func (m *BrokerHealthMonitor) MarkOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.isOnline = false
	m.errorManager.MarkAsOffline()
}

// MarkOnline explicitly marks the publish path as online
func (m *BrokerHealthMonitor) MarkOnline() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.isOnline = true
	m.errorManager.Reset()
}

// GetConsecutiveErrors returns the current count of consecutive errors
func (m *BrokerHealthMonitor) GetConsecutiveErrors() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.GetConsecutiveErrors()
}

// GetLastErrorTime returns the time of the last error
func (m *BrokerHealthMonitor) GetLastErrorTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErrorTime
}

// GetLastSuccessTime returns the time of the last successful publish
func (m *BrokerHealthMonitor) GetLastSuccessTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSuccessTime
}

// GetErrorCount returns the total number of failed publishes
func (m *BrokerHealthMonitor) GetErrorCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalErrors
}

// GetSuccessCount returns the total number of successful publishes
func (m *BrokerHealthMonitor) GetSuccessCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalSuccesses
}

// IsInGracePeriod returns true if currently in error grace period
func (m *BrokerHealthMonitor) IsInGracePeriod() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.IsInGracePeriod()
}

// GetTimeSinceFirstError returns duration since first error in current sequence
func (m *BrokerHealthMonitor) GetTimeSinceFirstError() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.GetTimeSinceFirstError()
}

// Stats is the counter snapshot exposed on the health endpoint.
type Stats struct {
	Online            bool      `json:"online"`
	TotalSuccesses    int64     `json:"total_successes"`
	TotalErrors       int64     `json:"total_errors"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastSuccessTime   time.Time `json:"last_success_time,omitempty"`
	LastErrorTime     time.Time `json:"last_error_time,omitempty"`
}

// GetStats returns a consistent counter snapshot.
func (m *BrokerHealthMonitor) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Online:            m.isOnline,
		TotalSuccesses:    m.totalSuccesses,
		TotalErrors:       m.totalErrors,
		ConsecutiveErrors: m.errorManager.GetConsecutiveErrors(),
		LastSuccessTime:   m.lastSuccessTime,
		LastErrorTime:     m.lastErrorTime,
	}
}
