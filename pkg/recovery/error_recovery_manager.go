package recovery

import (
	"time"
)

// ErrorRecoveryManager tracks consecutive publish failures for one
// meter. A single failed publish never flips the device offline; only
// an unbroken error sequence outlasting the grace period does. The
// counted state itself is never rolled back on failure.
type ErrorRecoveryManager struct {
	consecutiveErrors  int
	firstErrorTime     time.Time
	errorGracePeriod   time.Duration
	statusSetToOffline bool
}

// NewErrorRecoveryManager creates a new error recovery manager
func NewErrorRecoveryManager(gracePeriod time.Duration) *ErrorRecoveryManager {
	if gracePeriod == 0 {
		gracePeriod = 15 * time.Second // Default grace period
	}

	return &ErrorRecoveryManager{
		consecutiveErrors:  0,
		firstErrorTime:     time.Time{},
		errorGracePeriod:   gracePeriod,
		statusSetToOffline: false,
	}
}

// RecordError records a failed publish and returns whether the grace
// period has expired.
func (m *ErrorRecoveryManager) RecordError() bool {
	m.consecutiveErrors++

	if m.firstErrorTime.IsZero() {
		m.firstErrorTime = time.Now()
	}

	return time.Since(m.firstErrorTime) >= m.errorGracePeriod
}

// RecordSuccess resets error tracking after a successful publish.
func (m *ErrorRecoveryManager) RecordSuccess() {
	m.consecutiveErrors = 0
	m.firstErrorTime = time.Time{}
	m.statusSetToOffline = false
}

// GetConsecutiveErrors returns the current count of consecutive errors
func (m *ErrorRecoveryManager) GetConsecutiveErrors() int {
	return m.consecutiveErrors
}

// ShouldMarkOffline returns true when the device availability should
// flip to offline: the grace period expired and offline was not
// already published.
func (m *ErrorRecoveryManager) ShouldMarkOffline() bool {
	if m.statusSetToOffline {
		return false // Already marked offline, don't repeat
	}

	if !m.firstErrorTime.IsZero() && time.Since(m.firstErrorTime) >= m.errorGracePeriod {
		return true
	}

	return false
}

// MarkAsOffline records that offline was already published so it is
// not repeated.
func (m *ErrorRecoveryManager) MarkAsOffline() {
	m.statusSetToOffline = true
}

// IsInGracePeriod returns true between the first error of a sequence
// and the grace period expiry.
func (m *ErrorRecoveryManager) IsInGracePeriod() bool {
	if m.firstErrorTime.IsZero() {
		return false
	}
	return time.Since(m.firstErrorTime) < m.errorGracePeriod
}

// GetTimeSinceFirstError returns the duration since the first error in
// the current sequence.
func (m *ErrorRecoveryManager) GetTimeSinceFirstError() time.Duration {
	if m.firstErrorTime.IsZero() {
		return 0
	}
	return time.Since(m.firstErrorTime)
}

// Reset resets all error tracking state
func (m *ErrorRecoveryManager) Reset() {
	m.consecutiveErrors = 0
	m.firstErrorTime = time.Time{}
	m.statusSetToOffline = false
}
