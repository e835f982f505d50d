package recovery

import (
	"testing"
	"time"
)

func TestFirstErrorStartsGracePeriod(t *testing.T) {
	m := NewErrorRecoveryManager(time.Hour)

	if expired := m.RecordError(); expired {
		t.Error("❌ First error must not expire the grace period immediately")
	}
	if !m.IsInGracePeriod() {
		t.Error("❌ Expected to be in grace period after first error")
	}
	if m.ShouldMarkOffline() {
		t.Error("❌ Should not mark offline inside the grace period")
	}
	if m.GetConsecutiveErrors() != 1 {
		t.Errorf("❌ Expected 1 consecutive error, got %d", m.GetConsecutiveErrors())
	}
}

func TestGraceExpiryMarksOfflineOnce(t *testing.T) {
	m := NewErrorRecoveryManager(20 * time.Millisecond)

	m.RecordError()
	time.Sleep(30 * time.Millisecond)
	if expired := m.RecordError(); !expired {
		t.Error("❌ Expected grace period to be expired")
	}

	if !m.ShouldMarkOffline() {
		t.Error("❌ Expected ShouldMarkOffline after grace expiry")
	}
	m.MarkAsOffline()

	if m.ShouldMarkOffline() {
		t.Error("❌ Offline must not be signalled twice")
	}
	t.Log("✅ Offline signalled exactly once")
}

func TestSuccessResetsSequence(t *testing.T) {
	m := NewErrorRecoveryManager(20 * time.Millisecond)

	m.RecordError()
	m.RecordError()
	m.RecordSuccess()

	if m.GetConsecutiveErrors() != 0 {
		t.Errorf("❌ Expected counter reset, got %d", m.GetConsecutiveErrors())
	}
	if m.IsInGracePeriod() {
		t.Error("❌ Grace period must end on success")
	}
	if m.GetTimeSinceFirstError() != 0 {
		t.Error("❌ Expected zero duration with no error sequence")
	}

	// A fresh error after recovery starts a new grace period.
	time.Sleep(25 * time.Millisecond)
	if expired := m.RecordError(); expired {
		t.Error("❌ New error sequence must start its own grace period")
	}
}

func TestDefaultGracePeriod(t *testing.T) {
	m := NewErrorRecoveryManager(0)
	if m.errorGracePeriod != 15*time.Second {
		t.Errorf("❌ Expected 15s default grace period, got %v", m.errorGracePeriod)
	}
}
