package meter

import (
	"math"
	"time"
)

// Snapshot is an immutable view of one coordinator's state. Observers
// and entity views only ever see snapshots; the mutable state block
// stays behind the coordinator's lock.
type Snapshot struct {
	DeviceID string    `json:"device_id"`
	TakenAt  time.Time `json:"taken_at"`

	TotalImpulses int64   `json:"impulses"`
	KWh           float64 `json:"kwh"`         // TotalImpulses / impulses_per_kwh, 3 dp
	PowerKW       float64 `json:"power_kw"`    // idle-aware moving average, 3 dp
	ForecastKWh   int64   `json:"forecast_kwh"`

	BaselineImpulses int64     `json:"kwh_at_month_start_imp"`
	LastMonthChecked int       `json:"last_month_checked"` // 1..12
	MonthStart       time.Time `json:"month_start"`
	LastImpulse      time.Time `json:"last_impulse"`

	Subscribed bool `json:"subscribed"`
}

// Observer receives a snapshot after every state mutation. Callbacks
// run on the coordinator's path and must not block.
type Observer interface {
	OnSnapshot(snap Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(snap Snapshot)

// OnSnapshot implements Observer.
func (f ObserverFunc) OnSnapshot(snap Snapshot) {
	f(snap)
}

// Round3 rounds a value to three decimal places, the reporting
// precision for kWh and kW.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
