package mqtt

import (
	"encoding/json"
	"fmt"
	"math"

	"onemeter-mqtt-bridge/pkg/meter"
)

// TimestampLayout is the wall-clock format used in the state document.
const TimestampLayout = "2006-01-02 15:04:05"

// StateDocument is the consolidated retained payload on the per-device
// state topic. It doubles as the durable snapshot: on startup the
// bridge reads it back to seed the counter, so the field set and
// names are part of the wire contract.
type StateDocument struct {
	Timestamp   string  `json:"timestamp"` // local wall clock, TimestampLayout
	Impulses    int64   `json:"impulses"`
	KWh         float64 `json:"kwh"`
	PowerKW     float64 `json:"power_kw"`
	ForecastKWh int64   `json:"forecast_kwh"`
}

// NewStateDocument builds the document from a coordinator snapshot.
func NewStateDocument(snap meter.Snapshot) StateDocument {
	return StateDocument{
		Timestamp:   snap.TakenAt.Format(TimestampLayout),
		Impulses:    snap.TotalImpulses,
		KWh:         meter.Round3(snap.KWh),
		PowerKW:     meter.Round3(snap.PowerKW),
		ForecastKWh: snap.ForecastKWh,
	}
}

// Validate rejects values that would corrupt the retained snapshot.
func (d StateDocument) Validate() error {
	if math.IsNaN(d.KWh) || math.IsInf(d.KWh, 0) {
		return fmt.Errorf("kwh value is not a finite number: %v", d.KWh)
	}
	if math.IsNaN(d.PowerKW) || math.IsInf(d.PowerKW, 0) {
		return fmt.Errorf("power value is not a finite number: %v", d.PowerKW)
	}
	if d.KWh < 0 {
		return fmt.Errorf("kwh value cannot be negative: %.3f", d.KWh)
	}
	if d.KWh > 999999999 {
		return fmt.Errorf("kwh value out of reasonable bounds: %.3f", d.KWh)
	}
	if d.PowerKW < 0 {
		return fmt.Errorf("power value cannot be negative: %.3f", d.PowerKW)
	}
	if d.Impulses < 0 {
		return fmt.Errorf("impulse counter cannot be negative: %d", d.Impulses)
	}
	return nil
}

// ParseStateDocument decodes a retained state payload.
func ParseStateDocument(payload []byte) (StateDocument, error) {
	var doc StateDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return StateDocument{}, fmt.Errorf("error parsing state document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return StateDocument{}, fmt.Errorf("retained state document rejected: %w", err)
	}
	return doc, nil
}
