package ws

import (
	"encoding/json"
	"time"

	"onemeter-mqtt-bridge/pkg/meter"
)

// Message types on the live stream.
const (
	TypeSnapshot = "meter:snapshot"
	TypeHello    = "meter:hello"
)

// Envelope wraps every message on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals a payload into an envelope message.
func NewEnvelope(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// SnapshotPayload is the live-view projection of a coordinator snapshot.
type SnapshotPayload struct {
	DeviceID    string  `json:"device_id"`
	Timestamp   string  `json:"timestamp"`
	Impulses    int64   `json:"impulses"`
	KWh         float64 `json:"kwh"`
	PowerKW     float64 `json:"power_kw"`
	ForecastKWh int64   `json:"forecast_kwh"`
	Subscribed  bool    `json:"subscribed"`
}

// SnapshotPayloadFrom converts a coordinator snapshot.
func SnapshotPayloadFrom(snap meter.Snapshot) SnapshotPayload {
	return SnapshotPayload{
		DeviceID:    snap.DeviceID,
		Timestamp:   snap.TakenAt.Format(time.RFC3339),
		Impulses:    snap.TotalImpulses,
		KWh:         snap.KWh,
		PowerKW:     snap.PowerKW,
		ForecastKWh: snap.ForecastKWh,
		Subscribed:  snap.Subscribed,
	}
}

// HelloPayload lists the devices a fresh client will receive snapshots
// for.
type HelloPayload struct {
	Devices []SnapshotPayload `json:"devices"`
}
