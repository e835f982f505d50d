package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors returned by Decode. The coordinator maps them to the
// drop policy: malformed frames and bad timestamps are logged, a frame
// that simply does not address the target MAC is skipped silently.
var (
	ErrMalformedFrame = errors.New("malformed device-list frame")
	ErrNoDeviceList   = errors.New("frame has no dev_list")
	ErrNoMatch        = errors.New("no record matches target mac")
	ErrBadTimestamp   = errors.New("matched record has missing or zero ts")
)

// DeviceRecord is one entry of the inbound device-list frame. The
// gateway publishes more fields per record; only mac and ts matter here.
type DeviceRecord struct {
	MAC string      `json:"mac"`
	TS  json.Number `json:"ts"` // milliseconds since epoch
}

// deviceListFrame is the inbound JSON envelope.
type deviceListFrame struct {
	DevList []DeviceRecord `json:"dev_list"`
}

// Pulse is one accepted metering event.
type Pulse struct {
	TSMillis int64     // raw gateway timestamp
	At       time.Time // TSMillis converted, local time zone
}

// EpochSeconds returns the pulse time as real seconds since epoch.
func (p Pulse) EpochSeconds() float64 {
	return float64(p.TSMillis) / 1000.0
}

// Decoder selects pulses addressed to one meter out of device-list
// frames. It is stateless; every call stands alone.
type Decoder struct {
	targetMAC string
}

// New creates a decoder for the given target MAC. The MAC may carry
// colon or dash separators and any casing.
func New(targetMAC string) *Decoder {
	return &Decoder{targetMAC: NormalizeMAC(targetMAC)}
}

// TargetMAC returns the normalized MAC this decoder selects.
func (d *Decoder) TargetMAC() string {
	return d.targetMAC
}

// Decode parses a raw payload and extracts the pulse addressed to the
// target MAC. The first matching record wins; records after it are
// ignored. A matching record must carry a positive integer ts.
func (d *Decoder) Decode(payload []byte) (Pulse, error) {
	var frame deviceListFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Pulse{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	// nil covers both a missing dev_list key and an explicit null.
	if frame.DevList == nil {
		return Pulse{}, ErrNoDeviceList
	}

	for _, rec := range frame.DevList {
		if NormalizeMAC(rec.MAC) != d.targetMAC {
			continue
		}

		ts, err := rec.TS.Int64()
		if err != nil || ts <= 0 {
			return Pulse{}, ErrBadTimestamp
		}

		return Pulse{
			TSMillis: ts,
			At:       time.UnixMilli(ts).In(time.Local),
		}, nil
	}

	return Pulse{}, ErrNoMatch
}

// NormalizeMAC strips common separators and uppercases a MAC so frames
// and configuration compare equal regardless of formatting.
func NormalizeMAC(mac string) string {
	mac = strings.ReplaceAll(mac, ":", "")
	mac = strings.ReplaceAll(mac, "-", "")
	return strings.ToUpper(strings.TrimSpace(mac))
}

// ValidMAC reports whether mac normalizes to exactly 12 hex digits.
func ValidMAC(mac string) bool {
	normalized := NormalizeMAC(mac)
	if len(normalized) != 12 {
		return false
	}
	for _, r := range normalized {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
