package metrics

import "time"

// NullRecorder is a no-op meter.Recorder for deployments that run
// without the HTTP endpoint.
type NullRecorder struct{}

// NewNullRecorder creates a no-op recorder.
func NewNullRecorder() *NullRecorder {
	return &NullRecorder{}
}

// RecordPulse implements meter.Recorder.
func (NullRecorder) RecordPulse(string, time.Time) {}

// RecordDrop implements meter.Recorder.
func (NullRecorder) RecordDrop(string, string) {}

// RecordPublish implements meter.Recorder.
func (NullRecorder) RecordPublish(string, time.Duration, error) {}
