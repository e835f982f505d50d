package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PulseRecorder exports pipeline counters to Prometheus. It sits on
// the pulse path as a meter.Recorder; all methods are counter bumps.
type PulseRecorder struct {
	pulsesTotal     *prometheus.CounterVec
	droppedFrames   *prometheus.CounterVec
	publishesTotal  *prometheus.CounterVec
	publishErrors   *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
}

// NewPulseRecorder creates the recorder and registers its collectors.
func NewPulseRecorder(reg prometheus.Registerer) *PulseRecorder {
	r := &PulseRecorder{
		pulsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onemeter",
			Name:      "pulses_total",
			Help:      "Total number of accepted metering pulses.",
		}, []string{"device"}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onemeter",
			Name:      "dropped_frames_total",
			Help:      "Total number of inbound frames skipped, by reason.",
		}, []string{"device", "reason"}),
		publishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onemeter",
			Name:      "state_publishes_total",
			Help:      "Total number of state document publish attempts.",
		}, []string{"device"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onemeter",
			Name:      "state_publish_errors_total",
			Help:      "Total number of failed state document publishes.",
		}, []string{"device"}),
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "onemeter",
			Name:      "state_publish_duration_seconds",
			Help:      "Latency of successful state document publishes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"device"}),
	}

	reg.MustRegister(r.pulsesTotal, r.droppedFrames, r.publishesTotal, r.publishErrors, r.publishDuration)
	return r
}

// RecordPulse implements meter.Recorder.
func (r *PulseRecorder) RecordPulse(deviceID string, _ time.Time) {
	r.pulsesTotal.WithLabelValues(deviceID).Inc()
}

// RecordDrop implements meter.Recorder.
func (r *PulseRecorder) RecordDrop(deviceID string, reason string) {
	r.droppedFrames.WithLabelValues(deviceID, reason).Inc()
}

// RecordPublish implements meter.Recorder.
func (r *PulseRecorder) RecordPublish(deviceID string, duration time.Duration, err error) {
	r.publishesTotal.WithLabelValues(deviceID).Inc()
	if err != nil {
		r.publishErrors.WithLabelValues(deviceID).Inc()
		return
	}
	r.publishDuration.WithLabelValues(deviceID).Observe(duration.Seconds())
}
