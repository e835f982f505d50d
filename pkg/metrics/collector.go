package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"onemeter-mqtt-bridge/pkg/meter"
)

// SnapshotSource provides the live state of every coordinator.
type SnapshotSource interface {
	Snapshots() []meter.Snapshot
}

// SnapshotCollector exports the current meter state as gauges. The
// values come straight from the coordinators at scrape time instead of
// being tracked incrementally, so a scrape always reflects reality.
type SnapshotCollector struct {
	source SnapshotSource

	energyKWh   *prometheus.Desc
	powerKW     *prometheus.Desc
	forecastKWh *prometheus.Desc
	impulses    *prometheus.Desc
	subscribed  *prometheus.Desc
}

// NewSnapshotCollector creates a collector over the given source.
func NewSnapshotCollector(source SnapshotSource) *SnapshotCollector {
	return &SnapshotCollector{
		source: source,
		energyKWh: prometheus.NewDesc(
			"onemeter_energy_kwh",
			"Cumulative energy in kWh derived from the impulse counter.",
			[]string{"device"}, nil),
		powerKW: prometheus.NewDesc(
			"onemeter_power_kw",
			"Estimated instantaneous power in kW, zero when idle.",
			[]string{"device"}, nil),
		forecastKWh: prometheus.NewDesc(
			"onemeter_monthly_forecast_kwh",
			"Projected end-of-month consumption in kWh.",
			[]string{"device"}, nil),
		impulses: prometheus.NewDesc(
			"onemeter_impulses",
			"Raw impulse counter value.",
			[]string{"device"}, nil),
		subscribed: prometheus.NewDesc(
			"onemeter_subscribed",
			"Whether the device subscription is active (1) or not (0).",
			[]string{"device"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.energyKWh
	ch <- c.powerKW
	ch <- c.forecastKWh
	ch <- c.impulses
	ch <- c.subscribed
}

// Collect implements prometheus.Collector.
func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	for _, snap := range c.source.Snapshots() {
		ch <- prometheus.MustNewConstMetric(c.energyKWh, prometheus.GaugeValue, snap.KWh, snap.DeviceID)
		ch <- prometheus.MustNewConstMetric(c.powerKW, prometheus.GaugeValue, snap.PowerKW, snap.DeviceID)
		ch <- prometheus.MustNewConstMetric(c.forecastKWh, prometheus.GaugeValue, float64(snap.ForecastKWh), snap.DeviceID)
		ch <- prometheus.MustNewConstMetric(c.impulses, prometheus.CounterValue, float64(snap.TotalImpulses), snap.DeviceID)

		subscribed := 0.0
		if snap.Subscribed {
			subscribed = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.subscribed, prometheus.GaugeValue, subscribed, snap.DeviceID)
	}
}
