package entities

import (
	"fmt"

	"onemeter-mqtt-bridge/pkg/meter"
)

// View describes one Home Assistant sensor fed from the consolidated
// state document. The value template selects the field out of the
// retained JSON payload.
type View struct {
	Key            string // suffix for unique_id and discovery topic
	Name           string // display name suffix, appended to the device name
	Unit           string
	DeviceClass    string
	StateClass     string
	ValueTemplate  string
	WithAttributes bool // attach the forecast bookkeeping attributes topic
}

// Sensor keys. Stable: they form unique_ids, renaming them orphans
// entities in the HA registry.
const (
	KeyEnergy   = "energy_kwh"
	KeyPower    = "power_kw"
	KeyForecast = "monthly_forecast_kwh"
)

// Views returns the three sensors every meter exposes, in publish order.
func Views() []View {
	return []View{
		{
			Key:           KeyEnergy,
			Name:          "Energy",
			Unit:          "kWh",
			DeviceClass:   "energy",
			StateClass:    "total_increasing",
			ValueTemplate: "{{ value_json.kwh }}",
		},
		{
			Key:           KeyPower,
			Name:          "Power",
			Unit:          "kW",
			DeviceClass:   "power",
			StateClass:    "measurement",
			ValueTemplate: "{{ value_json.power_kw }}",
		},
		{
			Key:            KeyForecast,
			Name:           "Monthly Forecast",
			Unit:           "kWh",
			StateClass:     "measurement",
			ValueTemplate:  "{{ value_json.forecast_kwh }}",
			WithAttributes: true,
		},
	}
}

// DisplayName returns the HA-facing sensor name for a device.
func (v View) DisplayName(deviceName string) string {
	return fmt.Sprintf("%s %s", deviceName, v.Name)
}

// ForecastAttributes is the JSON attribute payload attached to the
// forecast sensor. It exposes the month bookkeeping so a dashboard can
// show what the projection is based on.
type ForecastAttributes struct {
	KWhAtMonthStartImp int64   `json:"kwh_at_month_start_imp"`
	LastMonthChecked   int     `json:"last_month_checked"`
	MonthStart         string  `json:"month_start"`
	ElapsedDays        float64 `json:"elapsed_days"`
}

// AttributesFromSnapshot derives the forecast attributes from a
// coordinator snapshot.
func AttributesFromSnapshot(snap meter.Snapshot) ForecastAttributes {
	elapsed := 0.0
	if !snap.MonthStart.IsZero() && snap.TakenAt.After(snap.MonthStart) {
		elapsed = snap.TakenAt.Sub(snap.MonthStart).Hours() / 24
	}
	monthStart := ""
	if !snap.MonthStart.IsZero() {
		monthStart = snap.MonthStart.Format("2006-01-02 15:04:05")
	}
	return ForecastAttributes{
		KWhAtMonthStartImp: snap.BaselineImpulses,
		LastMonthChecked:   snap.LastMonthChecked,
		MonthStart:         monthStart,
		ElapsedDays:        elapsed,
	}
}
