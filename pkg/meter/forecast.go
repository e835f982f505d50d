package meter

import (
	"math"
	"time"
)

// Forecast below this many elapsed days reports 0; the denominator is
// too small to extrapolate from.
const minElapsedDays = 0.01

// forecastEngine projects end-of-month consumption by linear
// extrapolation from the month-to-date usage. The baseline is the
// counter value at the first pulse of the current month; a month change
// while the meter was offline is detected on the next pulse.
type forecastEngine struct {
	impulsesPerKWh int

	baselineImpulses int64
	lastMonthChecked time.Month
	monthStart       time.Time
	latestKWh        int64
}

func newForecastEngine(impulsesPerKWh int) forecastEngine {
	return forecastEngine{impulsesPerKWh: impulsesPerKWh}
}

// seed installs the restored month baseline. Called once at attach,
// before any pulse is processed.
func (f *forecastEngine) seed(baselineImpulses int64, monthStart time.Time, latestKWh int64) {
	f.baselineImpulses = baselineImpulses
	f.lastMonthChecked = monthStart.Month()
	f.monthStart = monthStart
	f.latestKWh = latestKWh
}

// advance recomputes the forecast for the counter value at time t.
// The pulse that crosses a month boundary is already counted, so it
// becomes the new baseline.
func (f *forecastEngine) advance(t time.Time, totalImpulses int64) {
	month := t.Month()
	switch {
	case month != f.lastMonthChecked:
		f.baselineImpulses = totalImpulses
		f.lastMonthChecked = month
		f.monthStart = t
	case f.baselineImpulses == 0 && totalImpulses > 0:
		// First pulse after a restart with no restored baseline.
		f.baselineImpulses = totalImpulses
		f.monthStart = t
	}

	usedKWh := float64(totalImpulses-f.baselineImpulses) / float64(f.impulsesPerKWh)
	elapsedDays := t.Sub(f.monthStart).Hours() / 24
	if elapsedDays < 0 {
		elapsedDays = 0
	}

	forecast := 0.0
	if elapsedDays > minElapsedDays && usedKWh > 0 {
		forecast = usedKWh / elapsedDays * float64(daysInMonth(t.Year(), month))
	}
	f.latestKWh = int64(math.Round(forecast))
}

// daysInMonth returns the calendar length of a month, leap years
// included.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// startOfMonth returns the first of the month at 00:00 in t's location.
func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
