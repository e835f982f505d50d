package meter

import "time"

// powerEstimator derives instantaneous kW from inter-pulse intervals.
// The dt-based estimate reacts within one interval; a small moving
// average damps jitter and a hard cap protects against dt close to 0.
//
// The idle rule intentionally lives on the read side (Reading), not in
// the sample buffer, so a resumed load is reported on the very next
// pulse instead of being dragged down by the idle gap.
type powerEstimator struct {
	impulsesPerKWh int
	maxPowerKW     float64
	window         int
	timeout        time.Duration

	stamps    []float64 // epoch seconds of the two most recent pulses
	lastValid float64   // last computed non-idle estimate, kW
	history   []float64 // bounded to window
}

func newPowerEstimator(impulsesPerKWh int, maxPowerKW float64, window, timeoutSeconds int) powerEstimator {
	return powerEstimator{
		impulsesPerKWh: impulsesPerKWh,
		maxPowerKW:     maxPowerKW,
		window:         window,
		timeout:        time.Duration(timeoutSeconds) * time.Second,
	}
}

// observe records a pulse at epoch second t and updates the moving
// average. Two pulses with identical timestamps produce no sample; the
// previous estimate stands.
func (p *powerEstimator) observe(t float64) {
	p.stamps = append(p.stamps, t)
	if len(p.stamps) > 2 {
		p.stamps = p.stamps[len(p.stamps)-2:]
	}

	if len(p.stamps) < 2 {
		return
	}

	dt := p.stamps[1] - p.stamps[0]
	if dt <= 0 {
		return
	}

	kw := 3600 / (float64(p.impulsesPerKWh) * dt)
	if kw > p.maxPowerKW {
		kw = p.maxPowerKW
	}
	p.lastValid = kw

	p.history = append(p.history, kw)
	if len(p.history) > p.window {
		p.history = p.history[len(p.history)-p.window:]
	}
}

// average returns the arithmetic mean of the sample history, 0 when no
// sample has been computed yet.
func (p *powerEstimator) average() float64 {
	if len(p.history) == 0 {
		return 0
	}
	var sum float64
	for _, kw := range p.history {
		sum += kw
	}
	return sum / float64(len(p.history))
}

// reading applies the idle rule: past the timeout the reported power is
// exactly 0 regardless of the moving average.
func (p *powerEstimator) reading(now, lastImpulse time.Time) float64 {
	if lastImpulse.IsZero() || now.Sub(lastImpulse) > p.timeout {
		return 0
	}
	return p.average()
}
