// Package risk computes, from current driver telemetry and pedestrian
// presence, which safety alerts to raise or retire at a crosswalk. The core
// is a pure function over one crosswalk document; an orchestrating Evaluator
// loads, persists, and dispatches around it.
package risk

import "time"

// Params holds the physics constants and debounce tuning for alert
// evaluation. Thresholds are recomputed every pass from each driver's
// currently reported speed, never cached.
type Params struct {
	ReactionTime  float64 // driver reaction time, seconds
	Deceleration  float64 // average braking deceleration, m/s^2
	SafetyBuffer  float64 // fixed margin added to the stopping distance, meters
	OuterFactor   float64 // outer (pedestrian-facing) zone multiplier
	MinAlertSpeed float64 // drivers slower than this are treated as stationary, m/s
	DebounceDelta float64 // minimum distance change to re-emit an active alert, meters
	DriverTTL     time.Duration // presence TTL; drivers fall off when pings stop
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		ReactionTime:  1.5,
		Deceleration:  3.0,
		SafetyBuffer:  20.0,
		OuterFactor:   2.5,
		MinAlertSpeed: 1.0,
		DebounceDelta: 3.0,
		DriverTTL:     3 * time.Second,
	}
}

// thresholds derives the driver-facing (inner) and pedestrian-facing (outer)
// alert distances for a driver moving at the given speed.
func (p Params) thresholds(speed float64) (inner, outer float64) {
	reaction := speed * p.ReactionTime
	braking := speed * speed / (2 * p.Deceleration)
	inner = reaction + braking + p.SafetyBuffer
	outer = inner * p.OuterFactor
	return inner, outer
}
