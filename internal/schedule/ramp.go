package schedule

import (
	"math"
	"time"

	"mhw-backend/internal/models"
)

const secondsPerDay = 86400.0

// Rates are the ramp slopes in °C per second
type Rates struct {
	Onset   float64
	Decline float64
}

// RatesPerDay converts °C/day slopes into Rates
func RatesPerDay(onset, decline float64) Rates {
	return Rates{
		Onset:   onset / secondsPerDay,
		Decline: decline / secondsPerDay,
	}
}

// DefaultRates returns the onset and decline slopes of the 2015 event
func DefaultRates() Rates {
	return RatesPerDay(0.51, 0.96)
}

// RampDuration is the elapsed time at which a ramp of the given slope saturates
func RampDuration(threshold, rate float64) time.Duration {
	if threshold <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(threshold / rate * float64(time.Second)))
}

// RampUp returns the offset above baseline during the event onset.
// It grows linearly from 0 and saturates at threshold.
func RampUp(elapsed time.Duration, threshold, rate float64) float64 {
	if threshold <= 0 || rate <= 0 || elapsed <= 0 {
		return 0
	}
	if elapsed >= RampDuration(threshold, rate) {
		return threshold
	}
	return math.Min(elapsed.Seconds()*rate, threshold)
}

// RampDown returns the offset above baseline during recovery.
// It falls linearly from threshold and saturates at 0.
func RampDown(elapsed time.Duration, threshold, rate float64) float64 {
	if threshold <= 0 {
		return 0
	}
	if rate <= 0 || elapsed <= 0 {
		return threshold
	}
	if elapsed >= RampDuration(threshold, rate) {
		return 0
	}
	return math.Max(threshold-elapsed.Seconds()*rate, 0)
}

// Offset returns the target offset for a phase and elapsed time since the phase began
func Offset(phase models.Phase, elapsed time.Duration, threshold float64, rates Rates) float64 {
	switch phase {
	case models.PhaseEventRamp:
		return RampUp(elapsed, threshold, rates.Onset)
	case models.PhaseRecoveryRamp:
		return RampDown(elapsed, threshold, rates.Decline)
	default:
		return 0
	}
}
