package services

import "time"

// Clock abstracts wall-clock time for the control loop
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the real clock
func SystemClock() Clock {
	return systemClock{}
}

// nextBoundary returns the first tick boundary at or after t.
// Intervals that divide a minute stay aligned to the minute.
func nextBoundary(t time.Time, interval time.Duration) time.Time {
	b := t.Truncate(interval)
	if b.Equal(t) {
		return b
	}
	return b.Add(interval)
}

// validInterval reports whether ticks of this length stay minute aligned
func validInterval(interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	return time.Minute%interval == 0 || interval%time.Minute == 0
}

// alertGate lets at most one alert through per window
type alertGate struct {
	window time.Duration
	next   time.Time
}

// Allow reports whether an alert may be sent at now and arms the window if so
func (g *alertGate) Allow(now time.Time) bool {
	if now.Before(g.next) {
		return false
	}
	g.next = now.Add(g.window)
	return true
}
