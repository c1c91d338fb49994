package control

import "mhw-backend/internal/models"

// ActuatorState is the believed on/off state of one heater
type ActuatorState struct {
	On bool `json:"on"`
}

// Decision is the outcome of one actuator decision
type Decision struct {
	On      bool
	Label   string
	Changed bool
	Reason  string
}

// Decide fuses the PID output with the measured temperature.
// The heater is on iff pidOutput > threshold and measured < target, whether
// it was on or off before.
func Decide(state ActuatorState, pidOutput, measured, target, threshold float64) Decision {
	on := pidOutput > threshold && measured < target

	reason := "pid output below threshold"
	switch {
	case measured >= target:
		reason = "at or above target"
	case on && state.On:
		reason = "staying on"
	case on:
		reason = "turning on"
	}

	return newDecision(state, on, reason)
}

// DecideWithBoost applies Decide and additionally turns an off heater on when
// the feedback temperature lags the target by more than margin (margin <= 0 disables)
func DecideWithBoost(state ActuatorState, pidOutput, measured, feedback, target, threshold, margin float64) Decision {
	d := Decide(state, pidOutput, measured, target, threshold)
	if d.On || state.On || margin <= 0 {
		return d
	}
	if target-feedback > margin {
		return newDecision(state, true, "feedback lagging target")
	}
	return d
}

// Hold keeps the previous state when the group could not be read
func Hold(state ActuatorState) Decision {
	label := models.StatusHoldOff
	if state.On {
		label = models.StatusHoldOn
	}
	return Decision{On: state.On, Label: label, Reason: "group read failed, holding"}
}

func newDecision(state ActuatorState, on bool, reason string) Decision {
	label := models.StatusOff
	if on {
		label = models.StatusOn
	}
	return Decision{On: on, Label: label, Changed: on != state.On, Reason: reason}
}
