package control

// Gains are the PID coefficients applied on one tick
type Gains struct {
	Kp float64 `yaml:"kp" json:"kp"`
	Ki float64 `yaml:"ki" json:"ki"`
	Kd float64 `yaml:"kd" json:"kd"`
}

// State is the PID memory of one group, carried across ticks and phases
type State struct {
	Integral  float64 `json:"integral"`
	PrevError float64 `json:"prev_error"`
	Primed    bool    `json:"primed"`
}

// NewState returns the state at experiment start
func NewState() State {
	return State{}
}

// Update computes the PID output for one tick and the next state.
// The derivative is the per-tick error difference and the integral term uses
// the sum of errors before this tick. The first update after NewState has no
// derivative term.
func Update(target, measured float64, state State, gains Gains) (float64, State) {
	err := target - measured

	derivative := 0.0
	if state.Primed {
		derivative = err - state.PrevError
	}

	output := gains.Kp*err + gains.Ki*state.Integral + gains.Kd*derivative

	return output, State{
		Integral:  state.Integral + err,
		PrevError: err,
		Primed:    true,
	}
}
