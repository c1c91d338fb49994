package control

import (
	"fmt"

	"mhw-backend/internal/models"
)

// PhaseTuning holds the per-group gains and decision threshold of one phase
type PhaseTuning struct {
	Gains     map[string]Gains   `yaml:"gains" json:"gains"`
	Threshold float64            `yaml:"threshold" json:"threshold"`
	Boost     map[string]float64 `yaml:"boost" json:"boost,omitempty"`
}

// Tuning maps each phase to its tuning
type Tuning map[models.Phase]PhaseTuning

// derivative time base of the reference tuning
const fo = 1.0 / 40

// DefaultTuning returns the gains the chill/severe/extreme tanks were tuned with
func DefaultTuning() Tuning {
	baseline := PhaseTuning{
		Gains: map[string]Gains{
			"chill":   {Kp: 0.5, Kd: fo / 4},
			"severe":  {Kp: 0.5, Kd: fo / 4},
			"extreme": {Kp: 0.5, Kd: fo / 4},
		},
	}
	ramp := func() PhaseTuning {
		return PhaseTuning{
			Gains: map[string]Gains{
				"chill":   {Kp: 0.5, Kd: fo / 4},
				"severe":  {Kp: 1, Kd: fo / 4},
				"extreme": {Kp: 64, Kd: fo / 8},
			},
		}
	}

	return Tuning{
		models.PhaseBaseline:     baseline,
		models.PhaseEventRamp:    ramp(),
		models.PhaseRecoveryRamp: ramp(),
	}
}

// For returns the gains, threshold and boost margin of a group in a phase
func (t Tuning) For(phase models.Phase, groupID string) (Gains, float64, float64, error) {
	pt, ok := t[phase]
	if !ok {
		return Gains{}, 0, 0, fmt.Errorf("no tuning for phase %s", phase)
	}
	g, ok := pt.Gains[groupID]
	if !ok {
		return Gains{}, 0, 0, fmt.Errorf("no gains for group %s in phase %s", groupID, phase)
	}
	return g, pt.Threshold, pt.Boost[groupID], nil
}

// Validate checks that every actuated group has gains in every active phase
func (t Tuning) Validate(groups []models.TankGroup) error {
	for _, phase := range []models.Phase{models.PhaseBaseline, models.PhaseEventRamp, models.PhaseRecoveryRamp} {
		for _, g := range groups {
			if !g.Actuated() {
				continue
			}
			if _, _, _, err := t.For(phase, g.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
