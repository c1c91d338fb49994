package services

import (
	"fmt"
	"time"

	"mhw-backend/internal/models"
)

// Calendar holds the wall-clock phase boundaries of an experiment
type Calendar struct {
	MHWStart      time.Time
	RecoveryStart time.Time
	EndAt         time.Time // zero runs until stopped
}

// Validate checks that the boundaries are ordered
func (c Calendar) Validate() error {
	if c.MHWStart.IsZero() || c.RecoveryStart.IsZero() {
		return fmt.Errorf("mhw start and recovery start are required")
	}
	if !c.RecoveryStart.After(c.MHWStart) {
		return fmt.Errorf("recovery start %s must be after mhw start %s",
			c.RecoveryStart.Format(time.DateTime), c.MHWStart.Format(time.DateTime))
	}
	if !c.EndAt.IsZero() && !c.EndAt.After(c.RecoveryStart) {
		return fmt.Errorf("end %s must be after recovery start %s",
			c.EndAt.Format(time.DateTime), c.RecoveryStart.Format(time.DateTime))
	}
	return nil
}

// Resolve returns the phase at now and the time elapsed since that phase began.
// Elapsed is measured from the calendar boundary, so a restart resumes the ramp.
func (c Calendar) Resolve(now time.Time) (models.Phase, time.Duration) {
	switch {
	case !c.EndAt.IsZero() && !now.Before(c.EndAt):
		return models.PhaseFinished, now.Sub(c.EndAt)
	case !now.Before(c.RecoveryStart):
		return models.PhaseRecoveryRamp, now.Sub(c.RecoveryStart)
	case !now.Before(c.MHWStart):
		return models.PhaseEventRamp, now.Sub(c.MHWStart)
	default:
		return models.PhaseBaseline, 0
	}
}
