package models

import (
	"fmt"
	"strings"
	"time"
)

// Phase is the stage of the experiment that decides how targets are derived
type Phase int

const (
	PhaseBaseline Phase = iota
	PhaseEventRamp
	PhaseRecoveryRamp
	PhaseFinished
)

// String returns the phase name used in logs, records and config keys
func (p Phase) String() string {
	switch p {
	case PhaseBaseline:
		return "baseline"
	case PhaseEventRamp:
		return "event_ramp"
	case PhaseRecoveryRamp:
		return "recovery_ramp"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ParsePhase converts a phase name back into a Phase
func ParsePhase(name string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "baseline":
		return PhaseBaseline, nil
	case "event_ramp", "event", "ramp_up":
		return PhaseEventRamp, nil
	case "recovery_ramp", "recovery", "ramp_down":
		return PhaseRecoveryRamp, nil
	case "finished":
		return PhaseFinished, nil
	}
	return PhaseBaseline, fmt.Errorf("unknown phase %q", name)
}

// TankGroup is a set of sensor channels controlled together by one heater
type TankGroup struct {
	ID       string   `yaml:"id" json:"id"`
	Channels []string `yaml:"channels" json:"channels"`

	// Actuator is empty for monitor-only groups such as a sump
	Actuator string `yaml:"actuator" json:"actuator,omitempty"`

	// ProfileColumn selects the profile column used as this group's baseline
	ProfileColumn string `yaml:"profile_column" json:"profile_column,omitempty"`

	// RampThreshold is the maximum offset above baseline during the event
	RampThreshold float64 `yaml:"ramp_threshold" json:"ramp_threshold"`

	// Feedback names the group whose mean drives the PID (defaults to this group)
	Feedback string `yaml:"feedback" json:"feedback,omitempty"`
}

// Actuated reports whether the group drives a heater
func (g TankGroup) Actuated() bool {
	return g.Actuator != ""
}

// FeedbackGroup returns the group id whose mean feeds the PID
func (g TankGroup) FeedbackGroup() string {
	if g.Feedback == "" {
		return g.ID
	}
	return g.Feedback
}

// Sample is one calibrated read of one channel
type Sample struct {
	ChannelID string    `json:"channel_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// TargetSet maps group id to target temperature
type TargetSet map[string]float64

// AveragedReading is the outcome of one averaging cycle
type AveragedReading struct {
	Timestamp     time.Time
	ChannelMeans  map[string]float64
	ChannelSpread map[string]float64
	GroupMeans    map[string]float64
	Faults        []*SensorFault
	FailedGroups  map[string]*GroupReadFailure
}

// NewAveragedReading creates an empty reading
func NewAveragedReading(ts time.Time) *AveragedReading {
	return &AveragedReading{
		Timestamp:     ts,
		ChannelMeans:  make(map[string]float64),
		ChannelSpread: make(map[string]float64),
		GroupMeans:    make(map[string]float64),
		FailedGroups:  make(map[string]*GroupReadFailure),
	}
}

// ChannelMean returns the mean of a channel; ok is false when every read faulted
func (r *AveragedReading) ChannelMean(channelID string) (float64, bool) {
	v, ok := r.ChannelMeans[channelID]
	return v, ok
}

// GroupMean returns the mean of a group or a *GroupReadFailure
func (r *AveragedReading) GroupMean(groupID string) (float64, error) {
	if failure, ok := r.FailedGroups[groupID]; ok {
		return 0, failure
	}
	v, ok := r.GroupMeans[groupID]
	if !ok {
		return 0, &GroupReadFailure{GroupID: groupID}
	}
	return v, nil
}

// Healthy reports whether the cycle completed without any fault
func (r *AveragedReading) Healthy() bool {
	return len(r.Faults) == 0 && len(r.FailedGroups) == 0
}
