package models

import (
	"fmt"
	"strings"
)

// SensorFault is a channel read that failed or returned invalid data
type SensorFault struct {
	ChannelID string
	Attempts  int
	Err       error
}

func (e *SensorFault) Error() string {
	return fmt.Sprintf("sensor %s: read failed after %d attempt(s): %v", e.ChannelID, e.Attempts, e.Err)
}

func (e *SensorFault) Unwrap() error {
	return e.Err
}

// CalibrationError is a channel calibration that cannot be applied
type CalibrationError struct {
	ChannelID string
	Reason    string
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration for %s: %s", e.ChannelID, e.Reason)
}

// GroupReadFailure means no channel of a group produced a usable reading
type GroupReadFailure struct {
	GroupID  string
	Channels []string
}

func (e *GroupReadFailure) Error() string {
	if len(e.Channels) == 0 {
		return fmt.Sprintf("group %s: no readable channels", e.GroupID)
	}
	return fmt.Sprintf("group %s: all channels faulted (%s)", e.GroupID, strings.Join(e.Channels, ", "))
}

// ProfileLookupFailure means the target profile cannot produce a baseline
type ProfileLookupFailure struct {
	Source string
	Reason string
	Err    error
}

func (e *ProfileLookupFailure) Error() string {
	msg := fmt.Sprintf("profile %s: %s", e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProfileLookupFailure) Unwrap() error {
	return e.Err
}
