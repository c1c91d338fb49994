package models

import "time"

// Heater status labels written to records
const (
	StatusOn      = "on"
	StatusOff     = "off"
	StatusHoldOn  = "hold_on"
	StatusHoldOff = "hold_off"
)

// RecordLayout fixes the column order of every tick record for a run
type RecordLayout struct {
	Groups   []string // actuated groups, config order
	Channels []string // every channel, config order
}

// NewRecordLayout derives the column order from the configured groups
func NewRecordLayout(groups []TankGroup) RecordLayout {
	layout := RecordLayout{}
	seen := make(map[string]bool)
	for _, g := range groups {
		if g.Actuated() {
			layout.Groups = append(layout.Groups, g.ID)
		}
		for _, ch := range g.Channels {
			if !seen[ch] {
				seen[ch] = true
				layout.Channels = append(layout.Channels, ch)
			}
		}
	}
	return layout
}

// TickRecord is the persisted outcome of one control tick.
// Faulted channels are absent from ChannelTemps and listed in Faulted.
type TickRecord struct {
	RunID        string             `json:"run_id"`
	Timestamp    time.Time          `json:"timestamp"`
	Phase        string             `json:"phase"`
	Targets      map[string]float64 `json:"targets"`
	Statuses     map[string]string  `json:"statuses"`
	Outputs      map[string]float64 `json:"pid_outputs"`
	GroupTemps   map[string]float64 `json:"group_temps"`
	ChannelTemps map[string]float64 `json:"channel_temps"`
	Faulted      []string           `json:"faulted_channels,omitempty"`
}

// NewTickRecord creates an empty record for a tick
func NewTickRecord(runID string, ts time.Time, phase Phase) *TickRecord {
	return &TickRecord{
		RunID:        runID,
		Timestamp:    ts,
		Phase:        phase.String(),
		Targets:      make(map[string]float64),
		Statuses:     make(map[string]string),
		Outputs:      make(map[string]float64),
		GroupTemps:   make(map[string]float64),
		ChannelTemps: make(map[string]float64),
	}
}
