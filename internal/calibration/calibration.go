package calibration

import (
	"math"
	"sync"

	"mhw-backend/internal/models"
)

// Default reference points: ice bath and boiling water at sea level
const (
	DefaultRefLow  = 0.0
	DefaultRefHigh = 99.9
)

// Channel holds the two-point calibration of one sensor
type Channel struct {
	ID      string  `yaml:"id" json:"id"`
	RefLow  float64 `yaml:"ref_low" json:"ref_low"`
	RefHigh float64 `yaml:"ref_high" json:"ref_high"`
	RawLow  float64 `yaml:"raw_low" json:"raw_low"`
	RawHigh float64 `yaml:"raw_high" json:"raw_high"`
}

// Validate rejects calibrations that cannot be applied
func (c Channel) Validate() error {
	if c.ID == "" {
		return &models.CalibrationError{ChannelID: "<empty>", Reason: "channel id is required"}
	}
	for _, v := range []float64{c.RefLow, c.RefHigh, c.RawLow, c.RawHigh} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &models.CalibrationError{ChannelID: c.ID, Reason: "calibration points must be finite"}
		}
	}
	if c.RawHigh == c.RawLow {
		return &models.CalibrationError{ChannelID: c.ID, Reason: "raw_high equals raw_low"}
	}
	return nil
}

// Apply maps a raw reading onto the reference scale.
// The raw calibration points map exactly onto the reference points.
func (c Channel) Apply(raw float64) float64 {
	switch raw {
	case c.RawLow:
		return c.RefLow
	case c.RawHigh:
		return c.RefHigh
	}
	return ((raw-c.RawLow)*(c.RefHigh-c.RefLow))/(c.RawHigh-c.RawLow) + c.RefLow
}

// Table is the registry of calibrated channels
type Table struct {
	mu       sync.RWMutex
	channels map[string]Channel
	order    []string
}

// NewTable creates an empty calibration table
func NewTable() *Table {
	return &Table{channels: make(map[string]Channel)}
}

// Register validates and adds a channel; channels are immutable once registered
func (t *Table) Register(ch Channel) error {
	if err := ch.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.channels[ch.ID]; exists {
		return &models.CalibrationError{ChannelID: ch.ID, Reason: "channel registered twice"}
	}
	t.channels[ch.ID] = ch
	t.order = append(t.order, ch.ID)
	return nil
}

// Calibrate converts a raw reading of the given channel
func (t *Table) Calibrate(channelID string, raw float64) (float64, error) {
	t.mu.RLock()
	ch, ok := t.channels[channelID]
	t.mu.RUnlock()

	if !ok {
		return 0, &models.CalibrationError{ChannelID: channelID, Reason: "channel not registered"}
	}
	return ch.Apply(raw), nil
}

// Channel returns the registered calibration of a channel
func (t *Table) Channel(channelID string) (Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ch, ok := t.channels[channelID]
	return ch, ok
}

// IDs returns channel ids in registration order
func (t *Table) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.order...)
}
