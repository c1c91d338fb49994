package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mhw-backend/internal/calibration"
	"mhw-backend/internal/control"
	"mhw-backend/internal/models"
	"mhw-backend/internal/schedule"
)

// Experiment is the validated layout of one experiment
type Experiment struct {
	MHWStart      time.Time
	RecoveryStart time.Time
	EndAt         time.Time

	Rates          schedule.Rates
	ProfileColumns []string
	Channels       []calibration.Channel
	Groups         []models.TankGroup
	HeaterPins     map[string]int
	Tuning         control.Tuning
}

// experimentFile mirrors the YAML document
type experimentFile struct {
	MHWStart          string                         `yaml:"mhw_start"`
	RecoveryStart     string                         `yaml:"recovery_start"`
	EndAt             string                         `yaml:"end_at"`
	OnsetRatePerDay   *float64                       `yaml:"onset_rate_per_day"`
	DeclineRatePerDay *float64                       `yaml:"decline_rate_per_day"`
	ProfileColumns    []string                       `yaml:"profile_columns"`
	Channels          []channelFile                  `yaml:"channels"`
	Groups            []models.TankGroup             `yaml:"groups"`
	HeaterPins        map[string]int                 `yaml:"heater_pins"`
	Tuning            map[string]control.PhaseTuning `yaml:"tuning"`
}

type channelFile struct {
	ID      string   `yaml:"id"`
	RefLow  *float64 `yaml:"ref_low"`
	RefHigh *float64 `yaml:"ref_high"`
	RawLow  float64  `yaml:"raw_low"`
	RawHigh float64  `yaml:"raw_high"`
}

// LoadExperiment reads and validates the experiment file
func LoadExperiment(path string, loc *time.Location) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment file: %w", err)
	}
	return ParseExperiment(data, loc)
}

// ParseExperiment decodes and validates an experiment document.
// Timestamps without a zone are taken in loc.
func ParseExperiment(data []byte, loc *time.Location) (*Experiment, error) {
	if loc == nil {
		loc = time.Local
	}

	var file experimentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse experiment file: %w", err)
	}

	exp := &Experiment{
		Rates:          schedule.DefaultRates(),
		ProfileColumns: file.ProfileColumns,
		Groups:         file.Groups,
		HeaterPins:     file.HeaterPins,
		Tuning:         control.DefaultTuning(),
	}

	var err error
	if exp.MHWStart, err = parseTime("mhw_start", file.MHWStart, loc, true); err != nil {
		return nil, err
	}
	if exp.RecoveryStart, err = parseTime("recovery_start", file.RecoveryStart, loc, true); err != nil {
		return nil, err
	}
	if exp.EndAt, err = parseTime("end_at", file.EndAt, loc, false); err != nil {
		return nil, err
	}

	if file.OnsetRatePerDay != nil || file.DeclineRatePerDay != nil {
		onset, decline := 0.51, 0.96
		if file.OnsetRatePerDay != nil {
			onset = *file.OnsetRatePerDay
		}
		if file.DeclineRatePerDay != nil {
			decline = *file.DeclineRatePerDay
		}
		exp.Rates = schedule.RatesPerDay(onset, decline)
	}

	// Calibration errors are fatal here, before the loop starts
	declared := make(map[string]bool, len(file.Channels))
	for _, cf := range file.Channels {
		ch := calibration.Channel{
			ID:      cf.ID,
			RefLow:  calibration.DefaultRefLow,
			RefHigh: calibration.DefaultRefHigh,
			RawLow:  cf.RawLow,
			RawHigh: cf.RawHigh,
		}
		if cf.RefLow != nil {
			ch.RefLow = *cf.RefLow
		}
		if cf.RefHigh != nil {
			ch.RefHigh = *cf.RefHigh
		}
		if err := ch.Validate(); err != nil {
			return nil, err
		}
		declared[ch.ID] = true
		exp.Channels = append(exp.Channels, ch)
	}

	for _, g := range exp.Groups {
		for _, id := range g.Channels {
			if !declared[id] {
				return nil, fmt.Errorf("group %s uses channel %s which has no calibration", g.ID, id)
			}
		}
	}

	if len(exp.HeaterPins) > 0 {
		if err := exp.CheckHeaterPins(); err != nil {
			return nil, err
		}
	}

	if len(file.Tuning) > 0 {
		tuning := make(control.Tuning, len(file.Tuning))
		for name, pt := range file.Tuning {
			phase, err := models.ParsePhase(name)
			if err != nil {
				return nil, fmt.Errorf("tuning: %w", err)
			}
			tuning[phase] = pt
		}
		exp.Tuning = tuning
	}

	return exp, nil
}

// CheckHeaterPins verifies every heated group has its own relay pin
func (e *Experiment) CheckHeaterPins() error {
	for _, g := range e.Groups {
		if !g.Actuated() {
			continue
		}
		if _, ok := e.HeaterPins[g.Actuator]; !ok {
			return fmt.Errorf("group %s: actuator %s has no heater pin", g.ID, g.Actuator)
		}
	}

	owners := make(map[int]string, len(e.HeaterPins))
	for id, pin := range e.HeaterPins {
		if other, dup := owners[pin]; dup {
			return fmt.Errorf("heater pin %d assigned to both %s and %s", pin, other, id)
		}
		owners[pin] = id
	}
	return nil
}

// Registry builds the calibration table of the experiment
func (e *Experiment) Registry() (*calibration.Table, error) {
	table := calibration.NewTable()
	for _, ch := range e.Channels {
		if err := table.Register(ch); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func parseTime(field, value string, loc *time.Location, required bool) (time.Time, error) {
	if value == "" {
		if required {
			return time.Time{}, fmt.Errorf("%s is required", field)
		}
		return time.Time{}, nil
	}
	t, err := schedule.ParseTimestamp(value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t, nil
}
