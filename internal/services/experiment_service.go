package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"mhw-backend/internal/actuator"
	"mhw-backend/internal/alert"
	"mhw-backend/internal/control"
	"mhw-backend/internal/models"
	"mhw-backend/internal/schedule"
	"mhw-backend/internal/storage"
)

// ErrGroupFailed is returned by Run when a group stayed unreadable for too many ticks
var ErrGroupFailed = errors.New("group unreadable for too many consecutive ticks")

// Sampler produces one averaged reading per tick
type Sampler interface {
	Sample(ctx context.Context, groups []models.TankGroup) (*models.AveragedReading, error)
}

// ExperimentConfig holds the control loop configuration
type ExperimentConfig struct {
	RunID    string
	Groups   []models.TankGroup
	Calendar Calendar
	Rates    schedule.Rates
	Tuning   control.Tuning

	TickInterval     time.Duration // tick spacing, aligned to the minute
	PollInterval     time.Duration // stop-check granularity while waiting
	AlertWindow      time.Duration // at most one alert per window
	AlertTimeout     time.Duration // delivery budget per alert, kept below half a tick
	MaxGroupFailures int           // consecutive failing ticks before abort, 0 = never
}

// DefaultExperimentConfig returns the timing defaults
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		Rates:        schedule.DefaultRates(),
		Tuning:       control.DefaultTuning(),
		TickInterval: 30 * time.Second,
		PollInterval: 100 * time.Millisecond,
		AlertWindow:  5 * time.Minute,
		AlertTimeout: 10 * time.Second,
	}
}

// ExperimentDeps are the collaborators of the control loop
type ExperimentDeps struct {
	Profile  *schedule.Profile
	Sampler  Sampler
	Actuator actuator.Actuator
	Notifier alert.Notifier
	Sink     storage.Sink
	Clock    Clock
}

// Status is a point-in-time view of the controller for the status API
type Status struct {
	RunID     string              `json:"run_id"`
	StartedAt time.Time           `json:"started_at"`
	Phase     string              `json:"phase"`
	Ticks     int64               `json:"ticks"`
	Heaters   map[string]bool     `json:"heaters"`
	LastTick  *models.TickRecord  `json:"last_tick,omitempty"`
	Layout    models.RecordLayout `json:"layout"`
}

// ExperimentService runs the phase-aware control loop.
// Controller and actuator state are owned by the goroutine calling Run/Tick.
type ExperimentService struct {
	config ExperimentConfig
	deps   ExperimentDeps
	layout models.RecordLayout

	actuated []models.TankGroup
	pid      map[string]control.State
	heaters  map[string]control.ActuatorState
	failures map[string]int
	gate     alertGate

	mu        sync.RWMutex
	startedAt time.Time
	ticks     int64
	last      *models.TickRecord
	heaterMap map[string]bool
}

// NewExperimentService validates the configuration and creates the service
func NewExperimentService(config ExperimentConfig, deps ExperimentDeps) (*ExperimentService, error) {
	if deps.Profile == nil || deps.Sampler == nil || deps.Actuator == nil {
		return nil, fmt.Errorf("profile, sampler and actuator are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = alert.LogNotifier{}
	}
	if deps.Sink == nil {
		deps.Sink = storage.Multi{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}

	if err := validateExperiment(config, deps.Profile); err != nil {
		return nil, err
	}

	s := &ExperimentService{
		config:    config,
		deps:      deps,
		layout:    models.NewRecordLayout(config.Groups),
		pid:       make(map[string]control.State),
		heaters:   make(map[string]control.ActuatorState),
		failures:  make(map[string]int),
		gate:      alertGate{window: config.AlertWindow},
		heaterMap: make(map[string]bool),
	}
	for _, g := range config.Groups {
		if g.Actuated() {
			s.actuated = append(s.actuated, g)
			s.pid[g.ID] = control.NewState()
			s.heaters[g.ID] = control.ActuatorState{}
			s.heaterMap[g.ID] = false
		}
	}

	return s, nil
}

// validateExperiment rejects configurations that must not reach the control loop
func validateExperiment(config ExperimentConfig, profile *schedule.Profile) error {
	if len(config.Groups) == 0 {
		return fmt.Errorf("at least one tank group is required")
	}
	if !validInterval(config.TickInterval) {
		return fmt.Errorf("tick interval %s must divide a minute or be a whole number of minutes", config.TickInterval)
	}
	if err := config.Calendar.Validate(); err != nil {
		return fmt.Errorf("invalid calendar: %w", err)
	}
	if config.Rates.Onset <= 0 || config.Rates.Decline <= 0 {
		return fmt.Errorf("ramp rates must be positive")
	}

	ids := make(map[string]bool, len(config.Groups))
	actuators := make(map[string]string)
	actuated := 0
	for _, g := range config.Groups {
		if g.ID == "" {
			return fmt.Errorf("tank group without id")
		}
		if ids[g.ID] {
			return fmt.Errorf("tank group %s defined twice", g.ID)
		}
		ids[g.ID] = true
		if len(g.Channels) == 0 {
			return fmt.Errorf("tank group %s has no channels", g.ID)
		}
		if g.RampThreshold < 0 {
			return fmt.Errorf("tank group %s: negative ramp threshold", g.ID)
		}
		if g.Actuated() {
			actuated++
			if other, dup := actuators[g.Actuator]; dup {
				return fmt.Errorf("actuator %s shared by groups %s and %s", g.Actuator, other, g.ID)
			}
			actuators[g.Actuator] = g.ID

			column := g.ProfileColumn
			if column == "" {
				column = schedule.DefaultColumn
			}
			if !profile.HasColumn(column) {
				return &models.ProfileLookupFailure{Source: "profile", Reason: fmt.Sprintf("group %s needs column %q", g.ID, column)}
			}
		}
	}
	if actuated == 0 {
		return fmt.Errorf("no tank group has an actuator")
	}

	for _, g := range config.Groups {
		if g.Feedback != "" && !ids[g.Feedback] {
			return fmt.Errorf("tank group %s: unknown feedback group %s", g.ID, g.Feedback)
		}
	}

	return config.Tuning.Validate(config.Groups)
}

// Layout returns the record column order of the run
func (s *ExperimentService) Layout() models.RecordLayout {
	return s.layout
}

// Run ticks on wall-clock boundaries until ctx is cancelled or the experiment finishes.
// Heaters are switched off on entry and on exit.
func (s *ExperimentService) Run(ctx context.Context) error {
	clock := s.deps.Clock

	s.mu.Lock()
	s.startedAt = clock.Now()
	s.mu.Unlock()

	log.Printf("ExperimentService: Starting run %s, tick every %v", s.config.RunID, s.config.TickInterval)
	s.allOff(ctx)
	defer s.shutdown()

	next := nextBoundary(clock.Now(), s.config.TickInterval)
	for {
		if err := s.waitUntil(ctx, next); err != nil {
			log.Println("ExperimentService: Stop requested, shutting down...")
			return nil
		}

		if phase, _ := s.config.Calendar.Resolve(next); phase == models.PhaseFinished {
			log.Printf("ExperimentService: Experiment finished at %s", next.Format(time.DateTime))
			return nil
		}

		if _, err := s.Tick(ctx, next); err != nil {
			if ctx.Err() != nil {
				log.Println("ExperimentService: Stop requested during tick, shutting down...")
				return nil
			}
			return err
		}

		next = next.Add(s.config.TickInterval)
		if now := clock.Now(); next.Before(now) {
			log.Printf("ExperimentService: Tick overran, skipping to next boundary")
			next = nextBoundary(now, s.config.TickInterval)
		}
	}
}

// waitUntil sleeps in poll increments until t, returning early if ctx ends
func (s *ExperimentService) waitUntil(ctx context.Context, t time.Time) error {
	clock := s.deps.Clock
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		remaining := t.Sub(clock.Now())
		if remaining <= 0 {
			return nil
		}
		if remaining > s.config.PollInterval {
			remaining = s.config.PollInterval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(remaining):
		}
	}
}

// Tick runs one control iteration at now and returns the emitted record
func (s *ExperimentService) Tick(ctx context.Context, now time.Time) (*models.TickRecord, error) {
	phase, elapsed := s.config.Calendar.Resolve(now)
	if phase == models.PhaseFinished {
		return nil, fmt.Errorf("experiment finished at %s", s.config.Calendar.EndAt.Format(time.DateTime))
	}

	// Targets: baseline from the profile plus the phase offset
	baselines, err := s.deps.Profile.Baselines(now, s.actuated)
	if err != nil {
		return nil, err
	}
	targets := make(models.TargetSet, len(s.actuated))
	for _, g := range s.actuated {
		targets[g.ID] = baselines[g.ID] + schedule.Offset(phase, elapsed, g.RampThreshold, s.config.Rates)
	}

	// Sensors
	reading, err := s.deps.Sampler.Sample(ctx, s.config.Groups)
	if err != nil {
		return nil, fmt.Errorf("failed to sample sensors: %w", err)
	}

	rec := s.newRecord(now, phase, reading)

	var problems []string
	for _, f := range reading.Faults {
		problems = append(problems, f.Error())
	}

	// Control each heated group
	for _, g := range s.actuated {
		target := targets[g.ID]
		rec.Targets[g.ID] = target

		res := s.controlGroup(ctx, phase, g, target, reading)
		if res.err != nil {
			problems = append(problems, res.err.Error())
		}
		if res.unreadable {
			s.failures[g.ID]++
		} else {
			s.failures[g.ID] = 0
			rec.Outputs[g.ID] = res.output
		}
		rec.Statuses[g.ID] = res.decision.Label
	}

	if len(problems) > 0 {
		s.alert(ctx, now, phase, problems)
	}

	if err := s.deps.Sink.Append(ctx, rec); err != nil {
		log.Printf("ExperimentService: Error saving tick record: %v", err)
	}

	s.publish(rec)
	log.Printf("ExperimentService: %s %s targets=%s heaters=%s",
		now.Format(time.DateTime), phase, formatFloats(rec.Targets), formatLabels(rec.Statuses))

	if limit := s.config.MaxGroupFailures; limit > 0 {
		for _, g := range s.actuated {
			if s.failures[g.ID] >= limit {
				return rec, fmt.Errorf("%w: %s failed %d ticks", ErrGroupFailed, g.ID, s.failures[g.ID])
			}
		}
	}

	return rec, nil
}

// groupResult is the outcome of controlling one group for one tick
type groupResult struct {
	decision   control.Decision
	output     float64
	unreadable bool
	err        error
}

// controlGroup runs PID and decision for one group and commands the heater on a transition
func (s *ExperimentService) controlGroup(ctx context.Context, phase models.Phase, g models.TankGroup, target float64, reading *models.AveragedReading) groupResult {
	current := s.heaters[g.ID]

	measured, err := reading.GroupMean(g.ID)
	if err == nil && !finite(measured) {
		err = &models.GroupReadFailure{GroupID: g.ID, Channels: append([]string(nil), g.Channels...)}
	}
	if err != nil {
		return groupResult{decision: control.Hold(current), unreadable: true, err: err}
	}

	// PID runs on the feedback group when one is configured
	feedback := measured
	if g.FeedbackGroup() != g.ID {
		if v, ferr := reading.GroupMean(g.FeedbackGroup()); ferr == nil && finite(v) {
			feedback = v
		} else {
			log.Printf("ExperimentService: feedback group %s unreadable, using %s", g.FeedbackGroup(), g.ID)
		}
	}

	gains, threshold, boost, err := s.config.Tuning.For(phase, g.ID)
	if err != nil {
		return groupResult{decision: control.Hold(current), err: err}
	}

	output, next := control.Update(target, feedback, s.pid[g.ID], gains)
	s.pid[g.ID] = next

	decision := control.DecideWithBoost(current, output, measured, feedback, target, threshold, boost)
	if !decision.Changed {
		return groupResult{decision: decision, output: output}
	}

	if err := s.deps.Actuator.Set(ctx, g.Actuator, decision.On); err != nil {
		// state stays as it was so the command is retried next tick
		return groupResult{decision: control.Hold(current), output: output, err: fmt.Errorf("heater %s: %w", g.Actuator, err)}
	}

	s.heaters[g.ID] = control.ActuatorState{On: decision.On}
	log.Printf("ExperimentService: %s heater %s (%s, measured %.3f, target %.3f, pid %.3f)",
		g.ID, decision.Label, decision.Reason, measured, target, output)
	return groupResult{decision: decision, output: output}
}

// newRecord starts a record with the sensor side of the tick filled in
func (s *ExperimentService) newRecord(now time.Time, phase models.Phase, reading *models.AveragedReading) *models.TickRecord {
	rec := models.NewTickRecord(s.config.RunID, now, phase)
	for _, ch := range s.layout.Channels {
		if v, ok := reading.ChannelMean(ch); ok {
			rec.ChannelTemps[ch] = v
		} else {
			rec.Faulted = append(rec.Faulted, ch)
		}
	}
	for _, g := range s.config.Groups {
		if v, err := reading.GroupMean(g.ID); err == nil {
			rec.GroupTemps[g.ID] = v
		}
	}
	return rec
}

// alert sends the tick's problems unless an alert went out within the window
func (s *ExperimentService) alert(ctx context.Context, now time.Time, phase models.Phase, problems []string) {
	if !s.gate.Allow(now) {
		log.Printf("ExperimentService: %d problem(s) this tick, alert suppressed", len(problems))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.alertTimeout())
	defer cancel()

	subject := fmt.Sprintf("MHW controller %s: %d problem(s)", s.config.RunID, len(problems))
	body := fmt.Sprintf("Time: %s\nPhase: %s\n\n%s\n", now.Format(time.DateTime), phase, strings.Join(problems, "\n"))
	if err := s.deps.Notifier.Notify(ctx, subject, body); err != nil {
		log.Printf("ExperimentService: Error sending alert: %v", err)
	}
}

// alertTimeout bounds alert delivery so a slow mail server cannot overrun the tick
func (s *ExperimentService) alertTimeout() time.Duration {
	limit := s.config.TickInterval / 2
	if t := s.config.AlertTimeout; t > 0 && t < limit {
		return t
	}
	return limit
}

// allOff switches every heater off and resets the believed state
func (s *ExperimentService) allOff(ctx context.Context) {
	for _, g := range s.actuated {
		if err := s.deps.Actuator.Set(ctx, g.Actuator, false); err != nil {
			log.Printf("ExperimentService: Error switching %s off: %v", g.Actuator, err)
		}
		s.heaters[g.ID] = control.ActuatorState{}
	}

	s.mu.Lock()
	for id := range s.heaterMap {
		s.heaterMap[id] = false
	}
	s.mu.Unlock()
}

// shutdown switches heaters off with a fresh context since the run context is done
func (s *ExperimentService) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.allOff(ctx)
	log.Println("ExperimentService: All heaters off")
}

// publish stores the latest record for Status
func (s *ExperimentService) publish(rec *models.TickRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	s.last = rec
	for id, st := range s.heaters {
		s.heaterMap[id] = st.On
	}
}

// Status returns a snapshot safe to read from other goroutines
func (s *ExperimentService) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	heaters := make(map[string]bool, len(s.heaterMap))
	for id, on := range s.heaterMap {
		heaters[id] = on
	}

	phase, _ := s.config.Calendar.Resolve(s.deps.Clock.Now())
	return Status{
		RunID:     s.config.RunID,
		StartedAt: s.startedAt,
		Phase:     phase.String(),
		Ticks:     s.ticks,
		Heaters:   heaters,
		LastTick:  s.last,
		Layout:    s.layout,
	}
}

// finite guards the PID state against NaN and infinite temperatures
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func formatFloats(values map[string]float64) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%.3f", k, values[k]))
	}
	return strings.Join(parts, ",")
}

func formatLabels(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+values[k])
	}
	return strings.Join(parts, ",")
}
