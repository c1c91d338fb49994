package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mhw-backend/internal/control"
	"mhw-backend/internal/models"
	"mhw-backend/internal/schedule"
)

// --- fakes ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type command struct {
	id string
	on bool
}

type fakeActuator struct {
	commands []command
	err      error
}

func (a *fakeActuator) Set(ctx context.Context, id string, on bool) error {
	a.commands = append(a.commands, command{id: id, on: on})
	return a.err
}

type fakeNotifier struct {
	subjects []string
}

func (n *fakeNotifier) Notify(ctx context.Context, subject, body string) error {
	n.subjects = append(n.subjects, subject)
	return nil
}

type fakeSink struct {
	records  []*models.TickRecord
	onAppend func(n int)
}

func (s *fakeSink) Append(ctx context.Context, rec *models.TickRecord) error {
	s.records = append(s.records, rec)
	if s.onAppend != nil {
		s.onAppend(len(s.records))
	}
	return nil
}

func (s *fakeSink) Close() error { return nil }

type samplerFunc func(ctx context.Context, groups []models.TankGroup) (*models.AveragedReading, error)

func (f samplerFunc) Sample(ctx context.Context, groups []models.TankGroup) (*models.AveragedReading, error) {
	return f(ctx, groups)
}

// readingOf builds a reading where each group has one channel named "<group>-1"
func readingOf(means map[string]float64, failed ...string) *models.AveragedReading {
	r := models.NewAveragedReading(time.Time{})
	for id, v := range means {
		r.ChannelMeans[id+"-1"] = v
		r.GroupMeans[id] = v
	}
	for _, id := range failed {
		r.FailedGroups[id] = &models.GroupReadFailure{GroupID: id, Channels: []string{id + "-1"}}
		r.Faults = append(r.Faults, &models.SensorFault{ChannelID: id + "-1", Attempts: 3, Err: errors.New("no response")})
	}
	return r
}

func constantSampler(means map[string]float64, failed ...string) Sampler {
	return samplerFunc(func(ctx context.Context, groups []models.TankGroup) (*models.AveragedReading, error) {
		return readingOf(means, failed...), nil
	})
}

// --- fixtures ---

var (
	mhwStart      = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	recoveryStart = time.Date(2024, 7, 21, 0, 0, 0, 0, time.UTC)
)

func testGroups() []models.TankGroup {
	return []models.TankGroup{
		{ID: "chill", Channels: []string{"chill-1"}, Actuator: "heater-26", RampThreshold: 0},
		{ID: "severe", Channels: []string{"severe-1"}, Actuator: "heater-20", RampThreshold: 4},
		{ID: "extreme", Channels: []string{"extreme-1"}, Actuator: "heater-21", RampThreshold: 8},
	}
}

func testProfile(t *testing.T, baseline float64) *schedule.Profile {
	t.Helper()
	p, err := schedule.NewProfile("test", schedule.DefaultColumns, []schedule.Entry{
		{Timestamp: mhwStart.Add(-30 * 24 * time.Hour), Values: map[string]float64{"chill": baseline, "severe": baseline, "extreme": baseline}},
	})
	require.NoError(t, err)
	return p
}

type harness struct {
	svc      *ExperimentService
	clock    *fakeClock
	actuator *fakeActuator
	notifier *fakeNotifier
	sink     *fakeSink
}

func newHarness(t *testing.T, cfg ExperimentConfig, sampler Sampler, start time.Time) *harness {
	t.Helper()
	h := &harness{
		clock:    &fakeClock{now: start},
		actuator: &fakeActuator{},
		notifier: &fakeNotifier{},
		sink:     &fakeSink{},
	}
	svc, err := NewExperimentService(cfg, ExperimentDeps{
		Profile:  testProfile(t, 20),
		Sampler:  sampler,
		Actuator: h.actuator,
		Notifier: h.notifier,
		Sink:     h.sink,
		Clock:    h.clock,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func testConfig() ExperimentConfig {
	cfg := DefaultExperimentConfig()
	cfg.RunID = "run-test"
	cfg.Groups = testGroups()
	cfg.Calendar = Calendar{MHWStart: mhwStart, RecoveryStart: recoveryStart}
	return cfg
}

// --- tests ---

func TestCalendarResolve(t *testing.T) {
	end := recoveryStart.Add(10 * 24 * time.Hour)
	c := Calendar{MHWStart: mhwStart, RecoveryStart: recoveryStart, EndAt: end}
	require.NoError(t, c.Validate())

	tests := []struct {
		now         time.Time
		wantPhase   models.Phase
		wantElapsed time.Duration
	}{
		{now: mhwStart.Add(-time.Hour), wantPhase: models.PhaseBaseline},
		{now: mhwStart, wantPhase: models.PhaseEventRamp},
		{now: mhwStart.Add(36 * time.Hour), wantPhase: models.PhaseEventRamp, wantElapsed: 36 * time.Hour},
		{now: recoveryStart.Add(time.Minute), wantPhase: models.PhaseRecoveryRamp, wantElapsed: time.Minute},
		{now: end, wantPhase: models.PhaseFinished},
	}
	for _, tt := range tests {
		phase, elapsed := c.Resolve(tt.now)
		assert.Equal(t, tt.wantPhase, phase, tt.now.String())
		assert.Equal(t, tt.wantElapsed, elapsed, tt.now.String())
	}

	assert.Error(t, Calendar{MHWStart: recoveryStart, RecoveryStart: mhwStart}.Validate())
	assert.Error(t, Calendar{MHWStart: mhwStart, RecoveryStart: recoveryStart, EndAt: mhwStart}.Validate())
}

func TestNextBoundary(t *testing.T) {
	base := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, base, nextBoundary(base, 30*time.Second))
	assert.Equal(t, base.Add(30*time.Second), nextBoundary(base.Add(time.Second), 30*time.Second))
	assert.Equal(t, base.Add(time.Minute), nextBoundary(base.Add(31*time.Second), 30*time.Second))

	assert.True(t, validInterval(30*time.Second))
	assert.True(t, validInterval(2*time.Minute))
	assert.False(t, validInterval(7*time.Second))
	assert.False(t, validInterval(0))
}

func TestAlertGate(t *testing.T) {
	g := alertGate{window: 5 * time.Minute}
	t0 := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, g.Allow(t0))
	assert.False(t, g.Allow(t0.Add(30*time.Second)))
	assert.False(t, g.Allow(t0.Add(4*time.Minute+59*time.Second)))
	assert.True(t, g.Allow(t0.Add(5*time.Minute)))
}

func TestNewExperimentServiceValidation(t *testing.T) {
	deps := ExperimentDeps{
		Profile:  testProfile(t, 20),
		Sampler:  constantSampler(nil),
		Actuator: &fakeActuator{},
	}

	tests := []struct {
		name   string
		mutate func(*ExperimentConfig)
	}{
		{name: "bad interval", mutate: func(c *ExperimentConfig) { c.TickInterval = 7 * time.Second }},
		{name: "no groups", mutate: func(c *ExperimentConfig) { c.Groups = nil }},
		{name: "unknown feedback", mutate: func(c *ExperimentConfig) { c.Groups[0].Feedback = "sump" }},
		{name: "missing column", mutate: func(c *ExperimentConfig) { c.Groups[1].ProfileColumn = "ambient" }},
		{name: "shared actuator", mutate: func(c *ExperimentConfig) { c.Groups[1].Actuator = "heater-26" }},
		{name: "missing gains", mutate: func(c *ExperimentConfig) { c.Groups[2].ID = "hot" }},
		{name: "bad calendar", mutate: func(c *ExperimentConfig) { c.Calendar.RecoveryStart = mhwStart }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewExperimentService(cfg, deps)
			assert.Error(t, err)
		})
	}

	_, err := NewExperimentService(testConfig(), deps)
	assert.NoError(t, err)
}

func TestTickTurnsHeaterOnBelowTarget(t *testing.T) {
	means := map[string]float64{"chill": 18, "severe": 20.5, "extreme": 21}
	now := mhwStart.Add(-time.Hour)
	h := newHarness(t, testConfig(), constantSampler(means), now)

	rec, err := h.svc.Tick(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, "baseline", rec.Phase)
	assert.Equal(t, 1.0, rec.Outputs["chill"])
	assert.Equal(t, models.StatusOn, rec.Statuses["chill"])
	assert.Equal(t, models.StatusOff, rec.Statuses["severe"])
	assert.Equal(t, models.StatusOff, rec.Statuses["extreme"])
	assert.Equal(t, []command{{id: "heater-26", on: true}}, h.actuator.commands)

	// unchanged inputs: no new command
	_, err = h.svc.Tick(context.Background(), now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Len(t, h.actuator.commands, 1)
	assert.Len(t, h.sink.records, 2)
	assert.Empty(t, h.notifier.subjects)
}

func TestTickTargetsFollowPhase(t *testing.T) {
	means := map[string]float64{"chill": 30, "severe": 30, "extreme": 30}
	h := newHarness(t, testConfig(), constantSampler(means), mhwStart)

	rec, err := h.svc.Tick(context.Background(), mhwStart.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.TargetSet{"chill": 20, "severe": 20, "extreme": 20}, models.TargetSet(rec.Targets))

	rates := schedule.DefaultRates()
	saturated := mhwStart.Add(schedule.RampDuration(8, rates.Onset))
	rec, err = h.svc.Tick(context.Background(), saturated)
	require.NoError(t, err)
	assert.Equal(t, "event_ramp", rec.Phase)
	assert.Equal(t, 20.0, rec.Targets["chill"])
	assert.Equal(t, 24.0, rec.Targets["severe"])
	assert.Equal(t, 28.0, rec.Targets["extreme"])

	rec, err = h.svc.Tick(context.Background(), recoveryStart.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "recovery_ramp", rec.Phase)
	assert.InDelta(t, 28-0.96, rec.Targets["extreme"], 1e-9)
}

func TestTickHoldsStateOnGroupReadFailure(t *testing.T) {
	healthy := map[string]float64{"chill": 18, "severe": 18, "extreme": 18}
	failing := map[string]float64{"chill": 18, "severe": 18}

	current := constantSampler(healthy)
	sampler := samplerFunc(func(ctx context.Context, groups []models.TankGroup) (*models.AveragedReading, error) {
		return current.Sample(ctx, groups)
	})

	now := mhwStart.Add(-time.Hour)
	h := newHarness(t, testConfig(), sampler, now)

	_, err := h.svc.Tick(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, h.actuator.commands, 3)

	current = constantSampler(failing, "extreme")
	rec, err := h.svc.Tick(context.Background(), now.Add(30*time.Second))
	require.NoError(t, err)

	assert.Equal(t, models.StatusHoldOn, rec.Statuses["extreme"])
	assert.NotContains(t, rec.Outputs, "extreme")
	assert.Equal(t, []string{"extreme-1"}, rec.Faulted)
	assert.Len(t, h.actuator.commands, 3, "no command for a held group")
	assert.Len(t, h.notifier.subjects, 1)

	// a second failure inside the alert window is not re-alerted
	_, err = h.svc.Tick(context.Background(), now.Add(60*time.Second))
	require.NoError(t, err)
	assert.Len(t, h.notifier.subjects, 1)

	// after the window another alert goes out
	_, err = h.svc.Tick(context.Background(), now.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Len(t, h.notifier.subjects, 2)

	assert.True(t, h.svc.Status().Heaters["extreme"])
}

func TestTickAbortsAfterMaxGroupFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGroupFailures = 2

	now := mhwStart.Add(-time.Hour)
	h := newHarness(t, cfg, constantSampler(map[string]float64{"chill": 19, "severe": 19}, "extreme"), now)

	_, err := h.svc.Tick(context.Background(), now)
	require.NoError(t, err)

	_, err = h.svc.Tick(context.Background(), now.Add(30*time.Second))
	assert.ErrorIs(t, err, ErrGroupFailed)
	assert.Len(t, h.sink.records, 2, "the failing tick is still recorded")
}

func TestTickRetriesFailedActuatorCommand(t *testing.T) {
	means := map[string]float64{"chill": 18, "severe": 21, "extreme": 21}
	now := mhwStart.Add(-time.Hour)
	h := newHarness(t, testConfig(), constantSampler(means), now)
	h.actuator.err = errors.New("relay offline")

	rec, err := h.svc.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusHoldOff, rec.Statuses["chill"])
	assert.Len(t, h.notifier.subjects, 1)

	h.actuator.err = nil
	rec, err = h.svc.Tick(context.Background(), now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, rec.Statuses["chill"])
	assert.Equal(t, []command{{id: "heater-26", on: true}, {id: "heater-26", on: true}}, h.actuator.commands)
}

func TestTickUsesFeedbackGroupForPID(t *testing.T) {
	cfg := testConfig()
	cfg.Groups = append(cfg.Groups, models.TankGroup{ID: "sump", Channels: []string{"sump-1"}})
	cfg.Groups[0].Feedback = "sump"

	now := mhwStart.Add(-time.Hour)
	h := newHarness(t, cfg, constantSampler(map[string]float64{"chill": 19.9, "severe": 21, "extreme": 21, "sump": 15}), now)

	rec, err := h.svc.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2.5, rec.Outputs["chill"])
	assert.Equal(t, models.StatusOn, rec.Statuses["chill"])
	assert.Equal(t, 15.0, rec.GroupTemps["sump"])
	assert.NotContains(t, rec.Statuses, "sump")
}

func TestTickBoostTurnsHeaterOnWhenSumpLags(t *testing.T) {
	cfg := testConfig()
	cfg.Groups = append(cfg.Groups, models.TankGroup{ID: "sump", Channels: []string{"sump-1"}})
	cfg.Groups[2].Feedback = "sump"
	tuning := control.DefaultTuning()
	ramp := tuning[models.PhaseEventRamp]
	ramp.Threshold = 100
	ramp.Boost = map[string]float64{"extreme": 0.5}
	tuning[models.PhaseEventRamp] = ramp
	cfg.Tuning = tuning

	now := mhwStart.Add(time.Minute)
	h := newHarness(t, cfg, constantSampler(map[string]float64{"chill": 21, "severe": 21, "extreme": 19.9, "sump": 19}), now)

	rec, err := h.svc.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, rec.Statuses["extreme"])
}

func TestRunTicksOnAlignedBoundaries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Date(2024, 6, 1, 10, 0, 10, 0, time.UTC)
	h := newHarness(t, testConfig(), constantSampler(map[string]float64{"chill": 18, "severe": 21, "extreme": 21}), start)
	h.sink.onAppend = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	require.NoError(t, h.svc.Run(ctx))

	require.Len(t, h.sink.records, 3)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 30, 0, time.UTC), h.sink.records[0].Timestamp)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 1, 0, 0, time.UTC), h.sink.records[1].Timestamp)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 1, 30, 0, time.UTC), h.sink.records[2].Timestamp)

	cmds := h.actuator.commands
	require.GreaterOrEqual(t, len(cmds), 7)
	assert.Equal(t, []command{{"heater-26", false}, {"heater-20", false}, {"heater-21", false}}, cmds[:3])
	assert.Equal(t, command{"heater-26", true}, cmds[3])
	assert.Equal(t, []command{{"heater-26", false}, {"heater-20", false}, {"heater-21", false}}, cmds[len(cmds)-3:])

	status := h.svc.Status()
	assert.Equal(t, int64(3), status.Ticks)
	assert.False(t, status.Heaters["chill"], "heaters are off after shutdown")
}

func TestRunStopsWhenExperimentFinishes(t *testing.T) {
	cfg := testConfig()
	cfg.Calendar.EndAt = recoveryStart.Add(time.Minute)

	start := recoveryStart.Add(10 * time.Second)
	h := newHarness(t, cfg, constantSampler(map[string]float64{"chill": 21, "severe": 21, "extreme": 21}), start)

	require.NoError(t, h.svc.Run(context.Background()))
	require.Len(t, h.sink.records, 1)
	assert.Equal(t, recoveryStart.Add(30*time.Second), h.sink.records[0].Timestamp)

	_, err := h.svc.Tick(context.Background(), cfg.Calendar.EndAt)
	assert.Error(t, err)
}

func TestTickHoldsOnNonFiniteGroupMeanAndKeepsPIDFinite(t *testing.T) {
	means := map[string]float64{"chill": 18, "severe": 21, "extreme": 21}
	bad := true
	sampler := samplerFunc(func(ctx context.Context, groups []models.TankGroup) (*models.AveragedReading, error) {
		r := readingOf(means)
		if bad {
			r.GroupMeans["chill"] = math.NaN()
		}
		return r, nil
	})

	cfg := testConfig()
	tuning := control.DefaultTuning()
	baseline := tuning[models.PhaseBaseline]
	baseline.Gains["chill"] = control.Gains{Kp: 0.5, Ki: 0.01}
	cfg.Tuning = tuning

	now := mhwStart.Add(-time.Hour)
	h := newHarness(t, cfg, sampler, now)

	rec, err := h.svc.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusHoldOff, rec.Statuses["chill"])
	assert.NotContains(t, rec.Outputs, "chill")
	assert.Len(t, h.notifier.subjects, 1)
	assert.Empty(t, h.actuator.commands)
	assert.False(t, math.IsNaN(h.svc.pid["chill"].Integral))

	// the group recovers and is controlled normally
	bad = false
	rec, err = h.svc.Tick(context.Background(), now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Outputs["chill"])
	assert.Equal(t, models.StatusOn, rec.Statuses["chill"])
	assert.Equal(t, []command{{id: "heater-26", on: true}}, h.actuator.commands)

	rec, err = h.svc.Tick(context.Background(), now.Add(time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 1.02, rec.Outputs["chill"], 1e-12)
}

type deadlineNotifier struct {
	remaining []time.Duration
}

func (n *deadlineNotifier) Notify(ctx context.Context, subject, body string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return errors.New("alert sent without a deadline")
	}
	n.remaining = append(n.remaining, time.Until(deadline))
	return nil
}

func TestAlertDeliveryIsBoundedByTick(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		max     time.Duration
	}{
		{name: "configured timeout", timeout: 5 * time.Second, max: 5 * time.Second},
		{name: "timeout longer than the tick", timeout: time.Minute, max: 15 * time.Second},
		{name: "unset", timeout: 0, max: 15 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.AlertTimeout = tt.timeout

			notifier := &deadlineNotifier{}
			svc, err := NewExperimentService(cfg, ExperimentDeps{
				Profile:  testProfile(t, 20),
				Sampler:  constantSampler(map[string]float64{"chill": 18, "severe": 18}, "extreme"),
				Actuator: &fakeActuator{},
				Notifier: notifier,
				Clock:    &fakeClock{now: mhwStart},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.max, svc.alertTimeout())

			_, err = svc.Tick(context.Background(), mhwStart.Add(-time.Hour))
			require.NoError(t, err)
			require.Len(t, notifier.remaining, 1)
			assert.LessOrEqual(t, notifier.remaining[0], tt.max)
			assert.Greater(t, notifier.remaining[0], time.Duration(0))
		})
	}
}
