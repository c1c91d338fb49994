package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"mhw-backend/internal/calibration"
	"mhw-backend/internal/models"
	"mhw-backend/internal/sensor"
)

// ErrNonFinite marks a read or calibrated value that is NaN or infinite
var ErrNonFinite = errors.New("non-finite temperature")

// Config controls one averaging cycle
type Config struct {
	RepeatCount      int           // rounds over every channel
	InterSampleDelay time.Duration // pause between channels within a round
	InterRepeatDelay time.Duration // pause between rounds
	Concurrent       bool          // read a round's channels in parallel
	MaxConcurrency   int           // parallel reads in flight, 0 = unlimited
	NoisySpread      float64       // log channels whose repeat spread exceeds this, 0 = off
}

// DefaultConfig returns three rounds spaced 100ms apart
func DefaultConfig() Config {
	return Config{
		RepeatCount:      3,
		InterSampleDelay: 100 * time.Millisecond,
		InterRepeatDelay: 100 * time.Millisecond,
		NoisySpread:      0.5,
	}
}

// Averager reads every channel several times and reduces the reads to
// per-channel and per-group means
type Averager struct {
	reader sensor.Reader
	table  *calibration.Table
	config Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAverager creates a new averager
func NewAverager(reader sensor.Reader, table *calibration.Table, config Config) *Averager {
	if config.RepeatCount < 1 {
		config.RepeatCount = 1
	}
	return &Averager{
		reader: reader,
		table:  table,
		config: config,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// readResult is the outcome of one channel read within a round
type readResult struct {
	value float64
	fault *models.SensorFault
}

// Sample runs one averaging cycle over the channels of the given groups.
// Sensor faults are recorded in the reading; only cancellation returns an error.
func (a *Averager) Sample(ctx context.Context, groups []models.TankGroup) (*models.AveragedReading, error) {
	channels := channelOrder(groups)
	reading := models.NewAveragedReading(a.now())

	values := make(map[string][]float64, len(channels))

	for round := 0; round < a.config.RepeatCount; round++ {
		if round > 0 {
			if err := a.sleep(ctx, a.config.InterRepeatDelay); err != nil {
				return nil, err
			}
		}

		var results []readResult
		var err error
		if a.config.Concurrent {
			results, err = a.readConcurrent(ctx, channels)
		} else {
			results, err = a.readSequential(ctx, channels)
		}
		if err != nil {
			return nil, err
		}

		for i, res := range results {
			if res.fault != nil {
				reading.Faults = append(reading.Faults, res.fault)
				continue
			}
			values[channels[i]] = append(values[channels[i]], res.value)
		}
	}

	// Per-channel means over successful reads only
	for _, id := range channels {
		mean, ok := meanOf(values[id])
		if !ok {
			continue
		}
		reading.ChannelMeans[id] = mean

		if spread, err := stats.StandardDeviationPopulation(values[id]); err == nil {
			reading.ChannelSpread[id] = spread
			if a.config.NoisySpread > 0 && spread > a.config.NoisySpread {
				log.Printf("Averager: channel %s is noisy, spread %.3f over %d reads", id, spread, len(values[id]))
			}
		}
	}

	// Per-group means over the channel means of each group
	for _, g := range groups {
		means := make([]float64, 0, len(g.Channels))
		for _, id := range g.Channels {
			if v, ok := reading.ChannelMeans[id]; ok {
				means = append(means, v)
			}
		}

		mean, ok := meanOf(means)
		if !ok {
			reading.FailedGroups[g.ID] = &models.GroupReadFailure{
				GroupID:  g.ID,
				Channels: append([]string(nil), g.Channels...),
			}
			log.Printf("Averager: group %s has no usable channel this cycle", g.ID)
			continue
		}
		reading.GroupMeans[g.ID] = mean
	}

	return reading, nil
}

// readSequential reads the channels one after another
func (a *Averager) readSequential(ctx context.Context, channels []string) ([]readResult, error) {
	results := make([]readResult, len(channels))
	for i, id := range channels {
		if i > 0 {
			if err := a.sleep(ctx, a.config.InterSampleDelay); err != nil {
				return nil, err
			}
		}
		results[i] = a.readOne(ctx, id)
	}
	return results, ctx.Err()
}

// readConcurrent reads all channels in parallel and waits for every read
func (a *Averager) readConcurrent(ctx context.Context, channels []string) ([]readResult, error) {
	results := make([]readResult, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	if a.config.MaxConcurrency > 0 {
		g.SetLimit(a.config.MaxConcurrency)
	}
	for i, id := range channels {
		i, id := i, id
		g.Go(func() error {
			results[i] = a.readOne(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

// readOne reads and calibrates a single channel
func (a *Averager) readOne(ctx context.Context, channelID string) readResult {
	raw, err := a.reader.Read(ctx, channelID)
	if err != nil {
		return readResult{fault: asFault(channelID, err)}
	}
	if !finite(raw) {
		return readResult{fault: &models.SensorFault{ChannelID: channelID, Attempts: 1, Err: fmt.Errorf("%w: raw %v", ErrNonFinite, raw)}}
	}

	value, err := a.table.Calibrate(channelID, raw)
	if err != nil {
		return readResult{fault: &models.SensorFault{ChannelID: channelID, Attempts: 1, Err: err}}
	}
	if !finite(value) {
		return readResult{fault: &models.SensorFault{ChannelID: channelID, Attempts: 1, Err: fmt.Errorf("%w: calibrated %v", ErrNonFinite, value)}}
	}
	return readResult{value: value}
}

// asFault keeps an existing *SensorFault or wraps the error in one
func asFault(channelID string, err error) *models.SensorFault {
	var fault *models.SensorFault
	if errors.As(err, &fault) {
		return fault
	}
	return &models.SensorFault{ChannelID: channelID, Attempts: 1, Err: err}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// meanOf returns the running mean of values, which is exact for identical values
func meanOf(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	mean := 0.0
	for i, v := range values {
		mean += (v - mean) / float64(i+1)
	}
	return mean, true
}

// channelOrder lists the channels of all groups once, in config order
func channelOrder(groups []models.TankGroup) []string {
	return models.NewRecordLayout(groups).Channels
}

// sleepCtx sleeps for d unless the context ends first
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
