package sensor

import (
	"context"
	"time"

	"mhw-backend/internal/models"
)

// RetryConfig bounds how hard a channel read is retried
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryConfig returns three attempts starting at 200ms
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		Backoff:  200 * time.Millisecond,
	}
}

// RetryReader retries a Reader with doubling backoff and reports a
// *models.SensorFault once the attempts are exhausted
type RetryReader struct {
	next   Reader
	config RetryConfig
}

// NewRetryReader wraps a reader with bounded retry
func NewRetryReader(next Reader, config RetryConfig) *RetryReader {
	if config.Attempts < 1 {
		config.Attempts = 1
	}
	return &RetryReader{next: next, config: config}
}

// Read reads the channel, retrying transient failures
func (r *RetryReader) Read(ctx context.Context, channelID string) (float64, error) {
	backoff := r.config.Backoff
	var lastErr error

	for attempt := 1; attempt <= r.config.Attempts; attempt++ {
		value, err := r.next.Read(ctx, channelID)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if attempt == r.config.Attempts {
			break
		}
		if err := waitBackoff(ctx, backoff); err != nil {
			return 0, &models.SensorFault{ChannelID: channelID, Attempts: attempt, Err: err}
		}
		backoff *= 2
	}

	return 0, &models.SensorFault{ChannelID: channelID, Attempts: r.config.Attempts, Err: lastErr}
}

// waitBackoff sleeps for d unless the context ends first
func waitBackoff(ctx context.Context, d time.Duration) error {
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
