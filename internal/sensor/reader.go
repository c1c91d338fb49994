package sensor

import (
	"context"
	"errors"
)

var (
	// ErrNotReady is returned when the device has not finished a conversion
	ErrNotReady = errors.New("sensor not ready")

	// ErrNoData is returned when no value has ever been seen for a channel
	ErrNoData = errors.New("no data for channel")

	// ErrStale is returned when the last value is older than the allowed age
	ErrStale = errors.New("stale reading")
)

// Reader returns the raw, uncalibrated value of a channel
type Reader interface {
	Read(ctx context.Context, channelID string) (float64, error)
}

// ReaderFunc adapts a function to the Reader interface
type ReaderFunc func(ctx context.Context, channelID string) (float64, error)

// Read calls f
func (f ReaderFunc) Read(ctx context.Context, channelID string) (float64, error) {
	return f(ctx, channelID)
}
