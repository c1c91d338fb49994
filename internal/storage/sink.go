package storage

import (
	"context"
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"mhw-backend/internal/models"
)

// Missing marks a faulted channel in text output
const Missing = "NA"

// Sink persists tick records
type Sink interface {
	Append(ctx context.Context, rec *models.TickRecord) error
	Close() error
}

// Multi writes every record to several sinks and joins their errors
type Multi []Sink

// Append writes the record to every sink
func (m Multi) Append(ctx context.Context, rec *models.TickRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatValue rounds v for output; NaN and infinities become Missing
func FormatValue(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Missing
	}
	return decimal.NewFromFloat(v).Round(places).String()
}
