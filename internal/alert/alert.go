package alert

import (
	"context"
	"errors"
	"log"
)

// Notifier delivers an operator alert
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Multi sends an alert through every notifier and joins their errors
type Multi []Notifier

// Notify sends the alert to every notifier
func (m Multi) Notify(ctx context.Context, subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to the log
type LogNotifier struct{}

// Notify logs the alert
func (LogNotifier) Notify(ctx context.Context, subject, body string) error {
	log.Printf("ALERT: %s: %s", subject, body)
	return nil
}
