package actuator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// Actuator switches heaters; it is only called on state transitions
type Actuator interface {
	Set(ctx context.Context, actuatorID string, on bool) error
}

// Multi fans a command out to several actuators and joins their errors
type Multi []Actuator

// Set sends the command to every actuator
func (m Multi) Set(ctx context.Context, actuatorID string, on bool) error {
	var errs []error
	for _, a := range m {
		if err := a.Set(ctx, actuatorID, on); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogActuator only logs commands; used when no hardware is attached
type LogActuator struct {
	mu     sync.Mutex
	states map[string]bool
}

// NewLogActuator creates a dry-run actuator
func NewLogActuator() *LogActuator {
	return &LogActuator{states: make(map[string]bool)}
}

// Set records and logs the command
func (l *LogActuator) Set(ctx context.Context, actuatorID string, on bool) error {
	l.mu.Lock()
	l.states[actuatorID] = on
	l.mu.Unlock()

	log.Printf("Actuator: %s -> %s (dry run)", actuatorID, onOff(on))
	return nil
}

// State returns the last commanded state of an actuator
func (l *LogActuator) State(actuatorID string) (bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	on, ok := l.states[actuatorID]
	return on, ok
}

// ErrUnknownActuator is returned for ids without a configured output
var ErrUnknownActuator = errors.New("unknown actuator")

func unknown(actuatorID string) error {
	return fmt.Errorf("%w: %s", ErrUnknownActuator, actuatorID)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
