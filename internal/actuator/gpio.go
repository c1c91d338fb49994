package actuator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// Pin is the subset of rpio.Pin used to drive a relay
type Pin interface {
	Output()
	High()
	Low()
}

// heaterPin is one relay output with its last written state
type heaterPin struct {
	name      string
	number    int
	pin       Pin
	lastState bool
}

// GPIO drives heater relays on Raspberry Pi BCM pins
type GPIO struct {
	mu     sync.Mutex
	pins   map[string]*heaterPin
	invert bool // active-low relays: on drives the pin low
	closer func() error
}

// NewGPIO maps memory for GPIO access and configures each pin as an output, off
func NewGPIO(pins map[string]int, invert bool) (*GPIO, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO memory: %w", err)
	}

	outputs := make(map[string]Pin, len(pins))
	numbers := make(map[string]int, len(pins))
	for id, n := range pins {
		outputs[id] = rpio.Pin(n)
		numbers[id] = n
	}

	g := newGPIO(outputs, numbers, invert)
	g.closer = rpio.Close
	log.Printf("GPIO: %d heater outputs configured", len(pins))
	return g, nil
}

// newGPIO builds the actuator over already-opened pins
func newGPIO(pins map[string]Pin, numbers map[string]int, invert bool) *GPIO {
	g := &GPIO{pins: make(map[string]*heaterPin, len(pins)), invert: invert}
	for id, p := range pins {
		hp := &heaterPin{name: id, number: numbers[id], pin: p}
		p.Output()
		g.write(hp, false)
		g.pins[id] = hp
	}
	return g
}

// Set switches the relay of one heater
func (g *GPIO) Set(ctx context.Context, actuatorID string, on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	hp, ok := g.pins[actuatorID]
	if !ok {
		return unknown(actuatorID)
	}

	g.write(hp, on)
	log.Printf("GPIO: %s (pin %d) -> %s", hp.name, hp.number, onOff(on))
	return nil
}

// LastState returns the last state written to a heater
func (g *GPIO) LastState(actuatorID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	hp, ok := g.pins[actuatorID]
	if !ok {
		return false, unknown(actuatorID)
	}
	return hp.lastState, nil
}

// IDs returns the configured heater ids
func (g *GPIO) IDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.pins))
	for id := range g.pins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close turns every heater off and releases GPIO memory
func (g *GPIO) Close() error {
	g.mu.Lock()
	for _, hp := range g.pins {
		g.write(hp, false)
	}
	g.mu.Unlock()

	if g.closer != nil {
		if err := g.closer(); err != nil {
			return fmt.Errorf("failed to close GPIO memory: %w", err)
		}
	}
	log.Println("GPIO: All heaters off, closed")
	return nil
}

// write drives the pin; caller holds g.mu or owns g exclusively
func (g *GPIO) write(hp *heaterPin, on bool) {
	if on != g.invert {
		hp.pin.High()
	} else {
		hp.pin.Low()
	}
	hp.lastState = on
}
