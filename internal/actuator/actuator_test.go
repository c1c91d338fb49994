package actuator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePin struct {
	output bool
	high   bool
	writes int
}

func (p *fakePin) Output() { p.output = true }
func (p *fakePin) High()   { p.high = true; p.writes++ }
func (p *fakePin) Low()    { p.high = false; p.writes++ }

func TestGPIOStartsOffAndSwitches(t *testing.T) {
	chill, extreme := &fakePin{high: true}, &fakePin{high: true}
	g := newGPIO(map[string]Pin{"chill": chill, "extreme": extreme}, map[string]int{"chill": 26, "extreme": 21}, false)

	assert.True(t, chill.output)
	assert.False(t, chill.high)
	assert.False(t, extreme.high)

	require.NoError(t, g.Set(context.Background(), "chill", true))
	assert.True(t, chill.high)
	on, err := g.LastState("chill")
	require.NoError(t, err)
	assert.True(t, on)

	err = g.Set(context.Background(), "missing", true)
	assert.ErrorIs(t, err, ErrUnknownActuator)

	assert.Equal(t, []string{"chill", "extreme"}, g.IDs())

	require.NoError(t, g.Close())
	assert.False(t, chill.high)
}

func TestGPIOInverted(t *testing.T) {
	pin := &fakePin{}
	g := newGPIO(map[string]Pin{"severe": pin}, map[string]int{"severe": 20}, true)
	assert.True(t, pin.high, "off drives an active-low relay high")

	require.NoError(t, g.Set(context.Background(), "severe", true))
	assert.False(t, pin.high)
}

type failingActuator struct{ err error }

func (f failingActuator) Set(ctx context.Context, id string, on bool) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	dry := NewLogActuator()
	boom := errors.New("boom")

	err := Multi{dry, failingActuator{err: boom}}.Set(context.Background(), "chill", true)
	assert.ErrorIs(t, err, boom)

	on, ok := dry.State("chill")
	assert.True(t, ok)
	assert.True(t, on, "healthy actuators still receive the command")

	assert.NoError(t, Multi{dry}.Set(context.Background(), "chill", false))
}
