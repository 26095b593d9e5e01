package stepgen

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gopperplr/standalone"
)

func TestStepperCountsSteps(t *testing.T) {
	s := NewStepper("x", standalone.AxisConfig{StepsPerMM: 80})

	s.MoveTo(10)
	assert.Equal(t, int64(800), s.StepPosition())
	assert.True(t, s.Enabled())

	s.MoveTo(5)
	assert.Equal(t, uint64(1200), s.Steps())
	assert.Equal(t, uint64(1), s.DirectionChanges())
	assert.InDelta(t, 5.0, s.GetPosition(), 1e-9)

	s.SetPosition(0)
	assert.Equal(t, uint64(1200), s.Steps(), "redefining position does not step")
}

func TestBankSkipsUnconfiguredAxes(t *testing.T) {
	cfg := &standalone.MachineConfig{Axes: map[string]standalone.AxisConfig{
		"x": {StepsPerMM: 100},
		"z": {StepsPerMM: 400},
	}}
	b := NewBank(cfg, []string{"x", "y", "z", "e"})

	b.MoveTo([]float64{1, 2, 0.5, 3})
	assert.Nil(t, b.Get("y"))
	assert.Equal(t, int64(100), b.Get("x").StepPosition())
	assert.Equal(t, int64(200), b.Get("z").StepPosition())

	b.DisableAll()
	assert.False(t, b.Get("x").Enabled())
}
