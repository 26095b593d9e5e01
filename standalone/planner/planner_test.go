package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopperplr/standalone"
	"gopperplr/standalone/kinematics"
)

func testConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Axes: map[string]standalone.AxisConfig{
			"x": {StepsPerMM: 80, MaxVelocity: 300, MaxPosition: 220},
			"y": {StepsPerMM: 80, MaxVelocity: 300, MaxPosition: 220},
			"z": {StepsPerMM: 400, MaxVelocity: 10, MaxPosition: 250},
			"e": {StepsPerMM: 100, MaxVelocity: 50, MinPosition: -1e4, MaxPosition: 1e4},
		},
		DefaultVelocity: 50,
		DefaultAccel:    500,
	}
}

func newPlanner(t *testing.T) (*Planner, *time.Duration) {
	t.Helper()
	cfg := testConfig()
	kin, err := kinematics.NewCartesian(cfg)
	require.NoError(t, err)
	var elapsed time.Duration
	return NewPlanner(cfg, kin, func(d time.Duration) { elapsed += d }), &elapsed
}

func TestTrapezoidProfile(t *testing.T) {
	p, elapsed := newPlanner(t)

	move := &standalone.Move{
		End:      standalone.Position{X: 100},
		Velocity: 50,
		Accel:    500,
		Distance: 100,
	}
	require.NoError(t, p.QueueMove(move))

	// 0.1s accelerating over 2.5mm each end, 95mm cruising at 50mm/s
	assert.Equal(t, 100*time.Millisecond, move.AccelTime)
	assert.Equal(t, 1900*time.Millisecond, move.CruiseTime)
	assert.Equal(t, 2100*time.Millisecond, move.Duration)
	assert.Equal(t, move.Duration, *elapsed)
	assert.Equal(t, int64(8000), p.Steppers().Get("x").StepPosition())
}

func TestTriangleProfile(t *testing.T) {
	p, _ := newPlanner(t)

	move := &standalone.Move{
		End:      standalone.Position{X: 1},
		Velocity: 100,
		Accel:    500,
		Distance: 1,
	}
	require.NoError(t, p.QueueMove(move))
	assert.Zero(t, move.CruiseTime)
	assert.Less(t, move.CruiseVel, 100.0)
	assert.Equal(t, move.AccelTime, move.DecelTime)
}

func TestAxisVelocityLimit(t *testing.T) {
	p, _ := newPlanner(t)

	move := &standalone.Move{
		End:      standalone.Position{Z: 10},
		Velocity: 100,
		Accel:    500,
		Distance: 10,
	}
	require.NoError(t, p.QueueMove(move))
	assert.Equal(t, 10.0, move.Velocity)
}

func TestQueueMoveRejectsOutOfLimits(t *testing.T) {
	p, elapsed := newPlanner(t)

	err := p.QueueMove(&standalone.Move{End: standalone.Position{X: 500}, Distance: 500})
	assert.ErrorIs(t, err, kinematics.ErrOutOfLimits)
	assert.Equal(t, standalone.Position{}, p.GetCurrentPosition())
	assert.Zero(t, *elapsed)
}

func TestSetPositionDoesNotMove(t *testing.T) {
	p, elapsed := newPlanner(t)

	p.SetPosition(standalone.Position{Z: 5.26, E: 12})
	assert.Equal(t, 5.26, p.GetCurrentPosition().Z)
	assert.Zero(t, p.Moves())
	assert.Zero(t, *elapsed)
	assert.Zero(t, p.Steppers().Get("z").Steps())
}
