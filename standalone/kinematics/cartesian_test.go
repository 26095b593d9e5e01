package kinematics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopperplr/standalone"
)

func testConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Axes: map[string]standalone.AxisConfig{
			"x": {MaxPosition: 220},
			"y": {MaxPosition: 220},
			"z": {MaxPosition: 250},
		},
	}
}

func TestCartesianLimits(t *testing.T) {
	k, err := NewCartesian(testConfig())
	require.NoError(t, err)

	assert.NoError(t, k.CheckLimits(standalone.Position{X: 0, Y: 220, Z: 250, E: -5000}))
	assert.ErrorIs(t, k.CheckLimits(standalone.Position{X: 221}), ErrOutOfLimits)
	assert.ErrorIs(t, k.CheckLimits(standalone.Position{Z: -0.5}), ErrOutOfLimits)
}

func TestCartesianRequiresAxes(t *testing.T) {
	cfg := testConfig()
	delete(cfg.Axes, "z")
	_, err := NewCartesian(cfg)
	assert.Error(t, err)
}

func TestNewUnsupported(t *testing.T) {
	cfg := testConfig()
	cfg.Kinematics = "delta"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg.Kinematics = ""
	k, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z", "e"}, k.GetAxisNames())
}
