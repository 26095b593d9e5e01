package heater

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopperplr/standalone"
)

func testConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Extruders: 2,
		Heaters: map[string]standalone.HeaterConfig{
			"extruder": {MaxTemp: 300, HeatRate: 10, Ambient: 20},
			Bed:        {MaxTemp: 120, HeatRate: 2, Ambient: 20},
		},
	}
}

func TestBankLayout(t *testing.T) {
	b := NewBank(testConfig())
	assert.Equal(t, []string{Bed, "extruder0", "extruder1"}, b.Names())
	assert.False(t, b.Has(Chamber))
	assert.Equal(t, 20.0, b.Temperature(Hotend(1)))
}

func TestHeatUpAndCoolDown(t *testing.T) {
	b := NewBank(testConfig())
	require.NoError(t, b.SetTarget(Hotend(0), 200))
	assert.False(t, b.Reached(Hotend(0)))

	b.Tick(10 * time.Second)
	assert.Equal(t, 120.0, b.Temperature(Hotend(0)))

	b.Tick(10 * time.Second)
	assert.Equal(t, 200.0, b.Temperature(Hotend(0)))
	assert.True(t, b.Reached(Hotend(0)))

	b.DisableAll()
	assert.True(t, b.Reached(Hotend(0)))
	b.Tick(time.Second)
	assert.Equal(t, 190.0, b.Temperature(Hotend(0)))
}

func TestSetTargetValidation(t *testing.T) {
	b := NewBank(testConfig())

	assert.ErrorIs(t, b.SetTarget(Bed, 150), ErrTargetRange)
	assert.ErrorIs(t, b.SetTarget(Chamber, 40), ErrUnknownHeater)
	assert.NoError(t, b.SetTarget(Bed, 0))
}
