package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
kinematics: cartesian
extruders: 2
fans: 2
z_home_dir: 1
axes:
  x: {steps_per_mm: 80, min_position: 0, max_position: 200}
  y: {steps_per_mm: 80, min_position: 0, max_position: 200}
  z: {steps_per_mm: 400, max_velocity: 10, min_position: 0, max_position: 180}
  e: {steps_per_mm: 96, min_position: -10000, max_position: 10000}
heaters:
  extruder: {max_temp: 280, heat_rate: 20}
  bed: {max_temp: 110}
recovery:
  save_interval: 30s
  z_raise: 5
  purge_length: 10
  backup_power: true
  z_policy: rehome
  z_home_pos: [100, 100]
`

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "cartesian", cfg.Kinematics)
	assert.Equal(t, 2, cfg.Extruders)
	assert.Equal(t, 1, cfg.ZHomeDir)
	assert.Equal(t, 180.0, cfg.Axes["z"].MaxPosition)
	assert.Equal(t, 300.0, cfg.Axes["x"].MaxVelocity, "axis default")
	assert.Equal(t, 5.0, cfg.Axes["z"].HomingVel, "axis default")
	assert.Equal(t, 280.0, cfg.Heaters["extruder"].MaxTemp)
	assert.Equal(t, 25.0, cfg.Heaters["bed"].Ambient, "heater default")

	r := cfg.Recovery
	assert.True(t, r.Enabled, "enabled unless switched off")
	assert.Equal(t, 30*time.Second, r.SaveInterval)
	assert.Equal(t, 5.0, r.ZRaise)
	assert.Equal(t, 10.0, r.PurgeLength)
	assert.Equal(t, 0.05, r.MinZChange)
	assert.True(t, r.BackupPower)
	assert.Equal(t, "rehome", r.ZPolicy)
	assert.Equal(t, [2]float64{100, 100}, r.ZHomePos)
	assert.Equal(t, 3, r.OutageThreshold)
}

func TestLoadConfigDisablesRecovery(t *testing.T) {
	data := sampleYAML + "  enabled: false\n"
	cfg, err := LoadConfig([]byte(data))
	require.NoError(t, err)
	assert.False(t, cfg.Recovery.Enabled)
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", sampleYAML + "bogus: 1\n"},
		{"unknown recovery key", sampleYAML + "  bogus: 1\n"},
		{"trailing document", sampleYAML + "---\nfans: 1\n"},
		{"bad policy", "axes: {x: {max_position: 1}, y: {max_position: 1}, z: {max_position: 1}}\nrecovery: {z_policy: guess}\n"},
		{"missing axis", "axes: {x: {max_position: 1}}\n"},
		{"bad home dir", "z_home_dir: 2\naxes: {x: {max_position: 1}, y: {max_position: 1}, z: {max_position: 1}}\n"},
		{"tiny interval", "axes: {x: {max_position: 1}, y: {max_position: 1}, z: {max_position: 1}}\nrecovery: {save_interval: 1ms}\n"},
		{"negative raise", "axes: {x: {max_position: 1}, y: {max_position: 1}, z: {max_position: 1}}\nrecovery: {z_raise: -1}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Fans)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultCartesianConfigIsValid(t *testing.T) {
	cfg := DefaultCartesianConfig()
	require.NoError(t, Validate(cfg))
	assert.True(t, cfg.Recovery.Enabled)
}
