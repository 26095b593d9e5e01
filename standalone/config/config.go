package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gopperplr/standalone"
)

var ErrInvalid = errors.New("config: invalid")

// LoadConfig parses a YAML machine configuration. Unknown keys and
// trailing documents are rejected.
func LoadConfig(data []byte) (*standalone.MachineConfig, error) {
	config := standalone.MachineConfig{Recovery: DefaultRecovery()}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields
	if err := dec.Decode(&config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config contains multiple documents or trailing content")
	}

	// Apply defaults
	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFile reads and parses the configuration file at path
func LoadFile(path string) (*standalone.MachineConfig, error) {
	// #nosec G304 -- configuration file paths are provided by the operator via CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return LoadConfig(data)
}

// DefaultRecovery returns the stock power-loss recovery settings
func DefaultRecovery() standalone.RecoveryConfig {
	return standalone.RecoveryConfig{
		Enabled:         true,
		MinZChange:      0.05,
		ZRaise:          2.0,
		PurgeFeedrate:   200,
		RetractFeedrate: 3000,
		ZPolicy:         "trust",
		OutageThreshold: 3,
	}
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *standalone.MachineConfig) {
	// Default kinematics
	if config.Kinematics == "" {
		config.Kinematics = "cartesian"
	}
	if config.Extruders == 0 {
		config.Extruders = 1
	}
	if config.ZHomeDir == 0 {
		config.ZHomeDir = -1
	}

	// Default motion parameters
	if config.DefaultVelocity == 0 {
		config.DefaultVelocity = 50.0 // 50 mm/s
	}
	if config.DefaultAccel == 0 {
		config.DefaultAccel = 500.0 // 500 mm/s^2
	}
	if config.JunctionDeviation == 0 {
		config.JunctionDeviation = 0.05 // 0.05mm
	}

	// Apply defaults to each axis
	for name, axis := range config.Axes {
		if axis.MaxVelocity == 0 {
			axis.MaxVelocity = 300.0
		}
		if axis.MaxAccel == 0 {
			axis.MaxAccel = 1000.0
		}
		if axis.HomingVel == 0 {
			axis.HomingVel = 5.0
		}
		if axis.StepsPerMM == 0 {
			axis.StepsPerMM = 80.0 // Common value
		}
		config.Axes[name] = axis
	}

	// Apply defaults to heaters
	for name, heater := range config.Heaters {
		if heater.MaxTemp == 0 {
			heater.MaxTemp = 300.0
		}
		if heater.Ambient == 0 {
			heater.Ambient = 25.0
		}
		config.Heaters[name] = heater
	}

	r := &config.Recovery
	if r.PurgeFeedrate <= 0 {
		r.PurgeFeedrate = 200
	}
	if r.RetractFeedrate <= 0 {
		r.RetractFeedrate = 3000
	}
	if r.ZPolicy == "" {
		r.ZPolicy = "trust"
	}
	if r.OutageThreshold <= 0 {
		r.OutageThreshold = 3
	}
}

// Validate checks values that have no sensible default
func Validate(config *standalone.MachineConfig) error {
	for _, name := range []string{"x", "y", "z"} {
		axis, ok := config.Axes[name]
		if !ok {
			return fmt.Errorf("%w: missing axis %q", ErrInvalid, name)
		}
		if axis.MaxPosition <= axis.MinPosition {
			return fmt.Errorf("%w: axis %q has max_position <= min_position", ErrInvalid, name)
		}
	}
	if config.ZHomeDir != -1 && config.ZHomeDir != 1 {
		return fmt.Errorf("%w: z_home_dir must be -1 or 1", ErrInvalid)
	}

	r := config.Recovery
	switch r.ZPolicy {
	case "trust", "rehome":
	default:
		return fmt.Errorf("%w: recovery.z_policy %q", ErrInvalid, r.ZPolicy)
	}
	if r.SaveInterval < 0 {
		return fmt.Errorf("%w: recovery.save_interval is negative", ErrInvalid)
	}
	if r.SaveInterval > 0 && r.SaveInterval < 100*time.Millisecond {
		return fmt.Errorf("%w: recovery.save_interval below 100ms", ErrInvalid)
	}
	if r.MinZChange < 0 || r.ZRaise < 0 || r.PurgeLength < 0 || r.RetractLength < 0 {
		return fmt.Errorf("%w: recovery lengths must not be negative", ErrInvalid)
	}
	return nil
}

// DefaultCartesianConfig returns a default configuration for a Cartesian printer
func DefaultCartesianConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Kinematics: "cartesian",
		Axes: map[string]standalone.AxisConfig{
			"x": {
				StepsPerMM:  80.0,
				MaxVelocity: 300.0,
				MaxAccel:    3000.0,
				HomingVel:   50.0,
				MinPosition: 0.0,
				MaxPosition: 220.0,
			},
			"y": {
				StepsPerMM:  80.0,
				MaxVelocity: 300.0,
				MaxAccel:    3000.0,
				HomingVel:   50.0,
				MinPosition: 0.0,
				MaxPosition: 220.0,
			},
			"z": {
				StepsPerMM:  400.0,
				MaxVelocity: 10.0,
				MaxAccel:    100.0,
				HomingVel:   5.0,
				MinPosition: 0.0,
				MaxPosition: 250.0,
			},
			"e": {
				StepsPerMM:  96.0,
				MaxVelocity: 50.0,
				MaxAccel:    5000.0,
				HomingVel:   0.0,
				MinPosition: -10000.0,
				MaxPosition: 10000.0,
			},
		},
		Heaters: map[string]standalone.HeaterConfig{
			"extruder": {
				MinTemp:  0.0,
				MaxTemp:  300.0,
				HeatRate: 10.0,
				Ambient:  25.0,
			},
			"bed": {
				MinTemp:  0.0,
				MaxTemp:  150.0,
				HeatRate: 2.0,
				Ambient:  25.0,
			},
		},
		Extruders:         1,
		Fans:              1,
		ZHomeDir:          -1,
		DefaultVelocity:   50.0,
		DefaultAccel:      500.0,
		JunctionDeviation: 0.05,
		Recovery:          DefaultRecovery(),
	}
}
