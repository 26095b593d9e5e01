package kinematics

import (
	"errors"

	"gopperplr/standalone"
)

var ErrOutOfLimits = errors.New("position out of limits")

// Kinematics defines the interface for coordinate transformations
type Kinematics interface {
	// CalcPosition converts XYZ coordinates to stepper positions
	CalcPosition(pos standalone.Position) ([]float64, error)

	// GetAxisNames returns the names of axes controlled by this kinematics
	GetAxisNames() []string

	// CheckLimits validates that a position is within configured limits
	CheckLimits(pos standalone.Position) error
}

// AxisLimits represents position limits for an axis
type AxisLimits struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the limits
func (l AxisLimits) Contains(v float64) bool {
	return v >= l.Min && v <= l.Max
}

// New builds the kinematics named in the config
func New(config *standalone.MachineConfig) (Kinematics, error) {
	switch config.Kinematics {
	case "", "cartesian":
		return NewCartesian(config)
	default:
		return nil, errors.New("unsupported kinematics: " + config.Kinematics)
	}
}
