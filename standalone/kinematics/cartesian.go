package kinematics

import (
	"errors"
	"fmt"

	"gopperplr/standalone"
)

// limitSlack absorbs float error from logical/native conversions
const limitSlack = 1e-9

// Cartesian implements basic Cartesian kinematics (XYZ 1:1 mapping)
type Cartesian struct {
	limits [3]AxisLimits
}

// NewCartesian creates a new Cartesian kinematics instance
func NewCartesian(config *standalone.MachineConfig) (*Cartesian, error) {
	k := &Cartesian{}
	for i, name := range []string{"x", "y", "z"} {
		axis, ok := config.Axes[name]
		if !ok {
			return nil, errors.New(name + " axis not configured")
		}
		k.limits[i] = AxisLimits{Min: axis.MinPosition, Max: axis.MaxPosition}
	}
	return k, nil
}

// CalcPosition converts XYZ coordinates to stepper positions
// For Cartesian, this is a 1:1 mapping
func (k *Cartesian) CalcPosition(pos standalone.Position) ([]float64, error) {
	// Return positions in order: X, Y, Z, E
	return []float64{pos.X, pos.Y, pos.Z, pos.E}, nil
}

// GetAxisNames returns the axis names for Cartesian kinematics
func (k *Cartesian) GetAxisNames() []string {
	return []string{"x", "y", "z", "e"}
}

// Limits returns the XYZ travel limits
func (k *Cartesian) Limits() [3]AxisLimits {
	return k.limits
}

// CheckLimits validates that a position is within configured limits
func (k *Cartesian) CheckLimits(pos standalone.Position) error {
	for i, name := range []string{"X", "Y", "Z"} {
		v := pos.Axis(i)
		l := k.limits[i]
		if v < l.Min-limitSlack || v > l.Max+limitSlack {
			return fmt.Errorf("%w: %s=%.3f not in [%.3f, %.3f]", ErrOutOfLimits, name, v, l.Min, l.Max)
		}
	}
	return nil
}
