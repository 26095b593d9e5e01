// Package stepgen converts planned axis positions into step counts. The
// standalone simulator has no step pins, so each Stepper tracks its step
// position and the number of steps it would have pulsed.
package stepgen

import (
	"math"

	"gopperplr/standalone"
)

// Stepper represents a single stepper motor
type Stepper struct {
	name   string
	config standalone.AxisConfig

	position  int64  // Current position in steps
	targetPos int64  // Target position in steps
	steps     uint64 // Steps pulsed since creation
	dirFlips  uint64 // Direction changes
	lastDir   int8
	enabled   bool
}

// NewStepper creates a new stepper motor controller
func NewStepper(name string, config standalone.AxisConfig) *Stepper {
	if config.StepsPerMM == 0 {
		config.StepsPerMM = 80
	}
	return &Stepper{name: name, config: config}
}

// Name returns the axis name
func (s *Stepper) Name() string {
	return s.name
}

// Enable enables the stepper motor
func (s *Stepper) Enable() {
	s.enabled = true
}

// Disable disables the stepper motor
func (s *Stepper) Disable() {
	s.enabled = false
}

// Enabled reports whether the driver is energized
func (s *Stepper) Enabled() bool {
	return s.enabled
}

func (s *Stepper) toSteps(mm float64) int64 {
	return int64(math.Round(mm * s.config.StepsPerMM))
}

// MoveTo steps to the target position
func (s *Stepper) MoveTo(targetMM float64) {
	s.targetPos = s.toSteps(targetMM)
	if s.targetPos == s.position {
		return
	}
	s.Enable()

	dir := int8(1)
	if s.targetPos < s.position {
		dir = -1
	}
	if s.config.InvertDir {
		dir = -dir
	}
	if s.lastDir != 0 && dir != s.lastDir {
		s.dirFlips++
	}
	s.lastDir = dir

	delta := s.targetPos - s.position
	if delta < 0 {
		delta = -delta
	}
	s.steps += uint64(delta)
	s.position = s.targetPos
}

// GetPosition returns the current position in millimeters
func (s *Stepper) GetPosition() float64 {
	return float64(s.position) / s.config.StepsPerMM
}

// SetPosition sets the current position (for homing, etc.)
func (s *Stepper) SetPosition(posMM float64) {
	s.position = s.toSteps(posMM)
	s.targetPos = s.position
}

// StepPosition returns the position in steps
func (s *Stepper) StepPosition() int64 {
	return s.position
}

// Steps returns the total steps pulsed
func (s *Stepper) Steps() uint64 {
	return s.steps
}

// DirectionChanges returns how often the direction line toggled
func (s *Stepper) DirectionChanges() uint64 {
	return s.dirFlips
}

// Stop abandons the pending target
func (s *Stepper) Stop() {
	s.targetPos = s.position
}
