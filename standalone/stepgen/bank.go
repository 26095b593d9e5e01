package stepgen

import "gopperplr/standalone"

// Bank is the set of steppers driven by the planner, in kinematics order
type Bank struct {
	steppers []*Stepper
	byName   map[string]*Stepper
}

// NewBank creates a stepper for each named axis present in config
func NewBank(config *standalone.MachineConfig, names []string) *Bank {
	b := &Bank{byName: make(map[string]*Stepper)}
	for _, name := range names {
		axis, ok := config.Axes[name]
		if !ok {
			b.steppers = append(b.steppers, nil)
			continue
		}
		s := NewStepper(name, axis)
		b.steppers = append(b.steppers, s)
		b.byName[name] = s
	}
	return b
}

// Get returns the stepper for an axis, nil if unconfigured
func (b *Bank) Get(name string) *Stepper {
	return b.byName[name]
}

// MoveTo commands every stepper to its target, in axis order
func (b *Bank) MoveTo(positions []float64) {
	for i, s := range b.steppers {
		if s != nil && i < len(positions) {
			s.MoveTo(positions[i])
		}
	}
}

// SetPosition redefines the current position without stepping
func (b *Bank) SetPosition(positions []float64) {
	for i, s := range b.steppers {
		if s != nil && i < len(positions) {
			s.SetPosition(positions[i])
		}
	}
}

// Stop halts every stepper
func (b *Bank) Stop() {
	for _, s := range b.steppers {
		if s != nil {
			s.Stop()
		}
	}
}

// DisableAll de-energizes every driver
func (b *Bank) DisableAll() {
	for _, s := range b.steppers {
		if s != nil {
			s.Disable()
		}
	}
}
