package planner

import (
	"math"
	"time"

	"gopperplr/standalone"
	"gopperplr/standalone/kinematics"
	"gopperplr/standalone/stepgen"
)

// minMove is the smallest distance worth stepping (mm)
const minMove = 1e-6

// Planner handles motion planning and execution. Moves run to completion
// as they are queued: the steppers are commanded and the move's duration is
// handed to the elapse hook, which advances the simulated clock.
type Planner struct {
	config     *standalone.MachineConfig
	kinematics kinematics.Kinematics
	steppers   *stepgen.Bank
	elapse     func(time.Duration)

	currentPos standalone.Position
	moves      uint64
	busy       time.Duration
}

// NewPlanner creates a new motion planner
func NewPlanner(config *standalone.MachineConfig, kin kinematics.Kinematics, elapse func(time.Duration)) *Planner {
	if elapse == nil {
		elapse = func(time.Duration) {}
	}
	return &Planner{
		config:     config,
		kinematics: kin,
		steppers:   stepgen.NewBank(config, kin.GetAxisNames()),
		elapse:     elapse,
	}
}

// Steppers returns the stepper bank
func (p *Planner) Steppers() *stepgen.Bank {
	return p.steppers
}

// QueueMove plans and executes a move
func (p *Planner) QueueMove(move *standalone.Move) error {
	// Check limits
	if err := p.kinematics.CheckLimits(move.End); err != nil {
		return err
	}

	if move.Distance < minMove {
		return nil
	}
	if move.Accel <= 0 {
		move.Accel = p.config.DefaultAccel
	}
	if move.Velocity <= 0 {
		move.Velocity = p.config.DefaultVelocity
	}

	// Calculate trapezoidal profile
	p.calculateTrapezoid(move)

	positions, err := p.kinematics.CalcPosition(move.End)
	if err != nil {
		return err
	}
	p.steppers.MoveTo(positions)

	p.currentPos = move.End
	p.moves++
	p.busy += move.Duration
	p.elapse(move.Duration)
	return nil
}

// calculateTrapezoid calculates the trapezoidal velocity profile for a move
func (p *Planner) calculateTrapezoid(move *standalone.Move) {
	// Limit velocity to axis maximums
	maxVel := move.Velocity
	deltas := [4]float64{
		math.Abs(move.End.X - move.Start.X),
		math.Abs(move.End.Y - move.Start.Y),
		math.Abs(move.End.Z - move.Start.Z),
		math.Abs(move.End.E - move.Start.E),
	}
	for i, name := range []string{"x", "y", "z", "e"} {
		if deltas[i] == 0 {
			continue
		}
		axisConfig, ok := p.config.Axes[name]
		if !ok || axisConfig.MaxVelocity <= 0 {
			continue
		}
		if maxVel*deltas[i]/move.Distance > axisConfig.MaxVelocity {
			maxVel = axisConfig.MaxVelocity * move.Distance / deltas[i]
		}
	}

	move.Velocity = maxVel
	move.StartVel = 0
	move.EndVel = 0

	// Using simplified trapezoidal profile (no lookahead for now)
	accelDist := (maxVel * maxVel) / (2.0 * move.Accel)

	if accelDist*2.0 >= move.Distance {
		// Triangle profile (can't reach full speed)
		accelDist = move.Distance / 2.0
		move.CruiseVel = math.Sqrt(2.0 * move.Accel * accelDist)

		accelTime := move.CruiseVel / move.Accel
		move.AccelTime = seconds(accelTime)
		move.CruiseTime = 0
		move.DecelTime = move.AccelTime
	} else {
		// Trapezoidal profile
		cruiseDist := move.Distance - 2.0*accelDist
		move.CruiseVel = maxVel

		accelTime := maxVel / move.Accel
		move.AccelTime = seconds(accelTime)
		move.CruiseTime = seconds(cruiseDist / maxVel)
		move.DecelTime = move.AccelTime
	}
	move.Duration = move.AccelTime + move.CruiseTime + move.DecelTime
}

// GetCurrentPosition returns the current position
func (p *Planner) GetCurrentPosition() standalone.Position {
	return p.currentPos
}

// SetPosition sets the current position
func (p *Planner) SetPosition(pos standalone.Position) {
	p.currentPos = pos

	positions, err := p.kinematics.CalcPosition(pos)
	if err != nil {
		return
	}
	p.steppers.SetPosition(positions)
}

// ClearQueue stops all motion
func (p *Planner) ClearQueue() {
	p.steppers.Stop()
}

// IsIdle returns true if no moves are executing. Moves complete inside
// QueueMove, so the planner is idle between calls.
func (p *Planner) IsIdle() bool {
	return true
}

// Moves returns the number of moves executed
func (p *Planner) Moves() uint64 {
	return p.moves
}

// BusyTime returns the total planned motion time
func (p *Planner) BusyTime() time.Duration {
	return p.busy
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
