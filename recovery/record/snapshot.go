// Package record defines the machine state snapshot persisted for power-loss
// recovery and its on-media encoding.
package record

import "time"

// Axis indexes Snapshot.Position
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisE
	NumAxes
)

// Relative-mode bits for Snapshot.AxisRelative
const (
	RelX uint8 = 1 << AxisX
	RelY uint8 = 1 << AxisY
	RelZ uint8 = 1 << AxisZ
	RelE uint8 = 1 << AxisE
)

// RetractState is the firmware-retract state of one extruder
type RetractState struct {
	Retracted float64 // length currently retracted (mm), 0 if primed
}

// Snapshot is the complete logical printer state needed to resume a job.
//
// A snapshot is meaningful only when ValidHead == ValidFoot != 0. The
// controller bumps both counters together for every write that lands, and
// the codec writes ValidHead first and ValidFoot last, so a write torn by a
// second power failure is detectable.
type Snapshot struct {
	ValidHead uint8

	// Motion, in native machine coordinates
	Position      [NumAxes]float64
	Feedrate      float64 // mm/s
	ActiveTool    uint8
	AxisRelative  uint8
	HomeOffset    [3]float64
	PositionShift [3]float64
	ZRaise        float64 // lift applied by the outage handler
	Raised        bool    // Z was physically lifted by ZRaise after this snapshot

	// Thermal
	HotendTargets []float64
	BedTarget     float64
	ChamberTarget float64
	FanSpeeds     []uint8

	// Job bookkeeping
	SourcePath string
	Offset     uint64 // byte offset of the next command to execute
	Elapsed    time.Duration

	// Bed leveling
	Leveling   bool
	FadeHeight float64

	// Firmware retract
	Retract    []RetractState
	RetractHop float64

	// Volumetric extrusion
	Volumetric       bool
	FilamentDiameter []float64
	LogicalE         float64 // extruder in command units, mm³ when volumetric

	// Color mixing
	MixWeights []float64
	MixVTool   uint8

	ValidFoot uint8
}

// Valid reports whether s passed the head/foot self-consistency check
func Valid(s *Snapshot) bool {
	return s != nil && s.ValidHead != 0 && s.ValidHead == s.ValidFoot
}

// NextValid returns the counter value following v. Zero is reserved for
// "invalid", so the sequence is 1, 2, ..., 255, 1, 2, ...
func NextValid(v uint8) uint8 {
	v++
	if v == 0 {
		v = 1
	}
	return v
}

// Reset zeroes the snapshot in place
func (s *Snapshot) Reset() {
	*s = Snapshot{}
}

// Clone returns a deep copy of s
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.HotendTargets = append([]float64(nil), s.HotendTargets...)
	c.FanSpeeds = append([]uint8(nil), s.FanSpeeds...)
	c.Retract = append([]RetractState(nil), s.Retract...)
	c.FilamentDiameter = append([]float64(nil), s.FilamentDiameter...)
	c.MixWeights = append([]float64(nil), s.MixWeights...)
	return &c
}
