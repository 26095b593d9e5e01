package gcode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gopperplr/standalone"
	"gopperplr/standalone/heater"
)

var (
	ErrUnknownTool = errors.New("gcode: unknown tool")
	ErrBadArgument = errors.New("gcode: bad argument")
)

// Planner interface for motion planning
type Planner interface {
	QueueMove(move *standalone.Move) error
	GetCurrentPosition() standalone.Position
	SetPosition(pos standalone.Position)
	ClearQueue()
}

// Heaters is the heater bank driven by temperature commands
type Heaters interface {
	SetTarget(name string, target float64) error
	Target(name string) float64
	Temperature(name string) float64
	Reached(name string) bool
	Has(name string) bool
}

// Host is the printer runtime around the interpreter
type Host interface {
	// Idle services background work while a command waits. It returns an
	// error when the wait must be abandoned.
	Idle(ctx context.Context) error

	SelectFile(path string) error
	// StartJob starts or resumes the selected file. A negative offset
	// continues from where a paused job stopped.
	StartJob(offset int64, elapsed time.Duration) error
	PauseJob()
	FinishJob() error

	SetRecoveryEnabled(on bool)
	RecoveryEnabled() bool
	ResumeFromPowerLoss() error

	Respond(msg string)
}

// Interpreter executes G-code commands
type Interpreter struct {
	state   *standalone.MachineState
	config  *standalone.MachineConfig
	planner Planner
	heaters Heaters
	host    Host

	pendingMix []float64
}

// NewInterpreter creates a new G-code interpreter
func NewInterpreter(config *standalone.MachineConfig, planner Planner, heaters Heaters, host Host) *Interpreter {
	extruders := max(config.Extruders, 1)
	mixers := config.MixingSteppers

	state := &standalone.MachineState{
		AbsoluteMode:     true,
		FeedRate:         config.DefaultVelocity,
		FeedMultiplier:   100,
		FanSpeeds:        make([]uint8, config.Fans),
		Retracted:        make([]float64, extruders),
		RetractLength:    3,
		RetractFeedrate:  45,
		FilamentDiameter: make([]float64, extruders),
	}
	for i := range state.FilamentDiameter {
		state.FilamentDiameter[i] = 1.75
	}
	if mixers > 0 {
		state.MixWeights = make([]float64, mixers)
		for i := range state.MixWeights {
			state.MixWeights[i] = 1 / float64(mixers)
		}
	}

	return &Interpreter{
		state:      state,
		config:     config,
		planner:    planner,
		heaters:    heaters,
		host:       host,
		pendingMix: make([]float64, mixers),
	}
}

// Execute executes a parsed G-code command
func (interp *Interpreter) Execute(ctx context.Context, cmd *standalone.GCodeCommand) error {
	if cmd == nil {
		return nil
	}

	switch cmd.Type {
	case 'G':
		return interp.executeG(ctx, cmd)
	case 'M':
		return interp.executeM(ctx, cmd)
	case 'T':
		return interp.executeT(cmd)
	}

	return nil
}

// executeG handles G-codes
func (interp *Interpreter) executeG(ctx context.Context, cmd *standalone.GCodeCommand) error {
	switch {
	case cmd.Is('G', 0), cmd.Is('G', 1): // Linear move
		return interp.doMove(cmd)
	case cmd.Is('G', 4): // Dwell
		return interp.doDwell(ctx, cmd)
	case cmd.Is('G', 10): // Firmware retract
		return interp.doRetract(true)
	case cmd.Is('G', 11): // Firmware unretract
		return interp.doRetract(false)
	case cmd.Is('G', 28): // Home
		return interp.doHome(cmd)
	case cmd.Is('G', 90): // Absolute positioning
		interp.state.AbsoluteMode = true
	case cmd.Is('G', 91): // Relative positioning
		interp.state.AbsoluteMode = false
	case cmd.Is('G', 92): // Set logical position
		interp.doSetPosition(cmd)
	case cmd.Number == 92 && cmd.Subcode == 9: // Set native position
		interp.doSetNativePosition(cmd)
	}

	return nil
}

// executeM handles M-codes
func (interp *Interpreter) executeM(ctx context.Context, cmd *standalone.GCodeCommand) error {
	switch cmd.Number {
	case 23: // Select file
		if cmd.Text == "" {
			return fmt.Errorf("%w: M23 needs a file name", ErrBadArgument)
		}
		return interp.host.SelectFile(cmd.Text)
	case 24: // Start or resume job
		offset := int64(-1)
		if cmd.HasParameter('S') {
			offset = int64(cmd.GetParameter('S', 0))
		}
		elapsed := time.Duration(cmd.GetParameter('T', 0) * float64(time.Second))
		return interp.host.StartJob(offset, elapsed)
	case 25: // Pause job
		interp.host.PauseJob()
	case 82: // Absolute extrusion
		interp.state.ExtrudeRelative = false
	case 83: // Relative extrusion
		interp.state.ExtrudeRelative = true
	case 104, 109: // Set hotend temperature (and wait)
		return interp.doHotend(ctx, cmd, cmd.Number == 109)
	case 140, 190: // Set bed temperature (and wait)
		return interp.doTemperature(ctx, cmd, heater.Bed, cmd.Number == 190)
	case 141, 191: // Set chamber temperature (and wait)
		return interp.doTemperature(ctx, cmd, heater.Chamber, cmd.Number == 191)
	case 105: // Report temperatures
		interp.host.Respond(interp.temperatureReport())
	case 106: // Fan on
		return interp.setFan(cmd, cmd.GetParameter('S', 255))
	case 107: // Fan off
		return interp.setFan(cmd, 0)
	case 114: // Report position
		pos := interp.LogicalPosition()
		interp.host.Respond(fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f E:%.3f", pos.X, pos.Y, pos.Z, pos.E))
	case 163: // Set mix weight
		return interp.setMixWeight(cmd)
	case 164: // Commit mix
		return interp.commitMix(cmd)
	case 200: // Filament diameter / volumetric mode
		return interp.doVolumetric(cmd)
	case 206: // Home offset
		interp.setOffsets(&interp.state.HomeOffset, cmd)
	case 207: // Firmware retract settings
		interp.state.RetractLength = cmd.GetParameter('S', interp.state.RetractLength)
		interp.state.RetractHop = cmd.GetParameter('Z', interp.state.RetractHop)
		if cmd.HasParameter('F') {
			interp.state.RetractFeedrate = cmd.GetParameter('F', 0) / 60.0
		}
	case 220: // Feedrate percentage
		if cmd.HasParameter('S') {
			interp.state.FeedMultiplier = cmd.GetParameter('S', 100)
		}
	case 413: // Power-loss recovery
		if cmd.HasParameter('S') {
			interp.host.SetRecoveryEnabled(cmd.GetParameter('S', 0) != 0)
		} else {
			interp.host.Respond(fmt.Sprintf("Power-loss recovery %s", onOff(interp.host.RecoveryEnabled())))
		}
	case 420: // Bed leveling state
		if cmd.HasParameter('S') {
			interp.state.Leveling = cmd.GetParameter('S', 0) != 0
		}
		interp.state.FadeHeight = cmd.GetParameter('Z', interp.state.FadeHeight)
	case 1000: // Resume from power loss
		return interp.host.ResumeFromPowerLoss()
	case 1001: // Job finished, discard recovery record
		return interp.host.FinishJob()
	case 1002: // Position shift
		interp.setOffsets(&interp.state.PositionShift, cmd)
	case 1003: // Retract state
		return interp.setRetractState(cmd)
	}

	return nil
}

// executeT handles tool changes. No tool-change motion is simulated, so
// T<n> and T<n> S1 behave the same.
func (interp *Interpreter) executeT(cmd *standalone.GCodeCommand) error {
	if cmd.Number < 0 || cmd.Number >= len(interp.state.Retracted) {
		return fmt.Errorf("%w: T%d", ErrUnknownTool, cmd.Number)
	}
	interp.state.ActiveTool = cmd.Number
	return nil
}

func (interp *Interpreter) offset(axis int) float64 {
	return interp.state.HomeOffset[axis] + interp.state.PositionShift[axis]
}

// LogicalPosition returns the current position in logical coordinates
func (interp *Interpreter) LogicalPosition() standalone.Position {
	pos := interp.planner.GetCurrentPosition()
	pos.X += interp.offset(0)
	pos.Y += interp.offset(1)
	pos.Z += interp.offset(2)
	pos.E = interp.state.LogicalE
	return pos
}

// NativePosition returns the current position in machine coordinates
func (interp *Interpreter) NativePosition() standalone.Position {
	return interp.planner.GetCurrentPosition()
}

// doMove executes a linear move (G0/G1)
func (interp *Interpreter) doMove(cmd *standalone.GCodeCommand) error {
	current := interp.planner.GetCurrentPosition()
	target := current

	// Update feedrate if specified
	if cmd.HasParameter('F') {
		interp.state.FeedRate = cmd.GetParameter('F', 0) / 60.0 // Convert mm/min to mm/s
	}

	axes := [3]byte{'X', 'Y', 'Z'}
	for i, letter := range axes {
		if !cmd.HasParameter(letter) {
			continue
		}
		v := cmd.GetParameter(letter, 0)
		var native float64
		if interp.state.AbsoluteMode {
			native = v - interp.offset(i)
		} else {
			native = current.Axis(i) + v
		}
		switch i {
		case 0:
			target.X = native
		case 1:
			target.Y = native
		case 2:
			target.Z = native
		}
	}

	// Handle extruder. E words are logical (mm³ when volumetric); only the
	// logical delta is converted to filament.
	logicalE := interp.state.LogicalE
	if cmd.HasParameter('E') {
		e := cmd.GetParameter('E', 0)
		delta, next := e-logicalE, e
		if interp.state.ExtrudeRelative {
			delta, next = e, logicalE+e
		}
		if area := interp.filamentArea(); area > 0 {
			target.E = current.E + delta/area
		} else {
			target.E = (current.E - logicalE) + next
		}
		logicalE = next
	}

	if err := interp.move(current, target, interp.state.FeedRate*interp.state.FeedMultiplier/100); err != nil {
		return err
	}
	interp.state.LogicalE = logicalE
	return nil
}

// filamentArea returns the active filament cross-section (mm²) in
// volumetric mode, 0 otherwise
func (interp *Interpreter) filamentArea() float64 {
	if !interp.state.Volumetric {
		return 0
	}
	d := interp.state.FilamentDiameter[interp.state.ActiveTool]
	if d <= 0 {
		return 0
	}
	return math.Pi * d * d / 4
}

func (interp *Interpreter) move(from, to standalone.Position, velocity float64) error {
	dx := to.X - from.X
	dy := to.Y - from.Y
	dz := to.Z - from.Z
	de := to.E - from.E
	distance := math.Sqrt(dx*dx + dy*dy + dz*dz)
	if distance < 1e-6 {
		// Extruder-only move
		distance = math.Abs(de)
	}
	if distance < 1e-6 {
		return nil
	}

	return interp.planner.QueueMove(&standalone.Move{
		Start:    from,
		End:      to,
		Velocity: velocity,
		Accel:    interp.config.DefaultAccel,
		Distance: distance,
	})
}

// MoveNative moves by a native-coordinate delta at velocity (mm/s). Used
// for moves that bypass the command stream.
func (interp *Interpreter) MoveNative(delta standalone.Position, velocity float64) error {
	from := interp.planner.GetCurrentPosition()
	to := standalone.Position{
		X: from.X + delta.X,
		Y: from.Y + delta.Y,
		Z: from.Z + delta.Z,
		E: from.E + delta.E,
	}
	return interp.move(from, to, velocity)
}

func (interp *Interpreter) doDwell(ctx context.Context, cmd *standalone.GCodeCommand) error {
	d := time.Duration(cmd.GetParameter('P', 0)) * time.Millisecond
	d += time.Duration(cmd.GetParameter('S', 0) * float64(time.Second))
	return interp.waitFor(ctx, d)
}

// waitFor idles until d has elapsed on the host clock. The host advances
// time on every Idle call, so the wait is counted in Idle rounds.
func (interp *Interpreter) waitFor(ctx context.Context, d time.Duration) error {
	for remaining := d; remaining > 0; remaining -= IdleQuantum {
		if err := interp.host.Idle(ctx); err != nil {
			return err
		}
	}
	return nil
}

// IdleQuantum is the time one Host.Idle call accounts for
const IdleQuantum = 100 * time.Millisecond

// doHome executes homing (G28). X and Y home to their minimum, Z to the
// end given by the configured homing direction.
func (interp *Interpreter) doHome(cmd *standalone.GCodeCommand) error {
	all := !cmd.HasParameter('X') && !cmd.HasParameter('Y') && !cmd.HasParameter('Z')
	current := interp.planner.GetCurrentPosition()
	target := current

	if all || cmd.HasParameter('X') {
		target.X = interp.config.Axes["x"].MinPosition
		interp.state.Homed[0] = true
	}
	if all || cmd.HasParameter('Y') {
		target.Y = interp.config.Axes["y"].MinPosition
		interp.state.Homed[1] = true
	}
	if all || cmd.HasParameter('Z') {
		z := interp.config.Axes["z"]
		target.Z = z.MinPosition
		if interp.config.ZHomeDir > 0 {
			target.Z = z.MaxPosition
		}
		interp.state.Homed[2] = true
	}

	velocity := interp.config.Axes["x"].HomingVel
	if velocity <= 0 {
		velocity = interp.config.DefaultVelocity
	}
	return interp.move(current, target, velocity)
}

// doSetPosition sets the logical position (G92) by adjusting the position
// shift. The machine does not move. E is set directly, and in volumetric
// mode only its logical value changes.
func (interp *Interpreter) doSetPosition(cmd *standalone.GCodeCommand) {
	logical := interp.LogicalPosition()
	axes := [3]byte{'X', 'Y', 'Z'}
	for i, letter := range axes {
		if cmd.HasParameter(letter) {
			interp.state.PositionShift[i] += cmd.GetParameter(letter, 0) - logical.Axis(i)
		}
	}
	if cmd.HasParameter('E') {
		interp.state.LogicalE = cmd.GetParameter('E', 0)
		if !interp.state.Volumetric {
			native := interp.planner.GetCurrentPosition()
			native.E = interp.state.LogicalE
			interp.planner.SetPosition(native)
		}
	}
}

// doSetNativePosition overwrites the machine position (G92.9) without
// touching any offsets. E sets both the native and the logical extruder.
func (interp *Interpreter) doSetNativePosition(cmd *standalone.GCodeCommand) {
	pos := interp.planner.GetCurrentPosition()
	pos.X = cmd.GetParameter('X', pos.X)
	pos.Y = cmd.GetParameter('Y', pos.Y)
	pos.Z = cmd.GetParameter('Z', pos.Z)
	pos.E = cmd.GetParameter('E', pos.E)
	if cmd.HasParameter('E') {
		interp.state.LogicalE = pos.E
	}
	interp.planner.SetPosition(pos)
}

func (interp *Interpreter) setOffsets(dst *[3]float64, cmd *standalone.GCodeCommand) {
	dst[0] = cmd.GetParameter('X', dst[0])
	dst[1] = cmd.GetParameter('Y', dst[1])
	dst[2] = cmd.GetParameter('Z', dst[2])
}

func (interp *Interpreter) tool(cmd *standalone.GCodeCommand) (int, error) {
	t := int(cmd.GetParameter('T', float64(interp.state.ActiveTool)))
	if t < 0 || t >= len(interp.state.Retracted) {
		return 0, fmt.Errorf("%w: T%d", ErrUnknownTool, t)
	}
	return t, nil
}

func (interp *Interpreter) doHotend(ctx context.Context, cmd *standalone.GCodeCommand, wait bool) error {
	t, err := interp.tool(cmd)
	if err != nil {
		return err
	}
	return interp.doTemperature(ctx, cmd, heater.Hotend(t), wait)
}

func (interp *Interpreter) doTemperature(ctx context.Context, cmd *standalone.GCodeCommand, name string, wait bool) error {
	if !interp.heaters.Has(name) {
		if cmd.GetParameter('S', 0) == 0 {
			return nil
		}
		return fmt.Errorf("%w: no %s heater", ErrBadArgument, name)
	}
	if cmd.HasParameter('S') {
		if err := interp.heaters.SetTarget(name, cmd.GetParameter('S', 0)); err != nil {
			return err
		}
	}
	if !wait {
		return nil
	}
	for !interp.heaters.Reached(name) {
		if err := interp.host.Idle(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (interp *Interpreter) temperatureReport() string {
	var b strings.Builder
	for i := range interp.state.Retracted {
		name := heater.Hotend(i)
		label := "T"
		if i > 0 {
			label = fmt.Sprintf("T%d", i)
		}
		fmt.Fprintf(&b, "%s:%.1f /%.1f ", label, interp.heaters.Temperature(name), interp.heaters.Target(name))
	}
	fmt.Fprintf(&b, "B:%.1f /%.1f", interp.heaters.Temperature(heater.Bed), interp.heaters.Target(heater.Bed))
	if interp.heaters.Has(heater.Chamber) {
		fmt.Fprintf(&b, " C:%.1f /%.1f", interp.heaters.Temperature(heater.Chamber), interp.heaters.Target(heater.Chamber))
	}
	return b.String()
}

func (interp *Interpreter) setFan(cmd *standalone.GCodeCommand, speed float64) error {
	p := int(cmd.GetParameter('P', 0))
	if p < 0 || p >= len(interp.state.FanSpeeds) {
		if len(interp.state.FanSpeeds) == 0 {
			return nil
		}
		return fmt.Errorf("%w: fan P%d", ErrBadArgument, p)
	}
	interp.state.FanSpeeds[p] = uint8(math.Max(0, math.Min(255, speed)))
	return nil
}

// doRetract performs a firmware retract (G10) or recover (G11) on the
// active tool
func (interp *Interpreter) doRetract(retract bool) error {
	t := interp.state.ActiveTool
	s := interp.state
	if retract == (s.Retracted[t] > 0) {
		return nil
	}

	length := s.RetractLength
	hop := s.RetractHop
	if retract {
		if err := interp.MoveNative(standalone.Position{E: -length}, s.RetractFeedrate); err != nil {
			return err
		}
		if hop > 0 {
			if err := interp.MoveNative(standalone.Position{Z: hop}, s.FeedRate); err != nil {
				return err
			}
		}
		s.Retracted[t] = length
		return nil
	}

	if hop > 0 {
		if err := interp.MoveNative(standalone.Position{Z: -hop}, s.FeedRate); err != nil {
			return err
		}
	}
	if err := interp.MoveNative(standalone.Position{E: s.Retracted[t]}, s.RetractFeedrate); err != nil {
		return err
	}
	s.Retracted[t] = 0
	return nil
}

// setRetractState marks an extruder as retracted without moving (M1003)
func (interp *Interpreter) setRetractState(cmd *standalone.GCodeCommand) error {
	t, err := interp.tool(cmd)
	if err != nil {
		return err
	}
	interp.state.Retracted[t] = cmd.GetParameter('R', 0)
	interp.state.RetractHop = cmd.GetParameter('Z', interp.state.RetractHop)
	return nil
}

func (interp *Interpreter) doVolumetric(cmd *standalone.GCodeCommand) error {
	t, err := interp.tool(cmd)
	if err != nil {
		return err
	}
	if cmd.HasParameter('D') {
		d := cmd.GetParameter('D', 0)
		if d < 0 {
			return fmt.Errorf("%w: diameter %.3f", ErrBadArgument, d)
		}
		if d > 0 {
			interp.state.FilamentDiameter[t] = d
		}
		if !cmd.HasParameter('S') {
			interp.state.Volumetric = d > 0
		}
	}
	if cmd.HasParameter('S') {
		interp.state.Volumetric = cmd.GetParameter('S', 0) != 0
	}
	return nil
}

func (interp *Interpreter) setMixWeight(cmd *standalone.GCodeCommand) error {
	i := int(cmd.GetParameter('S', 0))
	if i < 0 || i >= len(interp.pendingMix) {
		return fmt.Errorf("%w: mix stepper S%d", ErrBadArgument, i)
	}
	interp.pendingMix[i] = math.Max(0, cmd.GetParameter('P', 0))
	return nil
}

// commitMix normalizes the pending weights into the active mix (M164)
func (interp *Interpreter) commitMix(cmd *standalone.GCodeCommand) error {
	if len(interp.pendingMix) == 0 {
		return nil
	}
	var sum float64
	for _, w := range interp.pendingMix {
		sum += w
	}
	if sum == 0 {
		return fmt.Errorf("%w: mix weights are all zero", ErrBadArgument)
	}
	for i, w := range interp.pendingMix {
		interp.state.MixWeights[i] = w / sum
	}
	interp.state.MixVTool = int(cmd.GetParameter('S', float64(interp.state.MixVTool)))
	return nil
}

// GetState returns the current machine state
func (interp *Interpreter) GetState() *standalone.MachineState {
	return interp.state
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
