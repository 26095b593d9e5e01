// Package printer runs the simulated standalone printer: a command queue,
// the job loop and the power-loss recovery wiring around the interpreter.
package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gopperplr/core"
	"gopperplr/log"
	"gopperplr/recovery"
	"gopperplr/recovery/record"
	"gopperplr/recovery/store"
	"gopperplr/standalone"
	"gopperplr/standalone/gcode"
	"gopperplr/standalone/heater"
	"gopperplr/standalone/job"
	"gopperplr/standalone/kinematics"
	"gopperplr/standalone/planner"
)

var (
	ErrHalted      = errors.New("printer: halted")
	ErrNotSelected = errors.New("printer: no job selected")
)

// Options configures a Manager
type Options struct {
	// MediaRoot is the directory job paths are resolved against
	MediaRoot string
	// Store holds the recovery record
	Store store.Store
	// Clock is the simulated clock. A fresh one is created if nil.
	Clock *core.SimClock
	// Output receives command responses. Defaults to io.Discard.
	Output io.Writer
	// Logger overrides the component logger
	Logger *zerolog.Logger
}

// Manager coordinates all standalone mode components
type Manager struct {
	config      *standalone.MachineConfig
	parser      *gcode.Parser
	interpreter *gcode.Interpreter
	planner     *planner.Planner
	kinematics  kinematics.Kinematics
	heaters     *heater.Bank
	recovery    *recovery.Controller

	clock     *core.SimClock
	scheduler *core.Scheduler
	saveTimer core.Timer
	log       zerolog.Logger
	out       io.Writer

	mediaRoot string
	queue     []string

	job      *job.Job
	printing bool
	started  bool
	offset   uint64 // job offset reported in snapshots
	lines    uint64

	task *recovery.ResumeTask

	powerLine atomic.Bool
	halted    atomic.Bool
	haltMsg   string
}

// NewManager creates a manager with an existing config
func NewManager(cfg *standalone.MachineConfig, opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("printer: no recovery store")
	}
	kin, err := kinematics.New(cfg)
	if err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = core.NewSimClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	l := log.WithComponent("printer")
	if opts.Logger != nil {
		l = *opts.Logger
	}

	m := &Manager{
		config:     cfg,
		parser:     gcode.NewParser(),
		kinematics: kin,
		heaters:    heater.NewBank(cfg),
		clock:      clock,
		scheduler:  core.NewScheduler(clock),
		log:        l,
		out:        out,
		mediaRoot:  opts.MediaRoot,
	}
	m.planner = planner.NewPlanner(cfg, kin, m.elapse)
	m.interpreter = gcode.NewInterpreter(cfg, m.planner, m.heaters, m)

	m.recovery = recovery.NewController(RecoveryConfig(cfg), opts.Store, m, m)
	m.recovery.SetClock(clock)
	m.recovery.SetLogger(l.With().Str("component", "recovery").Logger())
	return m, nil
}

// RecoveryConfig maps the machine config onto the recovery settings
func RecoveryConfig(cfg *standalone.MachineConfig) recovery.Config {
	r := cfg.Recovery
	return recovery.Config{
		Enabled:         r.Enabled,
		SaveInterval:    r.SaveInterval,
		SaveEachCommand: r.SaveEachCommand,
		MinZChange:      r.MinZChange,
		ZRaise:          r.ZRaise,
		PurgeLength:     r.PurgeLength,
		RetractLength:   r.RetractLength,
		PurgeFeedrate:   r.PurgeFeedrate,
		RetractFeedrate: r.RetractFeedrate,
		BackupPower:     r.BackupPower,
		ZHomeDir:        cfg.ZHomeDir,
		ZPolicy:         recovery.ZPolicy(r.ZPolicy),
		ZHomePos:        r.ZHomePos,
		ZMax:            cfg.Axes["z"].MaxPosition,
		OutageThreshold: r.OutageThreshold,
	}
}

// Initialize resets the recovery state and arms the periodic save timer
func (m *Manager) Initialize() {
	m.recovery.Initialize()

	interval := m.recovery.Config().SaveInterval
	if interval <= 0 {
		return
	}
	m.saveTimer = core.Timer{
		WakeTime: m.clock.Now().Add(interval),
		Handler: func(t *core.Timer) uint8 {
			if _, err := m.recovery.MaybeSnapshot(false); err != nil {
				m.log.Debug().Err(err).Msg("periodic snapshot")
			}
			t.WakeTime = m.clock.Now().Add(interval)
			return core.SF_RESCHEDULE
		},
	}
	m.scheduler.ScheduleTimer(&m.saveTimer)
}

// Boot runs the recovery check. It reports whether a resume was queued.
func (m *Manager) Boot() bool {
	return m.recovery.CheckAtBoot()
}

// Recovery returns the recovery controller
func (m *Manager) Recovery() *recovery.Controller { return m.recovery }

// Interpreter returns the G-code interpreter
func (m *Manager) Interpreter() *gcode.Interpreter { return m.interpreter }

// Planner returns the motion planner
func (m *Manager) Planner() *planner.Planner { return m.planner }

// Heaters returns the heater bank
func (m *Manager) Heaters() *heater.Bank { return m.heaters }

// Clock returns the simulated clock
func (m *Manager) Clock() *core.SimClock { return m.clock }

// Lines returns the number of job lines executed
func (m *Manager) Lines() uint64 { return m.lines }

// Halted reports whether the machine has been halted
func (m *Manager) Halted() bool { return m.halted.Load() }

// Enqueue appends a command to the queue
func (m *Manager) Enqueue(line string) {
	m.queue = append(m.queue, line)
}

// InjectFront puts a command ahead of everything queued
func (m *Manager) InjectFront(line string) {
	m.queue = append([]string{line}, m.queue...)
}

// SignalPowerLoss sets the level of the power-loss input. It is safe to
// call from any goroutine; the main loop samples it.
func (m *Manager) SignalPowerLoss(active bool) {
	m.powerLine.Store(active)
}

// Busy reports whether there is queued work, a running job or a resume
func (m *Manager) Busy() bool {
	return len(m.queue) > 0 || m.task != nil || m.Printing()
}

// Step runs one unit of work: a resume command, a queued command or a job
// line, in that order. It reports whether anything ran.
func (m *Manager) Step(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.pollPowerLine()
	if m.halted.Load() {
		return false, ErrHalted
	}

	if m.task != nil {
		done, err := m.task.Poll(ctx)
		if done {
			m.task = nil
		}
		return true, err
	}

	if len(m.queue) > 0 {
		line := m.queue[0]
		m.queue = m.queue[1:]
		return true, m.exec(ctx, line)
	}

	if m.Printing() {
		return true, m.stepJob(ctx)
	}
	return false, nil
}

// Run steps until there is nothing left to do. Command errors are logged
// and reported; a halt or a canceled context ends the loop.
func (m *Manager) Run(ctx context.Context) error {
	for {
		ran, err := m.Step(ctx)
		switch {
		case errors.Is(err, ErrHalted), ctx.Err() != nil:
			if err == nil {
				err = ctx.Err()
			}
			return err
		case err != nil:
			m.log.Error().Err(err).Msg("command failed")
			m.Respond("Error: " + err.Error())
		case !ran:
			return nil
		}
	}
}

func (m *Manager) stepJob(ctx context.Context) error {
	line, start, next, err := m.job.Next()
	if errors.Is(err, io.EOF) {
		return m.completeJob()
	}
	if err != nil {
		return err
	}

	m.offset = start
	err = m.exec(ctx, line)
	m.lines++
	if err != nil {
		return fmt.Errorf("line at offset %d: %w", start, err)
	}
	m.offset = next
	if _, err := m.recovery.MaybeSnapshot(false); err != nil {
		m.log.Debug().Err(err).Msg("snapshot after command")
	}
	return nil
}

func (m *Manager) completeJob() error {
	m.log.Info().Str("file", m.job.Path()).Uint64("lines", m.lines).Msg("job complete")
	m.closeJob()
	return m.recovery.JobComplete()
}

func (m *Manager) closeJob() {
	if m.job != nil {
		_ = m.job.Close()
	}
	m.job = nil
	m.printing = false
	m.started = false
}

func (m *Manager) exec(ctx context.Context, line string) error {
	cmd, err := m.parser.ParseLine(line)
	if err != nil {
		return err
	}
	if err := m.interpreter.Execute(ctx, cmd); err != nil {
		if m.halted.Load() {
			return fmt.Errorf("%w: %s", ErrHalted, m.haltMsg)
		}
		return err
	}
	m.scheduler.Dispatch()
	return nil
}

// Execute runs one command to completion. The resume task drives the
// printer through it.
func (m *Manager) Execute(ctx context.Context, line string) error {
	if m.halted.Load() {
		return ErrHalted
	}
	return m.exec(ctx, line)
}

// elapse accounts simulated time spent by a move or a wait
func (m *Manager) elapse(d time.Duration) {
	m.clock.Advance(d)
	m.heaters.Tick(d)
}

func (m *Manager) pollPowerLine() {
	m.recovery.PollPowerLoss(m.powerLine.Load())
}

// Idle services timers, heaters and the power-loss line while a command
// waits
func (m *Manager) Idle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.elapse(gcode.IdleQuantum)
	m.scheduler.Dispatch()
	m.pollPowerLine()
	if m.halted.Load() {
		return ErrHalted
	}
	return nil
}

// Machine state for recovery

// CaptureState copies the live printer state into s
func (m *Manager) CaptureState(s *record.Snapshot) {
	state := m.interpreter.GetState()
	pos := m.planner.GetCurrentPosition()

	for i := range s.Position {
		s.Position[i] = pos.Axis(i)
	}
	s.Feedrate = state.FeedRate
	s.ActiveTool = uint8(state.ActiveTool)
	s.AxisRelative = 0
	if !state.AbsoluteMode {
		s.AxisRelative |= record.RelX | record.RelY | record.RelZ
	}
	if state.ExtrudeRelative {
		s.AxisRelative |= record.RelE
	}
	s.HomeOffset = state.HomeOffset
	s.PositionShift = state.PositionShift

	s.HotendTargets = s.HotendTargets[:0]
	for i := range state.Retracted {
		s.HotendTargets = append(s.HotendTargets, m.heaters.Target(heater.Hotend(i)))
	}
	s.BedTarget = m.heaters.Target(heater.Bed)
	s.ChamberTarget = m.heaters.Target(heater.Chamber)
	s.FanSpeeds = append(s.FanSpeeds[:0], state.FanSpeeds...)

	s.SourcePath = ""
	s.Elapsed = 0
	if m.job != nil {
		s.SourcePath = m.job.Path()
		s.Elapsed = m.job.Elapsed(m.clock.Now())
	}
	s.Offset = m.offset

	s.Leveling = state.Leveling
	s.FadeHeight = state.FadeHeight

	s.Retract = s.Retract[:0]
	for _, r := range state.Retracted {
		s.Retract = append(s.Retract, record.RetractState{Retracted: r})
	}
	s.RetractHop = state.RetractHop

	s.Volumetric = state.Volumetric
	s.FilamentDiameter = append(s.FilamentDiameter[:0], state.FilamentDiameter...)
	s.LogicalE = state.LogicalE

	s.MixWeights = append(s.MixWeights[:0], state.MixWeights...)
	s.MixVTool = uint8(state.MixVTool)
}

// NativeZ returns Z in machine coordinates
func (m *Manager) NativeZ() float64 {
	return m.planner.GetCurrentPosition().Z
}

// Printing reports whether a job is running and not paused
func (m *Manager) Printing() bool {
	return m.job != nil && m.printing && !m.job.Paused()
}

// RaiseZ lifts the nozzle by mm at the Z axis speed limit
func (m *Manager) RaiseZ(mm float64) error {
	return m.interpreter.MoveNative(standalone.Position{Z: mm}, m.config.Axes["z"].MaxVelocity)
}

// Retract pulls the filament back by mm at the recovery retract feedrate
func (m *Manager) Retract(mm float64) error {
	return m.interpreter.MoveNative(standalone.Position{E: -mm}, m.recovery.Config().RetractFeedrate/60)
}

// DisableHeaters switches every heater off
func (m *Manager) DisableHeaters() {
	m.heaters.DisableAll()
}

// Halt stops the machine. Every later Step and Idle returns ErrHalted.
func (m *Manager) Halt(reason string) {
	m.haltMsg = reason
	m.halted.Store(true)
	m.planner.ClearQueue()
	m.planner.Steppers().DisableAll()
	m.queue = nil
	if m.task != nil {
		m.task.Cancel()
	}
	m.log.Warn().Str("reason", reason).Msg("machine halted")
}

// Host services for the interpreter

// SelectFile opens path on the media as the current job
func (m *Manager) SelectFile(path string) error {
	j, err := job.Open(m.mediaRoot, path)
	if err != nil {
		return err
	}
	m.closeJob()
	m.job = j
	m.lines = 0
	m.log.Info().Str("file", path).Uint64("size", j.Size()).Msg("job selected")
	return nil
}

// StartJob starts the selected job at offset, or continues it when offset
// is negative. Starting a fresh job discards a pending recovery record.
func (m *Manager) StartJob(offset int64, elapsed time.Duration) error {
	if m.job == nil {
		return ErrNotSelected
	}
	now := m.clock.Now()

	if offset < 0 && m.started {
		m.job.Unpause(now)
		m.printing = true
		return nil
	}

	if m.recovery.State() == recovery.StateResumePending {
		m.log.Info().Msg("new job started, discarding recovery record")
		if err := m.recovery.Purge(); err != nil {
			return err
		}
	}
	if offset >= 0 {
		if err := m.job.Seek(uint64(offset)); err != nil {
			return err
		}
	}
	m.offset = m.job.Offset()
	m.job.Start(now, elapsed)
	m.started = true
	m.printing = true
	return nil
}

// PauseJob pauses the running job
func (m *Manager) PauseJob() {
	if m.job != nil && m.printing {
		m.job.Pause(m.clock.Now())
	}
}

// FinishJob ends the job and discards the recovery record
func (m *Manager) FinishJob() error {
	m.closeJob()
	return m.recovery.JobComplete()
}

// SetRecoveryEnabled switches power-loss recovery on or off
func (m *Manager) SetRecoveryEnabled(on bool) {
	m.recovery.SetEnabled(on)
}

// RecoveryEnabled reports whether power-loss recovery is on
func (m *Manager) RecoveryEnabled() bool {
	return m.recovery.Enabled()
}

// ResumeFromPowerLoss starts replaying the pending record
func (m *Manager) ResumeFromPowerLoss() error {
	task, err := m.recovery.StartResume(m)
	if err != nil {
		return err
	}
	m.task = task
	return nil
}

// CancelResume aborts a running resume
func (m *Manager) CancelResume() {
	m.recovery.CancelResume()
}

// Respond writes a response line
func (m *Manager) Respond(msg string) {
	fmt.Fprintln(m.out, msg)
}
