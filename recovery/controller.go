// Package recovery implements power-loss recovery for the standalone
// printer: periodic snapshots of the job state, detection of an interrupted
// job at boot, and the ordered command sequence that resumes it.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gopperplr/core"
	"gopperplr/log"
	"gopperplr/recovery/record"
	"gopperplr/recovery/store"
)

// ResumeCommand is injected at the front of the command queue when a valid
// record is found at boot. The interpreter answers it with StartResume.
const ResumeCommand = "M1000"

var (
	ErrNoPendingResume = errors.New("recovery: no resume pending")
	ErrResumeCanceled  = errors.New("recovery: resume canceled")
)

// State is the controller lifecycle state
type State uint8

const (
	StateIdle State = iota
	StateTracking
	StateResumePending
	StateResuming
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	case StateResumePending:
		return "resume-pending"
	case StateResuming:
		return "resuming"
	case StateHalted:
		return "halted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Machine is the live printer the controller snapshots and protects
type Machine interface {
	// CaptureState copies the live state into s. It must not touch the
	// validity counters.
	CaptureState(s *record.Snapshot)

	// NativeZ returns the current Z in machine coordinates
	NativeZ() float64

	// Printing reports whether a job is actively running from its source
	Printing() bool

	RaiseZ(mm float64) error
	Retract(mm float64) error
	DisableHeaters()
	Halt(reason string)
}

// CommandQueue accepts commands ahead of the queued ones
type CommandQueue interface {
	InjectFront(line string)
}

// CommandSink executes one command to completion
type CommandSink interface {
	Execute(ctx context.Context, line string) error
}

// Controller owns the in-memory snapshot and the stored record for one
// printer. It is driven from the printer's main loop and is not safe for
// concurrent use, except OnPowerLossSignal which is latched atomically.
type Controller struct {
	cfg     Config
	store   store.Store
	machine Machine
	queue   CommandQueue
	clock   core.Clock
	log     zerolog.Logger

	info      record.Snapshot
	enabled   bool
	state     State
	lastWrite time.Time
	lastErr   error
	writes    uint64

	outage  atomic.Bool
	samples int
	task    *ResumeTask
}

// NewController builds a controller around st
func NewController(cfg Config, st store.Store, machine Machine, queue CommandQueue) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:     cfg,
		store:   st,
		machine: machine,
		queue:   queue,
		clock:   core.SystemClock,
		log:     log.WithComponent("recovery"),
		enabled: cfg.Enabled,
	}
}

// SetClock replaces the clock used for the time trigger
func (c *Controller) SetClock(clock core.Clock) {
	c.clock = clock
}

// SetLogger replaces the controller logger
func (c *Controller) SetLogger(l zerolog.Logger) {
	c.log = l
}

// Config returns the effective configuration
func (c *Controller) Config() Config {
	return c.cfg
}

// Initialize zeroes the in-memory snapshot. Storage is left untouched.
func (c *Controller) Initialize() {
	c.info.Reset()
	c.lastWrite = time.Time{}
	c.state = StateIdle
}

func (c *Controller) Enabled() bool { return c.enabled }

func (c *Controller) State() State { return c.state }

// Writes returns the number of snapshots persisted by this controller
func (c *Controller) Writes() uint64 { return c.writes }

// LastWriteError returns the error of the most recent snapshot write, nil
// if it succeeded.
func (c *Controller) LastWriteError() error { return c.lastErr }

// Protected reports whether the last snapshot write went through
func (c *Controller) Protected() bool {
	return c.enabled && c.lastErr == nil
}

// Snapshot returns a copy of the in-memory snapshot
func (c *Controller) Snapshot() *record.Snapshot {
	return c.info.Clone()
}

// SetEnabled turns recovery on or off. Disabling purges the record;
// enabling during a print forces a snapshot.
func (c *Controller) SetEnabled(on bool) {
	if on == c.enabled {
		return
	}
	c.enabled = on
	c.log.Info().Bool("enabled", on).Msg("power-loss recovery toggled")

	if !on {
		if err := c.purge("disabled"); err != nil {
			c.log.Error().Err(err).Msg("purge on disable")
		}
		return
	}
	if c.machine.Printing() {
		_, _ = c.MaybeSnapshot(true)
	}
}

// CheckAtBoot looks for an interrupted job. It mounts the volume if needed,
// loads and validates the record and, for a valid one, queues
// ResumeCommand. Invalid records are purged. It reports whether a resume
// was queued.
func (c *Controller) CheckAtBoot() bool {
	if !c.store.Mounted() {
		if err := c.store.Mount(); err != nil {
			c.log.Debug().Err(err).Msg("media not mounted, nothing to recover")
			return false
		}
	}
	if !c.enabled {
		return false
	}

	ok, err := c.store.Exists()
	if err != nil {
		c.log.Warn().Err(err).Msg("check recovery record")
		return false
	}
	if !ok {
		return false
	}

	snap, err := Load(c.store)
	if err == nil && !record.Valid(snap) {
		err = fmt.Errorf("validity mismatch head=%d foot=%d", snap.ValidHead, snap.ValidFoot)
	}
	if err != nil {
		c.log.Debug().Err(err).Msg("discarding invalid recovery record")
		if perr := c.purge("invalid"); perr != nil {
			c.log.Error().Err(perr).Msg("purge invalid record")
		}
		return false
	}

	c.info = *snap
	c.state = StateResumePending
	c.log.Info().
		Str("file", snap.SourcePath).
		Uint64("offset", snap.Offset).
		Float64("z", snap.Position[record.AxisZ]).
		Msg("interrupted job found, queueing resume")
	c.queue.InjectFront(ResumeCommand)
	return true
}

// Load reads and decodes the stored record without checking validity
func Load(st store.Store) (*record.Snapshot, error) {
	rec, err := st.Open(true)
	if err != nil {
		return nil, err
	}
	defer rec.Close()

	if err := rec.SeekToStart(); err != nil {
		return nil, fmt.Errorf("seek record: %w", err)
	}
	data, err := rec.ReadAll(record.MaxSize)
	if err != nil {
		return nil, err
	}
	return record.Decode(data)
}

// MaybeSnapshot writes a snapshot when forced or when a trigger fires: each
// command mode, the save interval, or Z rising more than MinZChange above
// the last snapshot. It is a no-op unless recovery is enabled and a job is
// printing, and during a power-loss outage. It reports whether a write was
// attempted and its error.
func (c *Controller) MaybeSnapshot(force bool) (bool, error) {
	if !c.enabled || c.outage.Load() || c.state == StateResuming || !c.machine.Printing() {
		return false, nil
	}
	if !force && !c.due() {
		return false, nil
	}
	return true, c.write(0)
}

func (c *Controller) due() bool {
	if c.cfg.SaveEachCommand {
		return true
	}
	if c.cfg.SaveInterval > 0 && c.clock.Now().Sub(c.lastWrite) >= c.cfg.SaveInterval {
		return true
	}
	return c.machine.NativeZ()-c.info.Position[record.AxisZ] > c.cfg.MinZChange
}

// write captures, encodes and persists a snapshot. lift is the Z raise the
// outage handler is about to perform, 0 otherwise. The counters only
// advance when the record reaches the media.
func (c *Controller) write(lift float64) error {
	prev := c.info.ValidHead
	head := record.NextValid(prev)
	c.machine.CaptureState(&c.info)
	c.info.ZRaise = lift
	c.info.Raised = lift > 0
	c.info.ValidHead = head
	c.info.ValidFoot = head
	c.lastWrite = c.clock.Now()
	if c.state == StateIdle {
		c.state = StateTracking
	}

	data := record.Encode(&c.info)
	var err error
	if len(data) > record.MaxSize {
		err = fmt.Errorf("%w: %d bytes, limit %d", store.ErrTooLarge, len(data), record.MaxSize)
	} else {
		err = c.persist(data)
	}
	c.lastErr = err
	if err != nil {
		c.info.ValidHead = prev
		c.info.ValidFoot = prev
		snapshotWriteFailures.Inc()
		snapshotLastWriteSuccess.Set(0)
		c.log.Error().Err(err).Uint8("valid", head).Msg("snapshot write failed")
		return err
	}
	c.writes++
	snapshotWrites.Inc()
	snapshotLastWriteSuccess.Set(1)
	c.log.Debug().
		Uint8("valid", head).
		Float64("z", c.info.Position[record.AxisZ]).
		Uint64("offset", c.info.Offset).
		Msg("snapshot written")
	return nil
}

func (c *Controller) persist(data []byte) error {
	if !c.store.Mounted() {
		if err := c.store.Mount(); err != nil {
			return err
		}
	}
	rec, err := c.store.Open(false)
	if err != nil {
		return err
	}
	if err := rec.SeekToStart(); err != nil {
		_ = rec.Close()
		return fmt.Errorf("seek record: %w", err)
	}
	if err := rec.WriteAll(data); err != nil {
		_ = rec.Close()
		return err
	}
	return rec.Close()
}

// PollPowerLoss samples the power-loss input. The handler fires after
// OutageThreshold consecutive active samples.
func (c *Controller) PollPowerLoss(active bool) {
	if !active {
		c.samples = 0
		return
	}
	c.samples++
	if c.samples >= c.cfg.OutageThreshold {
		c.OnPowerLossSignal()
	}
}

// OnPowerLossSignal handles an imminent power loss. Only the first call
// acts. It saves the job if printing, spends backup power on a retract, a
// bounded Z lift and cutting the heaters, then halts the machine.
func (c *Controller) OnPowerLossSignal() {
	if !c.outage.CompareAndSwap(false, true) {
		return
	}
	powerLossEvents.Inc()
	c.log.Warn().Msg("power loss detected")

	if c.enabled && c.machine.Printing() {
		lift := 0.0
		if c.cfg.BackupPower {
			lift = c.clampLift(c.machine.NativeZ())
		}
		_ = c.write(lift)

		if c.cfg.BackupPower {
			if c.cfg.RetractLength > 0 {
				if err := c.machine.Retract(c.cfg.RetractLength); err != nil {
					c.log.Error().Err(err).Msg("outage retract")
				}
			}
			if lift > 0 {
				if err := c.machine.RaiseZ(lift); err != nil {
					c.log.Error().Err(err).Msg("outage z raise")
				}
			}
		}
	}
	if c.cfg.BackupPower {
		c.machine.DisableHeaters()
	}

	c.state = StateHalted
	c.machine.Halt("power loss")
}

func (c *Controller) clampLift(z float64) float64 {
	lift := c.cfg.ZRaise
	if c.cfg.ZMax > 0 {
		lift = math.Min(lift, c.cfg.ZMax-z)
	}
	return math.Max(lift, 0)
}

// InOutage reports whether the power-loss handler has fired
func (c *Controller) InOutage() bool {
	return c.outage.Load()
}

// Purge deletes the record and zeroes the in-memory snapshot
func (c *Controller) Purge() error {
	return c.purge("manual")
}

// JobComplete purges after a job finished normally
func (c *Controller) JobComplete() error {
	return c.purge("complete")
}

func (c *Controller) purge(reason string) error {
	c.info.Reset()
	c.lastWrite = time.Time{}
	if c.state != StateHalted {
		c.state = StateIdle
	}

	if !c.store.Mounted() {
		return nil
	}
	if err := c.store.Remove(); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	recordPurges.WithLabelValues(reason).Inc()
	c.log.Debug().Str("reason", reason).Msg("recovery record purged")
	return nil
}

// StartResume builds the resume sequence for the pending record and returns
// the task that replays it through sink. The caller polls the task from its
// main loop.
func (c *Controller) StartResume(sink CommandSink) (*ResumeTask, error) {
	if c.state != StateResumePending {
		return nil, ErrNoPendingResume
	}
	snap := c.info.Clone()
	steps := BuildSequence(snap, c.cfg)

	c.state = StateResuming
	c.log.Info().Int("steps", len(steps)).Msg("resuming interrupted job")
	c.task = newResumeTask(steps, sink, c.log, c.finishResume)
	return c.task, nil
}

// Resume runs the pending resume to completion
func (c *Controller) Resume(ctx context.Context, sink CommandSink) error {
	task, err := c.StartResume(sink)
	if err != nil {
		return err
	}
	for {
		done, err := task.Poll(ctx)
		if done {
			return err
		}
	}
}

// CancelResume aborts a running resume
func (c *Controller) CancelResume() {
	if c.task != nil {
		c.task.Cancel()
	}
}

// finishResume is called once by the task. A failed resume is not rolled
// back: the record stays on the media and the resume can be retried.
func (c *Controller) finishResume(err error) {
	c.task = nil
	switch {
	case err == nil:
		c.state = StateTracking
		c.lastWrite = c.clock.Now()
		resumesTotal.WithLabelValues("success").Inc()
		c.log.Info().Msg("resume complete")
	case errors.Is(err, ErrResumeCanceled):
		c.state = StateResumePending
		resumesTotal.WithLabelValues("canceled").Inc()
		c.log.Warn().Err(err).Msg("resume canceled")
	default:
		c.state = StateResumePending
		resumesTotal.WithLabelValues("failure").Inc()
		c.log.Error().Err(err).Msg("resume failed")
	}
}
