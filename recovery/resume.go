package recovery

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"

	"gopperplr/recovery/record"
)

// Step is one named stage of the resume sequence
type Step struct {
	Name     string
	Commands []string
}

// StepError reports the command a resume stopped at
type StepError struct {
	Step    string
	Command string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("resume step %s: %q: %v", e.Step, e.Command, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Feedrates (mm/min) for repositioning moves
const (
	xyFeedrate = 3000
	zFeedrate  = 200
)

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// BuildSequence derives the ordered resume commands from a valid snapshot.
// Position moves are issued in logical coordinates, which are native
// coordinates plus home offset plus position shift.
func BuildSequence(s *record.Snapshot, cfg Config) []Step {
	cfg = cfg.withDefaults()
	var steps []Step
	add := func(name string, cmds ...string) {
		if len(cmds) > 0 {
			steps = append(steps, Step{Name: name, Commands: cmds})
		}
	}

	off := func(axis int) float64 {
		return s.HomeOffset[axis] + s.PositionShift[axis]
	}
	trust := cfg.ZHomeDir < 0 && cfg.ZPolicy != ZRehome

	// Raw machine space from here until the offsets are restored
	add("raw-space",
		"M420 S0",
		"M206 X0 Y0 Z0",
		"M1002 X0 Y0 Z0",
		"G90",
		"M82")

	switch {
	case cfg.ZHomeDir > 0:
		add("home", "G28")
	default:
		base := 0.0
		if s.Raised {
			base = s.ZRaise
		}
		cmds := []string{
			fmt.Sprintf("G92.9 E0 Z%s", num(base)),
			fmt.Sprintf("G1 Z%s F%d", num(base+cfg.ZRaise), zFeedrate),
			"G28 X Y",
		}
		if !trust {
			cmds = append(cmds,
				fmt.Sprintf("G1 X%s Y%s F%d", num(cfg.ZHomePos[0]), num(cfg.ZHomePos[1]), xyFeedrate),
				"G28 Z",
				fmt.Sprintf("G1 Z%s F%d", num(cfg.ZRaise), zFeedrate))
		}
		add("home", cmds...)
	}

	add("offsets",
		fmt.Sprintf("M206 X%s Y%s Z%s", num(s.HomeOffset[0]), num(s.HomeOffset[1]), num(s.HomeOffset[2])),
		fmt.Sprintf("M1002 X%s Y%s Z%s", num(s.PositionShift[0]), num(s.PositionShift[1]), num(s.PositionShift[2])))

	add("tool", fmt.Sprintf("T%d S1", s.ActiveTool))

	if s.Volumetric || len(s.FilamentDiameter) > 0 {
		var cmds []string
		for e, d := range s.FilamentDiameter {
			cmds = append(cmds, fmt.Sprintf("M200 T%d D%s", e, num(d)))
		}
		if s.Volumetric {
			cmds = append(cmds, "M200 S1")
		} else {
			cmds = append(cmds, "M200 S0")
		}
		add("volumetric", cmds...)
	}

	var heat []string
	if s.BedTarget != 0 {
		heat = append(heat, fmt.Sprintf("M190 S%s", num(s.BedTarget)))
	}
	if s.ChamberTarget != 0 {
		heat = append(heat, fmt.Sprintf("M191 S%s", num(s.ChamberTarget)))
	}
	for e, t := range s.HotendTargets {
		if t != 0 {
			heat = append(heat, fmt.Sprintf("M109 T%d S%s", e, num(t)))
		}
	}
	add("heat", heat...)

	var fans []string
	for i, speed := range s.FanSpeeds {
		fans = append(fans, fmt.Sprintf("M106 P%d S%d", i, speed))
	}
	add("fans", fans...)

	var retract []string
	for e, r := range s.Retract {
		if r.Retracted > 0 {
			retract = append(retract, fmt.Sprintf("M1003 T%d R%s Z%s", e, num(r.Retracted), num(s.RetractHop)))
		}
	}
	add("retract", retract...)

	if len(s.MixWeights) > 0 {
		var cmds []string
		for i, w := range s.MixWeights {
			cmds = append(cmds, fmt.Sprintf("M163 S%d P%s", i, num(w)))
		}
		cmds = append(cmds, fmt.Sprintf("M164 S%d", s.MixVTool))
		add("mixing", cmds...)
	}

	if s.Leveling || s.FadeHeight != 0 {
		on := 0
		if s.Leveling {
			on = 1
		}
		add("leveling", fmt.Sprintf("M420 S%d Z%s", on, num(s.FadeHeight)))
	}

	if cfg.PurgeLength > 0 || cfg.RetractLength > 0 {
		cmds := []string{"G92.9 E0"}
		if cfg.PurgeLength > 0 {
			cmds = append(cmds, fmt.Sprintf("G1 E%s F%s", num(cfg.PurgeLength), num(cfg.PurgeFeedrate)))
		}
		if cfg.RetractLength > 0 {
			cmds = append(cmds, fmt.Sprintf("G1 E%s F%s", num(cfg.PurgeLength-cfg.RetractLength), num(cfg.RetractFeedrate)))
		}
		add("purge", cmds...)
	}

	add("move-xy", fmt.Sprintf("G1 X%s Y%s F%d",
		num(s.Position[record.AxisX]+off(0)),
		num(s.Position[record.AxisY]+off(1)), xyFeedrate))

	z := s.Position[record.AxisZ]
	if trust {
		add("move-z",
			fmt.Sprintf("G1 Z%s F%d", num(off(2)), zFeedrate),
			fmt.Sprintf("G92.9 Z%s", num(z)))
	} else {
		add("move-z", fmt.Sprintf("G1 Z%s F%d", num(z+off(2)), zFeedrate))
	}

	if cfg.RetractLength > 0 {
		add("unretract", fmt.Sprintf("G1 E%s F%s", num(cfg.PurgeLength), num(cfg.RetractFeedrate)))
	}

	add("feedrate", fmt.Sprintf("G1 F%s", num(s.Feedrate*60)))
	extruder := []string{fmt.Sprintf("G92.9 E%s", num(s.Position[record.AxisE]))}
	if s.Volumetric {
		extruder = append(extruder, fmt.Sprintf("G92 E%s", num(s.LogicalE)))
	}
	add("extruder", extruder...)

	modes := []string{"G90", "M82"}
	if s.AxisRelative&(record.RelX|record.RelY|record.RelZ) != 0 {
		modes[0] = "G91"
	}
	if s.AxisRelative&record.RelE != 0 {
		modes[1] = "M83"
	}
	add("modes", modes...)

	add("job",
		"M23 "+s.SourcePath,
		fmt.Sprintf("M24 S%d T%s", s.Offset, num(s.Elapsed.Seconds())))

	return steps
}

// ResumeTask replays a resume sequence one command per Poll. It is driven
// from the printer's main loop; Cancel may be called from anywhere.
type ResumeTask struct {
	steps  []Step
	sink   CommandSink
	log    zerolog.Logger
	onDone func(error)

	step, cmd int
	done      bool
	err       error
	canceled  atomic.Bool
}

func newResumeTask(steps []Step, sink CommandSink, l zerolog.Logger, onDone func(error)) *ResumeTask {
	return &ResumeTask{steps: steps, sink: sink, log: l, onDone: onDone}
}

// Steps returns the sequence being replayed
func (t *ResumeTask) Steps() []Step {
	return t.steps
}

// Cancel stops the task before its next command
func (t *ResumeTask) Cancel() {
	t.canceled.Store(true)
}

// Poll executes the next command. It returns done once the sequence has
// completed, failed or been canceled; err is the reason it stopped early.
func (t *ResumeTask) Poll(ctx context.Context) (bool, error) {
	if t.done {
		return true, t.err
	}
	if t.canceled.Load() {
		return t.finish(ErrResumeCanceled)
	}
	if err := ctx.Err(); err != nil {
		return t.finish(fmt.Errorf("%w: %w", ErrResumeCanceled, err))
	}

	for t.step < len(t.steps) && t.cmd >= len(t.steps[t.step].Commands) {
		t.step++
		t.cmd = 0
	}
	if t.step >= len(t.steps) {
		return t.finish(nil)
	}

	st := t.steps[t.step]
	line := st.Commands[t.cmd]
	if t.cmd == 0 {
		t.log.Debug().Str("step", st.Name).Msg("resume step")
	}
	if err := t.sink.Execute(ctx, line); err != nil {
		if ctx.Err() != nil || t.canceled.Load() {
			err = fmt.Errorf("%w: %w", ErrResumeCanceled, err)
		}
		return t.finish(&StepError{Step: st.Name, Command: line, Err: err})
	}
	t.cmd++
	return false, nil
}

func (t *ResumeTask) finish(err error) (bool, error) {
	t.done = true
	t.err = err
	if t.onDone != nil {
		t.onDone(err)
	}
	return true, err
}

// Replay runs the resume sequence for s through sink to completion without
// a controller. The stored record is not touched.
func Replay(ctx context.Context, s *record.Snapshot, cfg Config, sink CommandSink, l zerolog.Logger) error {
	if !record.Valid(s) {
		return fmt.Errorf("replay: record failed validity check head=%d foot=%d", s.ValidHead, s.ValidFoot)
	}
	task := newResumeTask(BuildSequence(s, cfg), sink, l, nil)
	for {
		done, err := task.Poll(ctx)
		if done {
			return err
		}
	}
}
