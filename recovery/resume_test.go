package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopperplr/log"
	"gopperplr/recovery/record"
)

func stepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

func flatten(steps []Step) []string {
	var out []string
	for _, s := range steps {
		out = append(out, s.Commands...)
	}
	return out
}

func fullSnapshot() *record.Snapshot {
	return &record.Snapshot{
		ValidHead:        3,
		ValidFoot:        3,
		Position:         [record.NumAxes]float64{100, 50, 5.26, 812.5},
		Feedrate:         40,
		ActiveTool:       1,
		AxisRelative:     record.RelE,
		HomeOffset:       [3]float64{1, 0, -0.2},
		PositionShift:    [3]float64{0, 2, 0},
		HotendTargets:    []float64{210, 0},
		BedTarget:        60,
		ChamberTarget:    40,
		FanSpeeds:        []uint8{255},
		SourcePath:       "/sd/part.gcode",
		Offset:           90210,
		Elapsed:          90 * time.Second,
		Leveling:         true,
		FadeHeight:       10,
		Retract:          []record.RetractState{{Retracted: 0.8}},
		RetractHop:       0.2,
		Volumetric:       true,
		FilamentDiameter: []float64{1.75},
		LogicalE:         1600,
		MixWeights:       []float64{0.25, 0.75},
		MixVTool:         2,
	}
}

func TestBuildSequenceOrder(t *testing.T) {
	cfg := testConfig()
	cfg.PurgeLength = 5
	cfg.RetractLength = 1

	steps := BuildSequence(fullSnapshot(), cfg)
	assert.Equal(t, []string{
		"raw-space", "home", "offsets", "tool", "volumetric", "heat", "fans",
		"retract", "mixing", "leveling", "purge", "move-xy", "move-z", "unretract",
		"feedrate", "extruder", "modes", "job",
	}, stepNames(steps))

	assert.Equal(t, []string{
		"M420 S0", "M206 X0 Y0 Z0", "M1002 X0 Y0 Z0", "G90", "M82",
		"G92.9 E0 Z0", "G1 Z2 F200", "G28 X Y",
		"M206 X1 Y0 Z-0.2", "M1002 X0 Y2 Z0",
		"T1 S1",
		"M200 T0 D1.75", "M200 S1",
		"M190 S60", "M191 S40", "M109 T0 S210",
		"M106 P0 S255",
		"M1003 T0 R0.8 Z0.2",
		"M163 S0 P0.25", "M163 S1 P0.75", "M164 S2",
		"M420 S1 Z10",
		"G92.9 E0", "G1 E5 F200", "G1 E4 F3000",
		"G1 X101 Y52 F3000",
		"G1 Z-0.2 F200", "G92.9 Z5.26",
		"G1 E5 F3000",
		"G1 F2400",
		"G92.9 E812.5", "G92 E1600",
		"G90", "M83",
		"M23 /sd/part.gcode", "M24 S90210 T90",
	}, flatten(steps))
}

func TestBuildSequenceRaisedBase(t *testing.T) {
	s := fullSnapshot()
	s.Raised = true
	s.ZRaise = 1.5

	steps := BuildSequence(s, testConfig())
	assert.Equal(t, []string{"G92.9 E0 Z1.5", "G1 Z3.5 F200", "G28 X Y"}, steps[1].Commands)
}

func TestBuildSequenceHomingPolicies(t *testing.T) {
	s := &record.Snapshot{ValidHead: 1, ValidFoot: 1, Position: [record.NumAxes]float64{10, 10, 7, 0}}

	cfg := testConfig()
	cfg.ZHomeDir = 1
	steps := BuildSequence(s, cfg)
	assert.Equal(t, []string{"G28"}, steps[1].Commands)
	assert.Contains(t, flatten(steps), "G1 Z7 F200")
	assert.NotContains(t, flatten(steps), "G92.9 Z7")

	cfg = testConfig()
	cfg.ZPolicy = ZRehome
	cfg.ZHomePos = [2]float64{150, 150}
	steps = BuildSequence(s, cfg)
	assert.Equal(t, []string{
		"G92.9 E0 Z0", "G1 Z2 F200", "G28 X Y", "G1 X150 Y150 F3000", "G28 Z", "G1 Z2 F200",
	}, steps[1].Commands)
	assert.Contains(t, flatten(steps), "G1 Z7 F200")
}

func TestBuildSequenceSkipsAbsentState(t *testing.T) {
	s := &record.Snapshot{ValidHead: 1, ValidFoot: 1, SourcePath: "a.g"}
	names := stepNames(BuildSequence(s, testConfig()))

	for _, absent := range []string{"volumetric", "heat", "fans", "retract", "mixing", "leveling", "purge", "unretract"} {
		assert.NotContains(t, names, absent)
	}
	assert.Equal(t, "job", names[len(names)-1])
}

func pendingHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, testConfig())
	h.machine.pos = [record.NumAxes]float64{100, 50, 5.26, 812.5}
	h.machine.offset = 1234
	_, err := h.ctrl.MaybeSnapshot(true)
	require.NoError(t, err)

	fresh := h.reboot(t, testConfig())
	require.True(t, fresh.ctrl.CheckAtBoot())
	return fresh
}

func TestResumeRunsSequence(t *testing.T) {
	h := pendingHarness(t)
	sink := &fakeSink{}

	require.NoError(t, h.ctrl.Resume(context.Background(), sink))
	assert.Equal(t, StateTracking, h.ctrl.State())
	assert.Equal(t, "M24 S1234 T0", sink.lines[len(sink.lines)-1])
	assert.True(t, h.exists(t))
}

func TestResumeRequiresPending(t *testing.T) {
	h := newHarness(t, testConfig())
	assert.ErrorIs(t, h.ctrl.Resume(context.Background(), &fakeSink{}), ErrNoPendingResume)
}

func TestResumeFailureStopsWithoutRollback(t *testing.T) {
	h := pendingHarness(t)
	fault := errors.New("thermal runaway")
	sink := &fakeSink{failOn: "M109", err: fault}

	err := h.ctrl.Resume(context.Background(), sink)
	require.ErrorIs(t, err, fault)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "heat", stepErr.Step)
	assert.Equal(t, "M109 T0 S210", stepErr.Command)

	assert.NotContains(t, sink.lines, "M106 P0 S0")
	for _, line := range sink.lines {
		assert.NotContains(t, line, "M24")
	}
	assert.Equal(t, StateResumePending, h.ctrl.State())
	assert.True(t, h.exists(t), "record is kept for another attempt")

	sink.failOn = ""
	require.NoError(t, h.ctrl.Resume(context.Background(), sink))
	assert.Equal(t, StateTracking, h.ctrl.State())
}

func TestResumeTaskCancel(t *testing.T) {
	h := pendingHarness(t)
	sink := &fakeSink{}

	task, err := h.ctrl.StartResume(sink)
	require.NoError(t, err)
	assert.Equal(t, StateResuming, h.ctrl.State())

	done, err := task.Poll(context.Background())
	require.NoError(t, err)
	require.False(t, done)

	h.ctrl.CancelResume()
	done, err = task.Poll(context.Background())
	assert.True(t, done)
	assert.ErrorIs(t, err, ErrResumeCanceled)
	assert.Len(t, sink.lines, 1)
	assert.Equal(t, StateResumePending, h.ctrl.State())

	done, err = task.Poll(context.Background())
	assert.True(t, done)
	assert.ErrorIs(t, err, ErrResumeCanceled)
}

func TestResumeContextCanceledMidStep(t *testing.T) {
	h := pendingHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &fakeSink{failOn: "M190"}
	sink.hook = func(line string) {
		if line == "M190 S60" {
			cancel()
			sink.err = ctx.Err()
		}
	}

	err := h.ctrl.Resume(ctx, sink)
	assert.ErrorIs(t, err, ErrResumeCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotsSuppressedWhileResuming(t *testing.T) {
	h := pendingHarness(t)
	h.machine.printing = true

	sink := &fakeSink{hook: func(string) {
		wrote, _ := h.ctrl.MaybeSnapshot(true)
		assert.False(t, wrote)
	}}
	require.NoError(t, h.ctrl.Resume(context.Background(), sink))

	wrote, err := h.ctrl.MaybeSnapshot(true)
	require.NoError(t, err)
	assert.True(t, wrote)
}

func TestReplay(t *testing.T) {
	sink := &fakeSink{}
	s := fullSnapshot()
	require.NoError(t, Replay(context.Background(), s, testConfig(), sink, log.Discard()))
	assert.Equal(t, flatten(BuildSequence(s, testConfig())), sink.lines)

	fault := errors.New("printer said no")
	err := Replay(context.Background(), s, testConfig(), &fakeSink{failOn: "M190", err: fault}, log.Discard())
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "heat", stepErr.Step)
	assert.ErrorIs(t, err, fault)

	s.ValidFoot = 4
	assert.Error(t, Replay(context.Background(), s, testConfig(), &fakeSink{}, log.Discard()))
}
