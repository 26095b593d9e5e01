package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gopperplr/log"
	"gopperplr/recovery/record"
	"gopperplr/recovery/store"
)

type fakeMachine struct {
	pos      [record.NumAxes]float64
	printing bool
	path     string
	offset   uint64
	mix      []float64

	raised     []float64
	retracts   []float64
	heatersOff int
	halts      []string
}

func (m *fakeMachine) CaptureState(s *record.Snapshot) {
	s.Position = m.pos
	s.Feedrate = 50
	s.SourcePath = m.path
	s.Offset = m.offset
	s.HotendTargets = []float64{210}
	s.BedTarget = 60
	s.MixWeights = append(s.MixWeights[:0], m.mix...)
}

func (m *fakeMachine) NativeZ() float64 { return m.pos[record.AxisZ] }
func (m *fakeMachine) Printing() bool   { return m.printing }

func (m *fakeMachine) RaiseZ(mm float64) error {
	m.raised = append(m.raised, mm)
	m.pos[record.AxisZ] += mm
	return nil
}

func (m *fakeMachine) Retract(mm float64) error {
	m.retracts = append(m.retracts, mm)
	return nil
}

func (m *fakeMachine) DisableHeaters()    { m.heatersOff++ }
func (m *fakeMachine) Halt(reason string) { m.halts = append(m.halts, reason) }

type fakeQueue struct {
	lines []string
}

func (q *fakeQueue) InjectFront(line string) {
	q.lines = append([]string{line}, q.lines...)
}

// fakeSink records executed lines and fails on the first line with failOn
// as prefix.
type fakeSink struct {
	lines  []string
	failOn string
	err    error
	hook   func(line string)
}

func (s *fakeSink) Execute(ctx context.Context, line string) error {
	if s.hook != nil {
		s.hook(line)
	}
	if s.failOn != "" && strings.HasPrefix(line, s.failOn) {
		return s.err
	}
	s.lines = append(s.lines, line)
	return nil
}

// flakyStore fails rewrites while fail is set
type flakyStore struct {
	store.Store
	fail error
}

func (s *flakyStore) Open(forRead bool) (store.Record, error) {
	if !forRead && s.fail != nil {
		return nil, s.fail
	}
	return s.Store.Open(forRead)
}

var errDisk = errors.New("disk full")

type harness struct {
	ctrl    *Controller
	store   *store.FileStore
	machine *fakeMachine
	queue   *fakeQueue
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	dir := store.NewDir(t.TempDir())
	require.NoError(t, dir.Mount())
	h := &harness{
		store:   store.NewFileStore(dir),
		machine: &fakeMachine{printing: true, path: "/sd/part.gcode"},
		queue:   &fakeQueue{},
	}
	h.ctrl = NewController(cfg, h.store, h.machine, h.queue)
	h.ctrl.SetLogger(log.Discard())
	h.ctrl.Initialize()
	return h
}

// reboot builds a fresh controller over the same media
func (h *harness) reboot(t *testing.T, cfg Config) *harness {
	t.Helper()
	fresh := &harness{
		store:   store.NewFileStore(store.NewDir(h.store.Path())),
		machine: &fakeMachine{},
		queue:   &fakeQueue{},
	}
	fresh.ctrl = NewController(cfg, fresh.store, fresh.machine, fresh.queue)
	fresh.ctrl.SetLogger(log.Discard())
	fresh.ctrl.Initialize()
	return fresh
}

func (h *harness) stored(t *testing.T) *record.Snapshot {
	t.Helper()
	snap, err := Load(h.store)
	require.NoError(t, err)
	return snap
}

func (h *harness) exists(t *testing.T) bool {
	t.Helper()
	ok, err := h.store.Exists()
	require.NoError(t, err)
	return ok
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SaveInterval = 0
	return cfg
}
