package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerDispatchOrder(t *testing.T) {
	clock := NewSimClock(time.Unix(0, 0))
	sched := NewScheduler(clock)

	var fired []string
	mk := func(name string, at time.Duration) *Timer {
		return &Timer{
			WakeTime: time.Unix(0, 0).Add(at),
			Handler: func(*Timer) uint8 {
				fired = append(fired, name)
				return SF_DONE
			},
		}
	}

	sched.ScheduleTimer(mk("c", 30*time.Millisecond))
	sched.ScheduleTimer(mk("a", 10*time.Millisecond))
	sched.ScheduleTimer(mk("b", 20*time.Millisecond))
	require.Equal(t, 3, sched.Pending())

	assert.Equal(t, 0, sched.Dispatch())

	clock.Advance(25 * time.Millisecond)
	assert.Equal(t, 2, sched.Dispatch())
	assert.Equal(t, []string{"a", "b"}, fired)

	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, 1, sched.Dispatch())
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, 0, sched.Pending())
}

func TestSchedulerReschedule(t *testing.T) {
	clock := NewSimClock(time.Unix(0, 0))
	sched := NewScheduler(clock)

	count := 0
	timer := &Timer{WakeTime: clock.Now()}
	timer.Handler = func(tm *Timer) uint8 {
		count++
		tm.WakeTime = tm.WakeTime.Add(time.Second)
		return SF_RESCHEDULE
	}
	sched.ScheduleTimer(timer)

	for i := 0; i < 3; i++ {
		sched.Dispatch()
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, sched.Pending())

	sched.Cancel(timer)
	assert.Equal(t, 0, sched.Pending())
	clock.Advance(time.Hour)
	assert.Equal(t, 0, sched.Dispatch())
}

func TestSchedulerRescheduleSameTimer(t *testing.T) {
	sched := NewScheduler(NewSimClock(time.Unix(0, 0)))
	timer := &Timer{Handler: func(*Timer) uint8 { return SF_DONE }}

	sched.ScheduleTimer(timer)
	sched.ScheduleTimer(timer)
	assert.Equal(t, 1, sched.Pending())
}

func TestSimClockIgnoresNegative(t *testing.T) {
	start := time.Unix(100, 0)
	clock := NewSimClock(start)
	clock.Advance(-time.Second)
	assert.Equal(t, start, clock.Now())
}
