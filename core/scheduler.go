package core

import "time"

// Timer represents a scheduled event
type Timer struct {
	WakeTime time.Time
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Scheduler is a cooperative timer list serviced from the main loop.
// Handlers run on the caller's goroutine inside Dispatch; there is no
// preemption. A handler that wants to run again sets WakeTime and returns
// SF_RESCHEDULE.
type Scheduler struct {
	clock     Clock
	timerList *Timer
}

// NewScheduler creates a scheduler driven by clock
func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{clock: clock}
}

// ScheduleTimer adds a timer to the schedule. A timer that is already
// scheduled is moved to its new wake time.
func (s *Scheduler) ScheduleTimer(t *Timer) {
	s.remove(t)
	s.insertTimer(t)
}

// Cancel removes a timer from the schedule if present
func (s *Scheduler) Cancel(t *Timer) {
	s.remove(t)
}

// Pending returns the number of scheduled timers
func (s *Scheduler) Pending() int {
	n := 0
	for t := s.timerList; t != nil; t = t.Next {
		n++
	}
	return n
}

// insertTimer inserts a timer in sorted order by WakeTime
func (s *Scheduler) insertTimer(t *Timer) {
	if s.timerList == nil || t.WakeTime.Before(s.timerList.WakeTime) {
		t.Next = s.timerList
		s.timerList = t
		return
	}

	current := s.timerList
	for current.Next != nil && !t.WakeTime.Before(current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

func (s *Scheduler) remove(t *Timer) {
	if s.timerList == t {
		s.timerList = t.Next
		t.Next = nil
		return
	}
	for cur := s.timerList; cur != nil; cur = cur.Next {
		if cur.Next == t {
			cur.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// Dispatch runs every timer whose WakeTime has passed and returns how many
// handlers ran. Timers rescheduled by their handler are only considered on
// the next Dispatch, so a handler cannot starve the main loop.
func (s *Scheduler) Dispatch() int {
	now := s.clock.Now()

	var due []*Timer
	for s.timerList != nil && !s.timerList.WakeTime.After(now) {
		timer := s.timerList
		s.timerList = timer.Next
		timer.Next = nil // Clear Next pointer to avoid circular references
		due = append(due, timer)
	}

	for _, timer := range due {
		if timer.Handler(timer) == SF_RESCHEDULE {
			s.insertTimer(timer)
		}
	}
	return len(due)
}
