package core

import (
	"testing"
)

func TestTimerOrdering(t *testing.T) {
	ResetTimers()
	SetTime(0)

	var order []int
	mk := func(id int, wake uint32) *Timer {
		return &Timer{
			WakeTime: wake,
			Handler: func(tm *Timer) uint8 {
				order = append(order, id)
				return Done
			},
		}
	}

	// Insert out of order; dispatch must be sorted by wake time
	ScheduleTimer(mk(3, 300))
	ScheduleTimer(mk(1, 100))
	ScheduleTimer(mk(2, 200))

	SetTime(500)
	ProcessTimers()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("dispatch order wrong: %v", order)
	}
}

func TestTimerReschedule(t *testing.T) {
	ResetTimers()
	SetTime(0)

	count := 0
	tm := &Timer{WakeTime: 10}
	tm.Handler = func(x *Timer) uint8 {
		count++
		if count < 3 {
			x.WakeTime += 10
			return Reschedule
		}
		return Done
	}
	ScheduleTimer(tm)

	SetTime(100)
	ProcessTimers()
	if count != 3 {
		t.Errorf("expected 3 firings, got %d", count)
	}
}

func TestTimerNotDueYet(t *testing.T) {
	ResetTimers()
	SetTime(0)

	fired := false
	ScheduleTimer(&Timer{WakeTime: 1000, Handler: func(tm *Timer) uint8 {
		fired = true
		return Done
	}})

	SetTime(999)
	ProcessTimers()
	if fired {
		t.Errorf("timer fired early")
	}
	SetTime(1000)
	ProcessTimers()
	if !fired {
		t.Errorf("timer did not fire at its wake time")
	}
}

func TestTimerWraparound(t *testing.T) {
	ResetTimers()
	// Near the 32-bit wrap: a timer scheduled past the wrap must still be
	// "after" now under signed comparison
	SetTime(0xFFFFFF00)

	fired := false
	ScheduleTimer(&Timer{WakeTime: 0x00000100, Handler: func(tm *Timer) uint8 {
		fired = true
		return Done
	}})

	ProcessTimers()
	if fired {
		t.Fatalf("timer across the wrap fired early")
	}

	SetTime(0x00000200)
	ProcessTimers()
	if !fired {
		t.Errorf("timer did not fire after the wrap")
	}
}

func TestTimerInPast(t *testing.T) {
	ResetTimers()
	SetTime(0)

	var late uint32
	SetTimerPastHandler(func(lateBy uint32) { late = lateBy })
	defer SetTimerPastHandler(nil)

	ScheduleTimer(&Timer{WakeTime: 10, Handler: func(tm *Timer) uint8 { return Done }})
	SetTime(10 + timerPastThreshold + 1)
	ProcessTimers()

	if late == 0 {
		t.Errorf("timer-in-past handler not invoked")
	}
	if TimerPastErrors() == 0 {
		t.Errorf("timer-in-past error not counted")
	}
}

func TestCancelTimer(t *testing.T) {
	ResetTimers()
	SetTime(0)

	fired := false
	tm := &Timer{WakeTime: 50, Handler: func(x *Timer) uint8 {
		fired = true
		return Done
	}}
	ScheduleTimer(tm)
	CancelTimer(tm)

	SetTime(100)
	ProcessTimers()
	if fired {
		t.Errorf("canceled timer fired")
	}
}

func TestTickConversions(t *testing.T) {
	if TicksFromUS(1000) != TimerFreq/1000 {
		t.Errorf("1ms should be %d ticks", TimerFreq/1000)
	}
	// one minute of planner time is 60 seconds of ticks
	if TicksFromMinutes(1.0) != 60*TimerFreq {
		t.Errorf("1 minute conversion wrong: %d", TicksFromMinutes(1.0))
	}
	if MinutesFromTicks(60*TimerFreq) != 1.0 {
		t.Errorf("round trip conversion wrong")
	}
}
