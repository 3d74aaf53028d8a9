package core

// Timer represents a scheduled event. Handlers return Done to retire the
// timer or Reschedule to re-insert it at its (updated) WakeTime.
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	Done       = 0
	Reschedule = 1

	// If a timer is more than 100ms behind when it fires, the machine
	// cannot keep up with the requested step rate.
	// At 12MHz, 100ms = 1,200,000 ticks.
	timerPastThreshold = 1200000
)

var (
	timerList       *Timer
	currentTime     uint32
	timerPastErrors uint32
	pastHandler     func(lateBy uint32) // invoked on a timer-in-past condition
)

// SetTimerPastHandler installs the callback run when a timer fires too far
// in the past. The motion layer wires this to a panic-class shutdown.
func SetTimerPastHandler(fn func(lateBy uint32)) {
	pastHandler = fn
}

// ScheduleTimer adds a timer to the schedule in sorted order.
func ScheduleTimer(t *Timer) {
	insertTimer(t)
}

// CancelTimer removes a timer from the schedule if it is queued.
func CancelTimer(t *Timer) {
	if timerList == t {
		timerList = t.Next
		t.Next = nil
		return
	}
	for cur := timerList; cur != nil; cur = cur.Next {
		if cur.Next == t {
			cur.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// insertTimer inserts a timer in sorted order by WakeTime.
// Uses signed comparison to handle 32-bit wrap-around correctly:
// int32(a - b) < 0 means a is before b, valid within half the 32-bit range.
func insertTimer(t *Timer) {
	if timerList == nil || int32(t.WakeTime-timerList.WakeTime) < 0 {
		t.Next = timerList
		timerList = t
		return
	}
	cur := timerList
	for cur.Next != nil && int32(cur.Next.WakeTime-t.WakeTime) < 0 {
		cur = cur.Next
	}
	t.Next = cur.Next
	cur.Next = t
}

// TimerDispatch processes all timers due at or before currentTime.
func TimerDispatch() {
	for timerList != nil && int32(currentTime-timerList.WakeTime) >= 0 {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil

		lateBy := int32(currentTime - timer.WakeTime)
		if lateBy > int32(timerPastThreshold) {
			timerPastErrors++
			if pastHandler != nil {
				pastHandler(uint32(lateBy))
			}
			return
		}

		if timer.Handler(timer) == Reschedule {
			insertTimer(timer)
		}

		// Re-read time after each handler; handlers may advance the
		// simulated clock or block on hardware FIFOs.
		currentTime = GetTime()
	}
}

// TimerPastErrors returns the count of timer-in-past errors.
func TimerPastErrors() uint32 {
	return timerPastErrors
}

// ResetTimers drops all scheduled timers and clears the error counter.
func ResetTimers() {
	timerList = nil
	timerPastErrors = 0
}
