package core

// Timer frequency for the step clock. All wake times and segment durations
// are expressed in ticks of this clock.
const (
	TimerFreq = 12000000 // 12MHz
)

var systemTicks uint32

// GetTime returns the current system time in timer ticks.
func GetTime() uint32 {
	return systemTicks
}

// SetTime sets the current system time (simulation and hardware integration).
func SetTime(ticks uint32) {
	systemTicks = ticks
}

// AdvanceTime moves the system clock forward and returns the new time.
func AdvanceTime(ticks uint32) uint32 {
	systemTicks += ticks
	return systemTicks
}

// TicksFromUS converts microseconds to timer ticks.
func TicksFromUS(us uint32) uint32 {
	return us * (TimerFreq / 1000000)
}

// TicksFromMinutes converts planner time (minutes) to timer ticks.
// Planner math runs in minutes; everything below the segment boundary
// runs in ticks.
func TicksFromMinutes(minutes float64) uint32 {
	return uint32(minutes * 60.0 * float64(TimerFreq))
}

// MinutesFromTicks converts timer ticks to planner minutes.
func MinutesFromTicks(ticks uint32) float64 {
	return float64(ticks) / (60.0 * float64(TimerFreq))
}

// ProcessTimers advances dispatch to the current system time.
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}

// RunFor advances the simulated clock by the given number of ticks in
// quanta, dispatching due timers after each quantum. Used by the host
// runner and tests; hardware targets drive TimerDispatch from interrupts.
func RunFor(ticks, quantum uint32) {
	if quantum == 0 {
		quantum = TicksFromUS(100)
	}
	for elapsed := uint32(0); elapsed < ticks; elapsed += quantum {
		AdvanceTime(quantum)
		ProcessTimers()
	}
}
