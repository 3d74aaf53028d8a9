// Package status defines the status codes visible at the motion core boundary.
package status

// Status is a machine status code. The zero value is OK.
// Statuses implement error so call sites can return them directly,
// but OK and Eagain are flow-control values, not failures.
type Status uint8

const (
	OK                 Status = iota
	Eagain                    // function would block or needs to be called again to complete
	Noop                      // nothing to do
	Complete                  // operation has run to completion
	CommandNotAccepted        // command cannot be accepted at this time

	// Input range errors
	InputExceedsMaxLength
	InputValueRangeError
	FeedrateNotSpecified // inverse-time mode feed move arrived without F
	CoordSystemError     // coordinate system index out of range
	ToolNumberError
	JerkOutOfRange
	SoftLimitExceeded
	ArcSpecificationError
	ArcRadiusError
	ArcEndpointError
	ParserError
	UnsupportedCode

	// Machine condition rejections
	RejectedByAlarm
	RejectedByShutdown
	RejectedByPanic
	MachineNotReady

	// Planner and runtime faults
	PlannerAssertionFailure
	BufferFull
	BufferEmpty
	PrepTimerFailure
	FollowingError

	// Capture states
	Alarm
	Shutdown
	Panic
	KillJob
	Interlock
)

var messages = map[Status]string{
	OK:                      "ok",
	Eagain:                  "eagain",
	Noop:                    "noop",
	Complete:                "complete",
	CommandNotAccepted:      "command not accepted",
	InputExceedsMaxLength:   "input exceeds max length",
	InputValueRangeError:    "input value range error",
	FeedrateNotSpecified:    "gcode feedrate not specified",
	CoordSystemError:        "coordinate system out of range",
	ToolNumberError:         "tool number out of range",
	JerkOutOfRange:          "jerk setting out of range",
	SoftLimitExceeded:       "soft limit exceeded",
	ArcSpecificationError:   "arc specification error",
	ArcRadiusError:          "arc radius arithmetic error",
	ArcEndpointError:        "arc endpoint is starting point",
	ParserError:             "gcode parser error",
	UnsupportedCode:         "unsupported gcode",
	RejectedByAlarm:         "command rejected by alarm",
	RejectedByShutdown:      "command rejected by shutdown",
	RejectedByPanic:         "command rejected by panic",
	MachineNotReady:         "machine not ready",
	PlannerAssertionFailure: "planner assertion failure",
	BufferFull:              "planner buffer full",
	BufferEmpty:             "planner buffer empty",
	PrepTimerFailure:        "segment prep timer failure",
	FollowingError:          "following error exceeded",
	Alarm:                   "alarm",
	Shutdown:                "shutdown",
	Panic:                   "panic",
	KillJob:                 "job killed",
	Interlock:               "safety interlock",
}

func (s Status) String() string {
	if msg, ok := messages[s]; ok {
		return msg
	}
	return "unknown status"
}

func (s Status) Error() string { return s.String() }

// Err returns s as an error, or nil for OK.
func (s Status) Err() error {
	if s == OK {
		return nil
	}
	return s
}
