package supervisor

// ControlKind is the tag of a ControlMessage, one per operation a driver
// can ask a running supervisor to perform mid-flight.
type ControlKind uint8

const (
	// Terminate kills the program's whole group and reports
	// types.TerminatedByRunner.
	Terminate ControlKind = iota
	// Suspend stops the program if it is still alive; a no-op otherwise.
	Suspend
	// Resume continues a suspended program if it is still alive.
	Resume
	// ResetTime delegates to the limit checker's ResetTime.
	ResetTime
	// StopTimeAccounting delegates to the limit checker.
	StopTimeAccounting
	// ResumeTimeAccounting delegates to the limit checker.
	ResumeTimeAccounting
)

// ControlMessage is sent on the channel a Supervisor drains each loop
// iteration. The zero value is a Terminate, so an accidentally
// zero-valued message never resumes or suspends anything unexpectedly.
type ControlMessage struct {
	Kind ControlKind
}
