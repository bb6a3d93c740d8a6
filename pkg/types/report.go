package types

import (
	"fmt"
	"time"
)

// ExitKind distinguishes a normal exit from an abnormal one. It is a
// tagged variant: only the field matching Kind is meaningful.
type ExitKind uint8

const (
	ExitFinished ExitKind = iota
	ExitCrashed
)

// ExitStatus is the tagged Finished(code)|Crashed(cause) variant from
// spec.md §3.
type ExitStatus struct {
	Kind  ExitKind
	Code  uint32 // valid when Kind == ExitFinished
	Cause string // valid when Kind == ExitCrashed
}

// Finished builds a normal-exit status.
func Finished(code uint32) ExitStatus {
	return ExitStatus{Kind: ExitFinished, Code: code}
}

// Crashed builds an abnormal-exit status with a stable short cause
// string (e.g. "process was terminated by signal SIGSEGV").
func Crashed(cause string) ExitStatus {
	return ExitStatus{Kind: ExitCrashed, Cause: cause}
}

func (s ExitStatus) String() string {
	switch s.Kind {
	case ExitFinished:
		return fmt.Sprintf("finished(code=%d)", s.Code)
	case ExitCrashed:
		return fmt.Sprintf("crashed(%s)", s.Cause)
	default:
		return "unknown"
	}
}

// TerminationReason enumerates why a supervisor killed its program
// before it exited on its own.
type TerminationReason uint8

const (
	NoTerminationReason TerminationReason = iota
	WallClockTimeLimitExceeded
	IdleTimeLimitExceeded
	UserTimeLimitExceeded
	WriteLimitExceeded
	MemoryLimitExceeded
	ProcessLimitExceeded
	ActiveProcessLimitExceeded
	ActiveNetworkConnectionLimitExceeded
	TerminatedByRunner
)

func (r TerminationReason) String() string {
	switch r {
	case NoTerminationReason:
		return ""
	case WallClockTimeLimitExceeded:
		return "WallClockTimeLimitExceeded"
	case IdleTimeLimitExceeded:
		return "IdleTimeLimitExceeded"
	case UserTimeLimitExceeded:
		return "UserTimeLimitExceeded"
	case WriteLimitExceeded:
		return "WriteLimitExceeded"
	case MemoryLimitExceeded:
		return "MemoryLimitExceeded"
	case ProcessLimitExceeded:
		return "ProcessLimitExceeded"
	case ActiveProcessLimitExceeded:
		return "ActiveProcessLimitExceeded"
	case ActiveNetworkConnectionLimitExceeded:
		return "ActiveNetworkConnectionLimitExceeded"
	case TerminatedByRunner:
		return "TerminatedByRunner"
	default:
		return "unknown"
	}
}

// Report is the terminal record produced for every configured program,
// even ones whose supervisor crashed before a clean measurement — in
// that case Usage is the zero value and SpawnerError is set.
type Report struct {
	ProgramIndex      int
	WallClockTime     time.Duration
	Usage             *ResourceUsage
	ExitStatus        ExitStatus
	TerminationReason TerminationReason
	// SpawnerError is set when the supervisor itself failed (as opposed
	// to the supervised program misbehaving); spec.md §7 requires a
	// Report to be assembled for every configured program regardless.
	SpawnerError error
}
