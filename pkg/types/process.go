// Package types holds the data model shared by every arenaspawn package:
// program configuration, resource limits/usage, exit status, termination
// reasons, and the final per-program report. None of these types carry
// behavior beyond simple accessors; they are the nouns the rest of the
// engine operates on.
package types

import "time"

// EnvPolicy selects how a spawned program's environment is seeded before
// the caller's explicit overrides are applied.
type EnvPolicy uint8

const (
	// EnvClear starts from an empty environment.
	EnvClear EnvPolicy = iota
	// EnvInherit copies the supervisor process's own environment.
	EnvInherit
	// EnvUserDefault seeds a small login-style environment. On Linux it
	// is HOME, LOGNAME and USER of the user running the supervisor,
	// SHELL=/bin/sh and a fixed PATH; on Windows it is USERPROFILE,
	// USERNAME and PATH copied from the supervisor's own environment.
	// The impersonated user in Credentials is not consulted.
	EnvUserDefault
)

func (p EnvPolicy) String() string {
	switch p {
	case EnvClear:
		return "clear"
	case EnvInherit:
		return "inherit"
	case EnvUserDefault:
		return "user-default"
	default:
		return "unknown"
	}
}

// Credentials carries an optional impersonation identity.
type Credentials struct {
	Username string
	Password string
}

// ProcessInfo is the immutable description of one program to spawn. It is
// consumed exactly once, when the program is spawned; after that point
// the driver never reads it again.
type ProcessInfo struct {
	// Application is the executable path. It is never shell-expanded.
	Application string
	// Args is the argument list, not including Application itself.
	Args []string
	// WorkingDirectory is optional; empty means "inherit the
	// supervisor's current directory".
	WorkingDirectory string
	// EnvPolicy selects the base environment.
	EnvPolicy EnvPolicy
	// Env holds extra key=value pairs applied after EnvPolicy.
	Env map[string]string
	// Credentials, if set, requests impersonation of another OS user.
	Credentials *Credentials
	// CreateSuspended requests the process stay suspended after the
	// group assigns it, instead of the default resume-immediately
	// behavior (used by the controller/agent protocol to hold an agent
	// suspended until its first message arrives).
	CreateSuspended bool
	// ShowGUIWindow controls window visibility on platforms where
	// spawned programs default to a hidden window station.
	ShowGUIWindow bool
	// RestrictSyscalls installs the fixed seccomp allow-list before the
	// program execs, on platforms that support it. Ignored on Windows.
	RestrictSyscalls bool
}

// IdleTimeLimit pairs a duration budget with the CPU-load threshold used
// to decide whether a sample counts as "idle".
type IdleTimeLimit struct {
	Total             time.Duration
	CPULoadThreshold  float64
}

// ResourceLimits are all optional; a nil field disables that particular
// check, and the Duration, Bytes and Count helpers build the pointers.
// Since Go lacks Rust's Option<T> ergonomics here, each limit is
// expressed as a pointer so "unset" and "zero" are distinguishable.
type ResourceLimits struct {
	WallClockTime             *time.Duration
	IdleTime                  *IdleTimeLimit
	TotalUserTime             *time.Duration
	MaxMemoryUsage            *uint64
	TotalBytesWritten         *uint64
	TotalProcessesCreated     *uint64
	ActiveProcesses           *uint64
	ActiveNetworkConnections  *uint64
}

// Duration is a convenience constructor for *time.Duration limit fields.
func Duration(d time.Duration) *time.Duration { return &d }

// Bytes is a convenience constructor for *uint64 limit fields expressed
// in bytes.
func Bytes(n uint64) *uint64 { return &n }

// Count is a convenience constructor for *uint64 limit fields expressed
// as a count.
func Count(n uint64) *uint64 { return &n }
