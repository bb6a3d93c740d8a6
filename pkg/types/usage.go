package types

import "time"

// Timers is the CPU-time sub-view of ResourceUsage.
type Timers struct {
	TotalUserTime   time.Duration
	TotalKernelTime time.Duration
}

// Memory is the memory sub-view of ResourceUsage.
type Memory struct {
	PeakUsage uint64
}

// IO is the byte-volume sub-view of ResourceUsage.
type IO struct {
	TotalBytesWritten uint64
}

// PIDCounters is the process-count sub-view of ResourceUsage.
type PIDCounters struct {
	TotalProcessesCreated uint64
	ActiveProcesses       uint64
}

// Network is the connection-count sub-view of ResourceUsage.
type Network struct {
	ActiveConnections uint64
}

// ResourceUsage is a point-in-time snapshot of a Group's aggregated
// resource consumption, grouped into sub-views. The group backends
// always fill every sub-view in one sample; there is no way to request
// only some of them.
type ResourceUsage struct {
	WallClockTime time.Duration
	Timers        Timers
	Memory        Memory
	IO            IO
	PIDCounters   PIDCounters
	Network       Network
}
