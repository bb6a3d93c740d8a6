// Package limitchecker turns a stream of resource-usage samples into a
// termination decision. It is pure computation, decoupled from the OS:
// given a ResourceLimits and consecutive ResourceUsage samples, it
// decides whether any configured limit has been exceeded.
package limitchecker

import (
	"time"

	"github.com/arenaspawn/spawner/pkg/types"
)

// cpuLoadWindowLength is the EMA window used for average_cpu_load, in
// sample count; cpuLoadSmoothingFactor is the corresponding decay.
const (
	cpuLoadWindowLength    = 20
	cpuLoadSmoothingFactor = 1.0 - 1.0/float64(cpuLoadWindowLength)
)

// LimitChecker accumulates wall-clock, user-time and idle-time totals
// across Check calls and reports the first limit exceeded, in a fixed
// priority order. Idle time is derived from an exponential moving
// average of CPU load (∆user / ∆wall) rather than by subtracting user
// time from wall-clock time, since total user time can exceed wall-clock
// time once a program uses more than one CPU.
type LimitChecker struct {
	limits types.ResourceLimits

	prev *prevCheck

	wallClockTime time.Duration
	totalUserTime time.Duration
	totalIdleTime time.Duration

	averageCPULoad       float64
	averageCPULoadPoints int

	timeAccountingStopped bool
}

type prevCheck struct {
	at            time.Time
	totalUserTime time.Duration
}

// New builds a checker for limits, with every running total at zero.
func New(limits types.ResourceLimits) *LimitChecker {
	return &LimitChecker{limits: limits}
}

// StopTimeAccounting freezes wall-clock/user/idle accrual. Used while a
// process is suspended between protocol messages, so its waiting time
// is not charged against it.
func (c *LimitChecker) StopTimeAccounting() { c.timeAccountingStopped = true }

// ResumeTimeAccounting re-enables accrual frozen by StopTimeAccounting.
func (c *LimitChecker) ResumeTimeAccounting() { c.timeAccountingStopped = false }

// ResetTime zeroes wall-clock and user time, granting a fresh budget for
// the next message-processing window. Idle time and the CPU-load EMA
// are left untouched: the EMA has no stable zero-point to reset to
// without discarding the warm-up it has already accumulated, and idle
// time reflects a property of the program's recent behavior rather than
// a per-message budget. The interval since the previous Check is
// discarded as well, so accrual restarts from the next Check.
func (c *LimitChecker) ResetTime() {
	c.wallClockTime = 0
	c.totalUserTime = 0
	c.prev = nil
}

// Check folds one usage sample into the running totals and returns the
// first exceeded limit, in priority order, or NoTerminationReason.
func (c *LimitChecker) Check(usage types.ResourceUsage) types.TerminationReason {
	c.updateTimers(usage.Timers)
	c.prev = &prevCheck{at: time.Now(), totalUserTime: usage.Timers.TotalUserTime}

	limits := c.limits
	switch {
	case gtDuration(c.wallClockTime, limits.WallClockTime):
		return types.WallClockTimeLimitExceeded
	case limits.IdleTime != nil && gtDuration(c.totalIdleTime, &limits.IdleTime.Total):
		return types.IdleTimeLimitExceeded
	case gtDuration(c.totalUserTime, limits.TotalUserTime):
		return types.UserTimeLimitExceeded
	case gtUint64(usage.IO.TotalBytesWritten, limits.TotalBytesWritten):
		return types.WriteLimitExceeded
	case gtUint64(usage.Memory.PeakUsage, limits.MaxMemoryUsage):
		return types.MemoryLimitExceeded
	case gtUint64(usage.PIDCounters.TotalProcessesCreated, limits.TotalProcessesCreated):
		return types.ProcessLimitExceeded
	case gtUint64(usage.PIDCounters.ActiveProcesses, limits.ActiveProcesses):
		return types.ActiveProcessLimitExceeded
	case gtUint64(usage.Network.ActiveConnections, limits.ActiveNetworkConnections):
		return types.ActiveNetworkConnectionLimitExceeded
	default:
		return types.NoTerminationReason
	}
}

func (c *LimitChecker) updateTimers(timers types.Timers) {
	if c.timeAccountingStopped || c.prev == nil {
		return
	}

	dt := time.Since(c.prev.at)
	dUser := timers.TotalUserTime - c.prev.totalUserTime
	newCPULoad := float64(dUser) / float64(dt)

	c.wallClockTime += dt
	c.totalUserTime += dUser
	c.averageCPULoad = c.averageCPULoad*cpuLoadSmoothingFactor + newCPULoad*(1-cpuLoadSmoothingFactor)
	c.averageCPULoadPoints++

	if c.limits.IdleTime == nil {
		return
	}
	if c.averageCPULoadPoints < cpuLoadWindowLength {
		return
	}
	if c.averageCPULoad < c.limits.IdleTime.CPULoadThreshold {
		c.totalIdleTime += dt
	} else {
		c.totalIdleTime = 0
	}
}

func gtDuration(v time.Duration, limit *time.Duration) bool {
	return limit != nil && v > *limit
}

func gtUint64(v uint64, limit *uint64) bool {
	return limit != nil && v > *limit
}
