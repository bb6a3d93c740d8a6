package limitchecker

import (
	"testing"
	"time"

	"github.com/arenaspawn/spawner/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestCheckReturnsNoneBelowEveryLimit(t *testing.T) {
	limits := types.ResourceLimits{
		WallClockTime: types.Duration(time.Hour),
		MaxMemoryUsage: types.Bytes(1 << 30),
	}
	c := New(limits)
	reason := c.Check(types.ResourceUsage{Memory: types.Memory{PeakUsage: 100}})
	require.Equal(t, types.NoTerminationReason, reason)
}

func TestCheckFirstCallNeverTrips(t *testing.T) {
	// the first Check has no previous sample to diff against, so
	// wall-clock/user totals stay at zero regardless of the limit.
	limits := types.ResourceLimits{WallClockTime: types.Duration(0)}
	c := New(limits)
	reason := c.Check(types.ResourceUsage{})
	require.Equal(t, types.NoTerminationReason, reason)
}

func TestCheckWallClockExceeded(t *testing.T) {
	limits := types.ResourceLimits{WallClockTime: types.Duration(10 * time.Millisecond)}
	c := New(limits)
	c.Check(types.ResourceUsage{})
	time.Sleep(20 * time.Millisecond)
	reason := c.Check(types.ResourceUsage{})
	require.Equal(t, types.WallClockTimeLimitExceeded, reason)
}

func TestCheckPriorityOrderWallClockBeforeMemory(t *testing.T) {
	limits := types.ResourceLimits{
		WallClockTime:  types.Duration(1 * time.Millisecond),
		MaxMemoryUsage: types.Bytes(10),
	}
	c := New(limits)
	c.Check(types.ResourceUsage{Memory: types.Memory{PeakUsage: 100}})
	time.Sleep(5 * time.Millisecond)
	reason := c.Check(types.ResourceUsage{Memory: types.Memory{PeakUsage: 100}})
	require.Equal(t, types.WallClockTimeLimitExceeded, reason,
		"wall-clock must win over memory when both are exceeded")
}

func TestCheckMemoryExceededWithoutWallClockLimit(t *testing.T) {
	limits := types.ResourceLimits{MaxMemoryUsage: types.Bytes(10)}
	c := New(limits)
	c.Check(types.ResourceUsage{Memory: types.Memory{PeakUsage: 5}})
	reason := c.Check(types.ResourceUsage{Memory: types.Memory{PeakUsage: 11}})
	require.Equal(t, types.MemoryLimitExceeded, reason)
}

func TestResetTimeZeroesWallClockAndUserButNotIdle(t *testing.T) {
	limits := types.ResourceLimits{WallClockTime: types.Duration(5 * time.Millisecond)}
	c := New(limits)
	c.Check(types.ResourceUsage{})
	time.Sleep(10 * time.Millisecond)
	c.ResetTime()
	reason := c.Check(types.ResourceUsage{})
	require.Equal(t, types.NoTerminationReason, reason, "ResetTime must clear the accrued wall-clock total")
}

func TestStopTimeAccountingFreezesTotals(t *testing.T) {
	limits := types.ResourceLimits{WallClockTime: types.Duration(5 * time.Millisecond)}
	c := New(limits)
	c.Check(types.ResourceUsage{})
	c.StopTimeAccounting()
	time.Sleep(10 * time.Millisecond)
	reason := c.Check(types.ResourceUsage{})
	require.Equal(t, types.NoTerminationReason, reason, "frozen accounting must not accrue wall-clock time")

	c.ResumeTimeAccounting()
	time.Sleep(10 * time.Millisecond)
	reason = c.Check(types.ResourceUsage{})
	require.Equal(t, types.WallClockTimeLimitExceeded, reason, "resumed accounting must accrue again")
}

func TestIdleTimeRequiresWarmupWindow(t *testing.T) {
	limits := types.ResourceLimits{
		IdleTime: &types.IdleTimeLimit{Total: time.Millisecond, CPULoadThreshold: 1.0},
	}
	c := New(limits)
	// fewer than cpuLoadWindowLength samples have been integrated, so
	// idle time must not accrue yet even though CPU load is obviously
	// under the (deliberately generous) threshold.
	for i := 0; i < cpuLoadWindowLength; i++ {
		c.Check(types.ResourceUsage{Timers: types.Timers{TotalUserTime: 0}})
		time.Sleep(time.Millisecond)
	}
	require.Less(t, c.averageCPULoadPoints, cpuLoadWindowLength)
	require.Zero(t, c.totalIdleTime)
}

func TestIdleTimeAccruesAfterWarmupWhenCPUIdle(t *testing.T) {
	limits := types.ResourceLimits{
		IdleTime: &types.IdleTimeLimit{Total: time.Millisecond, CPULoadThreshold: 0.5},
	}
	c := New(limits)
	var reason types.TerminationReason
	for i := 0; i < cpuLoadWindowLength+2; i++ {
		reason = c.Check(types.ResourceUsage{Timers: types.Timers{TotalUserTime: 0}})
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, types.IdleTimeLimitExceeded, reason)
}
