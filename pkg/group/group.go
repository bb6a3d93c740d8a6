// Package group implements the per-program resource container described
// in spec.md §4.3: a process (and everything it forks) is placed inside
// a single accounting/enforcement unit so usage can be sampled and hard
// limits enforced by the OS itself, not just by polling. group_linux.go
// backs this with a systemd transient scope over cgroups v1; windows
// backs it with a Job Object.
package group

import (
	"time"

	"github.com/arenaspawn/spawner/pkg/types"
)

// Restrictions is the subset of types.ResourceLimits the OS container
// itself can enforce without polling (memory ceiling, process count);
// everything else is left to the supervisor's limitchecker loop.
type Restrictions struct {
	MaxMemoryUsage  *uint64
	ActiveProcesses *uint64
}

// RestrictionsFrom narrows a full ResourceLimits down to what the group
// backend applies at creation time.
func RestrictionsFrom(limits types.ResourceLimits) Restrictions {
	return Restrictions{
		MaxMemoryUsage:  limits.MaxMemoryUsage,
		ActiveProcesses: limits.ActiveProcesses,
	}
}

// deadTasksInfo accumulates usage from tasks that have already exited,
// so resource_usage never regresses when a task disappears between two
// samples. Ported from spawner/sys/unix/process.rs's DeadTasksInfo.
type deadTasksInfo struct {
	numDeadTasks       uint64
	totalBytesWritten  uint64
}

// activeTasks tracks per-pid write-byte counters and socket-inode
// ownership across samples, folding any pid that disappears into
// deadTasksInfo. Ported from the same file's ActiveTasks.
type activeTasks struct {
	wcharByPID   map[int]uint64
	pidByInode   map[uint64]int
}

func newActiveTasks() *activeTasks {
	return &activeTasks{
		wcharByPID: make(map[int]uint64),
		pidByInode: make(map[uint64]int),
	}
}

// update folds alive (current wchar per still-alive pid, keyed by
// pid) into the tracker, returning the newly dead tasks discovered this
// round so the caller can add them to its running deadTasksInfo.
func (a *activeTasks) update(alive map[int]uint64) deadTasksInfo {
	dead := deadTasksInfo{}
	for pid := range a.wcharByPID {
		if newWchar, ok := alive[pid]; ok {
			a.wcharByPID[pid] = newWchar
			continue
		}
		dead.numDeadTasks++
		dead.totalBytesWritten += a.wcharByPID[pid]
		delete(a.wcharByPID, pid)
	}
	for pid, wchar := range alive {
		if _, ok := a.wcharByPID[pid]; !ok {
			a.wcharByPID[pid] = wchar
		}
	}
	return dead
}

func (a *activeTasks) count() int {
	return len(a.wcharByPID)
}

func (a *activeTasks) totalBytesWritten() uint64 {
	var total uint64
	for _, w := range a.wcharByPID {
		total += w
	}
	return total
}

func (a *activeTasks) pids() []int {
	pids := make([]int, 0, len(a.wcharByPID))
	for pid := range a.wcharByPID {
		pids = append(pids, pid)
	}
	return pids
}

// resourceUsageFrom assembles a types.ResourceUsage from the raw
// counters every platform backend collects the same way.
func resourceUsageFrom(
	wallClock time.Duration,
	userTime, kernelTime time.Duration,
	peakMemory uint64,
	at *activeTasks,
	dt deadTasksInfo,
	activeConnections int,
) types.ResourceUsage {
	return types.ResourceUsage{
		WallClockTime: wallClock,
		Timers: types.Timers{
			TotalUserTime:   userTime,
			TotalKernelTime: kernelTime,
		},
		Memory: types.Memory{PeakUsage: peakMemory},
		IO: types.IO{
			TotalBytesWritten: at.totalBytesWritten() + dt.totalBytesWritten,
		},
		PIDCounters: types.PIDCounters{
			TotalProcessesCreated: dt.numDeadTasks + uint64(at.count()),
			ActiveProcesses:       uint64(at.count()),
		},
		Network: types.Network{ActiveConnections: uint64(activeConnections)},
	}
}
