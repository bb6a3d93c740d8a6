package group

import (
	"testing"

	"github.com/arenaspawn/spawner/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestActiveTasksUpdateTracksDeadTasks(t *testing.T) {
	at := newActiveTasks()
	dead := at.update(map[int]uint64{1: 10, 2: 20})
	require.Equal(t, deadTasksInfo{}, dead)
	require.Equal(t, 2, at.count())

	dead = at.update(map[int]uint64{1: 15})
	require.Equal(t, uint64(1), dead.numDeadTasks)
	require.Equal(t, uint64(20), dead.totalBytesWritten, "pid 2's last-observed wchar must be folded in, not lost")
	require.Equal(t, 1, at.count())
	require.Equal(t, uint64(15), at.wcharByPID[1])
}

func TestActiveTasksUpdateNeverRegressesOnReappearance(t *testing.T) {
	at := newActiveTasks()
	at.update(map[int]uint64{1: 10})
	at.update(map[int]uint64{}) // pid 1 dies, folded into dead

	dead := deadTasksInfo{}
	for pid := range at.wcharByPID {
		t.Fatalf("expected no active tasks left, found pid %d", pid)
	}

	// a reused pid coming back is treated as a brand new task, not a
	// resurrection of the old one.
	dead = at.update(map[int]uint64{1: 5})
	require.Equal(t, deadTasksInfo{}, dead)
	require.Equal(t, uint64(5), at.wcharByPID[1])
}

func TestActiveTasksTotalBytesWritten(t *testing.T) {
	at := newActiveTasks()
	at.update(map[int]uint64{1: 10, 2: 30})
	require.Equal(t, uint64(40), at.totalBytesWritten())
}

func TestActiveTasksPids(t *testing.T) {
	at := newActiveTasks()
	at.update(map[int]uint64{3: 0, 7: 0})
	require.ElementsMatch(t, []int{3, 7}, at.pids())
}

func TestResourceUsageFromFoldsDeadAndActiveTotals(t *testing.T) {
	at := newActiveTasks()
	at.update(map[int]uint64{1: 100})
	dead := deadTasksInfo{numDeadTasks: 2, totalBytesWritten: 50}

	usage := resourceUsageFrom(0, 0, 0, 4096, at, dead, 3)
	require.Equal(t, uint64(150), usage.IO.TotalBytesWritten)
	require.Equal(t, uint64(3), usage.PIDCounters.TotalProcessesCreated)
	require.Equal(t, uint64(1), usage.PIDCounters.ActiveProcesses)
	require.Equal(t, uint64(4096), usage.Memory.PeakUsage)
	require.Equal(t, uint64(3), usage.Network.ActiveConnections)
}

func TestRestrictionsFromNarrowsResourceLimits(t *testing.T) {
	mem := uint64(1 << 20)
	procs := uint64(16)
	limits := types.ResourceLimits{MaxMemoryUsage: &mem, ActiveProcesses: &procs}

	r := RestrictionsFrom(limits)
	require.Same(t, &mem, r.MaxMemoryUsage)
	require.Same(t, &procs, r.ActiveProcesses)
}
