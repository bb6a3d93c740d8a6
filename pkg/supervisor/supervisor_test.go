//go:build linux

package supervisor

import (
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/arenaspawn/spawner/pkg/group"
	"github.com/arenaspawn/spawner/pkg/pipe"
	"github.com/arenaspawn/spawner/pkg/process"
	"github.com/arenaspawn/spawner/pkg/types"
)

// requireSystemd skips the test when no systemd user/system bus is
// reachable, since Run drives a real transient scope per program.
func requireSystemd(t *testing.T) {
	t.Helper()
	g, err := group.New(hclog.NewNullLogger(), group.Restrictions{})
	if err != nil {
		t.Skipf("no systemd dbus connection available: %v", err)
	}
	g.Close()
}

func testStdio(t *testing.T) process.Stdio {
	t.Helper()
	null, err := pipe.NullRead()
	require.NoError(t, err)
	out, err := pipe.NullWrite()
	require.NoError(t, err)
	return process.Stdio{Stdin: null, Stdout: out, Stderr: out}
}

func TestRunReportsNormalExit(t *testing.T) {
	requireSystemd(t)

	info := &types.ProcessInfo{
		Application: "/bin/sh",
		Args:        []string{"-c", "exit 3"},
		EnvPolicy:   types.EnvInherit,
	}
	sup := New(hclog.NewNullLogger(), 0, info, testStdio(t), types.ResourceLimits{}, 20*time.Millisecond, nil, false)

	report := sup.Run()
	require.NoError(t, report.SpawnerError)
	require.Equal(t, types.ExitFinished, report.ExitStatus.Kind)
	require.Equal(t, uint32(3), report.ExitStatus.Code)
	require.Equal(t, types.NoTerminationReason, report.TerminationReason)
}

func TestRunEnforcesWallClockLimit(t *testing.T) {
	requireSystemd(t)

	info := &types.ProcessInfo{
		Application: "/bin/sh",
		Args:        []string{"-c", "sleep 5"},
		EnvPolicy:   types.EnvInherit,
	}
	limits := types.ResourceLimits{WallClockTime: types.Duration(50 * time.Millisecond)}
	sup := New(hclog.NewNullLogger(), 0, info, testStdio(t), limits, 10*time.Millisecond, nil, false)

	report := sup.Run()
	require.NoError(t, report.SpawnerError)
	require.Equal(t, types.WallClockTimeLimitExceeded, report.TerminationReason)
}

func TestRunTerminateControlMessage(t *testing.T) {
	requireSystemd(t)

	info := &types.ProcessInfo{
		Application: "/bin/sh",
		Args:        []string{"-c", "sleep 5"},
		EnvPolicy:   types.EnvInherit,
	}
	control := make(chan ControlMessage, 1)
	sup := New(hclog.NewNullLogger(), 0, info, testStdio(t), types.ResourceLimits{}, 10*time.Millisecond, control, false)

	go func() {
		time.Sleep(30 * time.Millisecond)
		control <- ControlMessage{Kind: Terminate}
	}()

	report := sup.Run()
	require.NoError(t, report.SpawnerError)
	require.Equal(t, types.TerminatedByRunner, report.TerminationReason)
}
