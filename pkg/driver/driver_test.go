//go:build linux

package driver

import (
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/arenaspawn/spawner/pkg/dataflow"
	"github.com/arenaspawn/spawner/pkg/group"
	"github.com/arenaspawn/spawner/pkg/pipe"
	"github.com/arenaspawn/spawner/pkg/process"
	"github.com/arenaspawn/spawner/pkg/types"
)

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

func TestRunAllProducesOneReportPerProgramInOrder(t *testing.T) {
	requireSystemd(t)

	programs := []SpawnedProgram{
		{
			Info:            types.ProcessInfo{Application: "/bin/sh", Args: []string{"-c", "exit 0"}, EnvPolicy: types.EnvInherit},
			MonitorInterval: 10 * time.Millisecond,
			Stdio:           testStdio(t),
		},
		{
			Info:            types.ProcessInfo{Application: "/bin/sh", Args: []string{"-c", "exit 7"}, EnvPolicy: types.EnvInherit},
			MonitorInterval: 10 * time.Millisecond,
			Stdio:           testStdio(t),
		},
	}

	result := RunAll(hclog.NewNullLogger(), programs, dataflow.New())

	require.Len(t, result.Reports, 2)
	require.Equal(t, 0, result.Reports[0].ProgramIndex)
	require.Equal(t, uint32(0), result.Reports[0].ExitStatus.Code)
	require.Equal(t, 1, result.Reports[1].ProgramIndex)
	require.Equal(t, uint32(7), result.Reports[1].ExitStatus.Code)
	require.True(t, result.DataflowErrors.Empty())
}

func TestStartHandleTerminatesRunningProgram(t *testing.T) {
	requireSystemd(t)

	var notified types.Report
	programs := []SpawnedProgram{
		{
			Info:            types.ProcessInfo{Application: "/bin/sh", Args: []string{"-c", "sleep 5"}, EnvPolicy: types.EnvInherit},
			MonitorInterval: 5 * time.Millisecond,
			Stdio:           testStdio(t),
			OnTerminate:     func(r types.Report) { notified = r },
		},
	}

	run := Start(hclog.NewNullLogger(), programs, dataflow.New())
	time.Sleep(20 * time.Millisecond)
	run.Handle(0).Terminate()

	result := run.Wait()
	require.Equal(t, types.TerminatedByRunner, result.Reports[0].TerminationReason)
	require.Equal(t, types.TerminatedByRunner, notified.TerminationReason)
}
