//go:build linux

package process

import (
	"os"
	"testing"
	"time"

	"github.com/arenaspawn/spawner/pkg/pipe"
	"github.com/arenaspawn/spawner/pkg/types"
	"github.com/stretchr/testify/require"
)

func testStdio(t *testing.T) Stdio {
	t.Helper()
	null, err := pipe.NullRead()
	require.NoError(t, err)
	out, err := pipe.NullWrite()
	require.NoError(t, err)
	return Stdio{Stdin: null, Stdout: out, Stderr: out}
}

func TestSpawnSuspendedStartsStopped(t *testing.T) {
	info := &types.ProcessInfo{
		Application:     "/bin/sh",
		Args:            []string{"-c", "exit 0"},
		CreateSuspended: true,
		EnvPolicy:       types.EnvInherit,
	}
	p, err := Spawn(info, testStdio(t))
	require.NoError(t, err)
	defer p.Terminate()

	time.Sleep(50 * time.Millisecond)
	_, exited := p.ExitStatus()
	require.False(t, exited, "a suspended process must not exit on its own")

	require.NoError(t, p.Resume())
	status := p.Wait()
	require.Equal(t, types.ExitFinished, status.Kind)
	require.Equal(t, uint32(0), status.Code)
}

func TestSpawnNotSuspendedRunsImmediately(t *testing.T) {
	info := &types.ProcessInfo{
		Application: "/bin/sh",
		Args:        []string{"-c", "exit 7"},
		EnvPolicy:   types.EnvInherit,
	}
	p, err := Spawn(info, testStdio(t))
	require.NoError(t, err)
	defer p.Terminate()

	status := p.Wait()
	require.Equal(t, types.ExitFinished, status.Kind)
	require.Equal(t, uint32(7), status.Code)
}

func TestTerminateKillsRunningProcess(t *testing.T) {
	info := &types.ProcessInfo{
		Application: "/bin/sh",
		Args:        []string{"-c", "sleep 30"},
		EnvPolicy:   types.EnvInherit,
	}
	p, err := Spawn(info, testStdio(t))
	require.NoError(t, err)

	require.NoError(t, p.Terminate())
	status := p.Wait()
	require.Equal(t, types.ExitCrashed, status.Kind)
	require.Contains(t, status.Cause, "SIGKILL")
}

func TestTerminateAfterExitIsNoop(t *testing.T) {
	info := &types.ProcessInfo{
		Application: "/bin/sh",
		Args:        []string{"-c", "exit 0"},
		EnvPolicy:   types.EnvInherit,
	}
	p, err := Spawn(info, testStdio(t))
	require.NoError(t, err)
	p.Wait()
	require.NoError(t, p.Terminate())
}

func TestEnvClearLeavesOnlyExplicitVars(t *testing.T) {
	require.NoError(t, os.Setenv("SPAWNER_TEST_PARENT_ONLY", "present"))
	defer os.Unsetenv("SPAWNER_TEST_PARENT_ONLY")

	dir := t.TempDir()
	outPath := dir + "/env.out"
	outFile, err := pipe.OpenWrite(outPath, pipe.LockNone)
	require.NoError(t, err)

	info := &types.ProcessInfo{
		Application: "/usr/bin/env",
		EnvPolicy:   types.EnvClear,
		Env:         map[string]string{"ONLY": "set"},
	}
	null, err := pipe.NullRead()
	require.NoError(t, err)
	p, err := Spawn(info, Stdio{Stdin: null, Stdout: outFile, Stderr: outFile})
	require.NoError(t, err)
	p.Wait()
	require.NoError(t, outFile.Close())

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, "ONLY=set\n", string(data))
}
