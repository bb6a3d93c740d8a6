//go:build linux

package engine

import (
	"os"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/arenaspawn/spawner/pkg/group"
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

// TestSessionRoutesControllerCommandsToAddressedAgentOnly exercises the
// message-routing invariant end to end (spec.md §8 scenario 6): a
// controller program that emits "1W#\n2W#\n2#message\n" on its stdout
// resumes both agents but only ever delivers the data payload to agent
// 2's stdin.
func TestSessionRoutesControllerCommandsToAddressedAgentOnly(t *testing.T) {
	requireSystemd(t)

	dir := t.TempDir()
	agent1Err := dir + "/agent1.stderr"
	agent2Err := dir + "/agent2.stderr"

	cfg := Config{
		Controller: ProgramSpec{
			Info: types.ProcessInfo{
				Application: "/bin/sh",
				Args:        []string{"-c", `printf '1W#\n2W#\n2#message\n'`},
				EnvPolicy:   types.EnvInherit,
			},
			MonitorInterval: 10 * time.Millisecond,
		},
		Agents: []ProgramSpec{
			{
				Info:            types.ProcessInfo{Application: "/bin/sh", Args: []string{"-c", "cat >&2"}, EnvPolicy: types.EnvInherit, CreateSuspended: true},
				MonitorInterval: 10 * time.Millisecond,
				StderrFile:      agent1Err,
			},
			{
				Info:            types.ProcessInfo{Application: "/bin/sh", Args: []string{"-c", "cat >&2"}, EnvPolicy: types.EnvInherit, CreateSuspended: true},
				MonitorInterval: 10 * time.Millisecond,
				StderrFile:      agent2Err,
			},
		},
	}

	session, err := Start(hclog.NewNullLogger(), cfg)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	session.ControllerHandle().Terminate()
	session.AgentHandle(1).Terminate()
	session.AgentHandle(2).Terminate()

	result := session.Wait()
	require.Len(t, result.Reports, 3)

	b2, err := os.ReadFile(agent2Err)
	require.NoError(t, err)
	require.Equal(t, "message", string(b2), "only the addressed agent's stdin may receive the payload")

	b1, err := os.ReadFile(agent1Err)
	require.NoError(t, err)
	require.Empty(t, b1, "a message addressed to agent 2 must never reach agent 1")
}
