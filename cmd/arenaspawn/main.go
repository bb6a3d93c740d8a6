// Command arenaspawn is an example driver entry point, not a general
// CLI: it wires a fixed controller/agent session and runs it to
// completion, printing one report line per program. Embedders are
// expected to call pkg/engine directly rather than shell out to this
// binary; it exists to exercise the whole stack end to end and to
// carry the re-exec shim every spawned child passes through.
package main

import (
	"fmt"
	"os"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/arenaspawn/spawner/internal/childinit"
	"github.com/arenaspawn/spawner/pkg/engine"
	"github.com/arenaspawn/spawner/pkg/types"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == childinit.Arg {
		childinit.Run(os.Args[2:])
		return
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "arenaspawn",
		Level: hclog.Info,
	})

	cfg := engine.Config{
		Controller: engine.ProgramSpec{
			Info: types.ProcessInfo{
				Application: "/bin/sh",
				Args:        []string{"-c", "cat"},
				EnvPolicy:   types.EnvInherit,
			},
			MonitorInterval: 20 * time.Millisecond,
		},
		Agents: []engine.ProgramSpec{
			{
				Info: types.ProcessInfo{
					Application:     "/bin/sh",
					Args:            []string{"-c", "cat"},
					EnvPolicy:       types.EnvInherit,
					CreateSuspended: true,
				},
				Limits: types.ResourceLimits{
					WallClockTime: types.Duration(5 * time.Second),
					MaxMemoryUsage: types.Bytes(256 << 20),
				},
				MonitorInterval: 20 * time.Millisecond,
			},
		},
	}

	session, err := engine.Start(logger, cfg)
	if err != nil {
		logger.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	if err := session.FeedController([]byte("1#hello agent\n")); err != nil {
		logger.Warn("failed to feed controller", "error", err)
	}

	time.Sleep(200 * time.Millisecond)
	session.ControllerHandle().Terminate()
	session.AgentHandle(1).Terminate()

	result := session.Wait()
	for _, report := range result.Reports {
		fmt.Printf(
			"program %d: %s, termination=%v, wall=%s\n",
			report.ProgramIndex, report.ExitStatus, report.TerminationReason, report.WallClockTime,
		)
	}
	if !result.DataflowErrors.Empty() {
		logger.Warn("dataflow reader errors", "errors", result.DataflowErrors)
	}
}
