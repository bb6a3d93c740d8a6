// Package engine is the thin facade an embedder actually calls: it
// wires pkg/dataflow, pkg/protocol, and pkg/driver together into the
// controller/agent judge scenario spec.md describes, so the caller only
// supplies each program's ProcessInfo and resource limits.
//
// Program index 0 is always the controller; program index k (1..N) is
// agent k, matching the protocol's own 1-based agent numbering.
package engine

import (
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/arenaspawn/spawner/pkg/dataflow"
	"github.com/arenaspawn/spawner/pkg/driver"
	"github.com/arenaspawn/spawner/pkg/pipe"
	"github.com/arenaspawn/spawner/pkg/process"
	"github.com/arenaspawn/spawner/pkg/protocol"
	"github.com/arenaspawn/spawner/pkg/supervisor"
	"github.com/arenaspawn/spawner/pkg/types"
)

// ProgramSpec is the resource/monitoring configuration shared by the
// controller and every agent; only ProcessInfo differs in how it's
// typically populated (the controller usually has no limits at all).
type ProgramSpec struct {
	Info            types.ProcessInfo
	Limits          types.ResourceLimits
	MonitorInterval time.Duration
	WaitForChildren bool
	// StderrFile, if set, routes this program's stderr to a file;
	// otherwise stderr is discarded. Stderr never participates in the
	// dataflow graph (see spec.md's Non-goal on stderr redirection).
	StderrFile string
}

// Config describes one full controller/agent run.
type Config struct {
	Controller ProgramSpec
	Agents     []ProgramSpec
}

// Session is a started controller/agent run.
type Session struct {
	run                 *driver.Run
	controllerStdin     *dataflow.Destination
	ignoredSources      map[dataflow.SourceId]bool
	ignoredDestinations map[dataflow.DestinationId]bool
}

// IgnoredSources returns the dataflow source ids that took part in the
// controller/agent protocol, per spec.md's rule that those must never
// be handed to a dataflow.Optimizer. An embedder that mixes this
// session's graph with additional plain (non-protocol) programs in the
// same Graph passes these through to NewOptimizer.
func (s *Session) IgnoredSources() map[dataflow.SourceId]bool {
	out := make(map[dataflow.SourceId]bool, len(s.ignoredSources))
	for k, v := range s.ignoredSources {
		out[k] = v
	}
	return out
}

// IgnoredDestinations is IgnoredSources' destination-side counterpart.
func (s *Session) IgnoredDestinations() map[dataflow.DestinationId]bool {
	out := make(map[dataflow.DestinationId]bool, len(s.ignoredDestinations))
	for k, v := range s.ignoredDestinations {
		out[k] = v
	}
	return out
}

// ControllerHandle controls the controller program directly.
func (s *Session) ControllerHandle() *driver.Handle { return s.run.Handle(0) }

// AgentHandle controls agent k (1-based) directly.
func (s *Session) AgentHandle(k int) *driver.Handle { return s.run.Handle(k) }

// FeedController writes data directly into the controller's stdin,
// e.g. the judge's initial input for the problem being run.
func (s *Session) FeedController(data []byte) error {
	return s.controllerStdin.DirectWrite(data)
}

// Wait blocks until every program has finished.
func (s *Session) Wait() driver.Result { return s.run.Wait() }

func openStderr(path string) (pipe.WritePipe, error) {
	if path == "" {
		return pipe.NullWrite()
	}
	return pipe.OpenWrite(path, pipe.LockNone)
}

// Start builds the dataflow graph for cfg, spawns the controller and
// every agent, and returns a Session. It returns an error only if a
// pipe could not be created; once spawning begins, per-program failures
// are folded into that program's Report instead.
func Start(logger hclog.Logger, cfg Config) (*Session, error) {
	graph := dataflow.New()
	ignoredSources := make(map[dataflow.SourceId]bool)
	ignoredDestinations := make(map[dataflow.DestinationId]bool)

	controllerStdinRead, controllerStdinWrite, err := pipe.Create()
	if err != nil {
		return nil, err
	}
	controllerStdoutRead, controllerStdoutWrite, err := pipe.Create()
	if err != nil {
		return nil, err
	}
	controllerStderr, err := openStderr(cfg.Controller.StderrFile)
	if err != nil {
		return nil, err
	}

	controllerStdinDst := graph.AddDestination(controllerStdinWrite)
	ignoredDestinations[controllerStdinDst] = true
	controllerStdoutSrc := graph.AddSource(controllerStdoutRead)
	ignoredSources[controllerStdoutSrc] = true

	programs := make([]driver.SpawnedProgram, 1+len(cfg.Agents))
	agentControl := make(map[int]chan<- supervisor.ControlMessage, len(cfg.Agents))
	agentStdin := make(map[dataflow.DestinationId]int, len(cfg.Agents))

	type agentPipes struct {
		stdinDst  dataflow.DestinationId
		stdoutSrc dataflow.SourceId
	}
	agentIDs := make([]agentPipes, len(cfg.Agents))

	for i, spec := range cfg.Agents {
		index := i + 1

		stdinRead, stdinWrite, err := pipe.Create()
		if err != nil {
			return nil, err
		}
		stdoutRead, stdoutWrite, err := pipe.Create()
		if err != nil {
			return nil, err
		}
		stderr, err := openStderr(spec.StderrFile)
		if err != nil {
			return nil, err
		}

		stdinDst := graph.AddDestination(stdinWrite)
		ignoredDestinations[stdinDst] = true
		stdoutSrc := graph.AddSource(stdoutRead)
		ignoredSources[stdoutSrc] = true

		agentStdin[stdinDst] = index
		agentIDs[i] = agentPipes{stdinDst: stdinDst, stdoutSrc: stdoutSrc}

		control := make(chan supervisor.ControlMessage, 16)
		agentControl[index] = control

		programs[index] = driver.SpawnedProgram{
			Info:            spec.Info,
			Limits:          spec.Limits,
			MonitorInterval: spec.MonitorInterval,
			WaitForChildren: spec.WaitForChildren,
			Stdio: process.Stdio{
				Stdin:  stdinRead,
				Stdout: stdoutWrite,
				Stderr: stderr,
			},
			Control: control,
		}
	}

	controllerControl := make(chan supervisor.ControlMessage, 16)
	programs[0] = driver.SpawnedProgram{
		Info:            cfg.Controller.Info,
		Limits:          cfg.Controller.Limits,
		MonitorInterval: cfg.Controller.MonitorInterval,
		WaitForChildren: cfg.Controller.WaitForChildren,
		Stdio: process.Stdio{
			Stdin:  controllerStdinRead,
			Stdout: controllerStdoutWrite,
			Stderr: controllerStderr,
		},
		Control: controllerControl,
	}

	controllerStdinDest, _ := graph.Destination(controllerStdinDst)
	controllerStdoutHandler := protocol.NewControllerStdout(controllerControl, agentControl, agentStdin)
	controllerStdoutSource, _ := graph.Source(controllerStdoutSrc)
	controllerStdoutSource.SetHandler(controllerStdoutHandler)

	for i, ids := range agentIDs {
		index := i + 1
		graph.Connect(controllerStdoutSrc, ids.stdinDst)
		graph.Connect(ids.stdoutSrc, controllerStdinDst)

		agentHandler := protocol.NewAgentStdout(index, agentControl[index])
		agentStdoutSource, _ := graph.Source(ids.stdoutSrc)
		agentStdoutSource.SetHandler(agentHandler)

		notifier := protocol.NewAgentTermination(index, controllerStdinDest)
		programs[index].OnTerminate = func(types.Report) { notifier.Notify() }
	}

	run := driver.Start(logger, programs, graph)
	return &Session{
		run:                 run,
		controllerStdin:     controllerStdinDest,
		ignoredSources:      ignoredSources,
		ignoredDestinations: ignoredDestinations,
	}, nil
}
