// Package driver is the orchestration layer: it spawns one supervisor
// goroutine per configured program, drives the dataflow graph's reader
// threads alongside them, and joins everything into a final Result. It
// knows nothing about the controller/agent wire protocol — that layer
// is assembled on top, in pkg/engine.
package driver

import (
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"

	"github.com/arenaspawn/spawner/pkg/dataflow"
	"github.com/arenaspawn/spawner/pkg/process"
	"github.com/arenaspawn/spawner/pkg/supervisor"
	"github.com/arenaspawn/spawner/pkg/types"
)

// SpawnedProgram is one program to run, per spec.md §6's external
// interface: an immutable process description, its resource limits,
// how often to poll it, whether to wait for its children, and the
// stdio triple it was assigned by the caller's dataflow graph
// construction.
type SpawnedProgram struct {
	Info             types.ProcessInfo
	Limits           types.ResourceLimits
	MonitorInterval  time.Duration
	WaitForChildren  bool
	Stdio            process.Stdio
	// OnTerminate, if set, is called with this program's final Report
	// once its supervisor is about to return.
	OnTerminate func(types.Report)
	// Control, if set, is used as this program's supervisor control
	// channel instead of one Start creates internally. A caller that
	// needs to send control kinds beyond what Handle exposes (the
	// controller/agent protocol's ResetTime/StopTimeAccounting/
	// ResumeTimeAccounting) supplies its own channel here and keeps the
	// send side for itself.
	Control chan supervisor.ControlMessage
}

// Handle lets a caller embedding this module control one already
// spawned program — terminate it, or suspend/resume it directly —
// mirroring Spawner::controllers() in the grounding implementation.
// Sends are non-blocking: a Handle used after its program has already
// finished (and its supervisor goroutine has stopped draining the
// channel) must never block the caller.
type Handle struct {
	id      string
	control chan<- supervisor.ControlMessage
}

// ID returns a short opaque identifier for this handle, useful for
// logging; it carries no meaning beyond uniqueness.
func (h *Handle) ID() string { return h.id }

// Terminate asks the program's supervisor to terminate it.
func (h *Handle) Terminate() { h.send(supervisor.Terminate) }

// Suspend asks the program's supervisor to suspend it.
func (h *Handle) Suspend() { h.send(supervisor.Suspend) }

// Resume asks the program's supervisor to resume it.
func (h *Handle) Resume() { h.send(supervisor.Resume) }

func (h *Handle) send(kind supervisor.ControlKind) {
	select {
	case h.control <- supervisor.ControlMessage{Kind: kind}:
	default:
	}
}

// Result is the output of a Run: one Report per configured program, in
// program-index order, plus any dataflow reader-thread errors. Neither
// field is dropped in favor of the other (the Rust original's
// TaskErrors/Errors split, kept intact here rather than collapsing to
// just a slice of reports).
type Result struct {
	Reports        []types.Report
	DataflowErrors dataflow.Errors
}

// Run is a handle to an in-flight orchestration: Handles are available
// immediately so an embedder can act on a running program without
// waiting for completion, while Wait blocks for the terminal Result.
type Run struct {
	handles []*Handle
	done    chan Result
}

// Handle returns the control handle for program index i, as passed to
// Start's programs slice.
func (r *Run) Handle(i int) *Handle { return r.handles[i] }

// Wait blocks until every program has produced a Report and every
// dataflow reader thread has exited.
func (r *Run) Wait() Result { return <-r.done }

// Start spawns one supervisor goroutine per program and kicks off the
// dataflow graph's reader threads, returning immediately with handles
// to every program. graph must already have every source/destination
// this run's stdio triples reference registered and connected (and the
// optimizer, if used, already applied) — Start only calls TransmitData.
func Start(logger hclog.Logger, programs []SpawnedProgram, graph *dataflow.Graph) *Run {
	run := &Run{
		handles: make([]*Handle, len(programs)),
		done:    make(chan Result, 1),
	}

	controls := make([]chan supervisor.ControlMessage, len(programs))
	for i := range programs {
		if programs[i].Control != nil {
			controls[i] = programs[i].Control
		} else {
			controls[i] = make(chan supervisor.ControlMessage, 16)
		}
		id, err := uuid.GenerateUUID()
		if err != nil {
			id = ""
		}
		run.handles[i] = &Handle{id: id, control: controls[i]}
	}

	transmitter := graph.TransmitData()

	reports := make([]types.Report, len(programs))
	var wg sync.WaitGroup
	for i := range programs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := programs[i]
			sup := supervisor.New(
				logger.Named("supervisor").With("program", i),
				i,
				&p.Info,
				p.Stdio,
				p.Limits,
				p.MonitorInterval,
				controls[i],
				p.WaitForChildren,
			)
			if p.OnTerminate != nil {
				sup.OnTerminate(p.OnTerminate)
			}
			reports[i] = sup.Run()
		}(i)
	}

	go func() {
		wg.Wait()
		errs := transmitter.Wait()
		run.done <- Result{Reports: reports, DataflowErrors: errs}
		close(run.done)
	}()

	return run
}

// RunAll spawns every program, waits for completion, and returns the
// final Result directly — the common case when no caller needs a
// Handle mid-flight.
func RunAll(logger hclog.Logger, programs []SpawnedProgram, graph *dataflow.Graph) Result {
	return Start(logger, programs, graph).Wait()
}
