// Package supervisor runs the per-program monitoring loop: spawn a
// process into its own resource group, sample usage at a fixed
// interval, consult the limit checker and the group's own hard-limit
// flags, drain control messages from the driver, and produce a final
// Report once the program (and, optionally, its children) have exited.
package supervisor

import (
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/arenaspawn/spawner/pkg/group"
	"github.com/arenaspawn/spawner/pkg/limitchecker"
	"github.com/arenaspawn/spawner/pkg/process"
	"github.com/arenaspawn/spawner/pkg/types"
)

// Supervisor owns one program's full lifecycle: its Group, its Process,
// and the limit checker tracking it. It is run on a dedicated goroutine
// by the driver and produces exactly one Report.
type Supervisor struct {
	logger          hclog.Logger
	programIndex    int
	info            *types.ProcessInfo
	stdio           process.Stdio
	limits          types.ResourceLimits
	interval        time.Duration
	control         <-chan ControlMessage
	waitForChildren bool
	onTerminate     func(types.Report)
}

// New builds a Supervisor for one program. control may be nil if the
// driver never needs to send this program control messages.
func New(
	logger hclog.Logger,
	programIndex int,
	info *types.ProcessInfo,
	stdio process.Stdio,
	limits types.ResourceLimits,
	interval time.Duration,
	control <-chan ControlMessage,
	waitForChildren bool,
) *Supervisor {
	return &Supervisor{
		logger:          logger,
		programIndex:    programIndex,
		info:            info,
		stdio:           stdio,
		limits:          limits,
		interval:        interval,
		control:         control,
		waitForChildren: waitForChildren,
	}
}

// OnTerminate registers a callback invoked with the final Report once
// Run is about to return, regardless of how the program terminated. The
// controller/agent protocol uses this as the redundant notification
// path for AgentTermination, alongside AgentStdout's own EOF handler.
func (s *Supervisor) OnTerminate(fn func(types.Report)) *Supervisor {
	s.onTerminate = fn
	return s
}

// Run blocks until the program has produced a terminal report. It never
// returns an error directly: a failure before or during spawn is folded
// into Report.SpawnerError so every configured program still gets a
// Report, per the driver's assembly contract.
func (s *Supervisor) Run() types.Report {
	report := types.Report{ProgramIndex: s.programIndex}
	if s.onTerminate != nil {
		defer func() { s.onTerminate(report) }()
	}
	// The supervisor holds this process's copies of the stdio pipe ends;
	// closing them once the report is assembled lets the dataflow readers
	// on the other ends reach EOF.
	defer func() {
		_ = s.stdio.Stdin.Close()
		_ = s.stdio.Stdout.Close()
		_ = s.stdio.Stderr.Close()
	}()

	g, err := group.New(s.logger.Named("group"), group.RestrictionsFrom(s.limits))
	if err != nil {
		report.SpawnerError = err
		return report
	}
	defer g.Close()

	// The process handle is always created suspended: pkg/process only
	// suspends when asked, so this copy of ProcessInfo forces
	// CreateSuspended regardless of the program's own request. Whether
	// it then stays suspended (the
	// controller/agent protocol holding an agent until its first
	// message) or resumes immediately is decided below, after the pid
	// has already been placed under the group's limits.
	spawnInfo := *s.info
	spawnInfo.CreateSuspended = true
	p, err := process.Spawn(&spawnInfo, s.stdio)
	if err != nil {
		report.SpawnerError = err
		return report
	}

	if err := g.Add(p.Pid()); err != nil {
		_ = p.Terminate()
		report.SpawnerError = err
		return report
	}

	if !s.info.CreateSuspended {
		if err := p.Resume(); err != nil {
			_ = p.Terminate()
			_ = g.Terminate()
			report.SpawnerError = err
			return report
		}
	}

	creationTime := time.Now()
	checker := limitchecker.New(s.limits)
	var lastCheck time.Time
	reason := types.NoTerminationReason

	for {
		if status, exited := p.ExitStatus(); exited {
			if s.waitForChildren && s.groupStillActive(g) {
				if r := s.drainControl(g, p, checker); r != types.NoTerminationReason {
					reason = r
				}
				time.Sleep(time.Millisecond)
				continue
			}

			usage, _ := g.ResourceUsage()
			if r := checker.Check(usage); r != types.NoTerminationReason {
				reason = r
			}
			report.WallClockTime = time.Since(creationTime)
			report.Usage = &usage
			report.ExitStatus = status
			report.TerminationReason = reason
			return report
		}

		if lastCheck.IsZero() || time.Since(lastCheck) > s.interval {
			lastCheck = time.Now()
			if hardReason, hit, hErr := g.HardLimitViolation(); hErr == nil && hit {
				reason = hardReason
				_ = g.Terminate()
			} else if usage, uErr := g.ResourceUsage(); uErr == nil {
				if r := checker.Check(usage); r != types.NoTerminationReason {
					reason = r
					_ = g.Terminate()
				}
			}
		}

		if r := s.drainControl(g, p, checker); r != types.NoTerminationReason {
			reason = r
		}

		time.Sleep(time.Millisecond)
	}
}

func (s *Supervisor) groupStillActive(g *group.Group) bool {
	usage, err := g.ResourceUsage()
	return err == nil && usage.PIDCounters.ActiveProcesses > 0
}

// drainControl processes up to 10 pending control messages without
// blocking, returning the last termination reason a Terminate message
// produced (or NoTerminationReason if none arrived).
func (s *Supervisor) drainControl(g *group.Group, p *process.Process, checker *limitchecker.LimitChecker) types.TerminationReason {
	if s.control == nil {
		return types.NoTerminationReason
	}
	reason := types.NoTerminationReason
	for i := 0; i < 10; i++ {
		select {
		case msg, ok := <-s.control:
			if !ok {
				return reason
			}
			switch msg.Kind {
			case Terminate:
				_ = g.Terminate()
				reason = types.TerminatedByRunner
			case Suspend:
				if _, exited := p.ExitStatus(); !exited {
					_ = p.Suspend()
				}
			case Resume:
				if _, exited := p.ExitStatus(); !exited {
					_ = p.Resume()
				}
			case ResetTime:
				checker.ResetTime()
			case StopTimeAccounting:
				checker.StopTimeAccounting()
			case ResumeTimeAccounting:
				checker.ResumeTimeAccounting()
			}
		default:
			return reason
		}
	}
	return reason
}
