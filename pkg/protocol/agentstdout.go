package protocol

import (
	"strconv"

	"github.com/arenaspawn/spawner/pkg/dataflow"
	"github.com/arenaspawn/spawner/pkg/supervisor"
)

// AgentStdout is the SourceReader attached to one agent's stdout
// source. Agents can only ever emit whole lines, each one automatically
// tagged with that agent's 1-based index before being fanned out.
//
// Completing a line suspends the agent and stops its time accounting
// rather than resetting it outright, per the explicit wording carried
// into the requirements (see DESIGN.md for the divergence from the
// grounding source, which resets timers instead).
type AgentStdout struct {
	index   int
	control chan<- supervisor.ControlMessage
	buf     *lineBuffer
}

// NewAgentStdout builds a handler for agent index (1-based). control is
// the agent's own supervisor control channel; it may be nil in tests
// that don't care about suspend/resume side effects.
func NewAgentStdout(index int, control chan<- supervisor.ControlMessage) *AgentStdout {
	a := &AgentStdout{index: index, control: control}
	a.buf = newLineBuffer(a.prefix())
	return a
}

func (a *AgentStdout) prefix() string { return strconv.Itoa(a.index) + "#" }

func (a *AgentStdout) OnRead(data []byte, connections []*dataflow.Connection) error {
	rest, err := a.buf.write(data)
	if err != nil {
		a.send(supervisor.ControlMessage{Kind: supervisor.Terminate})
		return err
	}
	for a.buf.isReady() {
		a.send(supervisor.ControlMessage{Kind: supervisor.Suspend})
		a.send(supervisor.ControlMessage{Kind: supervisor.StopTimeAccounting})

		line := append([]byte(nil), a.buf.buf...)
		for _, c := range connections {
			c.Send(line)
		}

		a.buf.reset(a.prefix())
		rest, err = a.buf.write(rest)
		if err != nil {
			a.send(supervisor.ControlMessage{Kind: supervisor.Terminate})
			return err
		}
	}
	return nil
}

// OnEOF emits the termination notice once this agent's stdout closes,
// one of the two redundant paths spec.md names for delivering it (the
// other being AgentTermination's on-terminate hook).
func (a *AgentStdout) OnEOF(connections []*dataflow.Connection) {
	notice := FrameTermination(a.index)
	for _, c := range connections {
		c.Send(notice)
	}
}

func (a *AgentStdout) send(msg supervisor.ControlMessage) {
	if a.control == nil {
		return
	}
	a.control <- msg
}
