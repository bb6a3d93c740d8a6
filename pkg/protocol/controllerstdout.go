package protocol

import (
	"github.com/arenaspawn/spawner/internal/xerrors"
	"github.com/arenaspawn/spawner/pkg/dataflow"
	"github.com/arenaspawn/spawner/pkg/supervisor"
)

// ControllerStdout is the SourceReader attached to the controller's
// stdout source. It demultiplexes each completed message into either a
// control command for one agent's supervisor, a stdin write routed to
// exactly the agent it addresses, or a raw broadcast to any other
// (file) destination.
type ControllerStdout struct {
	controllerControl chan<- supervisor.ControlMessage
	agentControl      map[int]chan<- supervisor.ControlMessage
	agentStdin        map[dataflow.DestinationId]int
	buf               *lineBuffer
}

// NewControllerStdout builds a handler for the controller's stdout.
// agentControl maps a 1-based agent index to that agent's supervisor
// control channel. agentStdin maps a destination id to the 1-based
// agent index it is the stdin of, so non-stdin (file) destinations can
// be told apart from the one the message actually addresses.
func NewControllerStdout(
	controllerControl chan<- supervisor.ControlMessage,
	agentControl map[int]chan<- supervisor.ControlMessage,
	agentStdin map[dataflow.DestinationId]int,
) *ControllerStdout {
	return &ControllerStdout{
		controllerControl: controllerControl,
		agentControl:      agentControl,
		agentStdin:        agentStdin,
		buf:               newLineBuffer(""),
	}
}

func (c *ControllerStdout) OnRead(data []byte, connections []*dataflow.Connection) error {
	rest, err := c.buf.write(data)
	if err != nil {
		c.killEverything()
		return err
	}
	for c.buf.isReady() {
		if err := c.handleMessage(connections); err != nil {
			c.killEverything()
			return err
		}
		c.buf.reset("")
		rest, err = c.buf.write(rest)
		if err != nil {
			c.killEverything()
			return err
		}
	}
	return nil
}

func (c *ControllerStdout) handleMessage(connections []*dataflow.Connection) error {
	if c.controllerControl != nil {
		c.controllerControl <- supervisor.ControlMessage{Kind: supervisor.ResetTime}
	}

	frame := append([]byte(nil), c.buf.frame()...)
	msg, err := ParseMessage(frame)
	if err != nil {
		return err
	}

	// An index of 0 means "no target" (the header carried no digits) and
	// is never checked; any explicit index must name a real agent, or
	// the message is destructive to the whole run, matching
	// protocol.rs's handle_msg out-of-range check.
	if msg.AgentIndex != 0 {
		if _, ok := c.agentControl[msg.AgentIndex]; !ok {
			return xerrors.Protocolf("agent index %d is out of range", msg.AgentIndex)
		}
	}

	switch msg.Tag {
	case TagResume:
		if ch, ok := c.agentControl[msg.AgentIndex]; ok {
			ch <- supervisor.ControlMessage{Kind: supervisor.Resume}
			ch <- supervisor.ControlMessage{Kind: supervisor.ResumeTimeAccounting}
		}
	case TagTerminate:
		if ch, ok := c.agentControl[msg.AgentIndex]; ok {
			ch <- supervisor.ControlMessage{Kind: supervisor.Terminate}
		}
	}

	framed := append(frame, '\n')
	for _, conn := range connections {
		agentIndex, isAgentStdin := c.agentStdin[conn.DestinationId()]
		if !isAgentStdin {
			conn.Send(framed)
			continue
		}
		if msg.Tag == TagData && agentIndex == msg.AgentIndex {
			conn.Send(msg.Payload)
		}
	}
	return nil
}

// OnEOF resumes every agent once the controller's own stdout has
// closed, letting them run to completion without further commands.
func (c *ControllerStdout) OnEOF(connections []*dataflow.Connection) {
	for _, ch := range c.agentControl {
		ch <- supervisor.ControlMessage{Kind: supervisor.Resume}
		ch <- supervisor.ControlMessage{Kind: supervisor.ResumeTimeAccounting}
	}
}

func (c *ControllerStdout) killEverything() {
	if c.controllerControl != nil {
		c.controllerControl <- supervisor.ControlMessage{Kind: supervisor.Terminate}
	}
	for _, ch := range c.agentControl {
		ch <- supervisor.ControlMessage{Kind: supervisor.Terminate}
	}
}
