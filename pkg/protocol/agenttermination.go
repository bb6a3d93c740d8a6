package protocol

import "github.com/arenaspawn/spawner/pkg/dataflow"

// AgentTermination writes one agent's termination notice directly into
// the controller's stdin destination, sharing that destination's
// mutex with any in-flight graph Connection writes so the two paths
// never interleave. It is the redundant path spec.md names alongside
// AgentStdout's own EOF handler: a supervisor calls Notify once its
// program has exited, regardless of whether that agent's stdout reader
// already delivered the same notice.
type AgentTermination struct {
	index int
	stdin *dataflow.Destination
}

// NewAgentTermination builds a notifier for agent index (1-based)
// writing into the controller's stdin destination.
func NewAgentTermination(index int, stdin *dataflow.Destination) *AgentTermination {
	return &AgentTermination{index: index, stdin: stdin}
}

// Notify writes the termination notice, ignoring a write failure: by
// the time an agent exits, the controller may already have exited too.
func (a *AgentTermination) Notify() {
	if a.stdin == nil {
		return
	}
	_ = a.stdin.DirectWrite(FrameTermination(a.index))
}
