// Package protocol implements the controller/agent line protocol layered
// on top of the dataflow graph (spec.md §4.7): framed, addressed
// messages multiplexed over the controller's stdin/stdout and each
// agent's stdout.
package protocol

import (
	"strconv"
	"strings"

	"github.com/arenaspawn/spawner/internal/xerrors"
)

// MaxMessageSize is the hard cap on one framed message, including its
// header and trailing newline. A message that would exceed it is a
// protocol error.
const MaxMessageSize = 64 * 1024

// Tag names what a completed controller message asks for.
type Tag uint8

const (
	// TagData is the empty tag: the payload is data for the addressed
	// agent's stdin (or a broadcast write to file sinks).
	TagData Tag = iota
	// TagResume asks the addressed agent's supervisor to resume it.
	TagResume
	// TagTerminate asks the addressed agent's supervisor to terminate it.
	TagTerminate
)

// Message is one parsed, framed line: an optional addressed agent index
// (0 meaning "all"/"none"), a tag, and the payload that followed the
// header.
type Message struct {
	AgentIndex int
	Tag        Tag
	Payload    []byte
}

// ParseMessage parses a single complete frame, not including its
// trailing newline. The header is an optional run of decimal digits
// (the 1-based agent index) followed by a single tag byte: empty for
// data, 'W' for resume, 'S' for terminate.
func ParseMessage(frame []byte) (Message, error) {
	i := 0
	for i < len(frame) && frame[i] >= '0' && frame[i] <= '9' {
		i++
	}
	index := 0
	if i > 0 {
		n, err := strconv.Atoi(string(frame[:i]))
		if err != nil {
			return Message{}, xerrors.Protocolf("malformed agent index in header: %q", frame[:i])
		}
		index = n
	}

	rest := frame[i:]
	if len(rest) == 0 {
		return Message{}, xerrors.Protocol("message missing tag separator")
	}

	switch rest[0] {
	case '#':
		return Message{AgentIndex: index, Tag: TagData, Payload: rest[1:]}, nil
	case 'W':
		if len(rest) < 2 || rest[1] != '#' {
			return Message{}, xerrors.Protocolf("malformed resume message: %q", frame)
		}
		return Message{AgentIndex: index, Tag: TagResume, Payload: rest[2:]}, nil
	case 'S':
		if len(rest) < 2 || rest[1] != '#' {
			return Message{}, xerrors.Protocolf("malformed terminate message: %q", frame)
		}
		return Message{AgentIndex: index, Tag: TagTerminate, Payload: rest[2:]}, nil
	default:
		return Message{}, xerrors.Protocolf("unrecognized tag byte %q in header: %q", rest[0], frame)
	}
}

// FrameData renders a data message addressed to agentIndex (0 for
// "none"/unaddressed) carrying payload, including the trailing newline.
func FrameData(agentIndex int, payload []byte) []byte {
	return frame(agentIndex, "#", payload)
}

// FrameTermination renders the termination notice for agentIndex.
func FrameTermination(agentIndex int) []byte {
	return frame(agentIndex, "T#", nil)
}

func frame(agentIndex int, tag string, payload []byte) []byte {
	var b strings.Builder
	b.Grow(len(tag) + len(payload) + 12)
	if agentIndex != 0 {
		b.WriteString(strconv.Itoa(agentIndex))
	}
	b.WriteString(tag)
	b.Write(payload)
	b.WriteByte('\n')
	return []byte(b.String())
}
