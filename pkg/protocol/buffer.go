package protocol

import "github.com/arenaspawn/spawner/internal/xerrors"

// lineBuffer accumulates bytes up to (and including) the first '\n',
// erroring if doing so would exceed MaxMessageSize. It mirrors the wire
// grammar's framing rule directly: one write() call can straddle many
// frames, so write returns whatever bytes followed the first newline
// for the caller to re-feed.
type lineBuffer struct {
	buf   []byte
	ready bool
}

func newLineBuffer(seed string) *lineBuffer {
	return &lineBuffer{buf: []byte(seed)}
}

// write appends data to the buffer up to and including the first
// newline found, marking the buffer ready (see isReady) once a full
// line is in. It returns the unconsumed remainder of data, if a newline
// was found partway through it.
func (b *lineBuffer) write(data []byte) (rest []byte, err error) {
	if b.ready {
		return data, nil
	}
	for i, c := range data {
		if len(b.buf) >= MaxMessageSize {
			return nil, xerrors.Protocolf("message exceeds %d byte cap", MaxMessageSize)
		}
		b.buf = append(b.buf, c)
		if c == '\n' {
			b.ready = true
			return data[i+1:], nil
		}
	}
	if len(b.buf) > MaxMessageSize {
		return nil, xerrors.Protocolf("message exceeds %d byte cap", MaxMessageSize)
	}
	return nil, nil
}

// isReady reports whether a complete line (terminated by '\n') has
// been accumulated.
func (b *lineBuffer) isReady() bool { return b.ready }

// frame returns the accumulated line without its trailing newline.
func (b *lineBuffer) frame() []byte {
	if len(b.buf) == 0 {
		return nil
	}
	return b.buf[:len(b.buf)-1]
}

// reset clears the buffer and reseeds it with prefix, ready for the
// next line.
func (b *lineBuffer) reset(seed string) {
	b.buf = []byte(seed)
	b.ready = false
}
