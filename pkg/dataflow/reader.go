package dataflow

import (
	"strings"
	"sync"

	"github.com/arenaspawn/spawner/internal/xerrors"
)

const readBufferSize = 8192

// Errors collects the per-source failures a Transmitter's readers hit,
// keyed by the source that produced them. A zero-value Errors is empty
// and satisfies error so a driver can return it directly when non-empty.
type Errors struct {
	bySource map[SourceId]error
}

// Empty reports whether any source reader actually failed.
func (e Errors) Empty() bool { return len(e.bySource) == 0 }

// Get returns the error recorded for id, if any.
func (e Errors) Get(id SourceId) (error, bool) {
	err, ok := e.bySource[id]
	return err, ok
}

func (e Errors) Error() string {
	var b strings.Builder
	for _, err := range e.bySource {
		b.WriteString(err.Error())
		b.WriteByte('\n')
	}
	return b.String()
}

// Transmitter is the handle returned once a Graph moves into its
// concurrent reading phase; Wait blocks until every reader goroutine
// has exited.
type Transmitter struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs map[SourceId]error
}

// TransmitData spawns one reader goroutine per remaining source and
// hands ownership of the graph's sources to them; the Graph itself must
// not be used for source operations afterward.
func (g *Graph) TransmitData() *Transmitter {
	t := &Transmitter{errs: make(map[SourceId]error)}
	for id, src := range g.sources {
		t.wg.Add(1)
		go func(id SourceId, src *Source) {
			defer t.wg.Done()
			if err := readSource(src); err != nil {
				t.mu.Lock()
				t.errs[id] = err
				t.mu.Unlock()
			}
		}(id, src)
	}
	g.sources = make(map[SourceId]*Source)
	return t
}

// Wait blocks until every reader goroutine has exited and returns the
// accumulated per-source errors (empty if none failed).
func (t *Transmitter) Wait() Errors {
	t.wg.Wait()
	return Errors{bySource: t.errs}
}

// readSource runs one source's default reader loop: read into a fixed
// buffer, hand it to the attached handler or fan it out to every
// connection directly, and stop at EOF or once every connection has
// gone dead. A panicking handler is recovered and surfaced as the
// source's error rather than crashing the whole process.
func readSource(src *Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Recovered("dataflow source reader", r)
		}
	}()
	defer func() {
		if eofHandler, ok := src.handler.(SourceEOFHandler); ok {
			eofHandler.OnEOF(src.connections)
		}
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := src.pipe.Read(buf)
		if n > 0 {
			data := buf[:n]
			if src.handler != nil {
				if herr := src.handler.OnRead(data, src.connections); herr != nil {
					return herr
				}
			} else {
				for _, c := range src.connections {
					c.Send(data)
				}
			}
		}
		if readErr != nil || n == 0 {
			return nil
		}
		if allDead(src.connections) {
			return nil
		}
	}
}

// allDead reports whether every connection has gone dead, vacuously
// true for a source with zero connections (matching the "stop once
// nothing can still receive this source's bytes" rule for a source that
// reaches this loop with no outgoing edges at all).
func allDead(conns []*Connection) bool {
	for _, c := range conns {
		if !c.IsDead() {
			return false
		}
	}
	return true
}
