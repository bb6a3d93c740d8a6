// Package dataflow implements the pre-spawn I/O routing graph described
// in spec.md §4.6: a bipartite graph of pipe sources and destinations,
// connected many-to-many, read by one goroutine per source once
// transmission starts.
package dataflow

import (
	"bufio"
	"io"
	"sync"

	"github.com/arenaspawn/spawner/pkg/pipe"
)

// SourceId identifies a Source within one Graph. The zero value never
// names a real source.
type SourceId int

// DestinationId identifies a Destination within one Graph.
type DestinationId int

// SourceReader intercepts bytes read from a source before the default
// fan-out runs. It may call Send on zero or more of the supplied
// connections; returning an error stops that source's reader loop.
type SourceReader interface {
	OnRead(data []byte, connections []*Connection) error
}

// SourceEOFHandler is an optional extension of SourceReader. If a
// source's handler also implements it, readSource calls OnEOF once the
// reader loop ends (EOF or every connection going dead) and before it
// returns.
type SourceEOFHandler interface {
	OnEOF(connections []*Connection)
}

// flushWriter is the shared requirement a Destination's sink must meet:
// plain pipe.WritePipe already satisfies it with a no-op Flush, a file
// destination wraps one in *bufio.Writer to batch syscalls.
type flushWriter interface {
	io.Writer
	Flush() error
}

// Connection is one (source, destination) edge, carrying a shared
// handle to the destination's writer and a sticky dead flag set after
// the first write failure.
type Connection struct {
	dst   *Destination
	srcID SourceId
	dstID DestinationId
	dead  bool
	mu    sync.Mutex
}

// SourceId returns the source end of this edge.
func (c *Connection) SourceId() SourceId { return c.srcID }

// DestinationId returns the destination end of this edge.
func (c *Connection) DestinationId() DestinationId { return c.dstID }

// Send writes data to the destination unless this connection is
// already dead. A write failure marks it dead permanently; further
// Sends are silently dropped.
func (c *Connection) Send(data []byte) {
	c.mu.Lock()
	dead := c.dead
	c.mu.Unlock()
	if dead {
		return
	}

	c.dst.mu.Lock()
	_, err := c.dst.sink.Write(data)
	c.dst.mu.Unlock()

	if err != nil {
		c.mu.Lock()
		c.dead = true
		c.mu.Unlock()
	}
}

// IsDead reports whether the last Send on this connection failed.
func (c *Connection) IsDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}

// Source owns a read pipe, the connections fanning its bytes out, and
// an optional handler that runs on its reader goroutine.
type Source struct {
	pipe        pipe.ReadPipe
	connections []*Connection
	edges       []DestinationId
	handler     SourceReader
}

// Edges lists the destinations this source currently fans out to.
func (s *Source) Edges() []DestinationId { return append([]DestinationId(nil), s.edges...) }

// HasHandler reports whether a SourceReader is attached.
func (s *Source) HasHandler() bool { return s.handler != nil }

// SetHandler attaches h, replacing any previously attached handler.
func (s *Source) SetHandler(h SourceReader) { s.handler = h }

// Destination wraps a shared writer behind a mutex so every Connection
// pointing at it can write concurrently once transmission starts.
type Destination struct {
	mu    sync.Mutex
	sink  flushWriter
	pipe  pipe.WritePipe
	edges []SourceId
}

// Edges lists the sources currently connected to this destination.
func (d *Destination) Edges() []SourceId { return append([]SourceId(nil), d.edges...) }

// DirectWrite writes data straight to this destination's sink under
// its own mutex, for callers that need to write without going through
// a graph Connection — e.g. a supervisor's on-terminate hook notifying
// a destination that a Connection's reader thread might also be
// writing to concurrently.
func (d *Destination) DirectWrite(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sink.Write(data)
	return err
}

// Graph is the full set of sources, destinations and the connections
// between them. All operations here are pre-spawn and expected to run
// on a single goroutine; TransmitData is the one-way transition into
// the concurrent phase.
type Graph struct {
	sources      map[SourceId]*Source
	destinations map[DestinationId]*Destination
	nextSrc      int
	nextDst      int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		sources:      make(map[SourceId]*Source),
		destinations: make(map[DestinationId]*Destination),
	}
}

// AddSource registers p as a new source and returns its id.
func (g *Graph) AddSource(p pipe.ReadPipe) SourceId {
	g.nextSrc++
	id := SourceId(g.nextSrc)
	g.sources[id] = &Source{pipe: p}
	return id
}

// AddDestination registers p as a new, unbuffered destination.
func (g *Graph) AddDestination(p pipe.WritePipe) DestinationId {
	g.nextDst++
	id := DestinationId(g.nextDst)
	g.destinations[id] = &Destination{sink: p, pipe: p}
	return id
}

// AddFileDestination registers p as a new destination wrapped in a
// buffered writer, appropriate for a regular file sink that would
// otherwise pay a syscall per write.
func (g *Graph) AddFileDestination(p pipe.WritePipe) DestinationId {
	g.nextDst++
	id := DestinationId(g.nextDst)
	g.destinations[id] = &Destination{sink: bufio.NewWriter(p), pipe: p}
	return id
}

// Source looks up a source by id.
func (g *Graph) Source(id SourceId) (*Source, bool) {
	s, ok := g.sources[id]
	return s, ok
}

// Destination looks up a destination by id.
func (g *Graph) Destination(id DestinationId) (*Destination, bool) {
	d, ok := g.destinations[id]
	return d, ok
}

// RemoveSource deletes src and every connection referencing it from the
// opposing destinations' edge lists, returning the underlying pipe for
// reuse (e.g. by the optimizer).
func (g *Graph) RemoveSource(id SourceId) (pipe.ReadPipe, bool) {
	src, ok := g.sources[id]
	if !ok {
		return pipe.ReadPipe{}, false
	}
	delete(g.sources, id)
	for _, dstID := range src.edges {
		if dst, ok := g.destinations[dstID]; ok {
			dst.edges = removeSourceId(dst.edges, id)
		}
	}
	return src.pipe, true
}

// RemoveDestination deletes dst and every connection referencing it
// from the opposing sources' edge/connection lists, flushing and
// returning the underlying pipe for reuse.
func (g *Graph) RemoveDestination(id DestinationId) (pipe.WritePipe, bool) {
	dst, ok := g.destinations[id]
	if !ok {
		return pipe.WritePipe{}, false
	}
	delete(g.destinations, id)
	for _, srcID := range dst.edges {
		if src, ok := g.sources[srcID]; ok {
			src.edges = removeDestinationId(src.edges, id)
			src.connections = removeConnectionTo(src.connections, id)
		}
	}
	dst.mu.Lock()
	_ = dst.sink.Flush()
	dst.mu.Unlock()
	return dst.pipe, true
}

// Connect adds an edge from src to dst. It is idempotent: connecting
// the same pair twice leaves a single Connection in place.
func (g *Graph) Connect(srcID SourceId, dstID DestinationId) {
	src, ok := g.sources[srcID]
	if !ok {
		return
	}
	dst, ok := g.destinations[dstID]
	if !ok {
		return
	}
	for _, e := range src.edges {
		if e == dstID {
			return
		}
	}
	dst.edges = append(dst.edges, srcID)
	src.edges = append(src.edges, dstID)
	src.connections = append(src.connections, &Connection{dst: dst, srcID: srcID, dstID: dstID})
}

func removeSourceId(ids []SourceId, target SourceId) []SourceId {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func removeDestinationId(ids []DestinationId, target DestinationId) []DestinationId {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func removeConnectionTo(conns []*Connection, dstID DestinationId) []*Connection {
	for i, c := range conns {
		if c.dstID == dstID {
			return append(conns[:i], conns[i+1:]...)
		}
	}
	return conns
}
