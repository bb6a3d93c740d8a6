package dataflow

import "github.com/arenaspawn/spawner/pkg/pipe"

// SourceOptimization is the verdict AnalyzeSource reaches for one source.
type SourceOptimization uint8

const (
	// SourceOptimizationNone leaves the source as-is.
	SourceOptimizationNone SourceOptimization = iota
	// SourceOptimizationReplaceWithNull applies when the source has no
	// outgoing edges and no handler: nothing ever reads what it
	// produces, so its writer can be rebound to a null sink.
	SourceOptimizationReplaceWithNull
	// SourceOptimizationInline applies when the source has exactly one
	// outgoing edge, no handler, and that edge's destination has
	// exactly one incoming edge: the reader thread is skippable and the
	// source's writer can be rebound directly to the destination's.
	SourceOptimizationInline
)

// DestinationOptimization is the symmetric verdict for a destination.
type DestinationOptimization uint8

const (
	DestinationOptimizationNone DestinationOptimization = iota
	DestinationOptimizationReplaceWithNull
	DestinationOptimizationInline
)

// AnalyzeSource inspects id without mutating the graph. The returned
// DestinationId is only meaningful when the optimization is Inline.
func AnalyzeSource(g *Graph, id SourceId) (SourceOptimization, DestinationId) {
	src, ok := g.sources[id]
	if !ok || src.HasHandler() {
		return SourceOptimizationNone, 0
	}
	switch len(src.edges) {
	case 0:
		return SourceOptimizationReplaceWithNull, 0
	case 1:
		dstID := src.edges[0]
		dst := g.destinations[dstID]
		if len(dst.edges) == 1 {
			return SourceOptimizationInline, dstID
		}
		return SourceOptimizationNone, 0
	default:
		return SourceOptimizationNone, 0
	}
}

// AnalyzeDestination inspects id without mutating the graph. The
// returned SourceId is only meaningful when the optimization is Inline.
func AnalyzeDestination(g *Graph, id DestinationId) (DestinationOptimization, SourceId) {
	dst, ok := g.destinations[id]
	if !ok {
		return DestinationOptimizationNone, 0
	}
	switch len(dst.edges) {
	case 0:
		return DestinationOptimizationReplaceWithNull, 0
	case 1:
		srcID := dst.edges[0]
		src := g.sources[srcID]
		if len(src.edges) == 1 && !src.HasHandler() {
			return DestinationOptimizationInline, srcID
		}
		return DestinationOptimizationNone, 0
	default:
		return DestinationOptimizationNone, 0
	}
}

// Optimizer rewrites trivial source/destination chains to bypass
// reader threads before any program is spawned. Sources/destinations
// that participate in the controller/agent protocol must be added to
// the ignored sets so the optimizer never touches them.
type Optimizer struct {
	graph               *Graph
	ignoredSources      map[SourceId]bool
	ignoredDestinations map[DestinationId]bool
}

// NewOptimizer builds an Optimizer over graph. Either ignored set may
// be nil, meaning nothing is excluded.
func NewOptimizer(graph *Graph, ignoredSources map[SourceId]bool, ignoredDestinations map[DestinationId]bool) *Optimizer {
	return &Optimizer{graph: graph, ignoredSources: ignoredSources, ignoredDestinations: ignoredDestinations}
}

// OptimizeSource rewrites *writer — the write pipe end a program's
// stdout/stderr was going to be spawned with — in place when id
// qualifies, removing the now-redundant graph node(s) as it does.
func (o *Optimizer) OptimizeSource(id SourceId, writer *pipe.WritePipe) error {
	if o.ignoredSources[id] {
		return nil
	}
	switch opt, dstID := AnalyzeSource(o.graph, id); opt {
	case SourceOptimizationReplaceWithNull:
		o.graph.RemoveSource(id)
		null, err := pipe.NullWrite()
		if err != nil {
			return err
		}
		*writer = null
		return nil
	case SourceOptimizationInline:
		if o.ignoredDestinations[dstID] {
			return nil
		}
		o.graph.RemoveSource(id)
		w, _ := o.graph.RemoveDestination(dstID)
		*writer = w
		return nil
	default:
		return nil
	}
}

// OptimizeDestination rewrites *reader — the read pipe end a program's
// stdin was going to be spawned with — symmetrically to OptimizeSource.
func (o *Optimizer) OptimizeDestination(id DestinationId, reader *pipe.ReadPipe) error {
	if o.ignoredDestinations[id] {
		return nil
	}
	switch opt, srcID := AnalyzeDestination(o.graph, id); opt {
	case DestinationOptimizationReplaceWithNull:
		o.graph.RemoveDestination(id)
		null, err := pipe.NullRead()
		if err != nil {
			return err
		}
		*reader = null
		return nil
	case DestinationOptimizationInline:
		if o.ignoredSources[srcID] {
			return nil
		}
		o.graph.RemoveDestination(id)
		r, _ := o.graph.RemoveSource(srcID)
		*reader = r
		return nil
	default:
		return nil
	}
}
