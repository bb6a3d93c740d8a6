package dataflow

import (
	"os"
	"testing"

	"github.com/arenaspawn/spawner/pkg/pipe"
	"github.com/stretchr/testify/require"
)

func TestConnectIsIdempotent(t *testing.T) {
	g := New()
	r, w, err := pipe.Create()
	require.NoError(t, err)
	defer w.Close()
	srcID := g.AddSource(r)
	_, w2, err := pipe.Create()
	require.NoError(t, err)
	defer w2.Close()
	dstID := g.AddDestination(w2)

	g.Connect(srcID, dstID)
	g.Connect(srcID, dstID)

	src, _ := g.Source(srcID)
	require.Len(t, src.Edges(), 1, "a duplicate Connect must not create a second edge")
	require.Len(t, src.connections, 1)
}

func TestRemoveSourceClearsDestinationEdges(t *testing.T) {
	g := New()
	r, w, err := pipe.Create()
	require.NoError(t, err)
	defer w.Close()
	srcID := g.AddSource(r)
	_, w2, err := pipe.Create()
	require.NoError(t, err)
	defer w2.Close()
	dstID := g.AddDestination(w2)
	g.Connect(srcID, dstID)

	_, ok := g.RemoveSource(srcID)
	require.True(t, ok)

	dst, _ := g.Destination(dstID)
	require.Empty(t, dst.Edges())
}

func TestRemoveDestinationClearsSourceEdgesAndConnections(t *testing.T) {
	g := New()
	r, w, err := pipe.Create()
	require.NoError(t, err)
	defer w.Close()
	srcID := g.AddSource(r)
	_, w2, err := pipe.Create()
	require.NoError(t, err)
	defer w2.Close()
	dstID := g.AddDestination(w2)
	g.Connect(srcID, dstID)

	_, ok := g.RemoveDestination(dstID)
	require.True(t, ok)

	src, _ := g.Source(srcID)
	require.Empty(t, src.Edges())
	require.Empty(t, src.connections)
}

func TestConnectionSendMarksDeadOnWriteFailure(t *testing.T) {
	g := New()
	r, w, err := pipe.Create()
	require.NoError(t, err)
	srcID := g.AddSource(r)
	_, w2, err := pipe.Create()
	require.NoError(t, err)
	dstID := g.AddDestination(w2)
	g.Connect(srcID, dstID)
	w.Close()
	w2.Close() // closing the destination's own write end makes the next Send fail

	src, _ := g.Source(srcID)
	conn := src.connections[0]
	conn.Send([]byte("x"))
	require.True(t, conn.IsDead())

	conn.Send([]byte("y")) // dropped silently, not a second failure path
	require.True(t, conn.IsDead())
}

func TestReadSourceForwardsBytesToEveryConnection(t *testing.T) {
	g := New()
	r, w, err := pipe.Create()
	require.NoError(t, err)
	srcID := g.AddSource(r)

	dir := t.TempDir()
	out1 := dir + "/out1"
	out2 := dir + "/out2"
	w1, err := pipe.OpenWrite(out1, pipe.LockNone)
	require.NoError(t, err)
	w2, err := pipe.OpenWrite(out2, pipe.LockNone)
	require.NoError(t, err)
	d1 := g.AddDestination(w1)
	d2 := g.AddDestination(w2)
	g.Connect(srcID, d1)
	g.Connect(srcID, d2)

	transmitter := g.TransmitData()
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	errs := transmitter.Wait()
	require.True(t, errs.Empty())

	b1, err := os.ReadFile(out1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b1))
	b2, err := os.ReadFile(out2)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b2))
}

func TestOptimizeSourceReplacesZeroEdgeSourceWithNull(t *testing.T) {
	g := New()
	r, w, err := pipe.Create()
	require.NoError(t, err)
	defer w.Close()
	srcID := g.AddSource(r)

	opt := NewOptimizer(g, nil, nil)
	writer := w
	require.NoError(t, opt.OptimizeSource(srcID, &writer))

	_, ok := g.Source(srcID)
	require.False(t, ok, "the optimized-away source must be removed from the graph")
}

func TestOptimizeSourceInlinesSingleEdgeChain(t *testing.T) {
	g := New()
	r, w, err := pipe.Create()
	require.NoError(t, err)
	defer w.Close()
	srcID := g.AddSource(r)
	_, w2, err := pipe.Create()
	require.NoError(t, err)
	dstID := g.AddDestination(w2)
	g.Connect(srcID, dstID)

	opt := NewOptimizer(g, nil, nil)
	writer := w
	require.NoError(t, opt.OptimizeSource(srcID, &writer))

	_, srcOk := g.Source(srcID)
	_, dstOk := g.Destination(dstID)
	require.False(t, srcOk)
	require.False(t, dstOk)
	require.Equal(t, w2, writer, "the source's stdout pipe must be rebound to the destination's writer")
}

func TestOptimizeSourceSkipsIgnoredSource(t *testing.T) {
	g := New()
	r, w, err := pipe.Create()
	require.NoError(t, err)
	defer w.Close()
	srcID := g.AddSource(r)

	opt := NewOptimizer(g, map[SourceId]bool{srcID: true}, nil)
	writer := w
	require.NoError(t, opt.OptimizeSource(srcID, &writer))

	_, ok := g.Source(srcID)
	require.True(t, ok, "an ignored source must survive the optimizer")
}

func TestOptimizeDestinationReplacesZeroEdgeDestinationWithNull(t *testing.T) {
	g := New()
	_, w, err := pipe.Create()
	require.NoError(t, err)
	defer w.Close()
	dstID := g.AddDestination(w)

	r, err := pipe.NullRead()
	require.NoError(t, err)
	opt := NewOptimizer(g, nil, nil)
	require.NoError(t, opt.OptimizeDestination(dstID, &r))

	_, ok := g.Destination(dstID)
	require.False(t, ok)
}
