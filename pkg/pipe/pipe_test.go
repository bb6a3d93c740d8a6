package pipe

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arenaspawn/spawner/internal/xerrors"
)

func TestCreateRoundTrip(t *testing.T) {
	r, w, err := Create()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, w.Close())

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestOpenWriteCreatesAndTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	w, err := OpenWrite(path, LockNone)
	require.NoError(t, err)
	_, err = w.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := OpenWrite(path, LockNone)
	require.NoError(t, err)
	_, err = w2.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "x", string(data))
}

func TestOpenReadMissingFileIsSystemError(t *testing.T) {
	_, err := OpenRead(filepath.Join(t.TempDir(), "missing"), LockNone)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.KindSystem))
}

func TestNullReadIsImmediateEOF(t *testing.T) {
	r, err := NullRead()
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestNullWriteDiscardsInput(t *testing.T) {
	w, err := NullWrite()
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("discarded"))
	require.NoError(t, err)
	require.Equal(t, len("discarded"), n)
}

func TestWritePipeIsFile(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWrite(filepath.Join(dir, "f"), LockNone)
	require.NoError(t, err)
	defer w.Close()
	require.True(t, w.IsFile())

	_, w2, err := Create()
	require.NoError(t, err)
	defer w2.Close()
	require.False(t, w2.IsFile())
}

func TestExclusiveLockRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locked")
	w, err := OpenWrite(path, LockExclusive)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
}
