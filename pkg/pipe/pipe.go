// Package pipe implements the anonymous-pipe / file-as-pipe / null-device
// primitives described in spec.md §4.1. ReadPipe and WritePipe each wrap a
// single os.File: movable and usable from another goroutine, but never
// cloned — the dataflow graph shares a WritePipe by wrapping it behind its
// own mutex (see pkg/dataflow), not by duplicating the handle.
package pipe

import (
	"io"
	"os"
)

// ReadPipe is the reading end of a pipe, or a file opened for reading.
type ReadPipe struct {
	f *os.File
}

// WritePipe is the writing end of a pipe, or a file opened for writing.
type WritePipe struct {
	f    *os.File
	file bool
}

// FileLock selects the advisory/mandatory locking mode requested when
// opening a file-backed pipe.
type FileLock uint8

const (
	LockNone FileLock = iota
	LockShared
	LockExclusive
)

// Create returns a connected (ReadPipe, WritePipe) pair. The pipe is
// inheritable by a direct child but kept close-on-exec for every other
// spawn, matching spec.md's "kept non-inheritable to other spawns"
// requirement; platform code controls inheritance explicitly at spawn
// time rather than relying on the default.
func Create() (ReadPipe, WritePipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return ReadPipe{}, WritePipe{}, wrapSystem("create pipe", err)
	}
	return ReadPipe{f: r}, WritePipe{f: w}, nil
}

// File exposes the underlying *os.File for platform-specific spawn code
// that needs to pass it down as a child file descriptor/handle.
func (p ReadPipe) File() *os.File { return p.f }

// File exposes the underlying *os.File for platform-specific spawn code.
func (p WritePipe) File() *os.File { return p.f }

// Read implements io.Reader. Short reads are allowed; a zero-length
// result with a nil error never happens for a regular pipe, but callers
// must still treat n==0, err==io.EOF as end of stream.
func (p ReadPipe) Read(buf []byte) (int, error) {
	return p.f.Read(buf)
}

// Write implements io.Writer by delegating to os.File.Write, which
// keeps writing until all of buf is written or an error occurs;
// dataflow.Connection relies on that and calls Write once per Send.
func (p WritePipe) Write(buf []byte) (int, error) {
	return p.f.Write(buf)
}

// Flush is a no-op for a plain pipe; it exists so WritePipe satisfies the
// same interface a buffered file destination does in pkg/dataflow.
func (p WritePipe) Flush() error { return nil }

// Close releases the underlying descriptor. Closing twice is safe and
// returns the second call's (already-closed) error, matching os.File.
func (p ReadPipe) Close() error {
	if p.f == nil {
		return nil
	}
	return p.f.Close()
}

// Close releases the underlying descriptor.
func (p WritePipe) Close() error {
	if p.f == nil {
		return nil
	}
	return p.f.Close()
}

// IsFile reports whether this write pipe targets a regular file, which
// lets the dataflow graph decide whether to wrap it in a buffered writer.
func (p WritePipe) IsFile() bool { return p.file }

// OpenRead opens path for reading, optionally requesting a lock.
func OpenRead(path string, lock FileLock) (ReadPipe, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return ReadPipe{}, wrapSystem("open file for reading: "+path, err)
	}
	if lock != LockNone {
		if err := lockFile(f, lock); err != nil {
			f.Close()
			return ReadPipe{}, err
		}
	}
	return ReadPipe{f: f}, nil
}

// OpenWrite opens path for writing, creating/truncating it, optionally
// requesting a lock.
func OpenWrite(path string, lock FileLock) (WritePipe, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return WritePipe{}, wrapSystem("open file for writing: "+path, err)
	}
	if lock != LockNone {
		if err := lockFile(f, lock); err != nil {
			f.Close()
			return WritePipe{}, err
		}
	}
	return WritePipe{f: f, file: true}, nil
}

// NullRead opens the platform null device for reading: every Read
// returns (0, io.EOF) immediately.
func NullRead() (ReadPipe, error) {
	f, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err != nil {
		return ReadPipe{}, wrapSystem("open null device for reading", err)
	}
	return ReadPipe{f: f}, nil
}

// NullWrite opens the platform null device for writing: every Write
// discards its input and reports success.
func NullWrite() (WritePipe, error) {
	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return WritePipe{}, wrapSystem("open null device for writing", err)
	}
	return WritePipe{f: f}, nil
}

var _ io.ReadCloser = ReadPipe{}
var _ io.WriteCloser = WritePipe{}
