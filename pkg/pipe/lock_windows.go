//go:build windows

package pipe

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockFile places a LockFileEx-based lock on f. On Windows this is a
// mandatory lock enforced by the filesystem, matching spec.md §4.1's
// "FileLock::Exclusive requests a mandatory lock where the OS supports
// it".
func lockFile(f *os.File, lock FileLock) error {
	var flags uint32
	if lock == LockExclusive {
		flags |= windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	ol := new(windows.Overlapped)
	h := windows.Handle(f.Fd())
	err := windows.LockFileEx(h, flags, 0, 1, 0, ol)
	if err != nil {
		return wrapSystem("LockFileEx", err)
	}
	return nil
}

// MandatoryLockSupported reports whether FileLock requests are enforced
// as mandatory locks on this platform.
const MandatoryLockSupported = true
