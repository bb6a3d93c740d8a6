//go:build !windows

package pipe

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile places an flock(2)-based lock on f. LockExclusive maps to
// LOCK_EX; LockShared maps to LOCK_SH. flock locks on Linux are
// advisory, not mandatory. No error or warning reports that here or in
// any caller; MandatoryLockSupported is the only signal of it.
func lockFile(f *os.File, lock FileLock) error {
	how := unix.LOCK_SH
	if lock == LockExclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		return wrapSystem("flock", err)
	}
	return nil
}

// MandatoryLockSupported reports whether FileLock requests are enforced
// as mandatory locks on this platform. flock(2) locks are always
// advisory on Linux.
const MandatoryLockSupported = false
