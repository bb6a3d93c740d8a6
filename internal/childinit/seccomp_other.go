//go:build !linux && !windows

package childinit

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/arenaspawn/spawner/internal/xerrors"
)

// installSeccompFilter is a no-op outside Linux: RestrictSyscalls is
// documented as Linux-only in pkg/types, so childinit.Run is never
// reached with it set elsewhere, but Run still needs to compile and
// behave sanely if invoked directly.
func installSeccompFilter() error { return nil }

func execInto(app string, argv []string) error {
	resolved, err := exec.LookPath(app)
	if err != nil {
		return xerrors.System("resolve exec path", err)
	}
	return syscall.Exec(resolved, argv, os.Environ())
}
