//go:build windows

package childinit

import (
	"os"
	"os/exec"
)

// installSeccompFilter is a no-op on Windows: RestrictSyscalls is
// documented as Linux-only in pkg/types. Windows never needs the
// re-exec shim in the first place (CreateProcess supports
// CREATE_SUSPENDED directly), so this path exists only so the package
// compiles for a Windows target.
func installSeccompFilter() error { return nil }

// execInto runs app as a child and exits with its status, since
// Windows has no execve(2) that replaces the current process image.
func execInto(app string, argv []string) error {
	cmd := exec.Command(app, argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return err
	}
	os.Exit(0)
	return nil
}
