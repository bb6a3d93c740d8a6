// Package childinit implements the re-exec shim used to install a
// seccomp filter in a spawned child before it execs into the real
// program. Go's os/exec gives no hook between fork and exec, so the
// supervisor's own binary is re-invoked as the child, installs the
// filter on itself, then execs the target — the same technique
// container runtimes use to run setup code in a freshly forked child.
//
// cmd/arenaspawn checks for Arg as its first argument before doing
// anything else and, if present, hands off to Run and never returns.
package childinit

import (
	"fmt"
	"os"
)

// Arg is the sentinel argv[1] that routes the re-exec'd binary into
// Run instead of its normal entry point.
const Arg = "__arenaspawn_child_init__"

// Run installs the platform's seccomp filter (a no-op on platforms
// without one) and execs into args[0] with args[1:] as its arguments,
// inheriting the current process's environment and file descriptors.
// It never returns on success; on failure it exits the process itself,
// since there is no parent left to report an error to other than the
// child's own stderr.
func Run(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "arenaspawn: child-init invoked with no target program")
		os.Exit(125)
	}
	if err := installSeccompFilter(); err != nil {
		fmt.Fprintln(os.Stderr, "arenaspawn: seccomp install failed:", err)
		os.Exit(126)
	}
	if err := execInto(args[0], args); err != nil {
		fmt.Fprintln(os.Stderr, "arenaspawn: exec failed:", err)
		os.Exit(127)
	}
}
