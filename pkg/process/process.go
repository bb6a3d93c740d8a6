// Package process wraps a single spawned child: spawn-suspended,
// suspend/resume, terminate, and a non-blocking exit-status query, per
// spec.md §4.2. The platform-specific Spawn/Process implementations live
// in process_linux.go and process_windows.go behind build tags; this
// file holds the OS-independent contract and helpers shared by both.
package process

import (
	"fmt"
	"strings"

	"github.com/arenaspawn/spawner/pkg/pipe"
	"github.com/arenaspawn/spawner/pkg/types"
)

// Stdio is the inherited stdio triple a child is spawned with.
type Stdio struct {
	Stdin  pipe.ReadPipe
	Stdout pipe.WritePipe
	Stderr pipe.WritePipe
}

// quoteCommandLine builds a single command-line string from an
// executable and its arguments, quoting any argument that contains
// whitespace or an embedded quote and escaping embedded quotes — the
// Windows CreateProcess convention spec.md §4.2 calls out explicitly.
// POSIX spawn paths use the argument vector directly and never call
// this, but it is kept platform-independent so both implementations
// (and their tests) can share it.
func quoteCommandLine(app string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(app))
	for _, a := range args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\"") {
		return arg
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range arg {
		if r == '"' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// buildEnv applies info.EnvPolicy then info.Env on top, matching
// spec.md §4.2's "environment construction" rule.
func buildEnv(info *types.ProcessInfo, base, userDefault []string) []string {
	var env []string
	switch info.EnvPolicy {
	case types.EnvInherit:
		env = append(env, base...)
	case types.EnvUserDefault:
		env = append(env, userDefault...)
	case types.EnvClear:
		// nothing
	}
	if len(info.Env) > 0 {
		env = overrideEnv(env, info.Env)
	}
	return env
}

func overrideEnv(env []string, overrides map[string]string) []string {
	out := make([]string, 0, len(env)+len(overrides))
	for _, kv := range env {
		k := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k = kv[:i]
		}
		if _, ok := overrides[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
