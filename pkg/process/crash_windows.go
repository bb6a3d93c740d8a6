//go:build windows

package process

import "fmt"

// crashCause renders a Windows exit code as a crash cause string,
// recognizing the well-known NTSTATUS values spec.md §4.2 calls out
// (access violation, stack overflow, control-C) and falling back to the
// raw hex code otherwise.
func crashCause(code uint32) string {
	if name, ok := ntStatusNames[code]; ok {
		return fmt.Sprintf("process was terminated by %s (0x%08X)", name, code)
	}
	return fmt.Sprintf("process exited with code 0x%08X", code)
}

var ntStatusNames = map[uint32]string{
	0xC0000005: "STATUS_ACCESS_VIOLATION",
	0xC00000FD: "STATUS_STACK_OVERFLOW",
	0xC000013A: "STATUS_CONTROL_C_EXIT",
	0xC0000094: "STATUS_INTEGER_DIVIDE_BY_ZERO",
	0xC0000409: "STATUS_STACK_BUFFER_OVERRUN",
	0x80000003: "STATUS_BREAKPOINT",
}

// isCrash reports whether code looks like an NTSTATUS-style failure
// exit rather than an ordinary return value.
func isCrash(code uint32) bool {
	return code&0x80000000 != 0
}
