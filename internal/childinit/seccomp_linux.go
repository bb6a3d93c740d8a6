//go:build linux

package childinit

import (
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"github.com/arenaspawn/spawner/internal/xerrors"
	"golang.org/x/sys/unix"
)

// allowedSyscalls is the fixed allow-list installed for a program
// spawned with RestrictSyscalls set: enough to run a statically or
// dynamically linked program that does file I/O, memory management,
// and signal/timer handling. ptrace, unshare and module loading are
// not on the list; clone is, and the filter does not inspect syscall
// arguments, so clone is allowed with any flags, namespace flags
// included. Grounded on the syscall set the original implementation's
// process_ext.rs / missing_decls.rs built a sock_fprog from.
var allowedSyscalls = []uint32{
	unix.SYS_READ, unix.SYS_WRITE, unix.SYS_CLOSE, unix.SYS_FSTAT,
	unix.SYS_LSEEK, unix.SYS_MMAP, unix.SYS_MPROTECT, unix.SYS_MUNMAP,
	unix.SYS_BRK, unix.SYS_RT_SIGACTION, unix.SYS_RT_SIGPROCMASK,
	unix.SYS_RT_SIGRETURN, unix.SYS_IOCTL, unix.SYS_PREAD64, unix.SYS_PWRITE64,
	unix.SYS_ACCESS, unix.SYS_PIPE, unix.SYS_SELECT, unix.SYS_SCHED_YIELD,
	unix.SYS_MREMAP, unix.SYS_MSYNC, unix.SYS_MINCORE, unix.SYS_MADVISE,
	unix.SYS_DUP, unix.SYS_DUP2, unix.SYS_NANOSLEEP, unix.SYS_GETPID,
	unix.SYS_SOCKET, unix.SYS_CONNECT, unix.SYS_SENDTO, unix.SYS_RECVFROM,
	unix.SYS_SENDMSG, unix.SYS_RECVMSG, unix.SYS_SHUTDOWN, unix.SYS_BIND,
	unix.SYS_LISTEN, unix.SYS_GETSOCKNAME, unix.SYS_GETPEERNAME,
	unix.SYS_SETSOCKOPT, unix.SYS_GETSOCKOPT, unix.SYS_CLONE, unix.SYS_EXECVE,
	unix.SYS_EXIT, unix.SYS_EXIT_GROUP, unix.SYS_WAIT4, unix.SYS_FCNTL,
	unix.SYS_FLOCK, unix.SYS_FSYNC, unix.SYS_GETDENTS64, unix.SYS_GETCWD,
	unix.SYS_CHDIR, unix.SYS_RENAME, unix.SYS_MKDIR, unix.SYS_RMDIR,
	unix.SYS_UNLINK, unix.SYS_READLINK, unix.SYS_STAT, unix.SYS_LSTAT,
	unix.SYS_OPENAT, unix.SYS_NEWFSTATAT, unix.SYS_GETRANDOM,
	unix.SYS_CLOCK_GETTIME, unix.SYS_GETRLIMIT, unix.SYS_ARCH_PRCTL,
	unix.SYS_SET_TID_ADDRESS, unix.SYS_SET_ROBUST_LIST, unix.SYS_FUTEX,
	unix.SYS_SIGALTSTACK, unix.SYS_PRLIMIT64, unix.SYS_OPEN,
}

// seccompDataOffsetArch/Nr mirror struct seccomp_data from
// linux/seccomp.h: { int nr; __u32 arch; __u64 instruction_pointer;
// __u64 args[6]; }.
const (
	seccompDataOffsetNr   = 0
	seccompDataOffsetArch = 4
)

const (
	auditArchX86_64       = 0xC000003E
	seccompRetAllow       = 0x7FFF0000
	seccompRetKillProcess = 0x80000000
)

// installSeccompFilter installs the allow-list as a classic-BPF cBPF
// program via prctl(PR_SET_SECCOMP), after prctl(PR_SET_NO_NEW_PRIVS)
// (required for an unprivileged process to install a filter). Any
// syscall outside the allow-list is met with process termination,
// matching SECCOMP_RET_KILL_PROCESS from the original implementation.
func installSeccompFilter() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return xerrors.System("prctl PR_SET_NO_NEW_PRIVS", err)
	}

	prog := buildFilterProgram(allowedSyscalls)
	fprog := unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	if err := unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(&fprog)), 0, 0); err != nil {
		return xerrors.System("prctl PR_SET_SECCOMP", err)
	}
	return nil
}

// buildFilterProgram renders allowed into a BPF program that checks the
// audit architecture once, then compares the syscall number against
// every entry in allowed, returning SECCOMP_RET_ALLOW on a match and
// SECCOMP_RET_KILL_PROCESS by falling through.
func buildFilterProgram(allowed []uint32) []unix.SockFilter {
	prog := []unix.SockFilter{
		bpfStmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, seccompDataOffsetArch),
		bpfJump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, auditArchX86_64, 1, 0),
		bpfStmt(unix.BPF_RET|unix.BPF_K, seccompRetKillProcess),
		bpfStmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, seccompDataOffsetNr),
	}
	for _, nr := range allowed {
		prog = append(prog, bpfJump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, nr, 0, 1))
		prog = append(prog, bpfStmt(unix.BPF_RET|unix.BPF_K, seccompRetAllow))
	}
	prog = append(prog, bpfStmt(unix.BPF_RET|unix.BPF_K, seccompRetKillProcess))
	return prog
}

func bpfStmt(code uint16, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: code, K: k}
}

func bpfJump(code uint16, k uint32, jt, jf uint8) unix.SockFilter {
	return unix.SockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}

// execInto replaces the current process image with app, argv as its
// full argument vector (argv[0] included), inheriting environment and
// file descriptors — the Linux execve(2) semantics childinit.Run needs.
func execInto(app string, argv []string) error {
	resolved, err := exec.LookPath(app)
	if err != nil {
		return err
	}
	return syscall.Exec(resolved, argv, os.Environ())
}
