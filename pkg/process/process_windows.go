//go:build windows

package process

import (
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/arenaspawn/spawner/internal/xerrors"
	"github.com/arenaspawn/spawner/pkg/types"
	"golang.org/x/sys/windows"
)

// Process is a single spawned child on Windows, created suspended via
// the CREATE_SUSPENDED flag (no shell trick needed: CreateProcess
// supports suspension natively, unlike POSIX spawn). Suspend and Resume
// act on the whole process through NtSuspendProcess/NtResumeProcess.
type Process struct {
	cmd        *exec.Cmd
	pid        uint32
	threadOnce sync.Once
	thread     windows.Handle

	mu      sync.Mutex
	exited  atomic.Bool
	waitErr error
	status  types.ExitStatus
	done    chan struct{}
}

// Spawn starts info under stdio. When info.CreateSuspended, the process
// is created with CREATE_SUSPENDED and must be Resume()d by the caller
// once it has been assigned to a job object.
func Spawn(info *types.ProcessInfo, stdio Stdio) (*Process, error) {
	cmd := exec.Command(info.Application, info.Args...)
	cmd.Dir = info.WorkingDirectory
	cmd.Stdin = stdio.Stdin.File()
	cmd.Stdout = stdio.Stdout.File()
	cmd.Stderr = stdio.Stderr.File()
	cmd.Env = buildEnv(info, os.Environ(), defaultUserEnv())

	attr := &syscall.SysProcAttr{}
	if info.CreateSuspended {
		attr.CreationFlags |= windows.CREATE_SUSPENDED
	}
	if !info.ShowGUIWindow {
		attr.HideWindow = true
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		return nil, xerrors.System("spawn process", err)
	}

	p := &Process{cmd: cmd, pid: uint32(cmd.Process.Pid), done: make(chan struct{})}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitErr = err
	if err == nil {
		p.status = types.ExitStatus{Kind: types.ExitFinished, Code: 0}
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		code := uint32(exitErr.ExitCode())
		if isCrash(code) {
			p.status = types.ExitStatus{Kind: types.ExitCrashed, Code: code, Cause: crashCause(code)}
		} else {
			p.status = types.ExitStatus{Kind: types.ExitFinished, Code: code}
		}
	} else {
		p.status = types.ExitStatus{Kind: types.ExitCrashed, Cause: err.Error()}
	}
	p.exited.Store(true)
	close(p.done)
}

// Pid returns the OS process id.
func (p *Process) Pid() int { return int(p.pid) }

// Suspend stops every thread in the process via NtSuspendProcess;
// exec.Cmd does not expose the primary thread handle, so this opens the
// process fresh each call.
func (p *Process) Suspend() error {
	h, err := windows.OpenProcess(windows.PROCESS_SUSPEND_RESUME, false, p.pid)
	if err != nil {
		return xerrors.System("open process for suspend", err)
	}
	defer windows.CloseHandle(h)
	if err := ntSuspendProcess(h); err != nil {
		return xerrors.System("suspend process", err)
	}
	return nil
}

// Resume continues every thread in the process.
func (p *Process) Resume() error {
	h, err := windows.OpenProcess(windows.PROCESS_SUSPEND_RESUME, false, p.pid)
	if err != nil {
		return xerrors.System("open process for resume", err)
	}
	defer windows.CloseHandle(h)
	if err := ntResumeProcess(h); err != nil {
		return xerrors.System("resume process", err)
	}
	return nil
}

// Terminate kills the process outright.
func (p *Process) Terminate() error {
	if p.exited.Load() {
		return nil
	}
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, p.pid)
	if err != nil {
		return xerrors.System("open process for terminate", err)
	}
	defer windows.CloseHandle(h)
	if err := windows.TerminateProcess(h, 1); err != nil {
		return xerrors.System("terminate process", err)
	}
	return nil
}

// ExitStatus returns the exit status and true if the process has
// exited, without blocking.
func (p *Process) ExitStatus() (types.ExitStatus, bool) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.status, true
	default:
		return types.ExitStatus{}, false
	}
}

// Wait blocks until the process has exited and returns its status.
func (p *Process) Wait() types.ExitStatus {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func defaultUserEnv() []string {
	env := []string{}
	if home, ok := os.LookupEnv("USERPROFILE"); ok {
		env = append(env, "USERPROFILE="+home)
	}
	if user, ok := os.LookupEnv("USERNAME"); ok {
		env = append(env, "USERNAME="+user)
	}
	env = append(env, "PATH="+os.Getenv("PATH"))
	return env
}
