//go:build linux

package process

import (
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/arenaspawn/spawner/internal/childinit"
	"github.com/arenaspawn/spawner/internal/xerrors"
	"github.com/arenaspawn/spawner/pkg/types"
)

// Process is a single spawned child on Linux. It is created suspended
// when info.CreateSuspended is set (pkg/supervisor always sets it, so
// a process is not running before it has been placed under limits);
// the caller calls Resume once the process has been assigned to its
// group.
//
// Suspension is achieved without a fork/exec race by wrapping the
// target command in a shell that signals itself SIGSTOP before
// exec-ing into the real program. Because exec(2) replaces the image
// in place, the pid the shell reports is the pid of the target program
// once it resumes — there is no intermediate "supervisor" pid to track.
type Process struct {
	cmd *exec.Cmd
	pid int

	mu       sync.Mutex
	exited   atomic.Bool
	waitOnce sync.Once
	waitErr  error
	status   types.ExitStatus
	done     chan struct{}
}

// Spawn starts info under stdio, suspended unless info.CreateSuspended
// is false. Pid returns the process id the caller should hand to
// pkg/group for cgroup placement.
func Spawn(info *types.ProcessInfo, stdio Stdio) (*Process, error) {
	target := append([]string{info.Application}, info.Args...)
	if info.RestrictSyscalls {
		self, err := os.Executable()
		if err != nil {
			return nil, xerrors.System("resolve own executable for child-init re-exec", err)
		}
		target = append([]string{self, childinit.Arg}, target...)
	}

	var cmd *exec.Cmd
	if info.CreateSuspended {
		script := `kill -STOP $$; exec "$0" "$@"`
		cmd = exec.Command("/bin/sh", append([]string{"-c", script}, target...)...)
	} else {
		cmd = exec.Command(target[0], target[1:]...)
	}

	cmd.Dir = info.WorkingDirectory
	cmd.Stdin = stdio.Stdin.File()
	cmd.Stdout = stdio.Stdout.File()
	cmd.Stderr = stdio.Stderr.File()
	cmd.Env = buildEnv(info, os.Environ(), defaultUserEnv())

	attr := &syscall.SysProcAttr{Setpgid: true}
	if info.Credentials != nil {
		cred, err := credentialFor(info.Credentials.Username)
		if err != nil {
			return nil, err
		}
		attr.Credential = cred
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		return nil, xerrors.System("spawn process", err)
	}

	p := &Process{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
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
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			p.status = types.ExitStatus{
				Kind:  types.ExitCrashed,
				Code:  uint32(ws.Signal()),
				Cause: crashCause(ws.Signal()),
			}
		} else {
			p.status = types.ExitStatus{Kind: types.ExitFinished, Code: uint32(exitErr.ExitCode())}
		}
	} else {
		p.status = types.ExitStatus{Kind: types.ExitCrashed, Cause: err.Error()}
	}
	p.exited.Store(true)
	close(p.done)
}

// Pid returns the OS process id, stable across suspend/resume.
func (p *Process) Pid() int { return p.pid }

// Suspend stops the process with SIGSTOP.
func (p *Process) Suspend() error {
	if err := syscall.Kill(p.pid, syscall.SIGSTOP); err != nil {
		return xerrors.System("suspend process", err)
	}
	return nil
}

// Resume continues a suspended process with SIGCONT.
func (p *Process) Resume() error {
	if err := syscall.Kill(p.pid, syscall.SIGCONT); err != nil {
		return xerrors.System("resume process", err)
	}
	return nil
}

// Terminate kills the process outright. It is safe to call after the
// process has already exited; it is a best-effort safety net, never the
// primary reclamation path (pkg/group owns whole-group teardown).
func (p *Process) Terminate() error {
	if p.exited.Load() {
		return nil
	}
	if err := syscall.Kill(p.pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
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

func credentialFor(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, xerrors.Configurationf("look up user %q: %v", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, xerrors.Configurationf("parse uid for %q: %v", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, xerrors.Configurationf("parse gid for %q: %v", username, err)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}

// defaultUserEnv builds the POSIX-parity environment used by
// EnvUserDefault: HOME/LOGNAME/USER from the invoking user (not from
// info.Credentials), SHELL=/bin/sh, and a fixed standard PATH, rather
// than whatever subset the orchestrator happens to have inherited.
func defaultUserEnv() []string {
	env := []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}
	if u, err := user.Current(); err == nil {
		env = append(env,
			"HOME="+u.HomeDir,
			"LOGNAME="+u.Username,
			"USER="+u.Username,
		)
	}
	env = append(env, "SHELL=/bin/sh")
	return env
}
