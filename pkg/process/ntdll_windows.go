//go:build windows

package process

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// NtSuspendProcess/NtResumeProcess are undocumented but stable ntdll
// exports; there is no public windows.SuspendProcess equivalent, so the
// whole-process suspend used by Process.Suspend/Resume calls them
// directly through a lazily loaded ntdll.dll.
var (
	ntdll             = syscall.NewLazyDLL("ntdll.dll")
	procNtSuspend     = ntdll.NewProc("NtSuspendProcess")
	procNtResume      = ntdll.NewProc("NtResumeProcess")
)

func ntSuspendProcess(h windows.Handle) error {
	r, _, _ := procNtSuspend.Call(uintptr(h))
	if r != 0 {
		return syscall.Errno(r)
	}
	return nil
}

func ntResumeProcess(h windows.Handle) error {
	r, _, _ := procNtResume.Call(uintptr(h))
	if r != 0 {
		return syscall.Errno(r)
	}
	return nil
}
