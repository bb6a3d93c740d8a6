//go:build windows

package group

import (
	"syscall"
	"time"
	"unsafe"

	"github.com/StackExchange/wmi"
	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/sys/windows"

	"github.com/arenaspawn/spawner/internal/xerrors"
	"github.com/arenaspawn/spawner/pkg/types"
)

// Group wraps a Windows Job Object: every process assigned to it, and
// every process any of them spawns, is accounted and limited together,
// mirroring the Linux cgroup-scope Group at the package boundary.
type Group struct {
	handle         windows.Handle
	completionPort windows.Handle
	restrictions   Restrictions
	created        time.Time
	logger         hclog.Logger

	active *activeTasks
	dead   deadTasksInfo
}

// New creates an unnamed Job Object, applies restrictions as an
// extended limit information block, and attaches an I/O completion
// port so HardLimitViolation can observe JOB_OBJECT_MSG_JOB_MEMORY_LIMIT
// and JOB_OBJECT_MSG_ACTIVE_PROCESS_LIMIT notifications.
func New(logger hclog.Logger, restrictions Restrictions) (*Group, error) {
	h, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, xerrors.System("CreateJobObject", err)
	}

	g := &Group{
		handle:       h,
		restrictions: restrictions,
		created:      time.Now(),
		logger:       logger,
		active:       newActiveTasks(),
	}
	if err := g.applyLimits(); err != nil {
		windows.CloseHandle(h)
		return nil, err
	}
	if err := g.attachCompletionPort(); err != nil {
		windows.CloseHandle(h)
		return nil, err
	}
	return g, nil
}

// jobObjectBasicLimitInformation/jobObjectExtendedLimitInformation
// mirror the Win32 JOBOBJECT_*_LIMIT_INFORMATION structs;
// golang.org/x/sys/windows does not expose them, so they are declared
// here the way the teacher's w32-based Windows glue declares the
// structs it calls into kernel32 with.
type jobObjectBasicLimitInformation struct {
	PerProcessUserTimeLimit int64
	PerJobUserTimeLimit     int64
	LimitFlags              uint32
	MinimumWorkingSetSize   uintptr
	MaximumWorkingSetSize   uintptr
	ActiveProcessLimit      uint32
	Affinity                uintptr
	PriorityClass           uint32
	SchedulingClass         uint32
}

type ioCounters struct {
	ReadOperationCount  uint64
	WriteOperationCount uint64
	OtherOperationCount uint64
	ReadTransferCount   uint64
	WriteTransferCount  uint64
	OtherTransferCount  uint64
}

type jobObjectExtendedLimitInformation struct {
	BasicLimitInformation jobObjectBasicLimitInformation
	IoInfo                ioCounters
	ProcessMemoryLimit    uintptr
	JobMemoryLimit        uintptr
	PeakProcessMemoryUsed uintptr
	PeakJobMemoryUsed     uintptr
}

// jobObjectBasicAccountingInformation mirrors
// JOBOBJECT_BASIC_ACCOUNTING_INFORMATION, queried back out to populate
// ResourceUsage.
type jobObjectBasicAccountingInformation struct {
	TotalUserTime             int64
	TotalKernelTime           int64
	ThisPeriodTotalUserTime   int64
	ThisPeriodTotalKernelTime int64
	TotalPageFaultCount       uint32
	TotalProcesses            uint32
	ActiveProcesses           uint32
	TotalTerminatedProcesses  uint32
}

// jobObjectAssociateCompletionPort mirrors
// JOBOBJECT_ASSOCIATE_COMPLETION_PORT, handed to
// SetInformationJobObject so the kernel posts limit-violation
// notifications to CompletionPort instead of leaving them unobservable.
type jobObjectAssociateCompletionPort struct {
	CompletionKey  uintptr
	CompletionPort windows.Handle
}

const (
	jobObjectBasicAccountingInformationClass         = 1
	jobObjectAssociateCompletionPortInformationClass = 7
	jobObjectExtendedLimitInformationClass           = 9
	jobObjectLimitActiveProcess                      = 0x00000008
	jobObjectLimitJobMemory                          = 0x00000200

	// JOB_OBJECT_MSG_* values GetQueuedCompletionStatus's lpNumberOfBytes
	// out-param carries when the completion key names this job object.
	jobObjectMsgActiveProcessLimit = 3
	jobObjectMsgJobMemoryLimit     = 10

	waitTimeout = 0x102 // WAIT_TIMEOUT: GetQueuedCompletionStatus found nothing queued

	invalidHandleValue = ^uintptr(0) // INVALID_HANDLE_VALUE
)

var (
	modkernel32                   = windows.NewLazySystemDLL("kernel32.dll")
	procSetInformationJobObject   = modkernel32.NewProc("SetInformationJobObject")
	procQueryInformationJobObj    = modkernel32.NewProc("QueryInformationJobObject")
	procAssignProcessToJobObj     = modkernel32.NewProc("AssignProcessToJobObject")
	procCreateIoCompletionPort    = modkernel32.NewProc("CreateIoCompletionPort")
	procGetQueuedCompletionStatus = modkernel32.NewProc("GetQueuedCompletionStatus")
)

// attachCompletionPort creates an I/O completion port with no associated
// file handle and ties it to the job, the same two-call sequence
// original_source/spawner/sys/windows/process.rs's
// create_job_completion_port performs via CreateIoCompletionPort +
// SetInformationJobObject(JobObjectAssociateCompletionPortInformation).
func (g *Group) attachCompletionPort() error {
	port, _, err := procCreateIoCompletionPort.Call(
		invalidHandleValue,
		0,
		0,
		1,
	)
	if port == 0 {
		return xerrors.System("CreateIoCompletionPort", err)
	}
	g.completionPort = windows.Handle(port)

	info := jobObjectAssociateCompletionPort{CompletionPort: g.completionPort}
	ret, _, callErr := procSetInformationJobObject.Call(
		uintptr(g.handle),
		uintptr(jobObjectAssociateCompletionPortInformationClass),
		uintptr(unsafe.Pointer(&info)),
		unsafe.Sizeof(info),
	)
	if ret == 0 {
		windows.CloseHandle(g.completionPort)
		return xerrors.System("SetInformationJobObject(completion port)", callErr)
	}
	return nil
}

func (g *Group) applyLimits() error {
	var info jobObjectExtendedLimitInformation
	if g.restrictions.ActiveProcesses != nil {
		info.BasicLimitInformation.LimitFlags |= jobObjectLimitActiveProcess
		info.BasicLimitInformation.ActiveProcessLimit = uint32(*g.restrictions.ActiveProcesses)
	}
	if g.restrictions.MaxMemoryUsage != nil {
		info.BasicLimitInformation.LimitFlags |= jobObjectLimitJobMemory
		info.JobMemoryLimit = uintptr(*g.restrictions.MaxMemoryUsage)
	}
	if info.BasicLimitInformation.LimitFlags == 0 {
		return nil
	}
	ret, _, err := procSetInformationJobObject.Call(
		uintptr(g.handle),
		uintptr(jobObjectExtendedLimitInformationClass),
		uintptr(unsafe.Pointer(&info)),
		unsafe.Sizeof(info),
	)
	if ret == 0 {
		return xerrors.System("SetInformationJobObject", err)
	}
	return nil
}

// Add assigns the OS process identified by pid to the job.
func (g *Group) Add(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(pid))
	if err != nil {
		return xerrors.System("OpenProcess", err)
	}
	defer windows.CloseHandle(h)

	ret, _, callErr := procAssignProcessToJobObj.Call(uintptr(g.handle), uintptr(h))
	if ret == 0 {
		return xerrors.System("AssignProcessToJobObject", callErr)
	}
	g.active.wcharByPID[pid] = 0
	return nil
}

// ResourceUsage reads the job's accounting information block, which
// Windows maintains in-kernel across every process ever assigned (even
// ones that have since exited), so there is no separate dead-task
// accumulator needed on this platform the way the Linux cgroup backend
// requires one.
func (g *Group) ResourceUsage() (types.ResourceUsage, error) {
	var basic jobObjectBasicAccountingInformation
	ret, _, err := procQueryInformationJobObj.Call(
		uintptr(g.handle),
		uintptr(jobObjectBasicAccountingInformationClass),
		uintptr(unsafe.Pointer(&basic)),
		unsafe.Sizeof(basic),
		0,
	)
	if ret == 0 {
		return types.ResourceUsage{}, xerrors.System("QueryInformationJobObject", err)
	}

	peakMemory, err := g.peakMemoryUsed()
	if err != nil {
		return types.ResourceUsage{}, err
	}

	return types.ResourceUsage{
		WallClockTime: time.Since(g.created),
		Timers: types.Timers{
			TotalUserTime:   time.Duration(basic.TotalUserTime) * 100,
			TotalKernelTime: time.Duration(basic.TotalKernelTime) * 100,
		},
		Memory: types.Memory{PeakUsage: peakMemory},
		PIDCounters: types.PIDCounters{
			TotalProcessesCreated: uint64(basic.TotalProcesses),
			ActiveProcesses:       uint64(basic.ActiveProcesses),
		},
		Network: types.Network{ActiveConnections: uint64(g.countOwnedConnections())},
	}, nil
}

// peakMemoryUsed reads back PeakJobMemoryUsed from the extended limit
// information block, the same field
// original_source/spawner/sys/windows/process.rs's resource_usage
// reports as peak_memory_used.
func (g *Group) peakMemoryUsed() (uint64, error) {
	var info jobObjectExtendedLimitInformation
	ret, _, err := procQueryInformationJobObj.Call(
		uintptr(g.handle),
		uintptr(jobObjectExtendedLimitInformationClass),
		uintptr(unsafe.Pointer(&info)),
		unsafe.Sizeof(info),
		0,
	)
	if ret == 0 {
		return 0, xerrors.System("QueryInformationJobObject(extended limits)", err)
	}
	return uint64(info.PeakJobMemoryUsed), nil
}

// HardLimitViolation polls the job's completion port for a
// JOB_OBJECT_MSG_JOB_MEMORY_LIMIT or JOB_OBJECT_MSG_ACTIVE_PROCESS_LIMIT
// notification, non-blocking (a zero timeout), mirroring
// original_source/spawner/sys/windows/process.rs's check_limits.
func (g *Group) HardLimitViolation() (types.TerminationReason, bool, error) {
	var numBytes uint32
	var key uintptr
	var overlapped uintptr
	ret, _, err := procGetQueuedCompletionStatus.Call(
		uintptr(g.completionPort),
		uintptr(unsafe.Pointer(&numBytes)),
		uintptr(unsafe.Pointer(&key)),
		uintptr(unsafe.Pointer(&overlapped)),
		0,
	)
	if ret == 0 {
		if errno, ok := err.(syscall.Errno); ok && uintptr(errno) == waitTimeout {
			return types.NoTerminationReason, false, nil
		}
		return types.NoTerminationReason, false, xerrors.System("GetQueuedCompletionStatus", err)
	}

	switch numBytes {
	case jobObjectMsgJobMemoryLimit:
		return types.MemoryLimitExceeded, true, nil
	case jobObjectMsgActiveProcessLimit:
		return types.ActiveProcessLimitExceeded, true, nil
	default:
		return types.NoTerminationReason, false, nil
	}
}

// Terminate kills every process in the job in one call.
func (g *Group) Terminate() error {
	if err := windows.TerminateJobObject(g.handle, 1); err != nil {
		return xerrors.System("TerminateJobObject", err)
	}
	return nil
}

// Close releases the job object and completion port handles.
func (g *Group) Close() error {
	_ = windows.CloseHandle(g.completionPort)
	return windows.CloseHandle(g.handle)
}

// netTCPConnection mirrors the fields this query needs from the
// MSFT_NetTCPConnection WMI class (root\StandardCimv2), the modern
// equivalent of GetExtendedTcpTable exposed over WMI.
type netTCPConnection struct {
	OwningProcess uint32
}

// countOwnedConnections queries the live TCP connection table via WMI
// for connections owned by any pid passed to Add; processes the job
// picked up on its own (children of those pids) are not counted.
// UDP has no per-connection WMI class (UDP is connectionless), so this
// mirrors spec.md's network-connection accounting for the TCP case,
// the one the dataflow/controller protocol actually cares about.
func (g *Group) countOwnedConnections() int {
	var rows []netTCPConnection
	q := wmi.CreateQuery(&rows, "")
	if err := wmi.QueryNamespace(q, &rows, `root\StandardCimv2`); err != nil {
		return 0
	}
	count := 0
	for _, row := range rows {
		if _, ok := g.active.wcharByPID[int(row.OwningProcess)]; ok {
			count++
		}
	}
	return count
}
