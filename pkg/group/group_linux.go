//go:build linux

package group

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	sysdbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"
	hclog "github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"
	"github.com/hashicorp/go-version"
	psnet "github.com/shirou/gopsutil/v3/net"
	psprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/arenaspawn/spawner/internal/xerrors"
	"github.com/arenaspawn/spawner/pkg/types"
)

// Group is a systemd transient scope wrapping one program's process
// tree. Creating a Group only reserves the scope name; Add starts the
// scope with the (suspended) pid the caller just spawned.
type Group struct {
	conn         *sysdbus.Conn
	unitName     string
	cgroupDir    string // ControlGroup path reported by systemd, e.g. "/system.slice/spawner-xxx.scope"
	restrictions Restrictions
	created      time.Time
	logger       hclog.Logger

	active *activeTasks
	dead   deadTasksInfo
}

const cgroupRoot = "/sys/fs/cgroup"

// minSystemdVersion is the lowest systemd release this group backend
// was validated against (Delegate= on transient scopes and the
// ControlGroup unit property both need it); New only logs a warning
// when the host reports something older, it never refuses to run.
var minSystemdVersion = version.Must(version.NewVersion("230"))

// New connects to systemd over dbus and reserves a transient scope name
// (not yet started — call Add once the program has been spawned
// suspended). Grounded on systemd/systemd.go's dbusConn usage,
// generalized from "start a predefined nspawn unit" to "start a
// transient scope around an already-running pid".
func New(logger hclog.Logger, restrictions Restrictions) (*Group, error) {
	conn, err := sysdbus.NewSystemConnectionContext(context.Background())
	if err != nil {
		return nil, xerrors.System("connect to systemd over dbus", err)
	}

	suffix, err := uuid.GenerateUUID()
	if err != nil {
		conn.Close()
		return nil, xerrors.System("generate scope name", err)
	}

	warnIfSystemdTooOld(conn, logger)

	return &Group{
		conn:         conn,
		unitName:     fmt.Sprintf("spawner-%s.scope", suffix),
		restrictions: restrictions,
		created:      time.Now(),
		logger:       logger,
		active:       newActiveTasks(),
	}, nil
}

// Add starts the transient scope with pid as its sole initial member,
// applying restrictions as unit properties. The scope exists as soon as
// this returns; the pid's cgroup membership is what the memory/pids
// controllers subsequently account and enforce against.
func (g *Group) Add(pid int) error {
	props := []sysdbus.Property{
		{Name: "PIDs", Value: dbus.MakeVariant([]uint32{uint32(pid)})},
		{Name: "Delegate", Value: dbus.MakeVariant(true)},
		{Name: "CollectMode", Value: dbus.MakeVariant("inactive-or-failed")},
	}
	if g.restrictions.MaxMemoryUsage != nil {
		props = append(props, sysdbus.Property{Name: "MemoryMax", Value: dbus.MakeVariant(*g.restrictions.MaxMemoryUsage)})
	}
	if g.restrictions.ActiveProcesses != nil {
		props = append(props, sysdbus.Property{Name: "TasksMax", Value: dbus.MakeVariant(*g.restrictions.ActiveProcesses)})
	}

	ch := make(chan string, 1)
	if _, err := g.conn.StartTransientUnitContext(context.Background(), g.unitName, "replace", props, ch); err != nil {
		return xerrors.System("start transient scope", err)
	}
	if result := <-ch; result != "done" {
		return xerrors.System("start transient scope", fmt.Errorf("job result %q", result))
	}

	cgroupDir, err := g.readControlGroup()
	if err != nil {
		return err
	}
	g.cgroupDir = cgroupDir
	g.active.wcharByPID[pid] = 0

	if err := g.joinFreezer(pid); err != nil {
		return err
	}
	return nil
}

// joinFreezer creates a freezer cgroup alongside the systemd-managed
// scope and joins pid to it. Systemd scopes don't delegate the freezer
// controller the way they delegate memory/pids/cpuacct, so this
// cgroup is created and removed by hand, mirroring
// spawner/sys/unix/process.rs's own create_cgroup("freezer/sp").
func (g *Group) joinFreezer(pid int) error {
	dir := g.controllerPath("freezer")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return xerrors.System("create freezer cgroup", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cgroup.procs"), []byte(strconv.Itoa(pid)), 0644); err != nil {
		return xerrors.System("join freezer cgroup", err)
	}
	return nil
}

func (g *Group) readControlGroup() (string, error) {
	prop, err := g.conn.GetUnitTypePropertyContext(context.Background(), g.unitName, "Scope", "ControlGroup")
	if err != nil {
		return "", xerrors.System("read unit ControlGroup property", err)
	}
	cg, ok := prop.Value.Value().(string)
	if !ok || cg == "" {
		return "", xerrors.System("read unit ControlGroup property", fmt.Errorf("unexpected value %v", prop.Value))
	}
	return cg, nil
}

func (g *Group) controllerPath(controller string) string {
	return filepath.Join(cgroupRoot, controller, g.cgroupDir)
}

// ResourceUsage samples every controller and folds dead-task
// accounting the same way spawner/sys/unix/process.rs's
// Group::resource_usage does.
func (g *Group) ResourceUsage() (types.ResourceUsage, error) {
	userNanos, err := readUint64(filepath.Join(g.controllerPath("cpuacct"), "cpuacct.usage_user"))
	if err != nil {
		return types.ResourceUsage{}, err
	}
	sysNanos, err := readUint64(filepath.Join(g.controllerPath("cpuacct"), "cpuacct.usage_sys"))
	if err != nil {
		return types.ResourceUsage{}, err
	}
	peakMem, err := readUint64(filepath.Join(g.controllerPath("memory"), "memory.max_usage_in_bytes"))
	if err != nil {
		return types.ResourceUsage{}, err
	}

	alive, err := g.liveTaskWchars()
	if err != nil {
		return types.ResourceUsage{}, err
	}
	dead := g.active.update(alive)
	g.dead.numDeadTasks += dead.numDeadTasks
	g.dead.totalBytesWritten += dead.totalBytesWritten

	connections := g.countNetworkConnections()

	return resourceUsageFrom(
		time.Since(g.created),
		time.Duration(userNanos),
		time.Duration(sysNanos),
		peakMem,
		g.active,
		g.dead,
		connections,
	), nil
}

// HardLimitViolation reports a limit the cgroup controllers themselves
// already refused to honor (an OOM kill recorded in memory.failcnt, or
// the pids controller refusing a fork), distinct from the soft, polled
// limits pkg/limitchecker evaluates.
func (g *Group) HardLimitViolation() (types.TerminationReason, bool, error) {
	failcnt, err := readUint64(filepath.Join(g.controllerPath("memory"), "memory.failcnt"))
	if err != nil {
		return types.NoTerminationReason, false, err
	}
	if failcnt > 0 {
		return types.MemoryLimitExceeded, true, nil
	}

	events, err := readString(filepath.Join(g.controllerPath("pids"), "pids.events"))
	if err == nil && events != "" && !strings.HasPrefix(events, "max 0") {
		return types.ActiveProcessLimitExceeded, true, nil
	}
	return types.NoTerminationReason, false, nil
}

// freezerPollInterval bounds how often Terminate rechecks freezer.state
// while waiting for the kernel to finish moving every task to FROZEN.
const freezerPollInterval = time.Millisecond

// Terminate freezes every task in the scope before killing it, exactly
// as spawner/sys/unix/process.rs's Group::terminate does: a forking
// process can otherwise outrun a plain "list pids, SIGKILL each" loop
// by spawning a new child between the listing and the kill. Freezing
// first stops all tasks in the cgroup dead so the pid list taken right
// after is final, then SIGKILL is guaranteed to reach everything, then
// the cgroup is thawed so systemd can tear down the now-empty scope.
func (g *Group) Terminate() error {
	freezerState := filepath.Join(g.controllerPath("freezer"), "freezer.state")
	if err := os.WriteFile(freezerState, []byte("FROZEN"), 0644); err != nil {
		return xerrors.System("freeze cgroup", err)
	}
	for {
		state, err := readString(freezerState)
		if err != nil {
			return err
		}
		if state != "FREEZING" {
			break
		}
		time.Sleep(freezerPollInterval)
	}

	pids, _ := readPidList(filepath.Join(g.controllerPath("freezer"), "cgroup.procs"))
	for _, pid := range pids {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}

	if err := os.WriteFile(freezerState, []byte("THAWED"), 0644); err != nil {
		return xerrors.System("thaw cgroup", err)
	}

	ch := make(chan string, 1)
	if _, err := g.conn.StopUnitContext(context.Background(), g.unitName, "replace", ch); err != nil {
		return xerrors.System("stop scope unit", err)
	}
	<-ch

	_ = os.Remove(g.controllerPath("freezer"))
	return nil
}

// Close releases the dbus connection. It does not stop the unit; call
// Terminate first if the program is still running.
func (g *Group) Close() error {
	g.conn.Close()
	return nil
}

// liveTaskWchars samples the write-byte counter for every task still in
// the scope via gopsutil's process.IOCounters, the portable reader
// layered on top of the cgroup enforcement primitive (it reads the same
// /proc/<pid>/io file spawner/sys/unix/process.rs parses by hand, but
// gopsutil also gives pkg/group a ready cross-platform path for the
// non-cgroup fields the Windows backend needs).
func (g *Group) liveTaskWchars() (map[int]uint64, error) {
	pids, err := readPidList(filepath.Join(g.controllerPath("pids"), "cgroup.procs"))
	if err != nil {
		return nil, err
	}
	out := make(map[int]uint64, len(pids))
	for _, pid := range pids {
		proc, err := psprocess.NewProcess(int32(pid))
		if err != nil {
			continue // task raced an exit between the listing and the read
		}
		io, err := proc.IOCounters()
		if err != nil {
			continue
		}
		out[pid] = io.WriteBytes
	}
	return out, nil
}

// countNetworkConnections counts live TCP/UDP connections owned by any
// pid currently in the scope, via gopsutil's net.ConnectionsPid (the
// portable equivalent of the original implementation's /proc/net/{tcp,
// udp} inode cross-reference).
func (g *Group) countNetworkConnections() int {
	pids, err := readPidList(filepath.Join(g.controllerPath("pids"), "cgroup.procs"))
	if err != nil || len(pids) == 0 {
		return 0
	}
	total := 0
	for _, pid := range pids {
		conns, err := psnet.ConnectionsPid("all", int32(pid))
		if err != nil {
			continue
		}
		total += len(conns)
	}
	return total
}

func warnIfSystemdTooOld(conn *sysdbus.Conn, logger hclog.Logger) {
	raw, err := conn.GetManagerProperty("Version")
	if err != nil {
		return
	}
	digits := strings.TrimFunc(raw, func(r rune) bool { return r < '0' || r > '9' })
	if digits == "" {
		return
	}
	v, err := version.NewVersion(digits)
	if err != nil {
		return
	}
	if v.LessThan(minSystemdVersion) {
		logger.Warn("host systemd is older than this group backend was validated against",
			"host_version", v.String(), "validated_against", minSystemdVersion.String())
	}
}

func readUint64(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, xerrors.System("read "+path, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, xerrors.System("parse "+path, err)
	}
	return v, nil
}

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", xerrors.System("read "+path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func readPidList(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.System("read "+path, err)
	}
	defer f.Close()

	var pids []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

