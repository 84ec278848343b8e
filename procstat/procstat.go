// Package procstat reads process-table state out of procfs.
//
// It is how the sourcebox tooling checks that an anchor reaps its children:
// zombie children, open descriptors, resident memory and signal dispositions
// of any pid, all taken from /proc/<pid>.
package procstat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/procfs"
	"github.com/tklauser/go-sysconf"
	"golang.org/x/sys/unix"
)

// ErrNoProcess is returned when /proc has no entry for the pid.
var ErrNoProcess = errors.New("procstat: no such process")

// Status is what sourcebox needs from /proc/<pid>/stat and /proc/<pid>/status.
type Status struct {
	Name  string
	State string
	PPid  int
	// NSpid lists the pid in every namespace from the outermost one in.
	NSpid []int
	// VmRSS in bytes, from the rss page count in stat. Zero for zombies and
	// kernel threads.
	VmRSS  uint64
	SigIgn uint64
	SigCgt uint64
}

func sigbit(sig unix.Signal) uint64 {
	return 1 << (uint(sig) - 1)
}

// Ignores reports whether sig has the SIG_IGN disposition.
func (s *Status) Ignores(sig unix.Signal) bool {
	return s.SigIgn&sigbit(sig) != 0
}

// Catches reports whether a handler is installed for sig.
func (s *Status) Catches(sig unix.Signal) bool {
	return s.SigCgt&sigbit(sig) != 0
}

func (s *Status) Zombie() bool {
	return s.State == "Z"
}

// FS is a procfs mount.
type FS struct {
	Root string
}

// Default is the host's /proc.
var Default = FS{Root: procfs.DefaultMountPoint}

func (fs FS) path(pid int, elem ...string) string {
	return filepath.Join(append([]string{fs.Root, strconv.Itoa(pid)}, elem...)...)
}

func noProcess(pid int, err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("%w: %d", ErrNoProcess, pid)
	}
	return err
}

func (fs FS) proc(pid int) (procfs.Proc, error) {
	pfs, err := procfs.NewFS(fs.Root)
	if err != nil {
		return procfs.Proc{}, err
	}
	p, err := pfs.Proc(pid)
	if err != nil {
		return procfs.Proc{}, noProcess(pid, err)
	}
	return p, nil
}

// Self returns the calling process's pid as this mount sees it, which differs
// from os.Getpid inside a pid namespace that still shows the host's /proc.
func (fs FS) Self() (int, error) {
	pfs, err := procfs.NewFS(fs.Root)
	if err != nil {
		return 0, err
	}
	p, err := pfs.Self()
	if err != nil {
		return 0, err
	}
	return p.PID, nil
}

func (fs FS) ReadStatus(pid int) (*Status, error) {
	p, err := fs.proc(pid)
	if err != nil {
		return nil, err
	}
	stat, err := p.Stat()
	if err != nil {
		return nil, noProcess(pid, err)
	}

	st := &Status{
		Name:  stat.Comm,
		State: stat.State,
		PPid:  stat.PPID,
		VmRSS: uint64(stat.ResidentMemory()),
	}

	f, err := os.Open(fs.path(pid, "status"))
	if err != nil {
		return nil, noProcess(pid, err)
	}
	defer f.Close()
	if err := parseStatusExtras(f, st); err != nil {
		return nil, fmt.Errorf("parse status of %d: %w", pid, err)
	}
	return st, nil
}

// parseStatusExtras fills what procfs.ProcStat does not carry: the SigIgn and
// SigCgt masks and the NSpid chain.
func parseStatusExtras(r io.Reader, st *Status) error {
	masks := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "SigIgn":
			st.SigIgn, err = strconv.ParseUint(value, 16, 64)
			masks++
		case "SigCgt":
			st.SigCgt, err = strconv.ParseUint(value, 16, 64)
			masks++
		case "NSpid":
			st.NSpid, err = parseInts(value)
		}
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if masks != 2 {
		return errors.New("missing SigIgn or SigCgt")
	}
	return nil
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Children returns the pids of the direct children of pid, across all of its
// threads. procfs has no reader for task/<tid>/children.
func (fs FS) Children(pid int) ([]int, error) {
	if _, err := os.Stat(fs.path(pid)); err != nil {
		return nil, noProcess(pid, err)
	}

	files, err := filepath.Glob(fs.path(pid, "task", "*", "children"))
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{})
	for _, file := range files {
		bs, err := os.ReadFile(file)
		if err != nil {
			// the thread exited between Glob and ReadFile
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		pids, err := parseInts(string(bs))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		for _, p := range pids {
			seen[p] = struct{}{}
		}
	}

	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out, nil
}

// Zombies returns the children of pid that have exited but not been reaped.
func (fs FS) Zombies(pid int) ([]int, error) {
	children, err := fs.Children(pid)
	if err != nil {
		return nil, err
	}

	zombies := make([]int, 0)
	for _, child := range children {
		stat, err := fs.stat(child)
		if errors.Is(err, ErrNoProcess) {
			// reaped while we were looking
			continue
		}
		if err != nil {
			return nil, err
		}
		if stat.State == "Z" {
			zombies = append(zombies, child)
		}
	}
	return zombies, nil
}

func (fs FS) stat(pid int) (procfs.ProcStat, error) {
	p, err := fs.proc(pid)
	if err != nil {
		return procfs.ProcStat{}, err
	}
	stat, err := p.Stat()
	if err != nil {
		return procfs.ProcStat{}, noProcess(pid, err)
	}
	return stat, nil
}

// FDs returns the open descriptor numbers of pid.
func (fs FS) FDs(pid int) ([]int, error) {
	p, err := fs.proc(pid)
	if err != nil {
		return nil, err
	}
	targets, err := p.FileDescriptors()
	if err != nil {
		return nil, noProcess(pid, err)
	}

	fds := make([]int, 0, len(targets))
	for _, fd := range targets {
		fds = append(fds, int(fd))
	}
	sort.Ints(fds)
	return fds, nil
}

// StartTime returns how long after boot pid was started.
func (fs FS) StartTime(pid int) (time.Duration, error) {
	stat, err := fs.stat(pid)
	if err != nil {
		return 0, err
	}
	hz, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil {
		return 0, err
	}
	return ticksToDuration(stat.Starttime, uint64(hz)), nil
}

// ticksToDuration converts clock ticks without going through ticks*time.Second,
// which overflows after a few years of uptime.
func ticksToDuration(ticks, hz uint64) time.Duration {
	secs, rem := ticks/hz, ticks%hz
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(hz)
}

// Report is everything Snapshot gathers about one process.
type Report struct {
	Pid       int
	Status    *Status
	Children  []int
	Zombies   []int
	FDs       []int
	StartTime time.Duration
}

func (fs FS) Snapshot(pid int) (*Report, error) {
	st, err := fs.ReadStatus(pid)
	if err != nil {
		return nil, err
	}
	children, err := fs.Children(pid)
	if err != nil {
		return nil, err
	}
	zombies, err := fs.Zombies(pid)
	if err != nil {
		return nil, err
	}
	fds, err := fs.FDs(pid)
	if err != nil {
		return nil, err
	}
	start, err := fs.StartTime(pid)
	if err != nil {
		return nil, err
	}

	return &Report{
		Pid:       pid,
		Status:    st,
		Children:  children,
		Zombies:   zombies,
		FDs:       fds,
		StartTime: start,
	}, nil
}

func Self() (int, error)                       { return Default.Self() }
func ReadStatus(pid int) (*Status, error)      { return Default.ReadStatus(pid) }
func Children(pid int) ([]int, error)          { return Default.Children(pid) }
func Zombies(pid int) ([]int, error)           { return Default.Zombies(pid) }
func FDs(pid int) ([]int, error)               { return Default.FDs(pid) }
func StartTime(pid int) (time.Duration, error) { return Default.StartTime(pid) }
func Snapshot(pid int) (*Report, error)        { return Default.Snapshot(pid) }
