// Package cgroup puts boxes into cgroup v2 groups that carry their resource
// limits. A box gets the group <root>/<name>; its anchor and every command run
// in it are cloned straight into that group.
package cgroup

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

var ErrNotCgroup2 = errors.New("cgroup: not a cgroup v2 hierarchy")

const (
	// cpu.max period in microseconds
	cpuPeriod = 100000
	// the kernel refuses smaller cpu.max quotas
	minCPUQuota = 1000
)

// how often Remove retries while the group still has tasks
var pollInterval = 20 * time.Millisecond

// Limits are applied to every box. Zero values mean no limit.
type Limits struct {
	// Memory caps memory.max, e.g. "512MiB" or "1G". Swap is turned off for
	// the box when set.
	Memory string `yaml:"memory"`

	// CPU is how many CPUs worth of time the box may use, e.g. 0.5.
	CPU float64 `yaml:"cpu"`

	// Processes caps the tasks a box may run, not counting its init.
	Processes int `yaml:"processes"`
}

func (l Limits) IsZero() bool {
	return l.Memory == "" && l.CPU == 0 && l.Processes == 0
}

func (l Limits) Validate() error {
	var errs []error
	if l.Memory != "" {
		if n, err := humanize.ParseBytes(l.Memory); err != nil {
			errs = append(errs, fmt.Errorf("limits.memory: %w", err))
		} else if n == 0 {
			errs = append(errs, errors.New("limits.memory must be positive"))
		}
	}
	if l.CPU < 0 || math.IsNaN(l.CPU) || math.IsInf(l.CPU, 0) {
		errs = append(errs, fmt.Errorf("limits.cpu must be a finite positive number, got %v", l.CPU))
	}
	if l.Processes < 0 {
		errs = append(errs, fmt.Errorf("limits.processes must be positive, got %d", l.Processes))
	}
	return errors.Join(errs...)
}

// controllers lists what l needs enabled in the parent's subtree_control.
func (l Limits) controllers() []string {
	var out []string
	if l.CPU > 0 {
		out = append(out, "cpu")
	}
	if l.Memory != "" {
		out = append(out, "memory")
	}
	if l.Processes > 0 {
		out = append(out, "pids")
	}
	return out
}

// files maps cgroup interface files to the values l writes into them.
func (l Limits) files() (map[string]string, error) {
	files := make(map[string]string)
	if l.Processes > 0 {
		// init lives in the group too
		files["pids.max"] = strconv.Itoa(l.Processes + 1)
	}
	if l.Memory != "" {
		n, err := humanize.ParseBytes(l.Memory)
		if err != nil {
			return nil, err
		}
		files["memory.max"] = strconv.FormatUint(n, 10)
		files["memory.swap.max"] = "0"
	}
	if l.CPU > 0 {
		quota := int64(math.Round(l.CPU * cpuPeriod))
		if quota < minCPUQuota {
			quota = minCPUQuota
		}
		files["cpu.max"] = fmt.Sprintf("%d %d", quota, cpuPeriod)
	}
	return files, nil
}

// Group is one cgroup v2 directory.
type Group struct {
	Path string
}

// Create makes the group root/name and applies l to it. The controllers l
// needs are enabled in root first.
func Create(root, name string, l Limits) (*Group, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(root, "cgroup.controllers")); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotCgroup2, root)
	}
	if ctrls := l.controllers(); len(ctrls) > 0 {
		enable := "+" + strings.Join(ctrls, " +")
		if err := writeFile(filepath.Join(root, "cgroup.subtree_control"), enable); err != nil {
			return nil, fmt.Errorf("enable %s in %s: %w", enable, root, err)
		}
	}

	files, err := l.files()
	if err != nil {
		return nil, err
	}

	g := &Group{Path: filepath.Join(root, name)}
	if err := os.Mkdir(g.Path, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for file := range files {
		names = append(names, file)
	}
	sort.Strings(names)
	for _, file := range names {
		err := writeFile(filepath.Join(g.Path, file), files[file])
		// no swap accounting on this kernel
		if file == "memory.swap.max" && errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			g.Remove(0)
			return nil, fmt.Errorf("set %s: %w", file, err)
		}
	}
	return g, nil
}

// writeFile writes an existing interface file; cgroupfs creates them all.
func writeFile(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	_, err = f.WriteString(value)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Open returns the group's directory, for SysProcAttr.CgroupFD.
func (g *Group) Open() (*os.File, error) {
	return os.Open(g.Path)
}

// Procs lists the pids in the group.
func (g *Group) Procs() ([]int, error) {
	f, err := os.Open(filepath.Join(g.Path, "cgroup.procs"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pids []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil {
			return nil, fmt.Errorf("parse cgroup.procs: %w", err)
		}
		pids = append(pids, pid)
	}
	return pids, sc.Err()
}

// Remove deletes the group. The kernel refuses while tasks remain, which is
// retried for up to timeout.
func (g *Group) Remove(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Rmdir(g.Path)
		if err == nil || err == unix.ENOENT {
			return nil
		}
		if err != unix.EBUSY || time.Now().After(deadline) {
			return fmt.Errorf("remove cgroup %s: %w", g.Path, err)
		}
		time.Sleep(pollInterval)
	}
}
