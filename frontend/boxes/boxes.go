// Package boxes starts, enters, inspects and stops sandboxes.
//
// A box is a set of fresh namespaces whose PID 1 is sourcebox-init. The
// Manager clones sourcebox_shim into the namespaces, waits until the shim has
// exec'd the anchor, and records the anchor's pid in the registry. Everything
// else (exec, stat, stop) is done against that pid.
package boxes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	commpacket "sourcebox/comm_packet"
	"sourcebox/frontend/cgroup"
	"sourcebox/frontend/config"
	"sourcebox/frontend/state"
	"sourcebox/frontend/tools"
	"sourcebox/procstat"
	nstools "sourcebox/shim/tools"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	ErrNotRunning = errors.New("box is not running")
	ErrBusy       = errors.New("registry is locked by another sourcebox command")
)

// how often Stop checks whether the anchor is gone
var pollInterval = 20 * time.Millisecond

type Manager struct {
	Config *config.Config
	Log    logrus.FieldLogger
	Proc   procstat.FS
	// Stderr receives the shim's log output.
	Stderr io.Writer
	// Debug is passed on to the shim.
	Debug bool
	// NoWait fails with ErrBusy instead of waiting for the registry lock.
	NoWait bool
}

func New(cfg *config.Config, log logrus.FieldLogger) *Manager {
	return &Manager{
		Config: cfg,
		Log:    log,
		Proc:   procstat.Default,
		Stderr: os.Stderr,
	}
}

// Entry is a registry record plus whether its anchor still runs.
type Entry struct {
	*state.Box
	Alive bool
}

// Alive reports whether the process at box.Pid is still the anchor that was
// recorded, and not a zombie or a different process that reused the pid.
func (m *Manager) Alive(box *state.Box) bool {
	st, err := m.Proc.ReadStatus(box.Pid)
	if err != nil || st.Zombie() {
		return false
	}
	start, err := m.Proc.StartTime(box.Pid)
	if err != nil {
		return false
	}
	return start == box.StartTime
}

func (m *Manager) lock(shared bool) (*tools.FlockManager, error) {
	lock := &tools.FlockManager{}
	if err := lock.Init(m.Config.LockPath()); err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	var err error
	if m.NoWait {
		var ok bool
		if ok, err = lock.TryLock(shared); err == nil && !ok {
			err = ErrBusy
		}
	} else {
		err = lock.Lock(shared)
	}
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("lock registry: %w", err)
	}
	return lock, nil
}

// view runs f on the registry under a shared lock.
func (m *Manager) view(f func(*state.Registry) error) error {
	lock, err := m.lock(true)
	if err != nil {
		return err
	}
	defer lock.Release()

	reg, err := state.Load(m.Config.RegistryPath())
	if err != nil {
		return err
	}
	return f(reg)
}

// update runs f on the registry under the exclusive lock and saves the result
// when f succeeds.
func (m *Manager) update(f func(*state.Registry) error) error {
	lock, err := m.lock(false)
	if err != nil {
		return err
	}
	defer lock.Release()

	reg, err := state.Load(m.Config.RegistryPath())
	if err != nil {
		return err
	}
	if err := f(reg); err != nil {
		return err
	}
	return reg.Save(m.Config.RegistryPath())
}

// Start creates a box called name. A record whose anchor is gone is replaced.
// An anchor that was started but could not be recorded is stopped again.
func (m *Manager) Start(ctx context.Context, name string) (*state.Box, error) {
	if err := state.ValidName(name); err != nil {
		return nil, err
	}
	var launched *state.Box
	err := m.update(func(reg *state.Registry) error {
		if old, err := reg.Get(name); err == nil {
			if m.Alive(old) {
				return fmt.Errorf("%w: %s (pid %d)", state.ErrBoxExists, name, old.Pid)
			}
			m.Log.WithFields(logrus.Fields{"box": name, "pid": old.Pid}).Info("dropping stale record")
			reg.Remove(name)
		}

		b, err := launchBox(m, ctx, name)
		if err != nil {
			return err
		}
		launched = b
		return reg.Add(b)
	})
	if err == nil {
		return launched, nil
	}

	if launched != nil {
		log := m.Log.WithFields(logrus.Fields{"box": name, "pid": launched.Pid})
		log.WithError(err).Warn("box not recorded, stopping its anchor")
		if kerr := m.terminate(context.Background(), launched, log); kerr != nil {
			log.WithError(kerr).Error("unrecorded anchor left running")
		} else {
			m.removeCgroup(launched, log)
		}
	}
	return nil, err
}

// replaced in tests
var launchBox = (*Manager).launch

func (m *Manager) launch(ctx context.Context, name string) (box *state.Box, err error) {
	cfg := m.Config
	flags, err := nstools.CloneFlags(cfg.Namespaces)
	if err != nil {
		return nil, err
	}
	shim, err := exec.LookPath(cfg.ShimPath)
	if err != nil {
		return nil, fmt.Errorf("find shim: %w", err)
	}

	args := []string{
		"init",
		"--hostname", cfg.Hostname,
		"--init", cfg.InitPath,
		"--namespaces", strings.Join(cfg.Namespaces, ","),
	}
	if m.Debug {
		args = append(args, "--debug")
	}
	cmd := exec.Command(shim, args...)
	cmd.Env = []string{}
	cmd.Dir = "/"
	cmd.Stderr = m.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: flags,
		// the box must not share a session or controlling tty with the caller
		Setsid: true,
	}

	log := m.Log.WithField("box", name)
	var group *cgroup.Group
	if !cfg.Limits.IsZero() {
		if group, err = cgroup.Create(cfg.CgroupRoot, name, cfg.Limits); err != nil {
			return nil, fmt.Errorf("create cgroup: %w", err)
		}
		defer func() {
			if err != nil {
				m.removeCgroup(&state.Box{Cgroup: group.Path}, log)
			}
		}()
		var dir *os.File
		if dir, err = group.Open(); err != nil {
			return nil, err
		}
		defer dir.Close()
		cmd.SysProcAttr.UseCgroupFD = true
		cmd.SysProcAttr.CgroupFD = int(dir.Fd())
		log.WithField("cgroup", group.Path).Debug("cgroup created")
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start shim: %w", err)
	}
	pid := cmd.Process.Pid
	log = log.WithField("pid", pid)
	log.Debug("shim started")

	ctx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
	defer cancel()

	readyc := make(chan error, 1)
	var ready *commpacket.ShimReady
	go func() {
		var err error
		ready, err = awaitAnchor(stdout)
		readyc <- err
	}()

	select {
	case err = <-readyc:
	case <-ctx.Done():
		err = fmt.Errorf("anchor not ready after %v: %w", cfg.StartTimeout, ctx.Err())
	}
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}
	stdout.Close()

	start, err := m.Proc.StartTime(pid)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("anchor start time: %w", err)
	}
	// the anchor outlives us, never wait for it
	cmd.Process.Release()

	log.WithFields(logrus.Fields{"ns_pid": ready.NSPid, "loopback": ready.Loopback}).Info("box started")
	box = &state.Box{
		Name:       name,
		Pid:        pid,
		Hostname:   ready.Hostname,
		Namespaces: append([]string(nil), cfg.Namespaces...),
		StartTime:  start,
		Created:    time.Now().UTC(),
	}
	if group != nil {
		box.Cgroup = group.Path
	}
	return box, nil
}

// removeCgroup deletes the box's cgroup once its anchor is gone.
func (m *Manager) removeCgroup(box *state.Box, log logrus.FieldLogger) {
	if box.Cgroup == "" {
		return
	}
	g := &cgroup.Group{Path: box.Cgroup}
	if err := g.Remove(m.Config.StopTimeout); err != nil {
		if pids, perr := g.Procs(); perr == nil {
			log = log.WithField("tasks", len(pids))
		}
		log.WithError(err).Warn("cgroup left behind")
	}
}

// awaitAnchor reads the shim's report. The box is up once a ShimReady is
// followed by EOF, which happens when sourcebox-init closes its stdout.
func awaitAnchor(r io.Reader) (*commpacket.ShimReady, error) {
	data, err := commpacket.ReadPacketWith4BytesLengthHeader(r)
	if err == io.EOF {
		return nil, errors.New("shim exited without reporting")
	}
	if err != nil {
		return nil, fmt.Errorf("read shim report: %w", err)
	}

	var ready *commpacket.ShimReady
	switch p := commpacket.ParsePacket(data).(type) {
	case *commpacket.ShimFailed:
		return nil, p
	case *commpacket.ShimReady:
		ready = p
	default:
		return nil, fmt.Errorf("unexpected shim report %q", data)
	}

	data, err = commpacket.ReadPacketWith4BytesLengthHeader(r)
	if err == io.EOF {
		return ready, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read shim report: %w", err)
	}
	if failed, ok := commpacket.ParsePacket(data).(*commpacket.ShimFailed); ok {
		return nil, failed
	}
	return nil, fmt.Errorf("unexpected shim report %q", data)
}

func (m *Manager) running(name string) (*state.Box, error) {
	var box *state.Box
	err := m.view(func(reg *state.Registry) error {
		b, err := reg.Get(name)
		if err != nil {
			return err
		}
		box = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !m.Alive(box) {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	return box, nil
}

type ExecOptions struct {
	// Detach starts the command and returns at once. The command is
	// reparented to the box's anchor when sourcebox exits.
	Detach bool
	// Interactive runs the command on a pty.
	Interactive bool
	// User overrides Config.Exec.User.
	User string
	// Dir overrides Config.Exec.Dir.
	Dir string

	Stdin  *os.File
	Stdout io.Writer
	Stderr io.Writer
}

// Exec runs argv inside the box and returns its exit code. Detached commands
// report 0 once started. Other commands are killed when ctx is done.
//
// Commands run as Config.Exec.User with USER, HOME and LANG set, in the box's
// cgroup when it has one.
func (m *Manager) Exec(ctx context.Context, name string, argv []string, opts ExecOptions) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("no command given")
	}
	box, err := m.running(name)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	who := opts.User
	if who == "" {
		who = m.Config.Exec.User
	}
	id, err := lookupIdentity(who)
	if err != nil {
		return 0, err
	}
	attr := &syscall.SysProcAttr{Credential: id.cred}
	if opts.Detach {
		attr.Setsid = true
	}
	if box.Cgroup != "" {
		dir, err := (&cgroup.Group{Path: box.Cgroup}).Open()
		if err != nil {
			return 0, fmt.Errorf("open cgroup: %w", err)
		}
		defer dir.Close()
		attr.UseCgroupFD = true
		attr.CgroupFD = int(dir.Fd())
	}

	log := m.Log.WithFields(logrus.Fields{"box": name, "command": argv[0], "user": id.name})
	err = nstools.DoInNamespaces(box.Pid, box.Namespaces, func() error {
		var cmd *exec.Cmd
		if opts.Detach {
			// cancelling ctx must not kill what was left behind on purpose
			cmd = exec.Command(argv[0], argv[1:]...)
		} else {
			cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
		}
		cmd.Env = id.env(m.Config.Env, m.Config.Exec.Lang)
		cmd.Dir = id.workDir(opts.Dir, m.Config.Exec.Dir)
		cmd.SysProcAttr = attr

		switch {
		case opts.Detach:
			if err := cmd.Start(); err != nil {
				return err
			}
			log.WithField("pid", cmd.Process.Pid).Info("detached")
			return cmd.Process.Release()
		case opts.Interactive:
			return tools.RunOnPty(cmd, opts.Stdin, opts.Stdout)
		default:
			if opts.Stdin != nil {
				cmd.Stdin = opts.Stdin
			}
			cmd.Stdout = opts.Stdout
			cmd.Stderr = opts.Stderr
			return cmd.Run()
		}
	})

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitStatus(exitErr), nil
	}
	return 0, err
}

// exitStatus follows the shell convention of 128+signal for killed commands.
func exitStatus(err *exec.ExitError) int {
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return err.ExitCode()
}

// Stop terminates the box's anchor and forgets the box. SIGTERM gets
// Config.StopTimeout to work before SIGKILL.
func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.update(func(reg *state.Registry) error {
		box, err := reg.Get(name)
		if err != nil {
			return err
		}
		log := m.Log.WithFields(logrus.Fields{"box": name, "pid": box.Pid})

		if m.Alive(box) {
			if err := m.terminate(ctx, box, log); err != nil {
				return err
			}
			log.Info("box stopped")
		} else {
			log.Info("anchor already gone")
		}
		m.removeCgroup(box, log)
		return reg.Remove(name)
	})
}

func (m *Manager) terminate(ctx context.Context, box *state.Box, log logrus.FieldLogger) error {
	for _, sig := range []unix.Signal{unix.SIGTERM, unix.SIGKILL} {
		if err := unix.Kill(box.Pid, sig); err != nil && err != unix.ESRCH {
			return fmt.Errorf("send %v to %d: %w", sig, box.Pid, err)
		}
		if m.waitGone(ctx, box) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		log.WithField("signal", sig).Warn("anchor still running")
	}
	return fmt.Errorf("anchor %d survived SIGKILL", box.Pid)
}

func (m *Manager) waitGone(ctx context.Context, box *state.Box) bool {
	deadline := time.NewTimer(m.Config.StopTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		if !m.Alive(box) {
			return true
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return !m.Alive(box)
		case <-ctx.Done():
			return false
		}
	}
}

// List returns every recorded box, sorted by name.
func (m *Manager) List() ([]Entry, error) {
	var entries []Entry
	err := m.view(func(reg *state.Registry) error {
		for _, name := range reg.Names() {
			box := reg.Boxes[name]
			entries = append(entries, Entry{Box: box, Alive: m.Alive(box)})
		}
		return nil
	})
	return entries, err
}

// Stat snapshots the anchor of a running box.
func (m *Manager) Stat(name string) (*state.Box, *procstat.Report, error) {
	box, err := m.running(name)
	if err != nil {
		return nil, nil, err
	}
	report, err := m.Proc.Snapshot(box.Pid)
	if err != nil {
		return nil, nil, err
	}
	return box, report, nil
}
