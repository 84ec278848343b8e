// Package anchor keeps a PID namespace alive.
//
// The process running Run is meant to be PID 1 of a sandbox. It holds no
// descriptors into the launching environment, lets the kernel reap every
// child that is reparented to it, and otherwise sleeps until the namespace is
// torn down.
package anchor

import (
	"errors"
	"fmt"
	"os/signal"
	"sync/atomic"
	"time"

	"sourcebox/procstat"

	"golang.org/x/sys/unix"
)

// State is where the anchor is in its startup sequence.
type State int

const (
	// Starting covers closing stdio and installing the reap policy.
	Starting State = iota
	// IdleResident is entered once and never left.
	IdleResident
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case IdleResident:
		return "idle-resident"
	default:
		return "unknown"
	}
}

// ErrReapPolicy is returned when the kernel does not show SIGCHLD as ignored
// after InstallReapPolicy asked for it, or when that cannot be checked.
var ErrReapPolicy = errors.New("anchor: SIGCHLD disposition is not ignore")

// how long ReapLoop sleeps when there is no child to wait for
var reapIdle = time.Second

var state atomic.Int32

// Current reports the anchor's state.
func Current() State {
	return State(state.Load())
}

func setState(s State) {
	state.Store(int32(s))
}

var ignoreSIGCHLD = func() { signal.Ignore(unix.SIGCHLD) }

// ReleaseStdio closes descriptors 0, 1 and 2. A close error only means the
// descriptor was not open, so errors are dropped.
func ReleaseStdio() {
	for fd := 0; fd < 3; fd++ {
		unix.Close(fd)
	}
}

// InstallReapPolicy sets SIGCHLD to SIG_IGN. With that disposition the kernel
// discards the status of every terminated child itself, so no wait call is
// ever needed. The result is checked against the kernel's SigIgn mask, not the
// Go runtime's bookkeeping.
func InstallReapPolicy() error {
	ignoreSIGCHLD()

	self, err := procstat.Self()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReapPolicy, err)
	}
	st, err := procstat.ReadStatus(self)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReapPolicy, err)
	}
	if !st.Ignores(unix.SIGCHLD) {
		return ErrReapPolicy
	}
	return nil
}

// Suspend blocks in pause(2) forever. Every delivered signal that does not
// terminate the process just puts it back to sleep.
func Suspend() {
	setState(IdleResident)
	for {
		unix.Pause()
	}
}

// ReapLoop collects and discards child statuses explicitly. It is the
// fallback for when SIGCHLD could not be ignored and never returns.
func ReapLoop() {
	setState(IdleResident)
	for {
		var status unix.WaitStatus
		_, err := unix.Wait4(-1, &status, 0, nil)
		if err == unix.ECHILD {
			// nothing to reap yet, orphans may still be reparented to us later
			time.Sleep(reapIdle)
		}
	}
}

// Run performs the whole startup sequence and never returns.
func Run() {
	ReleaseStdio()

	if err := InstallReapPolicy(); err != nil {
		ReapLoop()
	}

	Suspend()
}
