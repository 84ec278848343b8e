package tools

import (
	"errors"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sys/unix"
)

// Namespaces a box can unshare, by their /proc/<pid>/ns name. Mount and user
// namespaces are left out: setns into either needs a single-threaded caller,
// which a Go process never is.
var namespaceFlags = map[string]uintptr{
	"pid": unix.CLONE_NEWPID,
	"uts": unix.CLONE_NEWUTS,
	"ipc": unix.CLONE_NEWIPC,
	"net": unix.CLONE_NEWNET,
}

var ErrUnknownNamespace = errors.New("unknown namespace")

// KnownNamespaces returns the supported namespace names, sorted.
func KnownNamespaces() []string {
	names := make([]string, 0, len(namespaceFlags))
	for name := range namespaceFlags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func CloneFlags(names []string) (uintptr, error) {
	var flags uintptr
	for _, name := range names {
		flag, ok := namespaceFlags[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownNamespace, name)
		}
		flags |= flag
	}
	return flags, nil
}

func Has(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// DoInNamespaces runs f on an OS thread that has joined the namespaces of pid.
// Processes started by f are created inside them. The thread is never handed
// back to the scheduler, so its namespaces die with it.
func DoInNamespaces(pid int, names []string, f func() error) error {
	if _, err := CloneFlags(names); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		runtime.LockOSThread()

		// open everything before the first setns, /proc may look different after
		fds := make([]int, 0, len(names))
		defer func() {
			for _, fd := range fds {
				unix.Close(fd)
			}
		}()
		for _, name := range names {
			fd, err := unix.Open(fmt.Sprintf("/proc/%d/ns/%s", pid, name), unix.O_RDONLY|unix.O_CLOEXEC, 0)
			if err != nil {
				errc <- fmt.Errorf("open %s namespace of %d: %w", name, pid, err)
				return
			}
			fds = append(fds, fd)
		}

		for i, name := range names {
			err := unix.Setns(fds[i], int(namespaceFlags[name]))
			if err != nil {
				errc <- fmt.Errorf("join %s namespace of %d: %w", name, pid, err)
				return
			}
		}

		errc <- f()
	}()

	return <-errc
}
