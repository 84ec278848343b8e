package tools

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

var (
	ErrNotInitialized = errors.New("FlockManager haven't been initialized yet")
	ErrInitialized    = errors.New("FlockManager had been initialized already")
	ErrLocked         = errors.New("trying lock a locked lock")
	ErrNotLocked      = errors.New("not locked yet")
)

// FlockManager serialises sourcebox invocations on the registry. Not safe for
// concurrent use within one process; each invocation owns its own.
type FlockManager struct {
	initAlready bool
	locked      bool
	fd          int
}

// Init opens (creating if needed) the lock file at path.
func (fm *FlockManager) Init(path string) error {
	if fm.initAlready {
		return ErrInitialized
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return err
	}

	fm.fd = fd
	fm.initAlready = true
	fm.locked = false

	return nil
}

// Release drops the lock if held and closes the file.
func (fm *FlockManager) Release() error {
	if !fm.initAlready {
		return ErrNotInitialized
	}

	var err error
	if fm.locked {
		err = fm.Unlock()
	}

	unix.Close(fm.fd)

	fm.initAlready = false
	fm.locked = false

	return err
}

// TryLock is Lock without waiting. It reports false when another holder is in
// the way.
func (fm *FlockManager) TryLock(shared bool) (bool, error) {
	if !fm.initAlready {
		return false, ErrNotInitialized
	}

	if fm.locked {
		return false, ErrLocked
	}

	err := unix.Flock(fm.fd, lockHow(shared)|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, err
	}

	fm.locked = true
	return true, nil
}

// Lock blocks until the exclusive lock is held. With shared set it takes a
// shared lock instead, enough for read-only commands.
func (fm *FlockManager) Lock(shared bool) error {
	if !fm.initAlready {
		return ErrNotInitialized
	}

	if fm.locked {
		return ErrLocked
	}
	for {
		err := unix.Flock(fm.fd, lockHow(shared))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		break
	}

	fm.locked = true
	return nil
}

func lockHow(shared bool) int {
	if shared {
		return unix.LOCK_SH
	}
	return unix.LOCK_EX
}

func (fm *FlockManager) Unlock() error {
	if !fm.initAlready {
		return ErrNotInitialized
	}

	if !fm.locked {
		return ErrNotLocked
	}
	err := unix.Flock(fm.fd, unix.LOCK_UN)
	if err != nil {
		return err
	}

	fm.locked = false

	return nil
}
