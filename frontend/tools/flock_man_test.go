package tools

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestFlockManagerExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "lock")

	var a, b FlockManager
	if err := a.Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer a.Release()
	if err := b.Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer b.Release()

	if err := a.Lock(false); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// flock locks belong to the open file description, so b contends with a
	ok, err := b.TryLock(false)
	if err != nil || ok {
		t.Fatalf("TryLock while held = %v, %v", ok, err)
	}

	if err := a.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err = b.TryLock(false)
	if err != nil || !ok {
		t.Fatalf("TryLock after unlock = %v, %v", ok, err)
	}
}

func TestFlockManagerTryLockShared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	var a, b FlockManager
	for _, fm := range []*FlockManager{&a, &b} {
		if err := fm.Init(path); err != nil {
			t.Fatal(err)
		}
		defer fm.Release()
	}

	if err := a.Lock(true); err != nil {
		t.Fatal(err)
	}
	if ok, err := b.TryLock(true); err != nil || !ok {
		t.Fatalf("shared TryLock next to a reader = %v, %v", ok, err)
	}
	if err := b.Unlock(); err != nil {
		t.Fatal(err)
	}
	if ok, err := b.TryLock(false); err != nil || ok {
		t.Fatalf("exclusive TryLock next to a reader = %v, %v", ok, err)
	}

	// Release drops a's lock, leaving the file free
	if err := a.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, err := b.TryLock(false); err != nil || !ok {
		t.Fatalf("TryLock after Release = %v, %v", ok, err)
	}
}

func TestFlockManagerShared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	var a, b FlockManager
	for _, fm := range []*FlockManager{&a, &b} {
		if err := fm.Init(path); err != nil {
			t.Fatal(err)
		}
		defer fm.Release()
		if err := fm.Lock(true); err != nil {
			t.Fatalf("shared Lock: %v", err)
		}
	}
}

func TestFlockManagerMisuse(t *testing.T) {
	var fm FlockManager
	if err := fm.Lock(false); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Lock before Init = %v", err)
	}
	if err := fm.Release(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Release before Init = %v", err)
	}

	path := filepath.Join(t.TempDir(), "lock")
	if err := fm.Init(path); err != nil {
		t.Fatal(err)
	}
	if err := fm.Init(path); !errors.Is(err, ErrInitialized) {
		t.Errorf("double Init = %v", err)
	}
	if err := fm.Unlock(); !errors.Is(err, ErrNotLocked) {
		t.Errorf("Unlock unlocked = %v", err)
	}
	if err := fm.Lock(false); err != nil {
		t.Fatal(err)
	}
	if err := fm.Lock(false); !errors.Is(err, ErrLocked) {
		t.Errorf("double Lock = %v", err)
	}
	if err := fm.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
}
