package tools

import (
	"errors"
	"os"
	"reflect"
	"testing"

	"golang.org/x/sys/unix"
)

func TestCloneFlags(t *testing.T) {
	flags, err := CloneFlags([]string{"pid", "net"})
	if err != nil {
		t.Fatal(err)
	}
	if flags != unix.CLONE_NEWPID|unix.CLONE_NEWNET {
		t.Errorf("flags = %#x", flags)
	}

	if flags, err := CloneFlags(nil); err != nil || flags != 0 {
		t.Errorf("CloneFlags(nil) = %#x, %v", flags, err)
	}

	if _, err := CloneFlags([]string{"pid", "mnt"}); !errors.Is(err, ErrUnknownNamespace) {
		t.Errorf("mnt err = %v, want ErrUnknownNamespace", err)
	}
}

func TestKnownNamespaces(t *testing.T) {
	want := []string{"ipc", "net", "pid", "uts"}
	if got := KnownNamespaces(); !reflect.DeepEqual(got, want) {
		t.Errorf("KnownNamespaces() = %v, want %v", got, want)
	}
}

func TestHas(t *testing.T) {
	if !Has([]string{"pid", "uts"}, "uts") {
		t.Error("uts not found")
	}
	if Has([]string{"pid"}, "net") {
		t.Error("net found")
	}
}

func TestDoInNamespacesUnknown(t *testing.T) {
	called := false
	err := DoInNamespaces(os.Getpid(), []string{"user"}, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrUnknownNamespace) {
		t.Errorf("err = %v", err)
	}
	if called {
		t.Error("f ran despite the bad namespace list")
	}
}

// Joining our own namespaces is a no-op that still exercises the setns path.
func TestDoInNamespacesSelf(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("setns needs CAP_SYS_ADMIN")
	}
	want := errors.New("from f")
	err := DoInNamespaces(os.Getpid(), []string{"uts", "ipc"}, func() error { return want })
	if err != want {
		t.Errorf("err = %v, want %v", err, want)
	}
}
