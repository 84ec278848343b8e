package tools

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/creack/pty"
)

func requirePty(t *testing.T) {
	t.Helper()
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("no pty support: %v", err)
	}
	ptmx.Close()
	tty.Close()
}

func devNull(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestRunOnPty(t *testing.T) {
	requirePty(t)
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found")
	}

	var out bytes.Buffer
	cmd := exec.Command(sh, "-c", "test -t 1 && echo on-a-tty")
	if err := RunOnPty(cmd, devNull(t), &out); err != nil {
		t.Fatalf("RunOnPty: %v", err)
	}
	if !strings.Contains(out.String(), "on-a-tty") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunOnPtyExitStatus(t *testing.T) {
	requirePty(t)
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found")
	}

	var out bytes.Buffer
	err = RunOnPty(exec.Command(sh, "-c", "exit 3"), devNull(t), &out)
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("err = %v, want exit status 3", err)
	}
}
