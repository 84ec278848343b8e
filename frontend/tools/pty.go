package tools

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// RunOnPty starts cmd on a fresh pty, relays stdin/stdout through it with the
// caller's terminal in raw mode, and waits for cmd.
func RunOnPty(cmd *exec.Cmd, stdin *os.File, stdout io.Writer) error {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	defer ptmx.Close()

	if term.IsTerminal(int(stdin.Fd())) {
		// follow the caller's window size
		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer func() {
			signal.Stop(winch)
			close(winch)
		}()
		go func() {
			for range winch {
				pty.InheritSize(stdin, ptmx)
			}
		}()
		winch <- syscall.SIGWINCH

		oldState, err := term.MakeRaw(int(stdin.Fd()))
		if err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return err
		}
		defer term.Restore(int(stdin.Fd()), oldState)
	}

	go io.Copy(ptmx, stdin)

	// reading the master fails with EIO once the last slave fd is closed
	_, err = io.Copy(stdout, ptmx)
	if err != nil && !errors.Is(err, syscall.EIO) {
		cmd.Process.Kill()
		cmd.Wait()
		return err
	}
	return cmd.Wait()
}
