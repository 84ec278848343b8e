package exec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sourcebox/frontend/boxes"
	"sourcebox/frontend/cmd/cmdutil"

	"github.com/spf13/cobra"
)

func init() {
	ExecCmd.Flags().BoolP("interactive", "i", false, "run the command on a pty attached to this terminal")
	ExecCmd.Flags().BoolP("detach", "d", false, "start the command and return, leaving it to the box's init")
	ExecCmd.MarkFlagsMutuallyExclusive("interactive", "detach")
	ExecCmd.Flags().StringP("user", "u", "", "user name, uid or uid:gid to run as (default from the config file)")
	ExecCmd.Flags().StringP("workdir", "w", "", "absolute working directory (default the user's home)")
}

var ExecCmd = &cobra.Command{
	Use:   "exec NAME -- COMMAND [ARGS...]",
	Short: "run a command inside a sandbox",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 {
			return errors.New("need a box name and a command")
		}
		if dash := cmd.ArgsLenAtDash(); dash != -1 && dash != 1 {
			return errors.New("usage: exec NAME -- COMMAND [ARGS...]")
		}
		return nil
	},
	PreRunE: cmdutil.RequireRoot,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := cmdutil.Manager(cmd)
		if err != nil {
			return err
		}

		opts := boxes.ExecOptions{
			Stdin:  os.Stdin,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		}
		opts.Interactive, _ = cmd.Flags().GetBool("interactive")
		opts.Detach, _ = cmd.Flags().GetBool("detach")
		opts.User, _ = cmd.Flags().GetString("user")
		opts.Dir, _ = cmd.Flags().GetString("workdir")
		if opts.Dir != "" && !filepath.IsAbs(opts.Dir) {
			return fmt.Errorf("workdir %q must be absolute", opts.Dir)
		}

		code, err := m.Exec(cmd.Context(), args[0], args[1:], opts)
		if err != nil {
			return err
		}
		if code != 0 {
			return &cmdutil.ExitCode{Code: code}
		}
		return nil
	},
}
