package stop

import (
	"fmt"

	"sourcebox/frontend/cmd/cmdutil"

	"github.com/spf13/cobra"
)

var StopCmd = &cobra.Command{
	Use:     "stop NAME",
	Short:   "stop a sandbox and forget it",
	Args:    cobra.ExactArgs(1),
	PreRunE: cmdutil.RequireRoot,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := cmdutil.Manager(cmd)
		if err != nil {
			return err
		}

		if err := m.Stop(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}
