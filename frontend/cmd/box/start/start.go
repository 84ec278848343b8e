package start

import (
	"fmt"

	"sourcebox/frontend/cmd/cmdutil"

	"github.com/spf13/cobra"
)

var StartCmd = &cobra.Command{
	Use:     "start NAME",
	Short:   "start a sandbox anchored by sourcebox-init",
	Args:    cobra.ExactArgs(1),
	PreRunE: cmdutil.RequireRoot,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := cmdutil.Manager(cmd)
		if err != nil {
			return err
		}

		box, err := m.Start(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", box.Name, box.Pid)
		return nil
	},
}
