package box

import (
	"sourcebox/frontend/cmd/box/exec"
	"sourcebox/frontend/cmd/box/ls"
	"sourcebox/frontend/cmd/box/start"
	"sourcebox/frontend/cmd/box/stat"
	"sourcebox/frontend/cmd/box/stop"

	"github.com/spf13/cobra"
)

func init() {
	BoxCmd.AddCommand(start.StartCmd)
	BoxCmd.AddCommand(exec.ExecCmd)
	BoxCmd.AddCommand(stop.StopCmd)
	BoxCmd.AddCommand(ls.LsCmd)
	BoxCmd.AddCommand(stat.StatCmd)
}

var BoxCmd = &cobra.Command{
	Use:   "box",
	Short: "box command is used to manage sandboxes",
}
