package ls

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"sourcebox/frontend/boxes"
	"sourcebox/frontend/cmd/cmdutil"

	"github.com/spf13/cobra"
)

var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: "list all sandboxes",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := cmdutil.Manager(cmd)
		if err != nil {
			return err
		}

		entries, err := m.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if cmdutil.IsTerminal(out) {
			return printTable(out, entries)
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s %d %s\n", e.Name, e.Pid, status(e))
		}
		return nil
	},
}

func status(e boxes.Entry) string {
	if e.Alive {
		return "running"
	}
	return "gone"
}

func printTable(out io.Writer, entries []boxes.Entry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPID\tSTATUS\tHOSTNAME\tNAMESPACES\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			e.Name, e.Pid, status(e), e.Hostname,
			strings.Join(e.Namespaces, ","), e.Created.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
