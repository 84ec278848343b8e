package stat

import (
	"fmt"
	"io"
	"text/tabwriter"

	"sourcebox/frontend/cmd/cmdutil"
	"sourcebox/frontend/state"
	"sourcebox/procstat"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var StatCmd = &cobra.Command{
	Use:   "stat NAME",
	Short: "show the state of a sandbox's init process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := cmdutil.Manager(cmd)
		if err != nil {
			return err
		}

		box, report, err := m.Stat(args[0])
		if err != nil {
			return err
		}
		return printReport(cmd.OutOrStdout(), box, report, cmdutil.IsTerminal(cmd.OutOrStdout()))
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printReport(out io.Writer, box *state.Box, r *procstat.Report, aligned bool) error {
	nsPid := 0
	if n := len(r.Status.NSpid); n > 0 {
		nsPid = r.Status.NSpid[n-1]
	}
	rss := fmt.Sprint(r.Status.VmRSS)
	if aligned {
		rss = humanize.IBytes(r.Status.VmRSS)
	}
	cgroup := box.Cgroup
	if cgroup == "" {
		cgroup = "-"
	}
	rows := [][2]string{
		{"name", box.Name},
		{"pid", fmt.Sprint(r.Pid)},
		{"ns_pid", fmt.Sprint(nsPid)},
		{"state", r.Status.State},
		{"start_time", r.StartTime.String()},
		{"rss_bytes", rss},
		{"fds", fmt.Sprint(len(r.FDs))},
		{"children", fmt.Sprint(len(r.Children))},
		{"zombies", fmt.Sprint(len(r.Zombies))},
		{"sigchld_ignored", yesNo(r.Status.Ignores(unix.SIGCHLD))},
		// an anchor that catches SIGTERM can be stopped without SIGKILL
		{"sigterm_caught", yesNo(r.Status.Catches(unix.SIGTERM))},
		{"cgroup", cgroup},
	}

	if !aligned {
		for _, row := range rows {
			fmt.Fprintf(out, "%s=%s\n", row[0], row[1])
		}
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintf(w, "%s:\t%s\n", row[0], row[1])
	}
	return w.Flush()
}
