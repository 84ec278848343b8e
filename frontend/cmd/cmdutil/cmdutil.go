// Package cmdutil holds what every `sourcebox box` subcommand needs: the
// global flags, the logger and a boxes.Manager built from them.
package cmdutil

import (
	"errors"
	"fmt"
	"io"
	"os"

	"sourcebox/frontend/boxes"
	"sourcebox/frontend/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var ErrNotRoot = errors.New("root permission is required")

// ExitCode makes the process exit with Code and no error message. `box exec`
// returns it to hand the command's status back to the shell.
type ExitCode struct {
	Code int
}

func (e *ExitCode) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func AddGlobalFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "config file (default $"+config.EnvVar+")")
	flags.String("state-dir", "", "directory of the box registry, overrides the config file")
	flags.Bool("debug", false, "enable debug logging")
	flags.Bool("no-wait", false, "fail instead of waiting when another sourcebox command holds the registry")
}

func RequireRoot(cmd *cobra.Command, args []string) error {
	if os.Geteuid() != 0 {
		return ErrNotRoot
	}
	return nil
}

// Logger returns the logger for cmd, at debug level when --debug is set.
func Logger(cmd *cobra.Command) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// LoadConfig loads --config and applies --state-dir on top of it.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("state-dir") {
		cfg.StateDir, _ = flags.GetString("state-dir")
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func Manager(cmd *cobra.Command) (*boxes.Manager, error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := Logger(cmd)
	log.WithField("state_dir", cfg.StateDir).Debug("config loaded")

	m := boxes.New(cfg, log)
	m.Stderr = cmd.ErrOrStderr()
	m.Debug = log.IsLevelEnabled(logrus.DebugLevel)
	m.NoWait, _ = cmd.Flags().GetBool("no-wait")
	return m, nil
}

// IsTerminal reports whether w is a terminal, for commands that print
// aligned tables to people and plain lines to scripts.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
