package start

import (
	"io"
	"os"

	"sourcebox/shim/tools"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Main runs `sourcebox_shim init [flags]` with args as os.Args and returns the
// exit status. On success it does not return: the process becomes the anchor.
func Main(args []string, stdout, stderr io.Writer) int {
	// keep curious users from running it by hand
	if len(args) < 2 || args[1] != "init" || os.Geteuid() != 0 {
		return 2
	}

	logrus.SetOutput(stderr)
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	flags := pflag.NewFlagSet("sourcebox_shim init", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	opts := initOptions{}
	flags.StringVar(&opts.hostname, "hostname", "box", "hostname set in the new uts namespace")
	flags.StringVar(&opts.initPath, "init", "/sbin/sourcebox-init", "anchor executable to exec")
	flags.StringSliceVar(&opts.namespaces, "namespaces", tools.KnownNamespaces(), "namespaces the caller unshared")
	flags.BoolVar(&opts.debug, "debug", false, "log every step")
	if err := flags.Parse(args[2:]); err != nil {
		logrus.WithError(err).Error("bad arguments")
		return 2
	}
	if opts.debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	return initStage(opts, stdout)
}
