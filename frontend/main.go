package main

// sourcebox

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"sourcebox/frontend/cmd/box"
	"sourcebox/frontend/cmd/cmdutil"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:               "sourcebox",
	Short:             "Sourcebox runs commands in throwaway linux namespaces",
	Long:              "Sourcebox creates sandboxes whose only resident process is a minimal init.\nCommands run inside a sandbox are reaped by that init when their parents exit.",
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	cmdutil.AddGlobalFlags(RootCmd.PersistentFlags())
	// sourcebox box start mybox
	// sourcebox box exec mybox -- sh -c 'sleep 1 &'
	RootCmd.AddCommand(box.BoxCmd)
}

func main() {
	// interrupting sourcebox stops a foreground `box exec` with it
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := RootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	var exit *cmdutil.ExitCode
	if errors.As(err, &exit) {
		os.Exit(exit.Code)
	}
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logrus.Error(err)
	os.Exit(1)
}
