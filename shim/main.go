package main

import (
	"os"

	"sourcebox/shim/start"
)

// sourcebox_shim init --hostname box --init /sbin/sourcebox-init --namespaces pid,uts,ipc,net
//
// Only meant to be started by `sourcebox box start`, already inside the new
// namespaces, with stdout connected to the pipe it reports on.
func main() {
	os.Exit(start.Main(os.Args, os.Stdout, os.Stderr))
}
