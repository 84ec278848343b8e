package start

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	commpacket "sourcebox/comm_packet"
	"sourcebox/shim/tools"

	"github.com/sirupsen/logrus"
	"github.com/tklauser/go-sysconf"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type initOptions struct {
	hostname   string
	initPath   string
	namespaces []string
	debug      bool
}

// replaced in tests
var (
	sethostname = unix.Sethostname
	loopbackUp  = bringLoopbackUp
	openMax     = func() (int64, error) { return sysconf.Sysconf(sysconf.SC_OPEN_MAX) }
	execInit    = func(path string) error {
		// sourcebox-init reads neither, hand it nothing
		return unix.Exec(path, []string{filepath.Base(path)}, []string{})
	}
)

// initStage runs inside the freshly cloned namespaces, reports on out and
// replaces the process with the anchor. The return value is the exit status
// to use when it could not.
func initStage(opts initOptions, out io.Writer) int {
	log := logrus.WithFields(logrus.Fields{
		"hostname":   opts.hostname,
		"init":       opts.initPath,
		"namespaces": opts.namespaces,
	})

	fail := func(stage string, err error) int {
		log.WithError(err).WithField("stage", stage).Error("box init failed")
		commpacket.WritePacket(out, &commpacket.ShimFailed{Stage: stage, Reason: err.Error()})
		return 1
	}

	// check before reporting ready, after that a failed exec is all we can say
	if err := unix.Access(opts.initPath, unix.X_OK); err != nil {
		return fail("init", fmt.Errorf("%s: %w", opts.initPath, err))
	}

	if tools.Has(opts.namespaces, "uts") {
		if err := sethostname([]byte(opts.hostname)); err != nil {
			return fail("hostname", err)
		}
		log.Debug("hostname set")
	}

	loopback := false
	if tools.Has(opts.namespaces, "net") {
		if err := loopbackUp(); err != nil {
			return fail("loopback", err)
		}
		loopback = true
		log.Debug("loopback up")
	}

	n, err := closeInheritedOnExec()
	if err != nil {
		return fail("descriptors", err)
	}
	log.WithField("open_max", n).Debug("inherited descriptors marked close-on-exec")

	err = commpacket.WritePacket(out, &commpacket.ShimReady{
		NSPid:    os.Getpid(),
		Hostname: opts.hostname,
		Loopback: loopback,
	})
	if err != nil {
		log.WithError(err).Error("report readiness")
		return 1
	}

	err = execInit(opts.initPath)
	if err == nil {
		err = fmt.Errorf("exec %s returned", opts.initPath)
	}
	return fail("exec", err)
}

// A new network namespace starts with lo down.
func bringLoopbackUp() error {
	lo, err := netlink.LinkByName("lo")
	if err != nil {
		return err
	}
	return netlink.LinkSetUp(lo)
}

// closeInheritedOnExec keeps everything past stdio from leaking into the
// anchor. Marking instead of closing leaves the runtime's own descriptors
// usable until exec.
func closeInheritedOnExec() (int64, error) {
	n, err := openMax()
	if err != nil {
		return 0, err
	}
	for fd := 3; fd < int(n); fd++ {
		unix.CloseOnExec(fd)
	}
	return n, nil
}
