package lockfile

import (
	"os"
	"syscall"
)

// signalLiveness probes a pid with signal 0: delivery is suppressed but
// permission and existence checks still run, which is enough to distinguish a
// running owner from a dead one. EPERM means the process exists but belongs to
// another user, so it counts as alive.
type signalLiveness struct{}

func (signalLiveness) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
