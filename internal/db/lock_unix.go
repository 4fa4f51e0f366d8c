//go:build unix

package db

import (
	"golang.org/x/sys/unix"
)

func (l *writeLocker) tryLock() error {
	return unix.Flock(int(l.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func (l *writeLocker) unlock() {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

// isProcessAlive probes pid with signal 0.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
