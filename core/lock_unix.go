//go:build !windows

package core

import (
	"errors"
	"syscall"
)

// processAlive reports whether a process with the given PID exists, using the
// kill(pid, 0) probe. EPERM still proves the process exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
