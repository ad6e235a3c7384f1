//go:build !windows

package processstate

import (
	"errors"
	"os"
	"syscall"
)

// IsProcessRunning reports whether a process with the given PID exists.
// Used as the cheap half of the browser liveness probe; it never blocks.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.New("invalid pid")
	}

	// FindProcess always succeeds on Unix; signal 0 performs the actual
	// existence check without delivering anything to the process.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	if err.Error() == "os: process already finished" {
		return false, nil
	}

	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false, err
	}
	switch errno {
	case syscall.ESRCH:
		return false, nil
	case syscall.EPERM:
		// The process exists but belongs to another user.
		return true, nil
	}
	return false, err
}
