package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processAlive probes whether a process with the given pid exists. Signal 0
// performs permission and existence checks without delivering anything; a
// permission error still proves the process exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
