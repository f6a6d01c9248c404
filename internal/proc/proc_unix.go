//go:build !windows

// Package proc provides OS process helpers: liveness probing,
// graceful-then-forceful termination, and process-by-port lookup.
package proc

import (
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// Alive reports whether a remembered pid still refers to a live process.
// Signal 0 performs the existence check without delivering anything.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return err == syscall.EPERM
}

// Terminate sends SIGTERM to the process group of pid, falling back to
// the process itself when the group cannot be resolved.
func Terminate(pid int) error {
	if pid <= 0 {
		return nil
	}
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return syscall.Kill(pid, syscall.SIGTERM)
	}
	return syscall.Kill(-pgid, syscall.SIGTERM)
}

// Kill sends SIGKILL to the process group of pid.
func Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// Signal delivers an arbitrary signal to pid.
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	return syscall.Kill(pid, sig)
}

// PidsOnPort returns the pids listening on a local TCP port.
func PidsOnPort(port int) []int {
	out, err := exec.Command("lsof", "-ti", ":"+strconv.Itoa(port)).Output()
	if err != nil {
		return nil
	}
	var pids []int
	for _, field := range strings.Fields(string(out)) {
		if pid, err := strconv.Atoi(field); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}

// KillByPort force-kills whatever is listening on a local TCP port.
// Returns the number of processes signalled.
func KillByPort(port int) int {
	pids := PidsOnPort(port)
	for _, pid := range pids {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	return len(pids)
}
