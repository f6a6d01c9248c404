//go:build windows

// Package proc provides OS process helpers: liveness probing,
// graceful-then-forceful termination, and process-by-port lookup.
package proc

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// Alive reports whether a remembered pid still refers to a live process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	out, err := exec.Command("tasklist", "/FI", "PID eq "+strconv.Itoa(pid), "/NH").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), strconv.Itoa(pid))
}

// Terminate terminates the process tree rooted at pid.
func Terminate(pid int) error {
	if pid <= 0 {
		return nil
	}
	return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(pid)).Run()
}

// Kill force-kills the process tree rooted at pid.
func Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}

// Signal delivers a signal to pid. Windows only supports Kill semantics,
// so anything other than SIGKILL degrades to Terminate.
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return os.ErrProcessDone
	}
	if sig == syscall.SIGKILL {
		return Kill(pid)
	}
	return Terminate(pid)
}

// PidsOnPort returns the pids listening on a local TCP port.
func PidsOnPort(port int) []int {
	out, err := exec.Command("netstat", "-ano", "-p", "TCP").Output()
	if err != nil {
		return nil
	}
	needle := ":" + strconv.Itoa(port)
	seen := make(map[int]bool)
	var pids []int
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || !strings.HasSuffix(fields[1], needle) {
			continue
		}
		if !strings.EqualFold(fields[3], "LISTENING") {
			continue
		}
		if pid, err := strconv.Atoi(fields[4]); err == nil && !seen[pid] {
			seen[pid] = true
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
		_ = Kill(pid)
	}
	return len(pids)
}
