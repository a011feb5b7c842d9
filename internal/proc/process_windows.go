//go:build windows

package proc

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcGroup is a no-op on Windows (no process groups via Setpgid).
func setProcGroup(cmd *exec.Cmd) {}

// killProcessGroup calls TerminateProcess; Windows has no group signal.
func killProcessGroup(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil
}

const sigKILL = syscall.Signal(0x9)
