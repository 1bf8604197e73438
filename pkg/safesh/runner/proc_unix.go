//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr puts the child in its own process group so the full
// tree can be killed on timeout, matching the teacher's
// sandbox/exec_direct.go convention.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcGroup(cmd)
	}
}

// killProcGroup sends SIGTERM to the child's process group.
func killProcGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// killProcGroupForce sends SIGKILL to the child's process group.
func killProcGroupForce(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// SignalPID delivers a named signal ("TERM" or "KILL") to a process
// group by pid. Used by pkg/safesh/shell to implement killScript/end
// against a bare pid once the owning *exec.Cmd is no longer held.
func SignalPID(pid int, name string) error {
	sig := syscall.SIGTERM
	if name == "KILL" {
		sig = syscall.SIGKILL
	}
	return syscall.Kill(-pid, sig)
}
