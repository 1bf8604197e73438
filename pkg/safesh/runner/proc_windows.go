//go:build windows

package runner

import (
	"os"
	"os/exec"
)

func findProcess(pid int) (*os.Process, error) {
	return os.FindProcess(pid)
}

func setSysProcAttr(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return killProcGroup(cmd)
	}
}

func killProcGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func killProcGroupForce(cmd *exec.Cmd) error {
	return killProcGroup(cmd)
}

// SignalPID terminates the process by pid; Windows has no SIGTERM, so
// both "TERM" and "KILL" map to a hard process kill.
func SignalPID(pid int, name string) error {
	proc, err := findProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
