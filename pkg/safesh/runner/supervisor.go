package runner

import (
	"context"
	"os/exec"
	"sync"

	"github.com/safesh-dev/safesh/pkg/safesh/errtax"
)

// safeBuffer is a mutex-guarded growable byte buffer, read concurrently
// with the writer goroutines that drain stdout/stderr.
type safeBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

func (b *safeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Supervisor owns one running child process: it offers Wait, Signal, and
// Drain against the OS handle, so a Script/Job owner never has to touch
// *exec.Cmd directly (§9 Design Notes: "hold the OS handle behind a
// small supervisor").
type Supervisor struct {
	cmd    *exec.Cmd
	stdout *safeBuffer
	stderr *safeBuffer

	done     chan struct{}
	exitCode int
	waitErr  error
	once     sync.Once
}

// Spawn starts command/argv under cwd/env and immediately begins
// draining stdout/stderr into thread-safe buffers in the background.
// A background goroutine reaps the process; the returned Supervisor's
// Wait blocks until that has happened and reports the exit status.
func Spawn(ctx context.Context, command string, argv []string, cwd string, env map[string]string) (*Supervisor, error) {
	cmd := exec.CommandContext(ctx, command, argv...)
	cmd.Dir = cwd
	cmd.Env = envSlice(env)
	setSysProcAttr(cmd)

	s := &Supervisor{
		cmd:    cmd,
		stdout: &safeBuffer{},
		stderr: &safeBuffer{},
		done:   make(chan struct{}),
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errtax.ExecutionErrorErr(command, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, errtax.ExecutionErrorErr(command, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, errtax.ExecutionErrorErr(command, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); drainInto(s.stdout, stdoutPipe) }()
	go func() { defer wg.Done(); drainInto(s.stderr, stderrPipe) }()

	go func() {
		wg.Wait()
		err := cmd.Wait()
		s.waitErr = err
		if exitErr, ok := err.(*exec.ExitError); ok {
			s.exitCode = exitErr.ExitCode()
		} else if err == nil {
			s.exitCode = 0
		} else {
			s.exitCode = -1
		}
		close(s.done)
	}()

	return s, nil
}

func drainInto(buf *safeBuffer, r interface{ Read([]byte) (int, error) }) {
	tmp := make([]byte, 32*1024)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			_, _ = buf.Write(tmp[:n])
		}
		if err != nil {
			return
		}
	}
}

// PID returns the child's process id.
func (s *Supervisor) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Done returns a channel closed once the process has exited and its
// output has been fully drained.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the process exits, returning its exit code and any
// non-exit-status error encountered while waiting (spawn/collection
// errors, not the child's own non-zero exit).
func (s *Supervisor) Wait() (int, error) {
	<-s.done
	if s.waitErr != nil {
		if _, ok := s.waitErr.(*exec.ExitError); ok {
			return s.exitCode, nil
		}
		return s.exitCode, s.waitErr
	}
	return s.exitCode, nil
}

// Signal delivers "TERM" or "KILL" to the process group. Cleanup is
// idempotent: signaling an already-exited process is a no-op error that
// callers may ignore.
func (s *Supervisor) Signal(name string) error {
	var onceErr error
	s.once.Do(func() {
		if name == "KILL" {
			onceErr = killProcGroupForce(s.cmd)
		} else {
			onceErr = killProcGroup(s.cmd)
		}
	})
	return onceErr
}

// Drain returns the stdout/stderr captured so far (safe to call while
// the process is still running, for incremental reads).
func (s *Supervisor) Drain() (stdout, stderr string) {
	return s.stdout.String(), s.stderr.String()
}

// StdoutLen/StderrLen report the number of bytes captured so far.
func (s *Supervisor) StdoutLen() int { return s.stdout.Len() }
func (s *Supervisor) StderrLen() int { return s.stderr.Len() }
