package shell

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safesh-dev/safesh/pkg/safesh/errtax"
	"github.com/safesh-dev/safesh/pkg/safesh/imports"
	"github.com/safesh-dev/safesh/pkg/safesh/runner"
)

// maxTrackedCodeBytes caps how much source Script.Code retains, per
// §3's "code (truncated source copy)".
const maxTrackedCodeBytes = 4096

// Script is a user-supplied program launched inside a Shell; it may
// spawn child Jobs. Modeled as a tagged-state machine (running →
// completed | failed) owned exclusively by its Shell (§9 Design Notes).
type Script struct {
	mu sync.Mutex

	ID              string
	PID             int
	Code            string
	Status          Status
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	StartedAt       time.Time
	CompletedAt     time.Time
	Duration        time.Duration
	Background      bool
	JobIDs          []string

	process *runner.Supervisor // cleared after completion
}

func (sc *Script) statusSnapshot() Status {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Status
}

// Job is a child subprocess spawned from within a running Script. Same
// output/status shape as Script, plus ScriptID naming its parent. Jobs
// are created, never reparented, and reference their parent only by id
// (§9 Design Notes: "Jobs never point back by owning reference").
type Job struct {
	mu sync.Mutex

	ID              string
	ScriptID        string
	PID             int
	Status          Status
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	StartedAt       time.Time
	CompletedAt     time.Time
	Duration        time.Duration

	process *runner.Supervisor
}

func (j *Job) statusSnapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

func truncateCode(code string) string {
	if len(code) <= maxTrackedCodeBytes {
		return code
	}
	return code[:maxTrackedCodeBytes]
}

// LaunchCodeScript materializes code as a background script on the
// shell: runs through C6 (import scan) and C8 (interpreter admission),
// writes the source to a temp file alongside a generated import map
// (§2, §4.6: "C9 materializes it to a temporary file with an import
// map derived from C5's policy and launches the child identically"),
// then spawns under C9's contract, marking the process background and
// streaming output into Stdout/Stderr as it arrives (§4.10).
func (m *Manager) LaunchCodeScript(ctx context.Context, sh *Shell, interpreter string, code string, env map[string]string) (*Script, error) {
	if err := imports.Validate(code, m.importsPol); err != nil {
		return nil, err
	}

	scriptPath, err := writeScriptSource(code)
	if err != nil {
		return nil, err
	}

	mapPath, err := imports.GenerateImportMap(m.importsPol, os.TempDir())
	if err != nil {
		return nil, err
	}

	argv := []string{"--import-map", mapPath, scriptPath}
	return m.launch(ctx, sh, interpreter, argv, code, env)
}

// writeScriptSource materializes code to <temp>/safesh/scripts/<id>.js
// so the interpreter can be launched against a real file argument
// instead of an inline `-e` flag, matching the temp-file suspension
// point named in §5.
func writeScriptSource(code string) (string, error) {
	dir := filepath.Join(os.TempDir(), "safesh", "scripts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating script temp dir: %w", err)
	}
	path := filepath.Join(dir, uuid.New().String()+".js")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("writing script source: %w", err)
	}
	return path, nil
}

// LaunchCommandScript runs command through C8 admission, then launches
// it as a background script with no associated source text.
func (m *Manager) LaunchCommandScript(ctx context.Context, sh *Shell, command string, argv []string, env map[string]string) (*Script, error) {
	return m.launch(ctx, sh, command, argv, "", env)
}

func (m *Manager) launch(ctx context.Context, sh *Shell, command string, argv []string, code string, env map[string]string) (*Script, error) {
	cwd := sh.Cwd()

	if err := m.validateCommand(command, argv, cwd, sh.ID()); err != nil {
		return nil, err
	}

	mergedEnv := sh.EnvOverrides()
	for k, v := range env {
		mergedEnv[k] = v
	}

	sup, err := runner.Spawn(ctx, command, argv, cwd, mergedEnv)
	if err != nil {
		return nil, err
	}

	sc := &Script{
		ID:         uuid.New().String(),
		PID:        sup.PID(),
		Code:       truncateCode(code),
		Status:     StatusRunning,
		Background: true,
		StartedAt:  time.Now(),
		process:    sup,
	}

	sh.addScript(sc)
	m.collect(sh, sc, sup)

	return sc, nil
}

// collect runs the background task that closes over the supervisor,
// draining its buffers into the Script as it runs and finalizing status
// on exit (§9 Design Notes: "Output collection is a background task
// that closes over the supervisor").
func (m *Manager) collect(sh *Shell, sc *Script, sup *runner.Supervisor) {
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-sup.Done():
				m.finalize(sh, sc, sup)
				return
			case <-ticker.C:
				stdout, stderr := sup.Drain()
				sc.mu.Lock()
				sc.Stdout = stdout
				sc.Stderr = stderr
				sc.mu.Unlock()
			}
		}
	}()
}

func (m *Manager) finalize(sh *Shell, sc *Script, sup *runner.Supervisor) {
	exitCode, _ := sup.Wait()
	stdout, stderr := sup.Drain()

	sc.mu.Lock()
	sc.Stdout = stdout
	sc.Stderr = stderr
	sc.ExitCode = exitCode
	sc.CompletedAt = time.Now()
	sc.Duration = sc.CompletedAt.Sub(sc.StartedAt)
	if exitCode == 0 {
		sc.Status = StatusCompleted
	} else {
		sc.Status = StatusFailed
	}
	sc.process = nil
	sc.mu.Unlock()

	sh.evictCompletedScripts(m.sessionMemoryLimit, m.logger)
}

// ScriptOutput is the result of GetScriptOutput: an incremental read
// window plus current status (§4.10).
type ScriptOutput struct {
	Stdout    string
	Stderr    string
	Status    Status
	ExitCode  int
	Offset    int
	Truncated bool
}

// GetScriptOutput returns output captured since offset (bytes into the
// combined stdout stream), with Offset advanced to just past what was
// returned — enabling incremental reads that satisfy P9 (incremental
// output monotonicity).
func (m *Manager) GetScriptOutput(sc *Script, offset int) ScriptOutput {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	stdout := sc.Stdout
	if offset < 0 {
		offset = 0
	}
	if offset > len(stdout) {
		offset = len(stdout)
	}

	return ScriptOutput{
		Stdout:    stdout[offset:],
		Stderr:    sc.Stderr,
		Status:    sc.Status,
		ExitCode:  sc.ExitCode,
		Offset:    len(stdout),
		Truncated: sc.StdoutTruncated,
	}
}

// kill delivers signal to a running script's process group. It is a
// no-op error on already non-running scripts. On successful signal
// delivery the script is marked failed with ExitCode -1 at once, without
// waiting for the process to exit.
func (sc *Script) kill(signal string) error {
	sc.mu.Lock()
	if sc.Status != StatusRunning {
		sc.mu.Unlock()
		return errtax.ExecutionErrorErr(sc.ID, fmt.Errorf("script is not running"))
	}
	proc := sc.process
	sc.mu.Unlock()

	if proc == nil {
		return errtax.ExecutionErrorErr(sc.ID, fmt.Errorf("script has no live process handle"))
	}

	if err := proc.Signal(signal); err != nil {
		return errtax.ExecutionErrorErr(sc.ID, err)
	}

	sc.mu.Lock()
	sc.Status = StatusFailed
	sc.ExitCode = -1
	sc.CompletedAt = time.Now()
	sc.Duration = sc.CompletedAt.Sub(sc.StartedAt)
	sc.mu.Unlock()

	return nil
}

// KillScript signals a running script; see (*Script).kill for semantics.
func (m *Manager) KillScript(sc *Script, signal string) error {
	return sc.kill(signal)
}

// WaitScript polls until sc is non-running or the deadline elapses.
func (m *Manager) WaitScript(ctx context.Context, sc *Script, timeout time.Duration) ScriptOutput {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		if sc.statusSnapshot() != StatusRunning {
			return m.GetScriptOutput(sc, 0)
		}
		if time.Now().After(deadline) {
			return m.GetScriptOutput(sc, 0)
		}
		select {
		case <-ctx.Done():
			return m.GetScriptOutput(sc, 0)
		case <-ticker.C:
		}
	}
}

// nextJobID yields a monotonic per-shell job id of the form
// "job-<shortShellId>-<n>" (§4.10).
func (sh *Shell) nextJobID() string {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.scriptSequence++
	shortID := sh.id
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	return fmt.Sprintf("job-%s-%d", shortID, sh.scriptSequence)
}

// SpawnJob launches a subprocess from within a running script via the
// command helpers exposed to user code, and threads it back to the
// parent script's JobIDs for auditability (§4.10).
func (m *Manager) SpawnJob(ctx context.Context, sh *Shell, parent *Script, command string, argv []string, env map[string]string) (*Job, error) {
	cwd := sh.Cwd()

	if err := m.validateCommand(command, argv, cwd, sh.ID()); err != nil {
		return nil, err
	}

	mergedEnv := sh.EnvOverrides()
	for k, v := range env {
		mergedEnv[k] = v
	}

	sup, err := runner.Spawn(ctx, command, argv, cwd, mergedEnv)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:        sh.nextJobID(),
		ScriptID:  parent.ID,
		PID:       sup.PID(),
		Status:    StatusRunning,
		StartedAt: time.Now(),
		process:   sup,
	}

	parent.mu.Lock()
	parent.JobIDs = append(parent.JobIDs, job.ID)
	parent.mu.Unlock()

	m.registerJob(sh, job)
	m.collectJob(job, sup)

	return job, nil
}

func (m *Manager) collectJob(job *Job, sup *runner.Supervisor) {
	go func() {
		<-sup.Done()
		exitCode, _ := sup.Wait()
		stdout, stderr := sup.Drain()

		job.mu.Lock()
		job.Stdout = stdout
		job.Stderr = stderr
		job.ExitCode = exitCode
		job.CompletedAt = time.Now()
		job.Duration = job.CompletedAt.Sub(job.StartedAt)
		if exitCode == 0 {
			job.Status = StatusCompleted
		} else {
			job.Status = StatusFailed
		}
		job.process = nil
		job.mu.Unlock()
	}()
}
