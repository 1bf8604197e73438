// Package runner implements SafeShell's process-launch path (C9): the
// clear-env + allow-list contract, stdin/stdout/stderr streaming,
// timeout racing, and cancellation for both external commands and
// materialized script source.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/safesh-dev/safesh/pkg/safesh/config"
	"github.com/safesh-dev/safesh/pkg/safesh/errtax"
	"github.com/safesh-dev/safesh/pkg/safesh/pattern"
	"github.com/safesh-dev/safesh/pkg/safesh/permissions"
	"github.com/safesh-dev/safesh/pkg/safesh/registry"
	"github.com/safesh-dev/safesh/pkg/safesh/validator"
)

// DefaultTimeout is used when neither options nor config specify one.
const DefaultTimeout = 30 * time.Second

// ShellContext is the minimal view Runner needs of a long-lived shell
// (C10), kept as an interface here so this package does not import
// pkg/safesh/shell (which imports this package to launch scripts).
type ShellContext interface {
	Cwd() string
	EnvOverrides() map[string]string
}

// SessionTrust is consulted, if provided, to let a command through the
// registry's static whitelist when it has been granted session-scoped
// trust (§4.10's addSessionAllowedCommands) rather than persisted to
// the local allow-list file.
type SessionTrust func(command string) bool

// Options configures one invocation, overriding config/shell defaults.
type Options struct {
	Cwd     string
	Timeout time.Duration
	Env     map[string]string
	Stdin   string
}

// Result is the outcome of a completed invocation (§4.9).
type Result struct {
	Stdout  string
	Stderr  string
	Code    int
	Success bool
}

// Runner launches children under the policy derived from a Config.
type Runner struct {
	cfg    config.Config
	reg    *registry.Registry
	logger *slog.Logger
}

// New builds a Runner bound to cfg and its derived registry.
func New(cfg config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		reg:    registry.New(cfg),
		logger: logger.With("component", "runner"),
	}
}

// RunExternal validates and launches (command, argv) per §4.9. trust
// may be nil when no shell-scoped session trust applies.
func (r *Runner) RunExternal(ctx context.Context, command string, argv []string, opts Options, shell ShellContext, trust SessionTrust) (*Result, error) {
	cwd := resolveCwd(opts, shell)
	timeout := resolveTimeout(opts.Timeout, r.cfg.TimeoutMS)

	perm := validator.PermInput{DerivationInput: permissions.DerivationInput{
		Permissions:              r.cfg.Permissions,
		Workspace:                r.cfg.Workspace,
		ProjectDir:               r.cfg.ProjectDir,
		BlockProjectDirWrite:     r.cfg.BlockProjectDirWrite,
		IncludeHomeInDefaultRead: r.cfg.IncludeHome(),
	}}

	res := validator.Validate(command, argv, r.reg, perm, cwd, trust)
	if !res.Valid {
		r.logger.Warn("command rejected", "command", command, "code", res.Error.Code)
		return nil, res.Error
	}

	env := r.buildEnv(shell, opts.Env)

	name := registry.NormalizeCommand(command)
	r.logger.Debug("spawning command", "command", name, "argv", argv, "cwd", cwd, "timeout", timeout)

	return r.spawn(ctx, command, argv, cwd, env, timeout, opts.Stdin)
}

// buildEnv implements §4.9's buildEnv: start empty, copy each name in
// env.allow from the parent environment (skipping masked names), then
// overlay shell-local env (same masking), then overlay options.env (same
// masking). The child inherits no other environment variables.
func (r *Runner) buildEnv(shell ShellContext, optsEnv map[string]string) map[string]string {
	out := map[string]string{}

	masked := func(name string) bool {
		return pattern.MatchesAnyExact(r.cfg.Env.Mask, name)
	}

	if r.cfg.Env.AllowReadAll {
		for _, kv := range os.Environ() {
			name, value, _ := strings.Cut(kv, "=")
			if !masked(name) {
				out[name] = value
			}
		}
	} else {
		for _, name := range r.cfg.Env.Allow {
			if masked(name) {
				continue
			}
			if value, ok := os.LookupEnv(name); ok {
				out[name] = value
			}
		}
	}

	if shell != nil {
		for name, value := range shell.EnvOverrides() {
			if !masked(name) {
				out[name] = value
			}
		}
	}

	for name, value := range optsEnv {
		if !masked(name) {
			out[name] = value
		}
	}

	return out
}

func resolveCwd(opts Options, shell ShellContext) string {
	if opts.Cwd != "" {
		return opts.Cwd
	}
	if shell != nil && shell.Cwd() != "" {
		return shell.Cwd()
	}
	wd, _ := os.Getwd()
	return wd
}

func resolveTimeout(optsTimeout time.Duration, cfgTimeoutMS int) time.Duration {
	if optsTimeout > 0 {
		return optsTimeout
	}
	if cfgTimeoutMS > 0 {
		return time.Duration(cfgTimeoutMS) * time.Millisecond
	}
	return DefaultTimeout
}

// spawn launches the child, drains stdout/stderr concurrently with
// writing stdin (to avoid pipe-buffer deadlock on large payloads), races
// against the deadline, and returns a fully-drained Result.
func (r *Runner) spawn(ctx context.Context, command string, argv []string, cwd string, env map[string]string, timeout time.Duration, stdin string) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, command, argv...)
	cmd.Dir = cwd
	cmd.Env = envSlice(env)
	setSysProcAttr(cmd)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errtax.ExecutionErrorErr(command, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, errtax.ExecutionErrorErr(command, err)
	}

	var stdinPipe io.WriteCloser
	if stdin != "" {
		stdinPipe, err = cmd.StdinPipe()
		if err != nil {
			return nil, errtax.ExecutionErrorErr(command, err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, errtax.ExecutionErrorErr(command, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = io.Copy(&stdoutBuf, stdoutPipe) }()
	go func() { defer wg.Done(); _, _ = io.Copy(&stderrBuf, stderrPipe) }()

	if stdinPipe != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stdinPipe.Close()
			_, _ = io.WriteString(stdinPipe, stdin)
		}()
	}

	wg.Wait()
	waitErr := cmd.Wait()

	if execCtx.Err() == context.DeadlineExceeded {
		killProcGroup(cmd)
		r.logger.Warn("command timed out", "command", command, "timeout", timeout)
		return nil, errtax.TimeoutErr(command)
	}

	result := &Result{
		Stdout: sanitizeOutput(stdoutBuf.String()),
		Stderr: sanitizeOutput(stderrBuf.String()),
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.Code = exitErr.ExitCode()
			result.Success = false
			return result, nil
		}
		r.logger.Error("command execution failed", "command", command, "error", waitErr)
		return nil, errtax.ExecutionErrorErr(command, waitErr)
	}

	result.Code = 0
	result.Success = true
	return result, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// ---------- Output sanitization ----------
// sanitizeOutput strips obvious secret-shaped substrings from captured
// output, on top of the caller's truncation limits. Grounded on
// pkg/devclaw/copilot/system_tools.go:sanitizeOutput.

var (
	tokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)api[_-]?key[=:]\s*[A-Za-z0-9_-]{20,}`),
		regexp.MustCompile(`(?i)token[=:]\s*[A-Za-z0-9_-]{20,}`),
		regexp.MustCompile(`(?i)secret[=:]\s*[A-Za-z0-9_-]{20,}`),
		regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_-]{20,}`),
	}
	urlCredPattern   = regexp.MustCompile(`(https?://)([^:@\s]+):([^@\s]+)@`)
	privateKeyPattern = regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----[\s\S]*?-----END (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)
)

func sanitizeOutput(output string) string {
	for _, re := range tokenPatterns {
		output = re.ReplaceAllString(output, "[SANITIZED]")
	}
	output = urlCredPattern.ReplaceAllString(output, "$1[REDACTED]:[REDACTED]@")
	output = privateKeyPattern.ReplaceAllString(output, "[SANITIZED_PRIVATE_KEY]")
	return output
}
