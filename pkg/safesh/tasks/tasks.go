// Package tasks implements the task runner collaborator named by §3's
// config.tasks field: a mapping from task name to task definition that
// is "opaque to the core" and "surfaced to the task runner
// collaborator". Recurring tasks are scheduled with robfig/cron the
// way pkg/devclaw/scheduler schedules cron jobs; on-demand tasks are
// run synchronously by `safesh task <name>`.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/safesh-dev/safesh/pkg/safesh/runner"
)

// Def is one task's decoded definition. config.Config.Tasks is typed
// map[string]any (the policy core never interprets it), so Decode
// converts each entry into this concrete shape for the runner.
type Def struct {
	Command  string            `json:"command"`
	Argv     []string          `json:"argv,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Schedule string            `json:"schedule,omitempty"` // cron expression; empty = on-demand only
	Timeout  time.Duration     `json:"-"`
	TimeoutMS int              `json:"timeoutMs,omitempty"`
}

// Decode converts cfg.Tasks' opaque map[string]any entries into typed
// Defs, round-tripping through JSON since the source document was
// itself loaded from YAML/JSON.
func Decode(raw map[string]any) (map[string]Def, error) {
	out := make(map[string]Def, len(raw))
	for name, v := range raw {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("tasks: marshaling %q: %w", name, err)
		}
		var def Def
		if err := json.Unmarshal(b, &def); err != nil {
			return nil, fmt.Errorf("tasks: decoding %q: %w", name, err)
		}
		if def.TimeoutMS > 0 {
			def.Timeout = time.Duration(def.TimeoutMS) * time.Millisecond
		}
		out[name] = def
	}
	return out, nil
}

// Result is the outcome of one task execution.
type Result struct {
	Name      string
	Output    *runner.Result
	Err       error
	RanAt     time.Time
	Duration  time.Duration
}

// Runner executes named tasks on demand and schedules recurring ones.
type Runner struct {
	mu    sync.Mutex
	defs  map[string]Def
	rnr   *runner.Runner
	cron  *cron.Cron
	cwd   string
	logger *slog.Logger

	lastResults map[string]Result
}

// New builds a Runner bound to the given external-process runner
// (C9), the decoded task table, and the working directory scheduled
// tasks run from.
func New(defs map[string]Def, rnr *runner.Runner, cwd string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		defs:        defs,
		rnr:         rnr,
		cwd:         cwd,
		logger:      logger.With("component", "tasks"),
		lastResults: map[string]Result{},
	}
}

// Get looks up a task definition by name.
func (r *Runner) Get(name string) (Def, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.defs[name]
	return d, ok
}

// Names returns every known task name.
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.defs))
	for name := range r.defs {
		out = append(out, name)
	}
	return out
}

// RunNow executes name synchronously and returns its result, matching
// the `safesh task <name>` CLI contract (exit 0 iff the command
// succeeded).
func (r *Runner) RunNow(ctx context.Context, name string) (*runner.Result, error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown task %q", name)
	}

	opts := runner.Options{Cwd: r.cwd, Env: def.Env, Timeout: def.Timeout}
	res, err := r.rnr.RunExternal(ctx, def.Command, def.Argv, opts, nil, nil)

	r.mu.Lock()
	r.lastResults[name] = Result{Name: name, Output: res, Err: err, RanAt: time.Now()}
	r.mu.Unlock()

	return res, err
}

// LastResult returns the outcome of the most recent run of name, if any.
func (r *Runner) LastResult(name string) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.lastResults[name]
	return res, ok
}

// Start schedules every task with a non-empty Schedule under cron and
// begins firing them. Stop must eventually be called to shut the cron
// loop down cleanly.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cron = cron.New()
	for name, def := range r.defs {
		if def.Schedule == "" {
			continue
		}
		taskName := name
		if _, err := r.cron.AddFunc(def.Schedule, func() {
			if _, err := r.RunNow(ctx, taskName); err != nil {
				r.logger.Warn("scheduled task failed", "task", taskName, "error", err)
			}
		}); err != nil {
			r.logger.Warn("skipping task with invalid schedule", "task", name, "schedule", def.Schedule, "error", err)
		}
	}
	r.cron.Start()
}

// Stop shuts the cron loop down, waiting for in-flight runs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	c := r.cron
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
