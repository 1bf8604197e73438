package shell

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safesh-dev/safesh/pkg/safesh/config"
	"github.com/safesh-dev/safesh/pkg/safesh/permissions"
	"github.com/safesh-dev/safesh/pkg/safesh/registry"
	"github.com/safesh-dev/safesh/pkg/safesh/validator"
)

// Manager is the process-wide owner of all Shells (§3: "the shell
// manager exclusively owns all Shells"). It also tracks the global job
// registry, session-scoped command trust, and pending-retry records.
type Manager struct {
	mu     sync.Mutex
	shells map[string]*Shell
	jobs   map[string]*Job

	maxSessions        int
	sessionMemoryLimit int
	logger             *slog.Logger

	cfg         config.Config
	reg         *registry.Registry
	importsPol  config.ImportsPolicy

	sessionAllowed map[string]map[string]bool // shellID -> normalized command -> true
	retries        map[string]*PendingRetry
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithMaxSessions overrides DefaultMaxSessions.
func WithMaxSessions(n int) Option {
	return func(m *Manager) { m.maxSessions = n }
}

// WithSessionMemoryLimit overrides DefaultSessionMemoryLimit.
func WithSessionMemoryLimit(n int) Option {
	return func(m *Manager) { m.sessionMemoryLimit = n }
}

// WithConfig binds cfg's registry and import policy so
// LaunchCodeScript/LaunchCommandScript can run code through C6/C8
// before spawning, per §4.10. Without it, launches skip admission
// entirely (suitable only for tests that exercise the lifecycle state
// machine directly).
func WithConfig(cfg config.Config) Option {
	return func(m *Manager) {
		m.cfg = cfg
		m.reg = registry.New(cfg)
		m.importsPol = cfg.Imports
	}
}

// New builds a Manager with the given logger and options.
func New(logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		shells:             map[string]*Shell{},
		jobs:               map[string]*Job{},
		maxSessions:        DefaultMaxSessions,
		sessionMemoryLimit: DefaultSessionMemoryLimit,
		logger:             logger.With("component", "shell_manager"),
		sessionAllowed:     map[string]map[string]bool{},
		retries:            map[string]*PendingRetry{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// validateCommand runs (command, argv) through C7/C8, consulting
// shellID's session-scoped trust before the registry's static
// whitelist rejects it outright.
func (m *Manager) validateCommand(command string, argv []string, cwd, shellID string) error {
	if m.reg == nil {
		return nil
	}
	perm := validator.PermInput{DerivationInput: permissions.DerivationInput{
		Permissions:              m.cfg.Permissions,
		Workspace:                m.cfg.Workspace,
		ProjectDir:               m.cfg.ProjectDir,
		BlockProjectDirWrite:     m.cfg.BlockProjectDirWrite,
		IncludeHomeInDefaultRead: m.cfg.IncludeHome(),
	}}
	res := validator.Validate(command, argv, m.reg, perm, cwd, func(c string) bool {
		return m.IsSessionAllowed(shellID, c)
	})
	if !res.Valid {
		return res.Error
	}
	return nil
}

// Create allocates a new Shell rooted at cwd, evicting the
// least-recently-active shell first if count would exceed maxSessions
// (§3, §4.10).
func (m *Manager) Create(cwd string) *Shell {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.shells) >= m.maxSessions {
		m.evictOldestLocked()
	}

	sh := newShell(uuid.New().String(), cwd)
	m.shells[sh.id] = sh
	return sh
}

// Get looks up a shell by id.
func (m *Manager) Get(id string) (*Shell, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shells[id]
	return sh, ok
}

// GetOrTemp returns the shell for id if known; otherwise it allocates a
// non-persisted fallback shell rooted at cwd (§4.10: "a non-persisted
// fallback when the caller passed no/unknown id").
func (m *Manager) GetOrTemp(id, cwd string) *Shell {
	if id != "" {
		if sh, ok := m.Get(id); ok {
			sh.Touch()
			return sh
		}
	}
	return newShell(uuid.New().String(), cwd)
}

// End terminates a shell's running scripts with SIGTERM and removes it.
func (m *Manager) End(id string) {
	m.mu.Lock()
	sh, ok := m.shells[id]
	if ok {
		delete(m.shells, id)
		delete(m.sessionAllowed, id)
	}
	m.mu.Unlock()

	if ok {
		sh.terminateRunningScripts()
	}
}

// List returns all live shells.
func (m *Manager) List() []*Shell {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Shell, 0, len(m.shells))
	for _, sh := range m.shells {
		out = append(out, sh)
	}
	return out
}

// Count returns the number of live shells.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shells)
}

// Cleanup ends every shell whose createdAt predates maxAge (§4.10).
func (m *Manager) Cleanup(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var stale []string
	for id, sh := range m.shells {
		sh.mu.Lock()
		old := sh.createdAt.Before(cutoff)
		sh.mu.Unlock()
		if old {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.End(id)
	}
}

// evictOldestLocked ends the least-recently-active shell. Caller must
// hold m.mu; it is released and reacquired around the actual
// termination since terminateRunningScripts takes the shell's own lock.
func (m *Manager) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	found := false
	for id, sh := range m.shells {
		sh.mu.Lock()
		last := sh.lastActivityAt
		sh.mu.Unlock()
		if !found || last.Before(oldestAt) {
			oldestID, oldestAt, found = id, last, true
		}
	}
	if !found {
		return
	}

	sh := m.shells[oldestID]
	delete(m.shells, oldestID)
	delete(m.sessionAllowed, oldestID)

	m.mu.Unlock()
	sh.terminateRunningScripts()
	m.mu.Lock()

	m.logger.Info("evicted shell to stay within MAX_SESSIONS", "shell", oldestID)
}

// registerJob adds job to the global job registry (for cross-shell
// lookup, e.g. by an API surface listing all live jobs).
func (m *Manager) registerJob(sh *Shell, job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}

// GetJob looks up a job by id across all shells.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// AddSessionAllowedCommands grants session-scoped trust for commands on
// a shell: subsequent invocations of these commands from this shell
// skip the "not whitelisted" rejection without persisting to the local
// allow-list file (§4.10, grounded on the teacher's ApprovalManager
// session-trust pattern).
func (m *Manager) AddSessionAllowedCommands(shellID string, commands []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed, ok := m.sessionAllowed[shellID]
	if !ok {
		allowed = map[string]bool{}
		m.sessionAllowed[shellID] = allowed
	}
	for _, c := range commands {
		allowed[c] = true
	}
}

// IsSessionAllowed reports whether command was granted session-scoped
// trust on shellID.
func (m *Manager) IsSessionAllowed(shellID, command string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionAllowed[shellID][command]
}
