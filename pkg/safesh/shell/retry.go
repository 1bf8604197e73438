package shell

import (
	"time"

	"github.com/google/uuid"
)

// PendingRetry holds a blocked invocation's code/command and call
// context so that, once an external approval UI authorizes it, the
// caller can re-submit the exact original call (§4.10, §3).
type PendingRetry struct {
	ID             string
	Code           string
	BlockedCommand string
	Cwd            string
	Timeout        time.Duration
	Env            map[string]string
	ShellID        string
	CreatedAt      time.Time
}

// PublishPendingRetry records a blocked invocation and returns its id.
func (m *Manager) PublishPendingRetry(code, blockedCommand, cwd string, timeout time.Duration, env map[string]string, shellID string) string {
	pr := &PendingRetry{
		ID:             uuid.New().String(),
		Code:           code,
		BlockedCommand: blockedCommand,
		Cwd:            cwd,
		Timeout:        timeout,
		Env:            env,
		ShellID:        shellID,
		CreatedAt:      time.Now(),
	}

	m.mu.Lock()
	m.retries[pr.ID] = pr
	m.mu.Unlock()

	return pr.ID
}

// ConsumePendingRetry returns and deletes the record keyed by id, or
// ok=false if none exists (already consumed, or never published).
func (m *Manager) ConsumePendingRetry(id string) (*PendingRetry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.retries[id]
	if ok {
		delete(m.retries, id)
	}
	return pr, ok
}
