package shell

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/safesh-dev/safesh/pkg/safesh/config"
	"github.com/safesh-dev/safesh/pkg/safesh/errtax"
	"github.com/safesh-dev/safesh/pkg/safesh/permissions"
)

func restrictiveConfig() config.Config {
	return config.Config{
		Permissions: permissions.Permissions{
			Run: []string{"echo"},
		},
	}
}

func TestManager_LaunchCommandScript(t *testing.T) {
	m := New(nil)
	sh := m.Create("/tmp")

	sc, err := m.LaunchCommandScript(context.Background(), sh, "echo", []string{"hello"}, nil)
	if err != nil {
		t.Fatalf("LaunchCommandScript: %v", err)
	}
	if !sc.Background {
		t.Error("expected script to be marked background")
	}

	out := m.WaitScript(context.Background(), sc, 3*time.Second)
	if out.Status != StatusCompleted {
		t.Fatalf("status = %v, want completed (stderr=%q)", out.Status, out.Stderr)
	}
	if !strings.Contains(out.Stdout, "hello") {
		t.Errorf("stdout = %q, want to contain hello", out.Stdout)
	}
	if out.ExitCode != 0 {
		t.Errorf("exitCode = %d, want 0", out.ExitCode)
	}
}

func TestManager_LaunchCommandScript_NonZeroExit(t *testing.T) {
	m := New(nil)
	sh := m.Create("/tmp")

	sc, err := m.LaunchCommandScript(context.Background(), sh, "false", nil, nil)
	if err != nil {
		t.Fatalf("LaunchCommandScript: %v", err)
	}

	out := m.WaitScript(context.Background(), sc, 3*time.Second)
	if out.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", out.Status)
	}
	if out.ExitCode == 0 {
		t.Error("expected non-zero exit code")
	}
}

func TestManager_GetScriptOutput_Incremental(t *testing.T) {
	m := New(nil)
	sh := m.Create("/tmp")

	sc, err := m.LaunchCommandScript(context.Background(), sh, "echo", []string{"incremental"}, nil)
	if err != nil {
		t.Fatalf("LaunchCommandScript: %v", err)
	}
	m.WaitScript(context.Background(), sc, 3*time.Second)

	first := m.GetScriptOutput(sc, 0)
	if first.Stdout == "" {
		t.Fatal("expected non-empty first read")
	}

	second := m.GetScriptOutput(sc, first.Offset)
	if second.Stdout != "" {
		t.Errorf("second read at offset %d should be empty, got %q", first.Offset, second.Stdout)
	}
	if second.Offset != first.Offset {
		t.Errorf("offset should be stable once output stops growing: %d != %d", second.Offset, first.Offset)
	}
}

func TestManager_KillScript(t *testing.T) {
	m := New(nil)
	sh := m.Create("/tmp")

	sc, err := m.LaunchCommandScript(context.Background(), sh, "sleep", []string{"10"}, nil)
	if err != nil {
		t.Fatalf("LaunchCommandScript: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := m.KillScript(sc, "TERM"); err != nil {
		t.Fatalf("KillScript: %v", err)
	}

	if sc.statusSnapshot() != StatusFailed {
		t.Errorf("status after kill = %v, want failed", sc.statusSnapshot())
	}
	if sc.ExitCode != -1 {
		t.Errorf("exitCode after kill = %d, want -1", sc.ExitCode)
	}
}

func TestScript_Kill_NotRunning(t *testing.T) {
	m := New(nil)
	sh := m.Create("/tmp")

	sc, err := m.LaunchCommandScript(context.Background(), sh, "echo", []string{"done"}, nil)
	if err != nil {
		t.Fatalf("LaunchCommandScript: %v", err)
	}
	m.WaitScript(context.Background(), sc, 3*time.Second)

	if err := m.KillScript(sc, "TERM"); err == nil {
		t.Error("expected error killing an already-completed script")
	}
}

func TestManager_SpawnJob(t *testing.T) {
	m := New(nil)
	sh := m.Create("/tmp")

	parent, err := m.LaunchCommandScript(context.Background(), sh, "sleep", []string{"2"}, nil)
	if err != nil {
		t.Fatalf("LaunchCommandScript: %v", err)
	}

	job, err := m.SpawnJob(context.Background(), sh, parent, "echo", []string{"from-job"}, nil)
	if err != nil {
		t.Fatalf("SpawnJob: %v", err)
	}
	if job.ScriptID != parent.ID {
		t.Errorf("job.ScriptID = %q, want %q", job.ScriptID, parent.ID)
	}

	parent.mu.Lock()
	jobIDs := append([]string(nil), parent.JobIDs...)
	parent.mu.Unlock()
	if len(jobIDs) != 1 || jobIDs[0] != job.ID {
		t.Errorf("parent.JobIDs = %v, want [%s]", jobIDs, job.ID)
	}

	if _, ok := m.GetJob(job.ID); !ok {
		t.Error("expected job to be registered in the manager")
	}

	m.KillScript(parent, "KILL")
}

func TestShell_MemoryEviction(t *testing.T) {
	sh := newShell("mem-test", "/tmp")

	big := strings.Repeat("x", 1024)
	for i := 0; i < 5; i++ {
		sc := &Script{
			ID:          uuidLike(i),
			Status:      StatusCompleted,
			Stdout:      big,
			CompletedAt: time.Now().Add(time.Duration(-5+i) * time.Minute),
		}
		sh.addScript(sc)
	}

	if sh.estimatedMemory() < 5*1024 {
		t.Fatalf("estimatedMemory too small before eviction: %d", sh.estimatedMemory())
	}

	sh.evictCompletedScripts(2048, nil)

	if sh.estimatedMemory() > 2048 {
		t.Errorf("estimatedMemory after eviction = %d, want <= 2048", sh.estimatedMemory())
	}
	if len(sh.ListScripts()) == 0 {
		t.Error("eviction should stop once within budget, not remove everything unless necessary")
	}
}

func uuidLike(i int) string {
	return strings.Repeat("a", 8) + "-" + string(rune('0'+i))
}

func TestManager_LaunchCommandScript_RejectsUnwhitelisted(t *testing.T) {
	m := New(nil, WithConfig(restrictiveConfig()))
	sh := m.Create("/tmp")

	_, err := m.LaunchCommandScript(context.Background(), sh, "rm", []string{"-rf", "/tmp/x"}, nil)
	if err == nil {
		t.Fatal("expected rm to be rejected by the registry")
	}
	taxErr, ok := err.(*errtax.Error)
	if !ok || taxErr.Code != errtax.CommandNotWhitelisted {
		t.Fatalf("expected COMMAND_NOT_WHITELISTED, got %v", err)
	}
}

func TestManager_LaunchCommandScript_SessionTrustBypassesWhitelist(t *testing.T) {
	m := New(nil, WithConfig(restrictiveConfig()))
	sh := m.Create("/tmp")

	if _, err := m.LaunchCommandScript(context.Background(), sh, "true", nil, nil); err == nil {
		t.Fatal("expected true to be rejected before session trust is granted")
	}

	m.AddSessionAllowedCommands(sh.ID(), []string{"true"})

	sc, err := m.LaunchCommandScript(context.Background(), sh, "true", nil, nil)
	if err != nil {
		t.Fatalf("expected session-trusted command to launch, got %v", err)
	}
	m.WaitScript(context.Background(), sc, 3*time.Second)
}
