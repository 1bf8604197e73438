package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/safesh-dev/safesh/pkg/safesh/config"
	"github.com/safesh-dev/safesh/pkg/safesh/permissions"
	"github.com/safesh-dev/safesh/pkg/safesh/runner"
)

func TestDecode(t *testing.T) {
	raw := map[string]any{
		"morning-report": map[string]any{
			"command":  "echo",
			"argv":     []any{"hi"},
			"schedule": "@daily",
		},
	}

	defs, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d, ok := defs["morning-report"]
	if !ok {
		t.Fatal("expected morning-report task")
	}
	if d.Command != "echo" || d.Schedule != "@daily" {
		t.Errorf("unexpected def: %+v", d)
	}
	if len(d.Argv) != 1 || d.Argv[0] != "hi" {
		t.Errorf("unexpected argv: %v", d.Argv)
	}
}

func TestRunner_RunNow(t *testing.T) {
	cfg := config.Config{Permissions: permissions.Permissions{Run: []string{"echo"}}}
	rnr := runner.New(cfg, nil)

	defs := map[string]Def{
		"greet": {Command: "echo", Argv: []string{"hello task"}},
	}
	tr := New(defs, rnr, "/tmp", nil)

	res, err := tr.RunNow(context.Background(), "greet")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if !res.Success {
		t.Errorf("expected success, got %+v", res)
	}

	last, ok := tr.LastResult("greet")
	if !ok {
		t.Fatal("expected LastResult to be recorded")
	}
	if last.Err != nil {
		t.Errorf("unexpected recorded error: %v", last.Err)
	}
}

func TestRunner_RunNow_Unknown(t *testing.T) {
	cfg := config.Config{}
	rnr := runner.New(cfg, nil)
	tr := New(map[string]Def{}, rnr, "/tmp", nil)

	if _, err := tr.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestRunner_StartStop(t *testing.T) {
	cfg := config.Config{Permissions: permissions.Permissions{Run: []string{"echo"}}}
	rnr := runner.New(cfg, nil)

	defs := map[string]Def{
		"ticker": {Command: "echo", Argv: []string{"tick"}, Schedule: "@every 1h"},
	}
	tr := New(defs, rnr, "/tmp", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	tr.Stop()
}
