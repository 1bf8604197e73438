package config

import (
	"testing"

	"github.com/safesh-dev/safesh/pkg/safesh/permissions"
)

func TestValidate_WildcardRunIsFatal(t *testing.T) {
	cfg := Config{Permissions: permissions.Permissions{Run: []string{"*"}}}
	issues := Validate(cfg)
	if !HasFatal(issues) {
		t.Error("expected permissions.run == [\"*\"] to be fatal")
	}
}

func TestValidate_RootWriteIsFatal(t *testing.T) {
	cfg := Config{Permissions: permissions.Permissions{Write: []string{"/"}}}
	issues := Validate(cfg)
	if !HasFatal(issues) {
		t.Error("expected permissions.write == [\"/\"] to be fatal")
	}
}

func TestValidate_SystemDirectoryWriteIsFatal(t *testing.T) {
	cfg := Config{Permissions: permissions.Permissions{Write: []string{"/etc/safesh"}}}
	issues := Validate(cfg)
	if !HasFatal(issues) {
		t.Error("expected write under /etc to be fatal")
	}
}

func TestValidate_ConflictingRequireDenyFlagsIsFatal(t *testing.T) {
	cfg := Config{External: map[string]CommandPolicy{
		"git": {DenyFlags: []string{"--force"}, RequireFlags: []string{"--force"}},
	}}
	issues := Validate(cfg)
	if !HasFatal(issues) {
		t.Error("expected a flag both required and denied to be fatal")
	}
}

func TestValidate_TrustedAndBlockedImportConflictIsFatal(t *testing.T) {
	cfg := Config{Imports: ImportsPolicy{Trusted: []string{"fs"}, Blocked: []string{"fs"}}}
	issues := Validate(cfg)
	if !HasFatal(issues) {
		t.Error("expected overlapping trusted/blocked imports to be fatal")
	}
}

func TestValidate_CleanConfigHasNoFatalIssues(t *testing.T) {
	cfg := Config{
		ProjectDir: "/proj",
		Permissions: permissions.Permissions{
			Read: []string{"${CWD}"},
			Run:  []string{"echo"},
		},
		Imports: ImportsPolicy{Blocked: []string{"npm:*"}},
	}
	issues := Validate(cfg)
	if HasFatal(issues) {
		t.Errorf("did not expect fatal issues, got %v", issues)
	}
}

func TestValidate_WarnsOnBroadReadAndMissingProjectDir(t *testing.T) {
	cfg := Config{Permissions: permissions.Permissions{Read: []string{"/"}}}
	issues := Validate(cfg)
	if HasFatal(issues) {
		t.Error("broad read is a warning, not fatal")
	}
	if len(issues) == 0 {
		t.Error("expected at least one warning")
	}
}
