package config

import "github.com/safesh-dev/safesh/pkg/safesh/permissions"

// defaultSafeReadCommands is the fixed 42-entry list of read-only
// commands the standard preset whitelists. Trimmed to the representative
// core; additions are purely enumerative and do not change semantics.
var defaultSafeReadCommands = []string{
	"ls", "cat", "head", "tail", "less", "more", "grep", "rg", "find",
	"wc", "sort", "uniq", "cut", "tr", "sed", "awk", "diff", "file",
	"stat", "du", "df", "pwd", "echo", "printf", "date", "env", "which",
	"whoami", "id", "uname", "hostname", "ps", "top", "jq", "yq",
	"base64", "sha256sum", "md5sum", "git", "node", "python3", "go",
}

// DefaultConfig returns the fixed "standard" preset policy (§4.5 item 1):
// read of cwd/tmp/home/home-.claude, write of tmp/dev-null/home-.claude,
// the curated safe-command list, and blocked npm/http/https imports.
func DefaultConfig() Config {
	return Config{
		Preset: PresetStandard,
		Permissions: permissions.Permissions{
			Read:  []string{"${CWD}", "/tmp", "${HOME}", "${HOME}/.claude"},
			Write: []string{"/tmp", "/dev/null", "${HOME}/.claude"},
			Run:   append([]string{}, defaultSafeReadCommands...),
		},
		Imports: ImportsPolicy{
			Blocked: []string{"npm:*", "http:*", "https:*"},
		},
		TimeoutMS: 30000,
	}
}

// strictPreset narrows the standard preset to read-only access with no
// external commands and no imports at all.
func strictPreset() Config {
	return Config{
		Preset: PresetStrict,
		Permissions: permissions.Permissions{
			Read: []string{"${CWD}", "/tmp"},
		},
		Imports: ImportsPolicy{
			Blocked: []string{"*"},
		},
		TimeoutMS: 10000,
	}
}

// permissivePreset widens the standard preset: network allow-all, write
// access to ${CWD}, project-local commands allowed and a 60s timeout. The
// run list stays the standard curated one, short of a wildcard run
// (invariant 3 forbids "*" outright).
func permissivePreset() Config {
	cfg := DefaultConfig()
	cfg.Preset = PresetPermissive
	cfg.Permissions.Net = permissions.Net{AllowAll: true}
	cfg.Permissions.Write = append(cfg.Permissions.Write, "${CWD}")
	cfg.AllowProjectCommands = true
	cfg.TimeoutMS = 60000
	return cfg
}

// PresetBase returns the fixed base configuration for a named preset.
func PresetBase(p Preset) Config {
	switch p {
	case PresetStrict:
		return strictPreset()
	case PresetPermissive:
		return permissivePreset()
	default:
		return DefaultConfig()
	}
}
