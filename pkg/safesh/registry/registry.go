// Package registry implements SafeShell's command registry (C7):
// per-command admission rules merged from built-in defaults and
// config.external, plus binary name normalization and resolution.
package registry

import (
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/safesh-dev/safesh/pkg/safesh/config"
	"github.com/safesh-dev/safesh/pkg/safesh/errtax"
)

// boolPtr is a small helper for PathArgsPolicy.ValidateSandbox literals.
func boolPtr(b bool) *bool { return &b }

// builtinDefaults are the registry's built-in per-command policies,
// merged under config.external entries (§4.7).
func builtinDefaults() map[string]config.CommandPolicy {
	return map[string]config.CommandPolicy{
		"git": {
			AllowAll:  true,
			DenyFlags: []string{"--force", "-f", "--hard"},
			PathArgs:  config.PathArgsPolicy{AutoDetect: true, ValidateSandbox: boolPtr(true)},
		},
		"docker": {
			Allow:     []string{"ps", "logs", "images", "inspect", "version", "info"},
			DenyFlags: []string{"--privileged", "--cap-add", "--security-opt"},
			PathArgs:  config.PathArgsPolicy{AutoDetect: true, ValidateSandbox: boolPtr(true)},
		},
		"deno": {
			Allow:     []string{"run", "test", "fmt", "lint", "check"},
			DenyFlags: []string{"--allow-all", "-A"},
			PathArgs:  config.PathArgsPolicy{AutoDetect: true, ValidateSandbox: boolPtr(true)},
		},
		"curl": {
			AllowAll:  true,
			DenyFlags: []string{"--upload-file", "-T"},
			PathArgs:  config.PathArgsPolicy{AutoDetect: true, ValidateSandbox: boolPtr(true)},
		},
	}
}

// defaultPolicy is what most tools get: auto-detect path args with
// sandbox validation enabled, no subcommand or flag restrictions.
func defaultPolicy() config.CommandPolicy {
	return DefaultPolicy()
}

// DefaultPolicy is the permissive synthetic policy granted to commands
// admitted outside the static registry merge — allowProjectCommands
// resolution and session-scoped trust (§4.10) both fall back to this
// shape rather than an unrestricted one, so path-argument sandboxing
// still applies.
func DefaultPolicy() config.CommandPolicy {
	return config.CommandPolicy{
		AllowAll: true,
		PathArgs: config.PathArgsPolicy{AutoDetect: true, ValidateSandbox: boolPtr(true)},
	}
}

// Registry is the merged, initialized command policy table.
type Registry struct {
	policies             map[string]config.CommandPolicy
	runAllow             map[string]bool
	allowProjectCommands bool
	projectDir           string
}

// New initializes a Registry from cfg: builtin defaults merged under
// config.external, restricted to names present in permissions.run.
func New(cfg config.Config) *Registry {
	policies := make(map[string]config.CommandPolicy)
	for name, pol := range builtinDefaults() {
		policies[name] = pol
	}
	for name, pol := range cfg.External {
		if existing, ok := policies[name]; ok {
			policies[name] = mergeOverExisting(existing, pol)
		} else {
			policies[name] = pol
		}
	}

	runAllow := make(map[string]bool, len(cfg.Permissions.Run))
	for _, r := range cfg.Permissions.Run {
		runAllow[r] = true
		if _, ok := policies[r]; !ok {
			policies[r] = defaultPolicy()
		}
	}

	return &Registry{
		policies:             policies,
		runAllow:             runAllow,
		allowProjectCommands: cfg.AllowProjectCommands,
		projectDir:           cfg.ProjectDir,
	}
}

// mergeOverExisting applies the same override/union rule as
// config.Merge's per-command deep merge, keeping it local to the
// registry so builtin defaults aren't a config.Config the caller must
// construct.
func mergeOverExisting(base, override config.CommandPolicy) config.CommandPolicy {
	out := base
	if override.AllowAll || len(override.Allow) > 0 {
		out.AllowAll = override.AllowAll
		out.Allow = override.Allow
	}
	if len(override.RequireFlags) > 0 {
		out.RequireFlags = override.RequireFlags
	}
	if override.PathArgs.AutoDetect || override.PathArgs.ValidateSandbox != nil || len(override.PathArgs.Positions) > 0 {
		out.PathArgs = override.PathArgs
	}
	seen := make(map[string]bool, len(base.DenyFlags))
	merged := append([]string{}, base.DenyFlags...)
	for _, f := range base.DenyFlags {
		seen[f] = true
	}
	for _, f := range override.DenyFlags {
		if !seen[f] {
			merged = append(merged, f)
			seen[f] = true
		}
	}
	out.DenyFlags = merged
	return out
}

// NormalizeCommand returns the basename of s — "/usr/bin/git" → "git".
func NormalizeCommand(s string) string {
	return filepath.Base(s)
}

// ResolveBinary resolves name to an absolute path via PATH first, then a
// projectDir-relative lookup (needed for allowProjectCommands). Returns
// COMMAND_NOT_FOUND if neither resolves.
func ResolveBinary(name, projectDir string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	if projectDir != "" {
		candidate := filepath.Join(projectDir, name)
		if _, err := exec.LookPath(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errtax.CommandNotFoundErr(name)
}

// Lookup admits a command per §4.7: it must be named in
// permissions.run AND present in the registry after the defaults
// merge, OR allowProjectCommands is true and the command's resolved
// binary lives inside projectDir (in which case a permissive synthetic
// policy is returned).
func (r *Registry) Lookup(command string) (config.CommandPolicy, error) {
	name := NormalizeCommand(command)

	if r.runAllow[name] {
		if pol, ok := r.policies[name]; ok {
			return pol, nil
		}
		return config.CommandPolicy{}, errtax.CommandNotAllowedErr(name)
	}

	if r.allowProjectCommands && r.projectDir != "" {
		if bin, err := ResolveBinary(name, r.projectDir); err == nil && strings.HasPrefix(bin, r.projectDir) {
			return config.CommandPolicy{
				AllowAll: true,
				PathArgs: config.PathArgsPolicy{AutoDetect: true, ValidateSandbox: boolPtr(true)},
			}, nil
		}
	}

	return config.CommandPolicy{}, errtax.CommandNotWhitelistedErr(name)
}
