package config

import (
	"fmt"
	"strings"
)

// ValidationIssue is one collected warning or error from Validate.
type ValidationIssue struct {
	Fatal   bool
	Message string
}

func (v ValidationIssue) String() string {
	level := "warning"
	if v.Fatal {
		level = "error"
	}
	return fmt.Sprintf("[%s] %s", level, v.Message)
}

var sensitiveReadWarn = []string{"/", "~/.ssh", "~/.gnupg", "~/.aws", "~/.config/gh"}

// Validate checks the invariants from §3 and the warning rules from
// §4.5. If any issue is Fatal and !cfg.SkipValidation, the caller should
// fail the load.
func Validate(cfg Config) []ValidationIssue {
	var issues []ValidationIssue
	fail := func(format string, args ...any) {
		issues = append(issues, ValidationIssue{Fatal: true, Message: fmt.Sprintf(format, args...)})
	}
	warn := func(format string, args ...any) {
		issues = append(issues, ValidationIssue{Fatal: false, Message: fmt.Sprintf(format, args...)})
	}

	// Invariant 3: run never contains "*".
	for _, r := range cfg.Permissions.Run {
		if r == "*" {
			fail("permissions.run must not contain the wildcard \"*\"")
		}
	}

	// Invariant 4: write never contains "/".
	for _, w := range cfg.Permissions.Write {
		if w == "/" {
			fail("permissions.write must not contain \"/\"")
		}
		if isSystemRoot(w) {
			fail("permissions.write touches a protected system directory: %q", w)
		}
	}

	// Per-command required/denied flag conflict (invariant 1).
	for name, pol := range cfg.External {
		if conflict := intersect(pol.DenyFlags, pol.RequireFlags); len(conflict) > 0 {
			fail("external.%s: flags both required and denied: %s", name, strings.Join(conflict, ", "))
		}
	}

	// Invariant 2: imports.blocked ∩ imports.trusted = ∅, and blocked ∩
	// allowed is also a fatal conflict since it makes the policy's intent
	// ambiguous.
	if conflict := intersect(cfg.Imports.Blocked, cfg.Imports.Trusted); len(conflict) > 0 {
		fail("imports: patterns both trusted and blocked: %s", strings.Join(conflict, ", "))
	}
	if conflict := intersect(cfg.Imports.Blocked, cfg.Imports.Allowed); len(conflict) > 0 {
		fail("imports: patterns both allowed and blocked: %s", strings.Join(conflict, ", "))
	}

	// Warnings.
	for _, r := range cfg.Permissions.Read {
		for _, s := range sensitiveReadWarn {
			if r == s {
				warn("permissions.read includes a broad or sensitive directory: %q", r)
			}
		}
	}
	if cfg.Permissions.Net.AllowAll {
		warn("permissions.net is true (allow-all network access)")
		for _, host := range cfg.Permissions.Net.Hosts {
			_ = host
		}
		if hasNpmWildcard(cfg.Imports.Allowed) || hasNpmWildcard(cfg.Imports.Trusted) {
			warn("dangerous combination: permissions.net == true with npm:* imports allowed")
		}
	}
	if len(cfg.Permissions.Run) > 20 {
		warn("permissions.run has more than 20 entries (%d); consider narrowing", len(cfg.Permissions.Run))
	}
	for name, pol := range cfg.External {
		if pol.AllowAll && len(pol.DenyFlags) == 0 && len(pol.RequireFlags) == 0 {
			warn("external.%s allows all subcommands with no flag restrictions", name)
		}
	}
	if len(cfg.Imports.Blocked) == 0 {
		warn("imports.blocked is empty; no import specifiers are blocked")
	}
	if isWritable(cfg, "${CWD}") && len(cfg.Imports.Blocked) == 0 {
		warn("${CWD} is writable with no blocked imports")
	}
	if cfg.ProjectDir == "" {
		warn("projectDir is not set")
	}

	return issues
}

// HasFatal reports whether issues contains at least one fatal entry.
func HasFatal(issues []ValidationIssue) bool {
	for _, i := range issues {
		if i.Fatal {
			return true
		}
	}
	return false
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[strings.ToLower(x)] = true
	}
	var out []string
	for _, y := range b {
		if set[strings.ToLower(y)] {
			out = append(out, y)
		}
	}
	return out
}

func isSystemRoot(p string) bool {
	for _, sys := range []string{"/etc", "/var", "/usr", "/bin", "/sbin", "/System"} {
		if p == sys || strings.HasPrefix(p, sys+"/") {
			return true
		}
	}
	return false
}

func hasNpmWildcard(pats []string) bool {
	for _, p := range pats {
		if p == "npm:*" {
			return true
		}
	}
	return false
}

func isWritable(cfg Config, p string) bool {
	for _, w := range cfg.Permissions.Write {
		if w == p {
			return true
		}
	}
	return false
}
