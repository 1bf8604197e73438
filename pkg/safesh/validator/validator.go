// Package validator implements SafeShell's external validator (C8):
// combining the command registry (C7), the permission model (C4), and
// the path resolver (C3) to admit or reject a (command, argv) tuple
// before launch.
package validator

import (
	"strings"

	"github.com/safesh-dev/safesh/pkg/safesh/config"
	"github.com/safesh-dev/safesh/pkg/safesh/errtax"
	"github.com/safesh-dev/safesh/pkg/safesh/pathutil"
	"github.com/safesh-dev/safesh/pkg/safesh/permissions"
	"github.com/safesh-dev/safesh/pkg/safesh/registry"
)

// pathFlagNames carries a path value either as --flag=VALUE or by
// consuming the next token (§4.8 step 6).
var pathFlagNames = map[string]bool{
	"-o": true, "-i": true, "-f": true, "-d": true, "-C": true, "-p": true,
	"--output": true, "--input": true, "--file": true, "--directory": true,
	"--chdir": true, "--path": true,
}

// Parsed is the result of parsing an argv against §4.8 step 2.
type Parsed struct {
	Subcommand string
	Flags      map[string]string // normalized flag name -> value ("" if none)
	FlagOrder  []string
}

// ParseArgv splits argv into flags and an optional subcommand (the first
// non-flag element). A flag is any token starting with "-". "--foo=bar"
// counts its name as "--foo". "-abc" expands to "-a -b -c".
func ParseArgv(argv []string) Parsed {
	p := Parsed{Flags: map[string]string{}}

	for _, tok := range argv {
		if !strings.HasPrefix(tok, "-") || tok == "-" {
			if p.Subcommand == "" {
				p.Subcommand = tok
			}
			continue
		}

		if strings.HasPrefix(tok, "--") {
			name, value, hasValue := strings.Cut(tok, "=")
			if !hasValue {
				value = ""
			}
			p.addFlag(name, value)
			continue
		}

		// Grouped short flags: -abc -> -a -b -c. A lone "-x" is just "-x".
		body := tok[1:]
		if len(body) > 1 {
			for _, r := range body {
				p.addFlag("-"+string(r), "")
			}
			continue
		}
		p.addFlag(tok, "")
	}

	return p
}

func (p *Parsed) addFlag(name, value string) {
	if _, ok := p.Flags[name]; !ok {
		p.FlagOrder = append(p.FlagOrder, name)
	}
	p.Flags[name] = value
}

// Has reports whether flag is present (case-insensitive exact match).
func (p Parsed) Has(flag string) bool {
	for name := range p.Flags {
		if strings.EqualFold(name, flag) {
			return true
		}
	}
	return false
}

// Result is the outcome of Validate.
type Result struct {
	Valid bool
	Error *errtax.Error
}

// PermInput bundles what Validate needs from the permission model to
// derive the effective path sets, independent of the config package's
// internal layout.
type PermInput struct {
	DerivationInput permissions.DerivationInput
}

// Validate admits or rejects (command, argv) per §4.8. sessionAllowed,
// if non-nil, is consulted before the registry's static whitelist check
// fails a command outright: it implements the session-scoped trust
// layer (§4.10's addSessionAllowedCommands) so a caller can grant
// "allow for the rest of this shell's life" without persisting to the
// local allow-list file.
func Validate(command string, argv []string, reg *registry.Registry, perm PermInput, cwd string, sessionAllowed func(string) bool) Result {
	name := registry.NormalizeCommand(command)

	pol, err := reg.Lookup(command)
	if err != nil {
		taxErr, ok := err.(*errtax.Error)
		if ok && taxErr.Details.Command == name && taxErr.Code == errtax.CommandNotWhitelisted && sessionAllowed != nil && sessionAllowed(name) {
			pol = registry.DefaultPolicy()
		} else {
			return Result{Valid: false, Error: taxErr}
		}
	}

	parsed := ParseArgv(argv)

	if !pol.AllowAll && parsed.Subcommand != "" {
		if !contains(pol.Allow, parsed.Subcommand) {
			return Result{Valid: false, Error: errtax.SubcommandNotAllowedErr(name, parsed.Subcommand, pol.Allow)}
		}
	}

	for _, denied := range pol.DenyFlags {
		if parsed.Has(denied) {
			return Result{Valid: false, Error: errtax.FlagNotAllowedErr(name, denied, true)}
		}
	}

	for _, required := range pol.RequireFlags {
		if !parsed.Has(required) {
			return Result{Valid: false, Error: errtax.FlagNotAllowedErr(name, required, false)}
		}
	}

	if pol.PathArgs.ValidateSandboxEnabled() {
		read, write := permissions.EffectivePermissions(perm.DerivationInput, cwd)
		sets := pathutil.EffectiveSets{
			Allow:     permissions.UnionArrays(read.Allow, write.Allow),
			Deny:      permissions.UnionArrays(read.Deny, write.Deny),
			Workspace: perm.DerivationInput.Workspace,
		}

		for _, p := range extractPathArgs(argv, pol.PathArgs) {
			if _, err := pathutil.ValidatePath(p, sets, cwd, pathutil.OpRead); err != nil {
				return Result{Valid: false, Error: err.(*errtax.Error)}
			}
		}
	}

	return Result{Valid: true}
}

// extractPathArgs implements the path-argument extraction heuristics of
// §4.8 step 6: auto-detected bare tokens, known path-carrying flags
// (inline =VALUE or next-token form), and explicit configured positions.
func extractPathArgs(argv []string, pa config.PathArgsPolicy) []string {
	var paths []string
	positions := make(map[int]bool, len(pa.Positions))
	for _, pos := range pa.Positions {
		positions[pos] = true
	}

	for i := 0; i < len(argv); i++ {
		tok := argv[i]

		if positions[i] {
			paths = append(paths, tok)
			continue
		}

		if pa.AutoDetect && looksLikePath(tok) {
			paths = append(paths, tok)
			continue
		}

		if strings.HasPrefix(tok, "--") {
			name, value, hasValue := strings.Cut(tok, "=")
			if hasValue && pathFlagNames[name] {
				paths = append(paths, value)
			} else if pathFlagNames[tok] && i+1 < len(argv) && !strings.HasPrefix(argv[i+1], "-") {
				paths = append(paths, argv[i+1])
			}
			continue
		}

		if pathFlagNames[tok] && i+1 < len(argv) && !strings.HasPrefix(argv[i+1], "-") {
			paths = append(paths, argv[i+1])
		}
	}

	return paths
}

func looksLikePath(tok string) bool {
	return strings.HasPrefix(tok, "/") ||
		strings.HasPrefix(tok, "./") ||
		strings.HasPrefix(tok, "../") ||
		strings.HasPrefix(tok, "~/")
}

func contains(list []string, item string) bool {
	for _, x := range list {
		if x == item {
			return true
		}
	}
	return false
}
