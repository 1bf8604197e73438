// Package pathutil implements SafeShell's path resolution primitives:
// variable expansion, tilde expansion, absolute-path normalization,
// symlink resolution, and containment checks. These are the building
// blocks the permission model (pkg/safesh/permissions) and the external
// validator (pkg/safesh/validator) compose into admission decisions.
package pathutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/safesh-dev/safesh/pkg/safesh/errtax"
)

// varPattern matches the variable tokens expandPath recognizes, both the
// braced (${CWD}) and bare ($CWD) forms.
var varPattern = regexp.MustCompile(`\$\{(CWD|HOME|WORKSPACE)\}|\$(CWD|HOME|WORKSPACE)\b`)

// ExpandPath substitutes ${CWD}, $CWD, ${HOME}, $HOME, ${WORKSPACE},
// $WORKSPACE, and a leading "~/" with concrete strings derived from cwd,
// the real user home, and workspace (if supplied). Unrecognized $NAME
// tokens are passed through unchanged; recognized variables with no
// concrete value (e.g. workspace unset) substitute to the empty string.
func ExpandPath(path, cwd string, workspace string) string {
	home, _ := os.UserHomeDir()

	if strings.HasPrefix(path, "~/") {
		path = filepath.Join(home, path[2:])
	} else if path == "~" {
		path = home
	}

	return varPattern.ReplaceAllStringFunc(path, func(tok string) string {
		name := strings.Trim(tok, "${}")
		switch name {
		case "CWD":
			return cwd
		case "HOME":
			return home
		case "WORKSPACE":
			return workspace
		default:
			return tok
		}
	})
}

// ResolveAbsolute concatenates and lexically canonicalizes path against
// cwd. It never touches the filesystem.
func ResolveAbsolute(path, cwd string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(cwd, path))
}

// ResolveReal canonicalizes path and follows symlinks. If the path does
// not exist, it returns the absolute (unresolved) path unchanged so that
// not-yet-created files can still be admitted.
func ResolveReal(path string) string {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return real
}

// IsWithin reports whether child is contained in parent: true iff
// child == parent, or child begins with parent + the path separator,
// once both have been lexically cleaned. Neither path is made absolute
// or resolved.
func IsWithin(child, parent string) bool {
	child = filepath.Clean(child)
	parent = filepath.Clean(parent)

	if child == parent {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(parent, sep) {
		parent += sep
	}
	return strings.HasPrefix(child, parent)
}

// IsPathAllowed reports whether path is contained within at least one of
// allowedPatterns, after every pattern is expanded against (cwd,
// workspace) and absoluted against cwd, and the candidate has been
// resolved to its real path.
func IsPathAllowed(path string, allowedPatterns []string, cwd string, workspace string) bool {
	real := ResolveReal(ResolveAbsolute(ExpandPath(path, cwd, workspace), cwd))

	for _, pat := range allowedPatterns {
		expanded := ResolveAbsolute(ExpandPath(pat, cwd, workspace), cwd)
		if IsWithin(real, expanded) {
			return true
		}
	}
	return false
}

// Op identifies which permission direction a path is being validated
// against.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// EffectiveSets is the minimal view ValidatePath needs of the derived
// permission model: the allow and deny pattern sets for one operation,
// plus the workspace fast-path directory (if any).
type EffectiveSets struct {
	Allow     []string
	Deny      []string
	Workspace string
}

// ValidatePath resolves requested against cwd, checks containment, and
// returns the real path on success. Deny sets are checked first; any
// match there is an immediate rejection. The workspace, if set, is a
// fast-path admit checked before the explicit allow set. The check is
// always applied, even with an empty allow set: callers are expected to
// have populated EffectiveSets with the engine's defaults (cwd, /tmp,
// etc.) per permissions.EffectivePermissions, so "nothing configured"
// still resolves to a concrete (if narrow) allow set.
func ValidatePath(requested string, sets EffectiveSets, cwd string, op Op) (string, error) {
	expanded := ExpandPath(requested, cwd, sets.Workspace)
	absolute := ResolveAbsolute(expanded, cwd)
	real := ResolveReal(absolute)

	for _, pat := range sets.Deny {
		denyAbs := ResolveAbsolute(ExpandPath(pat, cwd, sets.Workspace), cwd)
		if IsWithin(real, denyAbs) {
			return "", errtax.PathViolationErr(requested, sets.Allow)
		}
	}

	allowed := sets.Workspace != "" && IsWithin(real, sets.Workspace)
	if !allowed {
		for _, pat := range sets.Allow {
			allowAbs := ResolveAbsolute(ExpandPath(pat, cwd, sets.Workspace), cwd)
			if IsWithin(real, allowAbs) {
				allowed = true
				break
			}
		}
	}

	if !allowed {
		// A symlink chain that resolves outside the allow set is reported
		// as a symlink violation (richer detail: the real target path);
		// a plain out-of-sandbox path that never involved a symlink is a
		// path violation.
		if real != absolute {
			return "", errtax.SymlinkViolationErr(requested, real, sets.Allow)
		}
		return "", errtax.PathViolationErr(requested, sets.Allow)
	}

	return real, nil
}
