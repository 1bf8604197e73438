// Package imports implements SafeShell's static import policy (C6): a
// lexical pre-execution scan of script source for import specifiers,
// admitted or rejected against the trusted/allowed/blocked pattern sets.
package imports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/safesh-dev/safesh/pkg/safesh/config"
	"github.com/safesh-dev/safesh/pkg/safesh/errtax"
	"github.com/safesh-dev/safesh/pkg/safesh/pattern"
)

// specifierPattern matches `import ... from "S"` and `import("S")` forms,
// with either single or double quotes. The scan is purely textual: a
// specifier built at runtime (template literal, concatenation, variable)
// is invisible to this scanner by design (§4.6/§9) — the child's own
// permission model is the real boundary for anything this misses.
var specifierPattern = regexp.MustCompile(`import\s*(?:[^'"(]*from\s*)?\(?\s*['"]([^'"]+)['"]\s*\)?`)

// Specifiers extracts every import specifier found in src, in order of
// first appearance.
func Specifiers(src string) []string {
	matches := specifierPattern.FindAllStringSubmatch(src, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Validate scans src for import specifiers and admits or rejects each in
// turn: a specifier that matches no blocked pattern is admitted; one
// that matches a blocked pattern is still admitted if it also matches a
// trusted or allowed pattern; otherwise it is rejected with
// IMPORT_NOT_ALLOWED. The first violation terminates the scan.
func Validate(src string, policy config.ImportsPolicy) error {
	for _, spec := range Specifiers(src) {
		if !pattern.MatchesAny(policy.Blocked, spec) {
			continue
		}
		if pattern.MatchesAny(policy.Trusted, spec) || pattern.MatchesAny(policy.Allowed, spec) {
			continue
		}
		return errtax.ImportNotAllowedErr(spec)
	}
	return nil
}

// ImportMap is the module-resolution document written for the child
// process, redirecting safesh:* builtin specifiers to internal stdlib
// paths and mapping each allowed or trusted pattern to itself (§4.6). No
// entries for the standard-library namespace are written, and Scopes is
// left empty.
type ImportMap struct {
	Imports map[string]string            `json:"imports"`
	Scopes  map[string]map[string]string `json:"scopes"`
}

// builtinRedirects maps SafeShell's safesh:* specifiers to the internal
// stdlib module paths the runtime exposes inside the child.
var builtinRedirects = map[string]string{
	"safesh:fs":      "internal:///stdlib/fs.js",
	"safesh:process": "internal:///stdlib/process.js",
	"safesh:shell":   "internal:///stdlib/shell.js",
}

// GenerateImportMap builds an ImportMap for the given policy and writes
// it to <temp>/safesh/import-policy/import-map.json, returning the path.
func GenerateImportMap(policy config.ImportsPolicy, tempDir string) (string, error) {
	im := ImportMap{
		Imports: map[string]string{},
		Scopes:  map[string]map[string]string{},
	}
	for k, v := range builtinRedirects {
		im.Imports[k] = v
	}
	for _, allowed := range policy.Allowed {
		im.Imports[allowed] = allowed
	}
	for _, trusted := range policy.Trusted {
		im.Imports[trusted] = trusted
	}

	dir := filepath.Join(tempDir, "safesh", "import-policy")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating import-policy dir: %w", err)
	}
	path := filepath.Join(dir, "import-map.json")

	b, err := json.MarshalIndent(im, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling import map: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("writing import map: %w", err)
	}
	return path, nil
}
