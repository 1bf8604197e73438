// Package config implements SafeShell's layered config loader (C5): the
// Config/CommandPolicy data model, the merge algebra, preset bases,
// validation, and the local JSON allow-list persistence helper.
package config

import (
	"github.com/safesh-dev/safesh/pkg/safesh/permissions"
)

// Preset names the fixed base configurations a document may select at
// load time instead of starting from the running accumulator.
type Preset string

const (
	PresetStrict     Preset = "strict"
	PresetStandard   Preset = "standard"
	PresetPermissive Preset = "permissive"
)

// PathArgsPolicy configures how a CommandPolicy detects and validates
// path-shaped arguments.
type PathArgsPolicy struct {
	AutoDetect      bool  `yaml:"autoDetect" json:"autoDetect"`
	Positions       []int `yaml:"positions,omitempty" json:"positions,omitempty"`
	ValidateSandbox *bool `yaml:"validateSandbox,omitempty" json:"validateSandbox,omitempty"`
}

// ValidateSandboxEnabled reports whether sandbox validation runs for
// this policy: it defaults to true, so only an explicit false disables
// it (§3: "default true").
func (p PathArgsPolicy) ValidateSandboxEnabled() bool {
	return p.ValidateSandbox == nil || *p.ValidateSandbox
}

// CommandPolicy is the per-command admission rule set (§3).
type CommandPolicy struct {
	// AllowAll is true when Allow is the boolean "any subcommand" form.
	AllowAll bool `yaml:"-" json:"-"`
	// Allow lists the permitted subcommands when AllowAll is false.
	Allow []string `yaml:"-" json:"-"`

	DenyFlags    []string       `yaml:"denyFlags,omitempty" json:"denyFlags,omitempty"`
	RequireFlags []string       `yaml:"requireFlags,omitempty" json:"requireFlags,omitempty"`
	PathArgs     PathArgsPolicy `yaml:"pathArgs,omitempty" json:"pathArgs,omitempty"`
}

// EnvPolicy configures which environment variables a child may observe.
type EnvPolicy struct {
	Allow        []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Mask         []string `yaml:"mask,omitempty" json:"mask,omitempty"`
	AllowReadAll bool     `yaml:"allowReadAll,omitempty" json:"allowReadAll,omitempty"`
}

// ImportsPolicy configures static import admission (C6).
type ImportsPolicy struct {
	Trusted []string `yaml:"trusted,omitempty" json:"trusted,omitempty"`
	Allowed []string `yaml:"allowed,omitempty" json:"allowed,omitempty"`
	Blocked []string `yaml:"blocked,omitempty" json:"blocked,omitempty"`
}

// Config is the root policy document (§3).
type Config struct {
	Workspace  string `yaml:"workspace,omitempty" json:"workspace,omitempty"`
	ProjectDir string `yaml:"projectDir,omitempty" json:"projectDir,omitempty"`

	AllowProjectCommands bool `yaml:"allowProjectCommands,omitempty" json:"allowProjectCommands,omitempty"`
	BlockProjectDirWrite bool `yaml:"blockProjectDirWrite,omitempty" json:"blockProjectDirWrite,omitempty"`

	Permissions permissions.Permissions `yaml:"permissions,omitempty" json:"permissions,omitempty"`

	External map[string]CommandPolicy `yaml:"external,omitempty" json:"external,omitempty"`

	Env EnvPolicy `yaml:"env,omitempty" json:"env,omitempty"`

	Imports ImportsPolicy `yaml:"imports,omitempty" json:"imports,omitempty"`

	Tasks map[string]any `yaml:"tasks,omitempty" json:"tasks,omitempty"`

	// TimeoutMS is the default per-invocation deadline in milliseconds.
	TimeoutMS int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Preset Preset `yaml:"preset,omitempty" json:"preset,omitempty"`

	// IncludeHomeInDefaultRead defaults true; set explicitly to disable
	// appending ${HOME} to the default read set (§4.4).
	IncludeHomeInDefaultRead *bool `yaml:"includeHomeInDefaultRead,omitempty" json:"includeHomeInDefaultRead,omitempty"`

	// SkipValidation, when true, lets Load succeed despite validation
	// errors (still collected and returned alongside the config).
	SkipValidation bool `yaml:"skipValidation,omitempty" json:"skipValidation,omitempty"`
}

// IncludeHome resolves the effective value of IncludeHomeInDefaultRead.
func (c Config) IncludeHome() bool {
	return c.IncludeHomeInDefaultRead == nil || *c.IncludeHomeInDefaultRead
}

// Empty returns the identity element of Merge.
func Empty() Config {
	return Config{}
}

// mergeCommandPolicy implements the per-command deep merge (§4.4):
// allow/requireFlags/pathArgs override-wins (b replaces a when set),
// denyFlags unions.
func mergeCommandPolicy(a, b CommandPolicy) CommandPolicy {
	out := a
	if b.AllowAll || len(b.Allow) > 0 {
		out.AllowAll = b.AllowAll
		out.Allow = b.Allow
	}
	if len(b.RequireFlags) > 0 {
		out.RequireFlags = b.RequireFlags
	}
	if b.PathArgs.AutoDetect || b.PathArgs.ValidateSandbox != nil || len(b.PathArgs.Positions) > 0 {
		out.PathArgs = b.PathArgs
	}
	out.DenyFlags = permissions.UnionArrays(a.DenyFlags, b.DenyFlags)
	return out
}

func mergeExternal(a, b map[string]CommandPolicy) map[string]CommandPolicy {
	out := make(map[string]CommandPolicy, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, ok := out[k]; ok {
			out[k] = mergeCommandPolicy(existing, v)
		} else {
			out[k] = v
		}
	}
	return out
}

func mergeTasks(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Merge merges two configs: set-valued fields union (insertion order
// preserved), external does a per-command deep merge, tasks does a
// shallow key merge, scalar fields (workspace, projectDir, timeout,
// preset) override-win — b's value replaces a's whenever b's is
// non-zero — and sticky booleans (skipValidation, allowReadAll,
// allowProjectCommands, blockProjectDirWrite) OR together so a layer
// that omits the key never resets one a prior layer set true. Merge is
// associative and has Empty() as identity, but is NOT commutative:
// Merge(a, b) != Merge(b, a) in general because override always favors
// the second argument.
func Merge(a, b Config) Config {
	out := Config{}

	out.Workspace = override(a.Workspace, b.Workspace)
	out.ProjectDir = override(a.ProjectDir, b.ProjectDir)
	out.AllowProjectCommands = a.AllowProjectCommands || b.AllowProjectCommands
	out.BlockProjectDirWrite = a.BlockProjectDirWrite || b.BlockProjectDirWrite

	out.Permissions = permissions.Merge(a.Permissions, b.Permissions)
	out.External = mergeExternal(a.External, b.External)

	out.Env = EnvPolicy{
		Allow:        permissions.UnionArrays(a.Env.Allow, b.Env.Allow),
		Mask:         permissions.UnionArrays(a.Env.Mask, b.Env.Mask),
		AllowReadAll: a.Env.AllowReadAll || b.Env.AllowReadAll,
	}

	out.Imports = ImportsPolicy{
		Trusted: permissions.UnionArrays(a.Imports.Trusted, b.Imports.Trusted),
		Allowed: permissions.UnionArrays(a.Imports.Allowed, b.Imports.Allowed),
		Blocked: permissions.UnionArrays(a.Imports.Blocked, b.Imports.Blocked),
	}

	out.Tasks = mergeTasks(a.Tasks, b.Tasks)

	out.TimeoutMS = intOverride(a.TimeoutMS, b.TimeoutMS)
	out.Preset = Preset(override(string(a.Preset), string(b.Preset)))

	out.IncludeHomeInDefaultRead = a.IncludeHomeInDefaultRead
	if b.IncludeHomeInDefaultRead != nil {
		out.IncludeHomeInDefaultRead = b.IncludeHomeInDefaultRead
	}

	out.SkipValidation = a.SkipValidation || b.SkipValidation

	return out
}

func override[T comparable](a, b T) T {
	var zero T
	if b != zero {
		return b
	}
	return a
}

func intOverride(a, b int) int {
	if b != 0 {
		return b
	}
	return a
}

// MergeAll folds Merge left to right across cs, starting from Empty().
func MergeAll(cs ...Config) Config {
	acc := Empty()
	for _, c := range cs {
		acc = Merge(acc, c)
	}
	return acc
}
