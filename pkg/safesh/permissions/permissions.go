// Package permissions implements SafeShell's typed permission model: the
// read/write/net/run/env allow/deny sets, the merge algebra used while
// layering configs, and the derivation of effective permissions (the
// sets actually consulted at validation time).
package permissions

// Net represents permissions.net, which is either a boolean allow-all or
// an explicit set of host patterns.
type Net struct {
	AllowAll bool
	Hosts    []string
}

// Permissions is the typed view of config.permissions.
type Permissions struct {
	Read     []string
	DenyRead []string
	Write    []string
	DenyWrite []string
	Net      Net
	Run      []string
	Env      []string
}

// sensitiveReadDeny are always appended to the effective read-deny set.
var sensitiveReadDeny = []string{
	"~/.ssh",
	"~/.gnupg",
	"~/.aws/credentials",
	"~/.config/gh",
	"~/.netrc",
	"~/.npmrc",
	"~/.pypirc",
	"~/.docker/config.json",
	"~/.kube/config",
}

// sensitiveWriteDeny is the read list plus shell rc files.
var sensitiveWriteDeny = append(append([]string{}, sensitiveReadDeny...),
	"~/.bashrc", "~/.zshrc", "~/.profile", "~/.bash_profile",
)

// Effective holds the allow/deny sets actually used at validation time
// for one direction (read or write).
type Effective struct {
	Allow []string
	Deny  []string
}

// DerivationInput is the subset of config that effective-permission
// derivation needs, kept independent of the config package to avoid an
// import cycle (config depends on permissions, not the reverse).
type DerivationInput struct {
	Permissions             Permissions
	Workspace               string
	ProjectDir              string
	BlockProjectDirWrite    bool
	IncludeHomeInDefaultRead bool // defaults true unless explicitly disabled
}

// EffectivePermissions derives the actual read and write allow/deny sets
// used at runtime, per §4.4: declared sets, plus cwd/tmp/home defaults,
// plus projectDir, plus the fixed sensitive-path deny lists, deduplicated
// by string identity while preserving insertion order.
func EffectivePermissions(in DerivationInput, cwd string) (read, write Effective) {
	read.Allow = dedup(append(append([]string{}, in.Permissions.Read...), cwd, "/tmp"))
	if in.IncludeHomeInDefaultRead {
		read.Allow = dedup(append(read.Allow, "${HOME}"))
	}

	write.Allow = dedup(append(append([]string{}, in.Permissions.Write...), "/tmp", "/dev/null"))

	if in.ProjectDir != "" {
		read.Allow = dedup(append(read.Allow, in.ProjectDir))
		if !in.BlockProjectDirWrite {
			write.Allow = dedup(append(write.Allow, in.ProjectDir))
		}
	}

	read.Deny = dedup(append(append([]string{}, in.Permissions.DenyRead...), sensitiveReadDeny...))
	write.Deny = dedup(append(append([]string{}, in.Permissions.DenyWrite...), sensitiveWriteDeny...))

	return read, write
}

func dedup(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// UnionArrays is the set-union-preserving-insertion-order merge used for
// every set-valued field during config merges. mergeConfigs(a, b) unions
// a's items first, then b's — "override wins" for scalars, but for sets
// the union is simply the combination; later duplicates are dropped.
func UnionArrays(a, b []string) []string {
	return dedup(append(append([]string{}, a...), b...))
}

// MergeNet implements the net merge rule: boolean-true wins over any
// array; otherwise arrays are unioned.
func MergeNet(a, b Net) Net {
	if a.AllowAll || b.AllowAll {
		return Net{AllowAll: true}
	}
	return Net{Hosts: UnionArrays(a.Hosts, b.Hosts)}
}

// Merge merges two Permissions per the set-union-preserving-order rule
// (net uses MergeNet's boolean-wins-over-array rule).
func Merge(a, b Permissions) Permissions {
	return Permissions{
		Read:      UnionArrays(a.Read, b.Read),
		DenyRead:  UnionArrays(a.DenyRead, b.DenyRead),
		Write:     UnionArrays(a.Write, b.Write),
		DenyWrite: UnionArrays(a.DenyWrite, b.DenyWrite),
		Net:       MergeNet(a.Net, b.Net),
		Run:       UnionArrays(a.Run, b.Run),
		Env:       UnionArrays(a.Env, b.Env),
	}
}

// NetAllows reports whether host is permitted under net, using prefix
// glob matching for the explicit host-pattern form.
func NetAllows(n Net, host string, matches func(pattern, text string) bool) bool {
	if n.AllowAll {
		return true
	}
	for _, pat := range n.Hosts {
		if matches(pat, host) {
			return true
		}
	}
	return false
}
