package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/safesh-dev/safesh/pkg/safesh/errtax"
)

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	cases := []struct {
		name, path, cwd, workspace, want string
	}{
		{"tilde", "~/notes", "/cwd", "", filepath.Join(home, "notes")},
		{"bareHome", "$HOME/notes", "/cwd", "", filepath.Join(home, "notes")},
		{"bracedCwd", "${CWD}/sub", "/cwd", "", "/cwd/sub"},
		{"workspace", "${WORKSPACE}/out", "/cwd", "/ws", "/ws/out"},
		{"unrecognized", "$FOO/bar", "/cwd", "", "$FOO/bar"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExpandPath(tc.path, tc.cwd, tc.workspace); got != tc.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestResolveAbsolute(t *testing.T) {
	if got := ResolveAbsolute("sub/file", "/cwd"); got != "/cwd/sub/file" {
		t.Errorf("got %q", got)
	}
	if got := ResolveAbsolute("/abs/file", "/cwd"); got != "/abs/file" {
		t.Errorf("got %q", got)
	}
	if got := ResolveAbsolute("../escape", "/cwd/sub"); got != "/cwd/escape" {
		t.Errorf("got %q, want lexical .. resolution", got)
	}
}

func TestResolveReal_NonExistentPathPassesThrough(t *testing.T) {
	p := "/definitely/does/not/exist/xyz"
	if got := ResolveReal(p); got != p {
		t.Errorf("ResolveReal(%q) = %q, want unchanged", p, got)
	}
}

func TestResolveReal_FollowsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	got := ResolveReal(link)
	want, _ := filepath.EvalSymlinks(target)
	if got != want {
		t.Errorf("ResolveReal(link) = %q, want %q", got, want)
	}
}

func TestIsWithin(t *testing.T) {
	cases := []struct {
		child, parent string
		want          bool
	}{
		{"/home/user/proj", "/home/user", true},
		{"/home/user", "/home/user", true},
		{"/home/userx", "/home/user", false},
		{"/etc/passwd", "/home/user", false},
	}
	for _, tc := range cases {
		if got := IsWithin(tc.child, tc.parent); got != tc.want {
			t.Errorf("IsWithin(%q, %q) = %v, want %v", tc.child, tc.parent, got, tc.want)
		}
	}
}

func TestIsPathAllowed(t *testing.T) {
	if !IsPathAllowed("notes.txt", []string{"${CWD}"}, "/home/user/proj", "") {
		t.Error("expected cwd-relative file to be allowed under ${CWD}")
	}
	if IsPathAllowed("/etc/passwd", []string{"${CWD}"}, "/home/user/proj", "") {
		t.Error("did not expect /etc/passwd to be allowed")
	}
}

func TestValidatePath_DenyTakesPrecedenceOverAllow(t *testing.T) {
	sets := EffectiveSets{
		Allow: []string{"/home/user"},
		Deny:  []string{"/home/user/.ssh"},
	}
	_, err := ValidatePath("/home/user/.ssh/id_rsa", sets, "/home/user", OpRead)
	if err == nil {
		t.Fatal("expected deny to reject a path nested under an allowed directory")
	}
	taxErr, ok := err.(*errtax.Error)
	if !ok || taxErr.Code != errtax.PathViolation {
		t.Errorf("err = %v, want PathViolation", err)
	}
}

func TestValidatePath_WorkspaceFastPath(t *testing.T) {
	sets := EffectiveSets{Workspace: "/home/user/proj"}
	real, err := ValidatePath("file.txt", sets, "/home/user/proj", OpWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if real != "/home/user/proj/file.txt" {
		t.Errorf("real = %q", real)
	}
}

func TestValidatePath_OutsideSandboxRejected(t *testing.T) {
	sets := EffectiveSets{Allow: []string{"/home/user/proj"}}
	_, err := ValidatePath("/etc/passwd", sets, "/home/user/proj", OpRead)
	if err == nil {
		t.Fatal("expected rejection")
	}
	taxErr, ok := err.(*errtax.Error)
	if !ok || taxErr.Code != errtax.PathViolation {
		t.Errorf("err = %v, want PathViolation", err)
	}
}

func TestValidatePath_SymlinkEscapeReportedDistinctly(t *testing.T) {
	dir := t.TempDir()
	sandboxed := filepath.Join(dir, "sandbox")
	outside := filepath.Join(dir, "outside")
	if err := os.Mkdir(sandboxed, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(outside, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(sandboxed, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	sets := EffectiveSets{Allow: []string{sandboxed}}
	_, err := ValidatePath(link, sets, sandboxed, OpRead)
	if err == nil {
		t.Fatal("expected rejection")
	}
	taxErr, ok := err.(*errtax.Error)
	if !ok || taxErr.Code != errtax.SymlinkViolation {
		t.Errorf("err = %v, want SymlinkViolation", err)
	}
}
