package errtax

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestError_ErrorString(t *testing.T) {
	err := CommandNotWhitelistedErr("curl")
	if got := err.Error(); !strings.Contains(got, "COMMAND_NOT_WHITELISTED") || !strings.Contains(got, "curl") {
		t.Fatalf("Error() = %q, want code and command present", got)
	}
}

func TestError_JSON_RoundTrips(t *testing.T) {
	err := PathViolationErr("/etc/shadow", []string{"/home/user"})

	var decoded Error
	if jsonErr := json.Unmarshal([]byte(err.JSON()), &decoded); jsonErr != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", jsonErr)
	}
	if decoded.Code != PathViolation {
		t.Errorf("Code = %q, want %q", decoded.Code, PathViolation)
	}
	if decoded.Details.Path != "/etc/shadow" {
		t.Errorf("Details.Path = %q, want /etc/shadow", decoded.Details.Path)
	}
	if len(decoded.Details.Allowed) != 1 || decoded.Details.Allowed[0] != "/home/user" {
		t.Errorf("Details.Allowed = %v, want [/home/user]", decoded.Details.Allowed)
	}
}

func TestFactories_SetExpectedCode(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want Code
	}{
		{"PathViolation", PathViolationErr("/x", nil), PathViolation},
		{"SymlinkViolation", SymlinkViolationErr("/x", "/y", nil), SymlinkViolation},
		{"CommandNotWhitelisted", CommandNotWhitelistedErr("rm"), CommandNotWhitelisted},
		{"CommandNotAllowed", CommandNotAllowedErr("rm"), CommandNotAllowed},
		{"CommandNotFound", CommandNotFoundErr("rm"), CommandNotFound},
		{"SubcommandNotAllowed", SubcommandNotAllowedErr("git", "push", nil), SubcommandNotAllowed},
		{"FlagNotAllowed", FlagNotAllowedErr("git", "--force", true), FlagNotAllowed},
		{"Timeout", TimeoutErr("sleep"), Timeout},
		{"ExecutionError", ExecutionErrorErr("sleep", errors.New("boom")), ExecutionError},
		{"ConfigError", ConfigErrorErr("bad config"), ConfigError},
		{"ImportNotAllowed", ImportNotAllowedErr("fs"), ImportNotAllowed},
		{"NetworkBlocked", NetworkBlockedErr("evil.example"), NetworkBlocked},
		{"PermissionDenied", PermissionDeniedErr("nope"), PermissionDenied},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.want {
				t.Errorf("Code = %q, want %q", tc.err.Code, tc.want)
			}
			if tc.err.Message == "" {
				t.Errorf("Message is empty")
			}
		})
	}
}

func TestFlagNotAllowedErr_MissingVsDenied(t *testing.T) {
	missing := FlagNotAllowedErr("git", "--author", false)
	if !strings.Contains(missing.Message, "missing") {
		t.Errorf("missing-flag message = %q, want it to mention missing", missing.Message)
	}

	denied := FlagNotAllowedErr("git", "--force", true)
	if !strings.Contains(denied.Message, "denied") {
		t.Errorf("denied-flag message = %q, want it to mention denied", denied.Message)
	}
}

func TestExecutionErrorErr_NilCause(t *testing.T) {
	err := ExecutionErrorErr("ls", nil)
	if strings.Contains(err.Message, "<nil>") {
		t.Errorf("Message = %q, should not render a nil cause", err.Message)
	}
}
