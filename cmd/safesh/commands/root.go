// Package commands implements SafeShell's CLI surface using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "safesh",
		Short: "SafeShell - a sandboxed shell for AI agents",
		Long: `SafeShell executes user-supplied scripts and external commands under a
multi-layer security policy, so an untrusted caller cannot read, write,
execute, or import anything outside a declared envelope.

Examples:
  safesh exec "console.log(1 + 1)"
  safesh run git status
  safesh task nightly-cleanup
  safesh repl`,
		Version: version,
	}

	rootCmd.AddCommand(
		newExecCmd(),
		newRunCmd(),
		newTaskCmd(),
		newReplCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a safesh config file (JSON or YAML)")
	rootCmd.PersistentFlags().Bool("strict", false, "apply the strict preset on top of loaded config")
	rootCmd.PersistentFlags().Bool("permissive", false, "apply the permissive preset on top of loaded config")

	return rootCmd
}
