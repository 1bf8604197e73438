package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/safesh-dev/safesh/pkg/safesh/shell"
	"github.com/spf13/cobra"
)

// newExecCmd implements `safesh exec <code>`: materializes code as a
// background script via C6/C8 admission, waits for it to finish, and
// reflects its outcome as the process exit code.
func newExecCmd() *cobra.Command {
	var interpreter string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "exec <code>",
		Short: "Run script source under the sandbox policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			sm := newShellManager(cfg)
			sh := sm.Create(mustCwd())

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			sc, err := sm.LaunchCodeScript(ctx, sh, interpreter, args[0], nil)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			out := sm.WaitScript(ctx, sc, timeout)
			if out.Stdout != "" {
				fmt.Fprint(os.Stdout, out.Stdout)
			}
			if out.Stderr != "" {
				fmt.Fprint(os.Stderr, out.Stderr)
			}
			if out.Status != shell.StatusCompleted {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&interpreter, "interpreter", "node", "interpreter binary used to run the script source")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "deadline for the script to complete")

	return cmd
}

func mustCwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
