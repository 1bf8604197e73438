package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/safesh-dev/safesh/pkg/safesh/runner"
)

// newRunCmd implements `safesh run <cmd> [args...]`: validates and
// launches an external command synchronously through C9, under the
// clear-env + allow-list contract.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run <cmd> [args...]",
		Short:              "Run an external command under the sandbox policy",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rootCmd := cmd.Root()
			cfg, err := loadConfig(rootCmd)
			if err != nil {
				return err
			}

			rnr := newRunner(cfg)
			res, err := rnr.RunExternal(context.Background(), args[0], args[1:], runner.Options{}, nil, nil)
			if err != nil {
				os.Exit(1)
			}
			os.Exit(printResult(res))
			return nil
		},
	}
	return cmd
}
