package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/safesh-dev/safesh/pkg/safesh/tasks"
)

// newTaskCmd implements `safesh task <name>`: runs one entry from
// config.tasks synchronously, by name.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task <name>",
		Short: "Run a named task from config.tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			defs, err := tasks.Decode(cfg.Tasks)
			if err != nil {
				return err
			}

			rnr := newRunner(cfg)
			tr := tasks.New(defs, rnr, mustCwd(), nil)

			res, err := tr.RunNow(context.Background(), args[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			os.Exit(printResult(res))
			return nil
		},
	}
	return cmd
}
