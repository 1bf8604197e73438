package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/safesh-dev/safesh/pkg/safesh/hybrid"
	"github.com/safesh-dev/safesh/pkg/safesh/runner"
	"github.com/safesh-dev/safesh/pkg/safesh/shell"
)

// newReplCmd implements `safesh repl`: a long-lived interactive shell
// (C10) backed by readline, dispatching each line either as a plain
// external command (C9) or, when it carries the hybrid sigil (§9 Open
// Questions), as a bash-prefixed script (C6/C8/C9/C11).
func newReplCmd() *cobra.Command {
	var interpreter string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive SafeShell session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			sm := newShellManager(cfg)
			sh := sm.Create(mustCwd())
			rnr := newRunner(cfg)

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "safesh> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("starting repl: %w", err)
			}
			defer rl.Close()

			for {
				line, err := rl.Readline()
				if err == readline.ErrInterrupt {
					continue
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}

				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}

				runReplLine(context.Background(), sm, sh, rnr, interpreter, line)
			}
		},
	}

	cmd.Flags().StringVar(&interpreter, "interpreter", "node", "interpreter used for hybrid/script lines")

	return cmd
}

// runReplLine dispatches one REPL line: a hybrid bash-prefixed script
// (run as a background script via C11, then waited on inline so the
// REPL stays synchronous) or a plain external command (C9), printing
// whatever output results.
func runReplLine(ctx context.Context, sm *shell.Manager, sh *shell.Shell, rnr *runner.Runner, interpreter, line string) {
	if line == "cd" || strings.HasPrefix(line, "cd ") {
		dir := strings.TrimSpace(strings.TrimPrefix(line, "cd"))
		if dir == "" {
			dir = mustCwd()
		}
		sh.Cd(dir)
		return
	}

	if prefix, code, ok := hybrid.SplitHybrid(line); ok {
		if prefix != "" {
			fields := strings.Fields(prefix)
			res, err := rnr.RunExternal(ctx, fields[0], fields[1:], runner.Options{Cwd: sh.Cwd()}, sh, nil)
			if err != nil {
				fmt.Println(err)
				return
			}
			fmt.Print(res.Stdout)
			fmt.Print(res.Stderr)
		}

		sc, err := sm.LaunchCodeScript(ctx, sh, interpreter, code, nil)
		if err != nil {
			fmt.Println(err)
			return
		}
		out := sm.WaitScript(ctx, sc, runner.DefaultTimeout)
		fmt.Print(out.Stdout)
		fmt.Print(out.Stderr)
		return
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	res, err := rnr.RunExternal(ctx, fields[0], fields[1:], runner.Options{Cwd: sh.Cwd()}, sh, func(c string) bool {
		return sm.IsSessionAllowed(sh.ID(), c)
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Print(res.Stdout)
	fmt.Print(res.Stderr)
}
