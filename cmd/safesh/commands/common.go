package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/safesh-dev/safesh/pkg/safesh/config"
	"github.com/safesh-dev/safesh/pkg/safesh/runner"
	"github.com/safesh-dev/safesh/pkg/safesh/shell"
)

// loadConfig resolves the effective Config for a CLI invocation: the
// layered search (§6), then the explicit `-c` file if given, then the
// strict/permissive preset flags re-based on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.Config{}, fmt.Errorf("resolving cwd: %w", err)
	}
	home, _ := os.UserHomeDir()

	loaded, err := config.Load(home, cwd, nil, slog.Default())
	if err != nil {
		return config.Config{}, err
	}
	cfg := loaded.Config

	if file, _ := cmd.Flags().GetString("config"); file != "" {
		cfg, err = config.LoadExplicitFile(file, *loaded)
		if err != nil {
			return config.Config{}, err
		}
	}

	if strict, _ := cmd.Flags().GetBool("strict"); strict {
		cfg = config.Merge(config.PresetBase(config.PresetStrict), cfg)
	}
	if permissive, _ := cmd.Flags().GetBool("permissive"); permissive {
		cfg = config.Merge(config.PresetBase(config.PresetPermissive), cfg)
	}

	return cfg, nil
}

// newRunner builds a C9 Runner bound to cfg.
func newRunner(cfg config.Config) *runner.Runner {
	return runner.New(cfg, slog.Default())
}

// newShellManager builds a C10/C11 shell Manager wired to cfg's
// registry and import policy.
func newShellManager(cfg config.Config) *shell.Manager {
	return shell.New(slog.Default(), shell.WithConfig(cfg))
}

// printResult writes a runner.Result to the process's own stdout/stderr
// and returns the process exit code implied by its success flag (§6:
// "exit code 0 iff the command succeeded; 1 otherwise").
func printResult(res *runner.Result) int {
	if res == nil {
		return 1
	}
	if res.Stdout != "" {
		fmt.Fprint(os.Stdout, res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprint(os.Stderr, res.Stderr)
	}
	if res.Success {
		return 0
	}
	return 1
}
