package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/research-kb/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "research-kb",
	Short: "Research knowledge base for vendor intelligence",
	Long: "Tracks projects, entities, sources and assertions, extracts structured " +
		"vendor data with Claude, diffs extractions over time, and serves a " +
		"human validation UI.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the CLI with args and returns the process exit code.
func execute(args []string) int {
	rootCmd.SetArgs(args)
	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return 0
	}
	if cmd == runCmd {
		writeRunFailure(cmd, err)
	}
	return 1
}
