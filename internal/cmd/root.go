// Package cmd implements the foreman command-line surface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	rootDir     string
	rootVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Autonomous feature workflow orchestrator",
	Long: `Foreman drives features through a seven-phase development lifecycle
(interview, plan, branch, implement, pr, merge, wrap-up) using an external
coding agent, one isolated git worktree per feature.

Phases are detected from each feature's on-disk artifacts on every pass, so
a stopped or crashed run resumes exactly where the documents say it was.

  foreman run [maxParallel]   # start the orchestrator
  foreman status              # snapshot of orchestrator + features
  foreman stop                # graceful shutdown of a running orchestrator
  foreman init                # scaffold config, backlog, and directories`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          requireSubcommand,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Project root (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

// projectRoot resolves the --root flag, defaulting to the working directory.
func projectRoot() (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}
	return os.Getwd()
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
