package cmd

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stillwater-dev/foreman/internal/config"
	"github.com/stillwater-dev/foreman/internal/state"
	"github.com/stillwater-dev/foreman/internal/style"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Gracefully stop a running orchestrator",
	Long: `Deliver a termination signal to the orchestrator process and mark the
state file Stopped. Best effort, returns without waiting: workers resume
from their persisted artifacts on the next run.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	store := state.NewStore(cfg.StateFile)

	doc, err := store.Snapshot()
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	if doc.Orchestrator.Status != state.StatusRunning {
		fmt.Printf("%s Orchestrator is not running (state: %s)\n",
			style.Dim.Render("○"), doc.Orchestrator.Status)
		return nil
	}

	pid := doc.Orchestrator.OwnerPID
	if pid > 0 {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			// Process already gone: the state file is stale, still mark
			// it stopped below.
			fmt.Printf("%s Signal to pid %d failed: %v\n", style.Dim.Render("Warning:"), pid, err)
		}
	}

	if err := store.Update(func(doc *state.Document) error {
		doc.Orchestrator.Status = state.StatusStopped
		return nil
	}); err != nil {
		return fmt.Errorf("marking stopped: %w", err)
	}

	fmt.Printf("%s Stop signal sent to pid %d\n", style.Bold.Render("⏹"), pid)
	return nil
}
