package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/stillwater-dev/foreman/internal/config"
	"github.com/stillwater-dev/foreman/internal/feature"
	"github.com/stillwater-dev/foreman/internal/state"
	"github.com/stillwater-dev/foreman/internal/style"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator and feature status",
	Long: `Render the last durably committed orchestrator state and every tracked
feature with its exact phase. Read-only: safe to run while the orchestrator
is live, or after it stopped.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	doc, err := state.NewStore(cfg.StateFile).Snapshot()
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	renderStatus(doc)
	return nil
}

func renderStatus(doc *state.Document) {
	fmt.Printf("%s\n\n", style.Bold.Render("Foreman Status"))

	orch := doc.Orchestrator
	fmt.Printf("  State:        %s\n", renderOrchStatus(orch.Status))
	if !orch.StartedAt.IsZero() {
		fmt.Printf("  Started:      %s\n", orch.StartedAt.Format(time.RFC3339))
	}
	if orch.MaxParallel > 0 {
		fmt.Printf("  Max parallel: %d\n", orch.MaxParallel)
	}
	if orch.OwnerPID > 0 {
		fmt.Printf("  Owner PID:    %d\n", orch.OwnerPID)
	}
	fmt.Printf("  Features:     %d tracked, %d completed, %d failed\n\n",
		len(doc.Features), len(doc.Completed), len(doc.Failed))

	if len(doc.Features) == 0 {
		fmt.Println(style.Dim.Render("  No features tracked yet."))
		return
	}

	ids := make([]string, 0, len(doc.Features))
	for id := range doc.Features {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		t := doc.Features[id]
		fmt.Printf("  %s %s\n", renderTaskMarker(t.Status), style.Bold.Render(id))
		fmt.Printf("      phase=%s status=%s iterations=%d failures=%d\n",
			t.Phase, t.Status, t.Iterations, t.ConsecutiveFailures)
		if t.WorkspacePath != "" {
			fmt.Printf("      workspace: %s\n", style.Dim.Render(t.WorkspacePath))
		}
		if !t.UpdatedAt.IsZero() {
			fmt.Printf("      updated:   %s\n", style.Dim.Render(t.UpdatedAt.Format(time.RFC3339)))
		}
	}
}

func renderOrchStatus(s state.OrchestratorStatus) string {
	switch s {
	case state.StatusRunning:
		return style.Success.Render("RUNNING")
	case state.StatusStopped:
		return style.Warning.Render("STOPPED")
	case state.StatusComplete:
		return style.Success.Render("COMPLETE")
	default:
		return style.Dim.Render("IDLE")
	}
}

func renderTaskMarker(s feature.Status) string {
	switch s {
	case feature.StatusRunning:
		return style.Success.Render("▶")
	case feature.StatusComplete:
		return style.Success.Render("✓")
	case feature.StatusPaused:
		return style.Error.Render("⏸")
	case feature.StatusNeedsInput:
		return style.Warning.Render("?")
	case feature.StatusMaxIterations:
		return style.Warning.Render("…")
	default:
		return style.Dim.Render("○")
	}
}
