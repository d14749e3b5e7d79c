package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stillwater-dev/foreman/internal/agent"
	"github.com/stillwater-dev/foreman/internal/artifacts"
	"github.com/stillwater-dev/foreman/internal/config"
	"github.com/stillwater-dev/foreman/internal/events"
	"github.com/stillwater-dev/foreman/internal/forge"
	"github.com/stillwater-dev/foreman/internal/logging"
	"github.com/stillwater-dev/foreman/internal/orchestrator"
	"github.com/stillwater-dev/foreman/internal/phase"
	"github.com/stillwater-dev/foreman/internal/state"
	"github.com/stillwater-dev/foreman/internal/workflow"
	"github.com/stillwater-dev/foreman/internal/workspace"
)

var runCmd = &cobra.Command{
	Use:   "run [maxParallel]",
	Short: "Start the orchestrator control loop",
	Long: `Start the orchestrator: discover pending features from the backlog,
run up to maxParallel feature workflows concurrently, and reconcile merged
branches every poll cycle. Blocks until all features are retired or the
process receives SIGINT/SIGTERM.

  foreman run       # concurrency from foreman.toml (default 3)
  foreman run 5     # override max parallel workflows`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("maxParallel must be a positive integer, got %q", args[0])
		}
		cfg.MaxParallel = n
	}

	logger, err := logging.New(rootVerbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("foreman starting",
		zap.Int("max_parallel", cfg.MaxParallel),
		zap.Duration("poll_interval", cfg.PollEvery()))
	return orch.Run(ctx)
}

// buildOrchestrator wires the production object graph: store, documents,
// workspaces, forge, agent, executor, workflow, scheduler.
func buildOrchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*orchestrator.Orchestrator, error) {
	store := state.NewStore(cfg.StateFile)
	activity := events.NewLog(cfg.ActivityLog)
	docs := artifacts.NewStore(cfg.FeaturesDir)
	workspaces := workspace.NewManager(cfg.RepoRoot, cfg.WorktreesDir, cfg.Mainline)

	var forgeClient forge.Client
	if cfg.Forge.Owner != "" {
		gh, err := forge.NewGitHub(ctx, cfg.Forge.Owner, cfg.Forge.Repo, cfg.Mainline, cfg.Forge.TokenEnv)
		if err != nil {
			return nil, err
		}
		forgeClient = gh
	} else {
		logger.Warn("forge owner/repo not configured; PR phases will fail until foreman.toml has a [forge] section")
	}

	inspector := &artifacts.Inspector{
		Docs:         docs,
		Forge:        forgeClient,
		Branches:     workspaces,
		PRReadyRatio: cfg.PRReadyRatio,
	}

	executor := &phase.Executor{
		Agent: &agent.ExecRunner{
			Command: cfg.Agent.Command,
			Args:    cfg.Agent.Args,
			Timeout: cfg.Agent.Timeout.Duration(),
		},
		Docs:           docs,
		Workspaces:     workspaces,
		Forge:          forgeClient,
		Logger:         logger,
		RepoRoot:       cfg.RepoRoot,
		ImplementBatch: cfg.ImplementBatch,
	}

	wf := &workflow.Workflow{
		Detector:         inspector,
		Executor:         executor,
		Store:            store,
		Activity:         activity,
		Logger:           logger,
		FailureThreshold: cfg.FailureThreshold,
		MaxIterations:    cfg.MaxIterations,
		MergeCooldown:    cfg.MergeWait(),
	}

	return &orchestrator.Orchestrator{
		Config:      cfg,
		Store:       store,
		Activity:    activity,
		Logger:      logger,
		Workspaces:  workspaces,
		RunWorkflow: wf.Run,
	}, nil
}
