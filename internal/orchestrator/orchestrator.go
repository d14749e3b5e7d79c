// Package orchestrator is the top-level scheduler: it discovers eligible
// features, launches per-feature workflows up to the concurrency limit,
// reconciles externally merged features, and persists global status.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stillwater-dev/foreman/internal/artifacts"
	"github.com/stillwater-dev/foreman/internal/config"
	"github.com/stillwater-dev/foreman/internal/events"
	"github.com/stillwater-dev/foreman/internal/feature"
	"github.com/stillwater-dev/foreman/internal/state"
)

// WorkflowFunc runs one feature's workflow to a stopping point. Injected so
// scheduler tests can stub the entire per-feature machine.
type WorkflowFunc func(ctx context.Context, featureID string) (feature.Status, error)

// MergeChecker is the version-control slice the reconciler needs. base is
// the commit the feature's branch was cut at; integration requires commits
// beyond it.
type MergeChecker interface {
	IsBranchMerged(name, base string, targets []string) (bool, error)
	Reclaim(path string) error
}

// Provisioner creates a feature's isolated workspace, returning its path
// and the branch's base commit (empty when the workspace already existed).
type Provisioner interface {
	Provision(featureID string) (string, string, error)
}

// Orchestrator is the long-lived control loop. One instance owns the state
// file for the duration of a run.
type Orchestrator struct {
	Config     *config.Config
	Store      *state.Store
	Activity   *events.Log
	Logger     *zap.Logger
	Workspaces interface {
		MergeChecker
		Provisioner
	}

	// RunWorkflow executes one feature workflow; wired to
	// workflow.Workflow.Run in production.
	RunWorkflow WorkflowFunc

	// Discover returns the ids of eligible pending features. Defaults to
	// parsing the backlog index.
	Discover func() ([]string, error)

	mu      sync.Mutex
	workers map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// Run executes the scheduler loop until all work is done or ctx is
// canceled. Poll cadence, concurrency, and all thresholds come from Config.
func (o *Orchestrator) Run(ctx context.Context) error {
	log := o.logger()
	o.workers = make(map[string]context.CancelFunc)

	if o.Discover == nil {
		backlog := filepath.Join(o.Config.FeaturesDir, artifacts.BacklogFile)
		o.Discover = func() ([]string, error) { return artifacts.PendingFeatures(backlog) }
	}

	if err := o.Store.Update(func(doc *state.Document) error {
		doc.Orchestrator.Status = state.StatusRunning
		doc.Orchestrator.StartedAt = time.Now().UTC()
		doc.Orchestrator.MaxParallel = o.Config.MaxParallel
		doc.Orchestrator.OwnerPID = os.Getpid()
		return nil
	}); err != nil {
		return fmt.Errorf("recording orchestrator start: %w", err)
	}
	_ = o.Activity.Record(events.TypeOrchestratorStart, "orchestrator",
		"started pid=%d max_parallel=%d", os.Getpid(), o.Config.MaxParallel)

	ticker := time.NewTicker(o.Config.PollEvery())
	defer ticker.Stop()

	for {
		pending, err := o.pollOnce(ctx)
		if err != nil {
			// A failed poll pass is logged and retried, never fatal: a
			// single feature's trouble must not take the scheduler down.
			log.Warn("poll pass error", zap.Error(err))
		}

		if done, err := o.finishedAll(pending); err == nil && done {
			o.wg.Wait()
			if err := o.Store.Update(func(doc *state.Document) error {
				doc.Orchestrator.Status = state.StatusComplete
				return nil
			}); err != nil {
				return err
			}
			_ = o.Activity.Record(events.TypeOrchestratorComplete, "orchestrator", "all features retired")
			log.Info("orchestration complete")
			return nil
		}

		select {
		case <-ctx.Done():
			return o.shutdown()
		case <-ticker.C:
		}
	}
}

// pollOnce runs one scheduler cycle: discover, launch up to capacity,
// reconcile merges, and reset stale workers. Returns the remaining pending
// ids for the completion check.
func (o *Orchestrator) pollOnce(ctx context.Context) ([]string, error) {
	log := o.logger()

	o.reconcileMerged(ctx)
	o.resetStaleWorkers()

	pending, err := o.discoverEligible()
	if err != nil {
		return nil, fmt.Errorf("discovering features: %w", err)
	}

	for _, id := range pending {
		if o.runningCount() >= o.Config.MaxParallel {
			break
		}
		if o.isRunning(id) {
			continue
		}
		if err := o.launch(ctx, id); err != nil {
			log.Warn("launch failed", zap.String("feature", id), zap.Error(err))
		}
	}

	return o.discoverEligible()
}

// discoverEligible filters discovery output down to features that are not
// already retired.
func (o *Orchestrator) discoverEligible() ([]string, error) {
	ids, err := o.Discover()
	if err != nil {
		return nil, err
	}
	doc, err := o.Store.Snapshot()
	if err != nil {
		return nil, err
	}

	retired := make(map[string]bool)
	for _, id := range doc.Completed {
		retired[id] = true
	}
	for _, id := range doc.Failed {
		retired[id] = true
	}
	// Escalated features stay tracked but are not relaunchable until an
	// operator intervenes.
	for id, t := range doc.Features {
		switch t.Status {
		case feature.StatusPaused, feature.StatusNeedsInput, feature.StatusMaxIterations, feature.StatusComplete:
			retired[id] = true
		}
	}

	var eligible []string
	for _, id := range ids {
		if !retired[id] {
			eligible = append(eligible, id)
		}
	}
	return eligible, nil
}

// launch provisions a workspace and starts the feature's workflow as an
// independent concurrent unit.
func (o *Orchestrator) launch(ctx context.Context, id string) error {
	log := o.logger()

	path, base, err := o.Workspaces.Provision(id)
	if err != nil {
		return fmt.Errorf("provisioning workspace: %w", err)
	}

	handle := uuid.NewString()
	if err := o.Store.UpdateFeature(id, func(t *feature.Task) error {
		if t.WorkerHandle != "" {
			return fmt.Errorf("feature already has live worker %s", t.WorkerHandle)
		}
		t.Status = feature.StatusRunning
		t.WorkspacePath = path
		t.Branch = feature.BranchName(id)
		if base != "" {
			t.BaseCommit = base
		}
		t.WorkerHandle = handle
		return nil
	}); err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.workers[id] = cancel
	o.mu.Unlock()

	_ = o.Activity.Record(events.TypeFeatureStarted, id, "workflow started worker=%s", handle)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer func() {
			// One feature's panic is recorded, never propagated into the
			// scheduler or sibling workflows.
			if r := recover(); r != nil {
				log.Error("workflow panic", zap.String("feature", id), zap.Any("panic", r))
				_ = o.Store.UpdateFeature(id, func(t *feature.Task) error {
					t.Status = feature.StatusPaused
					return nil
				})
			}
			o.mu.Lock()
			delete(o.workers, id)
			o.mu.Unlock()
			_ = o.Store.UpdateFeature(id, func(t *feature.Task) error {
				t.WorkerHandle = ""
				return nil
			})
		}()

		status, err := o.RunWorkflow(workerCtx, id)
		if err != nil && workerCtx.Err() == nil {
			log.Warn("workflow error", zap.String("feature", id), zap.Error(err))
		}
		o.settle(id, status)
	}()

	return nil
}

// settle applies end-of-workflow bookkeeping for statuses the workflow
// itself cannot fully apply (retirement involves the workspace manager).
func (o *Orchestrator) settle(id string, status feature.Status) {
	log := o.logger()
	switch status {
	case feature.StatusComplete:
		if err := o.retire(id); err != nil {
			log.Warn("retiring completed feature", zap.String("feature", id), zap.Error(err))
		}
	case feature.StatusPaused:
		// Retained for audit; operators resume by editing artifacts and
		// restarting, which re-detects the phase.
		if err := o.Store.RetireFailed(id); err != nil {
			log.Warn("recording paused feature", zap.String("feature", id), zap.Error(err))
		}
	}
}

func (o *Orchestrator) runningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.workers)
}

func (o *Orchestrator) isRunning(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.workers[id]
	return ok
}

// resetStaleWorkers finds features marked Running whose worker is gone —
// the residue of a crashed process — and parks them as Waiting so they are
// relaunchable.
func (o *Orchestrator) resetStaleWorkers() {
	doc, err := o.Store.Snapshot()
	if err != nil {
		return
	}
	for id, t := range doc.Features {
		if t.Status != feature.StatusRunning || o.isRunning(id) {
			continue
		}
		_ = o.Store.UpdateFeature(id, func(t *feature.Task) error {
			t.Status = feature.StatusWaiting
			t.WorkerHandle = ""
			return nil
		})
	}
}

// finishedAll reports whether the active set is empty and nothing is
// pending, i.e. the run is complete.
func (o *Orchestrator) finishedAll(pending []string) (bool, error) {
	if len(pending) > 0 || o.runningCount() > 0 {
		return false, nil
	}
	doc, err := o.Store.Snapshot()
	if err != nil {
		return false, err
	}
	for _, t := range doc.Features {
		if t.Status == feature.StatusRunning || t.Status == feature.StatusWaiting {
			return false, nil
		}
	}
	return true, nil
}

// shutdown marks the orchestrator Stopped. Workers were already signaled
// through context cancellation; they park their features as Waiting and are
// independently resumable on the next start.
func (o *Orchestrator) shutdown() error {
	o.mu.Lock()
	for _, cancel := range o.workers {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()

	if err := o.Store.Update(func(doc *state.Document) error {
		doc.Orchestrator.Status = state.StatusStopped
		return nil
	}); err != nil {
		return err
	}
	_ = o.Activity.Record(events.TypeOrchestratorStop, "orchestrator", "stopped")
	o.logger().Info("orchestrator stopped")
	return nil
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
