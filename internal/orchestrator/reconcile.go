package orchestrator

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/stillwater-dev/foreman/internal/artifacts"
	"github.com/stillwater-dev/foreman/internal/events"
	"github.com/stillwater-dev/foreman/internal/feature"
)

// reconcileMerged is the merge watcher pass: for every tracked feature,
// regardless of phase or status, check whether its branch has been
// integrated into mainline. Integration is an external event — a human can
// review and merge while a feature sits Paused or NeedsInput — so this runs
// decoupled from the workflow loops, once per poll cycle.
func (o *Orchestrator) reconcileMerged(ctx context.Context) {
	log := o.logger()

	doc, err := o.Store.Snapshot()
	if err != nil {
		log.Warn("merge watcher: loading state", zap.Error(err))
		return
	}

	for id, t := range doc.Features {
		if ctx.Err() != nil {
			return
		}
		if !t.Active() {
			continue
		}

		branch := t.Branch
		if branch == "" {
			branch = feature.BranchName(id)
		}

		merged, err := o.Workspaces.IsBranchMerged(branch, t.BaseCommit, o.Config.Targets())
		if err != nil {
			// One feature's failed query must not block reconciliation of
			// the others in this pass.
			log.Warn("merge watcher: query failed", zap.String("feature", id), zap.Error(err))
			continue
		}
		if !merged {
			continue
		}

		if err := o.retire(id); err != nil {
			log.Warn("merge watcher: retire failed", zap.String("feature", id), zap.Error(err))
		}
	}
}

// retire tears down an integrated feature: stop its worker if one is live,
// reclaim the workspace, move the record to the completed list, check the
// backlog entry off, and emit one audit line.
func (o *Orchestrator) retire(id string) error {
	o.mu.Lock()
	if cancel, ok := o.workers[id]; ok {
		cancel()
	}
	o.mu.Unlock()

	task, err := o.Store.Feature(id)
	if err != nil {
		return err
	}
	if task != nil && task.WorkspacePath != "" {
		if err := o.Workspaces.Reclaim(task.WorkspacePath); err != nil {
			return err
		}
		_ = o.Activity.Record(events.TypeWorkspaceReclaimed, id, "workspace %s removed", task.WorkspacePath)
	}

	if err := o.Store.RetireCompleted(id); err != nil {
		return err
	}

	backlog := filepath.Join(o.Config.FeaturesDir, artifacts.BacklogFile)
	if err := artifacts.CheckOffFeature(backlog, id); err != nil {
		o.logger().Warn("backlog check-off failed", zap.String("feature", id), zap.Error(err))
	}

	return o.Activity.Record(events.TypeFeatureMerged, id, "branch integrated, feature retired")
}
