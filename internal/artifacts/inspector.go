package artifacts

import (
	"context"

	"github.com/stillwater-dev/foreman/internal/feature"
	"github.com/stillwater-dev/foreman/internal/forge"
)

// DefaultMinDecisions is how many filled decision rows make a
// specification interview-complete.
const DefaultMinDecisions = 2

// DefaultPRReadyRatio is the checklist completion ratio that must be
// strictly exceeded before the inspector advances past Implement.
const DefaultPRReadyRatio = 0.90

// BranchChecker is the narrow version-control query the inspector needs.
type BranchChecker interface {
	BranchExists(name string) (bool, error)
}

// Inspector derives a feature's current phase from its persisted artifacts.
// It holds no state of its own: the same artifact snapshot always yields
// the same phase, which is what makes the workflow resumable after a crash
// with no recovery code.
type Inspector struct {
	Docs     *Store
	Forge    forge.Client
	Branches BranchChecker

	// PRReadyRatio and MinDecisions default when zero.
	PRReadyRatio float64
	MinDecisions int
}

// DetectPhase returns the single phase the feature is in, scanning backward
// from Complete. Evidence that cannot be gathered (missing document, failed
// collaborator query) counts as "condition not met", so ambiguity always
// resolves toward the earlier phase: re-executing a finished phase is safe,
// skipping ahead is not.
func (in *Inspector) DetectPhase(ctx context.Context, featureID string) feature.Phase {
	ratio := in.PRReadyRatio
	if ratio == 0 {
		ratio = DefaultPRReadyRatio
	}
	minDecisions := in.MinDecisions
	if minDecisions == 0 {
		minDecisions = DefaultMinDecisions
	}

	if in.Docs.WrapUpDone(featureID) {
		return feature.PhaseComplete
	}

	branch := feature.BranchName(featureID)
	prState := forge.StateNone
	if in.Forge != nil {
		if state, err := in.Forge.PullRequestState(ctx, branch); err == nil {
			prState = state
		}
	}
	switch prState {
	case forge.StateMerged:
		// Integrated but not yet reconciled into a wrap-up record.
		return feature.PhaseWrapUp
	case forge.StateOpen, forge.StateClosed:
		// A PR exists in some state; the merge phase decides what that
		// means (wait, success, or closed-without-merge failure).
		return feature.PhaseMerge
	}

	branchExists := false
	if in.Branches != nil {
		if exists, err := in.Branches.BranchExists(branch); err == nil {
			branchExists = exists
		}
	}
	if branchExists {
		checked, total := in.Docs.ChecklistProgress(featureID)
		if total > 0 && float64(checked)/float64(total) > ratio {
			return feature.PhasePR
		}
		return feature.PhaseImplement
	}

	if in.Docs.Exists(featureID, DesignFile) && in.Docs.Exists(featureID, TasksFile) {
		return feature.PhaseBranch
	}

	if in.Docs.DecisionRows(featureID) >= minDecisions {
		return feature.PhasePlan
	}

	return feature.PhaseInterview
}
