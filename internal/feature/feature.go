// Package feature defines the core types for tracked features: the seven
// lifecycle phases, the task status enum, and the Task record that the
// orchestrator persists between runs.
package feature

import (
	"regexp"
	"strings"
	"time"
)

// Phase is one of the seven ordered lifecycle phases, or the terminal
// Complete pseudo-phase. Phases are detected from artifact evidence on every
// workflow iteration, never advanced from an in-memory counter.
type Phase string

const (
	PhaseInterview Phase = "interview"
	PhasePlan      Phase = "plan"
	PhaseBranch    Phase = "branch"
	PhaseImplement Phase = "implement"
	PhasePR        Phase = "pr"
	PhaseMerge     Phase = "merge"
	PhaseWrapUp    Phase = "wrapup"
	PhaseComplete  Phase = "complete"
)

// ordered lists the phases in lifecycle order, excluding Complete.
var ordered = []Phase{
	PhaseInterview,
	PhasePlan,
	PhaseBranch,
	PhaseImplement,
	PhasePR,
	PhaseMerge,
	PhaseWrapUp,
}

// Ordered returns the seven workflow phases in lifecycle order.
func Ordered() []Phase {
	out := make([]Phase, len(ordered))
	copy(out, ordered)
	return out
}

// Index returns the position of p in the lifecycle order. Complete sorts
// after every real phase. Unknown phases return -1.
func (p Phase) Index() int {
	if p == PhaseComplete {
		return len(ordered)
	}
	for i, ph := range ordered {
		if ph == p {
			return i
		}
	}
	return -1
}

// Terminal reports whether p is the terminal pseudo-phase.
func (p Phase) Terminal() bool { return p == PhaseComplete }

// Status is the operational state of a Task. Distinct from Phase:
// a feature can be Paused while its phase is Implement.
type Status string

const (
	// StatusRunning means a workflow goroutine currently owns the feature.
	StatusRunning Status = "running"
	// StatusWaiting means the feature is tracked but no worker is active
	// (freshly discovered, or parked between merge-wait polls).
	StatusWaiting Status = "waiting"
	// StatusNeedsInput means the agent escalated for a human decision.
	// Not a failure; consecutive_failures is untouched.
	StatusNeedsInput Status = "needs_input"
	// StatusPaused means the consecutive-failure threshold was reached.
	// Recovery requires operator action; the workflow stops advancing.
	StatusPaused Status = "paused"
	// StatusMaxIterations means the iteration budget ran out before the
	// feature completed. Indicates scope, not failure.
	StatusMaxIterations Status = "max_iterations"
	// StatusComplete means the feature finished its lifecycle.
	StatusComplete Status = "complete"
)

// Task is the durable per-feature record. Mutated by the workflow on every
// iteration and by the merge watcher on reconciliation; retained for audit
// even after completion or failure, never hard-deleted.
type Task struct {
	// ID is the stable external identifier (e.g. a ticket key). Assigned
	// by the backlog, never generated here.
	ID string `json:"id"`

	Status Status `json:"status"`
	Phase  Phase  `json:"phase"`

	// Iterations counts control-loop passes consumed. Monotonic.
	Iterations int `json:"iterations"`

	// ConsecutiveFailures is reset to zero on any Success or Progress
	// result and triggers a pause when it reaches the configured threshold.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// WorkspacePath is the isolated working copy, empty until provisioned
	// and cleared again when the workspace is reclaimed.
	WorkspacePath string `json:"workspace_path,omitempty"`

	// Branch is the deterministic branch name derived from ID.
	Branch string `json:"branch,omitempty"`

	// BaseCommit is the mainline commit the branch was cut from, recorded
	// when the branch is created. A branch whose head still equals its base
	// has no commits of its own, so reachability from mainline proves
	// nothing about integration.
	BaseCommit string `json:"base_commit,omitempty"`

	// WorkerHandle identifies the running workflow goroutine, if any.
	// At most one live handle per task.
	WorkerHandle string `json:"worker_handle,omitempty"`

	StartedAt time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NewTask returns a fresh task in the default start state.
func NewTask(id string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        id,
		Status:    StatusWaiting,
		Phase:     PhaseInterview,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Active reports whether the task still belongs in the scheduler's active
// set (i.e. it has not finished its lifecycle).
func (t *Task) Active() bool {
	return t.Status != StatusComplete
}

// Touch updates the modification timestamp.
func (t *Task) Touch() {
	t.UpdatedAt = time.Now().UTC()
}

// BranchPrefix namespaces every orchestrator-managed branch.
const BranchPrefix = "feature/"

var branchSanitizeRe = regexp.MustCompile(`[^a-z0-9._-]+`)

// BranchName derives the deterministic branch name for a feature id. The
// mapping is stable across runs so re-provisioning after a restart lands on
// the same branch.
func BranchName(featureID string) string {
	name := strings.ToLower(strings.TrimSpace(featureID))
	name = branchSanitizeRe.ReplaceAllString(name, "-")
	return BranchPrefix + strings.Trim(name, "-")
}
