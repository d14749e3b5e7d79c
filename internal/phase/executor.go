// Package phase executes one workflow phase at a time against the external
// coding agent and interprets the outcome into a tagged result.
package phase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stillwater-dev/foreman/internal/agent"
	"github.com/stillwater-dev/foreman/internal/artifacts"
	"github.com/stillwater-dev/foreman/internal/feature"
	"github.com/stillwater-dev/foreman/internal/forge"
)

// Result is the tagged outcome of one phase execution.
type Result int

const (
	// ResultSuccess means the phase finished; the next iteration will
	// detect the following phase.
	ResultSuccess Result = iota
	// ResultProgress means forward movement without completion (implement
	// batches, merge-wait polls). Resets the failure counter.
	ResultProgress
	// ResultNeedsInput means a human decision is required. Not a failure.
	ResultNeedsInput
	// ResultFailed means the attempt produced no detectable progress.
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultProgress:
		return "progress"
	case ResultNeedsInput:
		return "needs_input"
	case ResultFailed:
		return "failed"
	}
	return "unknown"
}

// WorkspaceOps is the slice of the workspace manager the executor uses.
type WorkspaceOps interface {
	Provision(featureID string) (string, string, error)
	BranchExists(name string) (bool, error)
	Push(branch string) error
}

// Executor issues one instruction per phase and interprets the agent's
// completion signals. Every invocation appends one line to the feature's
// session log, success or not.
type Executor struct {
	Agent      agent.Runner
	Docs       *artifacts.Store
	Workspaces WorkspaceOps
	Forge      forge.Client
	Logger     *zap.Logger

	// RepoRoot is the agent's working directory before a workspace exists
	// (interview and plan run against the mainline checkout).
	RepoRoot string

	// ImplementBatch caps how many unchecked task items one implement
	// invocation may tackle.
	ImplementBatch int
}

// Execute runs one phase for the task and returns the interpreted result.
// It may set task.WorkspacePath and task.Branch when provisioning; all
// other task bookkeeping belongs to the workflow loop.
func (e *Executor) Execute(ctx context.Context, ph feature.Phase, task *feature.Task) (Result, error) {
	result, err := e.execute(ctx, ph, task)

	outcome := result.String()
	if err != nil {
		outcome = fmt.Sprintf("%s (%v)", outcome, err)
	}
	if logErr := e.Docs.AppendSession(task.ID, "phase=%s result=%s", ph, outcome); logErr != nil && e.Logger != nil {
		e.Logger.Warn("session log append failed", zap.String("feature", task.ID), zap.Error(logErr))
	}
	return result, err
}

func (e *Executor) execute(ctx context.Context, ph feature.Phase, task *feature.Task) (Result, error) {
	switch ph {
	case feature.PhaseInterview:
		return e.interview(ctx, task)
	case feature.PhasePlan:
		return e.plan(ctx, task)
	case feature.PhaseBranch:
		return e.branch(ctx, task)
	case feature.PhaseImplement:
		return e.implement(ctx, task)
	case feature.PhasePR:
		return e.pullRequest(ctx, task)
	case feature.PhaseMerge:
		return e.merge(ctx, task)
	case feature.PhaseWrapUp:
		return e.wrapUp(ctx, task)
	}
	return ResultFailed, fmt.Errorf("no executor for phase %q", ph)
}

// workdir is where the agent runs: the feature's isolated workspace once
// provisioned, the mainline checkout before that.
func (e *Executor) workdir(task *feature.Task) string {
	if task.WorkspacePath != "" {
		return task.WorkspacePath
	}
	return e.RepoRoot
}

func (e *Executor) interview(ctx context.Context, task *feature.Task) (Result, error) {
	out, err := e.Agent.Invoke(ctx, e.workdir(task), interviewInstruction(e.Docs, task.ID))
	sig := agent.ParseSignals(out)
	switch {
	case sig.NeedsInput:
		return ResultNeedsInput, nil
	case sig.PhaseComplete:
		return ResultSuccess, nil
	case err != nil:
		return ResultFailed, err
	}
	return ResultFailed, fmt.Errorf("interview finished without a completion signal")
}

func (e *Executor) plan(ctx context.Context, task *feature.Task) (Result, error) {
	_, err := e.Agent.Invoke(ctx, e.workdir(task), planInstruction(e.Docs, task.ID))

	// Completion is judged by evidence, not by the agent's say-so: the
	// plan phase succeeded only if both documents now exist.
	if e.Docs.Exists(task.ID, artifacts.DesignFile) && e.Docs.Exists(task.ID, artifacts.TasksFile) {
		return ResultSuccess, nil
	}
	if err != nil {
		return ResultFailed, err
	}
	return ResultFailed, fmt.Errorf("plan did not produce %s and %s", artifacts.DesignFile, artifacts.TasksFile)
}

func (e *Executor) branch(ctx context.Context, task *feature.Task) (Result, error) {
	branch := feature.BranchName(task.ID)

	exists, err := e.Workspaces.BranchExists(branch)
	if err != nil {
		return ResultFailed, err
	}

	// Provision is idempotent either way; resource failures here follow
	// the normal retry-then-pause escalation.
	path, base, err := e.Workspaces.Provision(task.ID)
	if err != nil {
		return ResultFailed, err
	}
	task.WorkspacePath = path
	task.Branch = branch
	if base != "" {
		task.BaseCommit = base
	}

	if exists {
		// Branch already existed: nothing for the agent to do.
		return ResultSuccess, nil
	}

	// Fresh branch: the agent only updates status bookkeeping. Best
	// effort — the branch is already provisioned, which is the phase's
	// real contract.
	if _, err := e.Agent.Invoke(ctx, path, branchInstruction(e.Docs, task.ID, branch)); err != nil && e.Logger != nil {
		e.Logger.Warn("branch bookkeeping invocation failed",
			zap.String("feature", task.ID), zap.Error(err))
	}
	return ResultSuccess, nil
}

func (e *Executor) implement(ctx context.Context, task *feature.Task) (Result, error) {
	checkedBefore, total := e.Docs.ChecklistProgress(task.ID)
	if total > 0 && checkedBefore == total {
		return ResultSuccess, nil
	}

	batch := e.ImplementBatch
	if batch <= 0 {
		batch = 3
	}
	items := e.Docs.UncheckedItems(task.ID, batch)

	out, err := e.Agent.Invoke(ctx, e.workdir(task), implementInstruction(e.Docs, task.ID, items))

	// Checklist movement decides the verdict; the agent's signals only
	// color a failed pass.
	checkedAfter, totalAfter := e.Docs.ChecklistProgress(task.ID)
	switch {
	case totalAfter > 0 && checkedAfter == totalAfter:
		return ResultSuccess, nil
	case checkedAfter > checkedBefore:
		return ResultProgress, nil
	}
	if agent.ParseSignals(out).Blocked {
		if reason := agent.BlockedReason(out); reason != "" {
			return ResultFailed, fmt.Errorf("agent blocked: %s", reason)
		}
		return ResultFailed, fmt.Errorf("agent blocked")
	}
	if err != nil {
		return ResultFailed, err
	}
	return ResultFailed, fmt.Errorf("implement pass checked no items (%d/%d)", checkedAfter, totalAfter)
}

func (e *Executor) pullRequest(ctx context.Context, task *feature.Task) (Result, error) {
	branch := feature.BranchName(task.ID)

	state, err := e.Forge.PullRequestState(ctx, branch)
	if err != nil {
		return ResultFailed, err
	}
	if state != forge.StateNone {
		// Idempotent: a PR in any state means this phase already ran.
		return ResultSuccess, nil
	}

	if err := e.Workspaces.Push(branch); err != nil {
		return ResultFailed, err
	}
	title, body := pullRequestText(e.Docs, task.ID)
	if _, err := e.Forge.CreatePullRequest(ctx, branch, title, body); err != nil {
		return ResultFailed, err
	}
	return ResultSuccess, nil
}

// merge never invokes the agent: integration is a human act, observed via
// the forge. Open means wait; the workflow applies the cooldown.
func (e *Executor) merge(ctx context.Context, task *feature.Task) (Result, error) {
	state, err := e.Forge.PullRequestState(ctx, feature.BranchName(task.ID))
	if err != nil {
		return ResultFailed, err
	}
	switch state {
	case forge.StateMerged:
		return ResultSuccess, nil
	case forge.StateOpen:
		return ResultProgress, nil
	case forge.StateClosed:
		return ResultFailed, fmt.Errorf("pull request closed without merge")
	}
	return ResultFailed, fmt.Errorf("no pull request found for %s", task.ID)
}

func (e *Executor) wrapUp(ctx context.Context, task *feature.Task) (Result, error) {
	out, err := e.Agent.Invoke(ctx, e.workdir(task), wrapUpInstruction(e.Docs, task.ID))
	sig := agent.ParseSignals(out)
	if sig.PhaseComplete && sig.FeatureComplete {
		return ResultSuccess, nil
	}
	if err != nil {
		return ResultFailed, err
	}
	return ResultFailed, fmt.Errorf("wrap-up missing completion signals")
}
