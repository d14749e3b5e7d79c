// Package workflow runs the per-feature control loop: detect the current
// phase from artifacts, execute it, interpret the result, persist, repeat.
//
// There is no stored program counter. The phase is re-derived from durable
// artifacts on every iteration, so a crashed or restarted process resumes
// exactly where the artifacts say the feature is, with zero special-cased
// recovery code.
package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stillwater-dev/foreman/internal/events"
	"github.com/stillwater-dev/foreman/internal/feature"
	"github.com/stillwater-dev/foreman/internal/phase"
	"github.com/stillwater-dev/foreman/internal/state"
)

// PhaseDetector derives a feature's current phase from artifact evidence.
type PhaseDetector interface {
	DetectPhase(ctx context.Context, featureID string) feature.Phase
}

// PhaseExecutor runs one phase and reports the tagged outcome.
type PhaseExecutor interface {
	Execute(ctx context.Context, ph feature.Phase, task *feature.Task) (phase.Result, error)
}

// Workflow drives one feature through its lifecycle. Safe to run many
// workflows concurrently: the only shared mutable state is the Store, which
// serializes its own writes.
type Workflow struct {
	Detector PhaseDetector
	Executor PhaseExecutor
	Store    *state.Store
	Activity *events.Log
	Logger   *zap.Logger

	// FailureThreshold pauses the feature after this many consecutive
	// Failed results.
	FailureThreshold int

	// MaxIterations caps control-loop passes, continuing from the
	// persisted count on resume.
	MaxIterations int

	// MergeCooldown is the wait between merge-state polls while a PR sits
	// in review. The wait is context-cancellable; stop never has to sit
	// out the interval.
	MergeCooldown time.Duration
}

// Run executes the control loop for one feature until it completes, pauses,
// escalates, exhausts its iteration budget, or the context is canceled.
// The returned status is also the last durably persisted one.
func (w *Workflow) Run(ctx context.Context, featureID string) (feature.Status, error) {
	log := w.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("feature", featureID))

	for {
		if err := ctx.Err(); err != nil {
			// Park the feature; the artifacts carry everything needed to
			// resume on the next run.
			_ = w.setStatus(featureID, feature.StatusWaiting)
			return feature.StatusWaiting, err
		}

		task, err := w.loadTask(featureID)
		if err != nil {
			return feature.StatusWaiting, err
		}

		current := w.Detector.DetectPhase(ctx, featureID)
		log.Debug("phase detected", zap.String("phase", string(current)))

		if current.Terminal() {
			if err := w.persist(task, func(t *feature.Task) {
				t.Phase = feature.PhaseComplete
				t.Status = feature.StatusComplete
			}); err != nil {
				return feature.StatusComplete, err
			}
			return feature.StatusComplete, nil
		}

		result, execErr := w.Executor.Execute(ctx, current, task)
		if execErr != nil {
			log.Warn("phase execution error",
				zap.String("phase", string(current)), zap.Error(execErr))
		}

		switch result {
		case phase.ResultSuccess, phase.ResultProgress:
			task.ConsecutiveFailures = 0
			if result == phase.ResultSuccess {
				_ = w.Activity.Record(events.TypePhaseResult, featureID, "phase %s complete", current)
			}

		case phase.ResultNeedsInput:
			// Expected escalation, not a failure: the counter is untouched
			// and the loop stops until a human intervenes.
			if err := w.persist(task, func(t *feature.Task) {
				t.Phase = current
				t.Status = feature.StatusNeedsInput
				t.Iterations++
			}); err != nil {
				return feature.StatusNeedsInput, err
			}
			_ = w.Activity.Record(events.TypeNeedsInput, featureID, "phase %s needs human input", current)
			return feature.StatusNeedsInput, nil

		case phase.ResultFailed:
			task.ConsecutiveFailures++
			// Every failed attempt leaves an audit line, not just the one
			// that trips the threshold.
			_ = w.Activity.Record(events.TypePhaseResult, featureID,
				"phase %s attempt failed (%d/%d)", current, task.ConsecutiveFailures, w.FailureThreshold)
			if task.ConsecutiveFailures >= w.FailureThreshold {
				if err := w.persist(task, func(t *feature.Task) {
					t.Phase = current
					t.Status = feature.StatusPaused
					t.ConsecutiveFailures = task.ConsecutiveFailures
					t.Iterations++
				}); err != nil {
					return feature.StatusPaused, err
				}
				_ = w.Activity.Record(events.TypeFeaturePaused, featureID,
					"paused at phase %s after %d consecutive failures", current, task.ConsecutiveFailures)
				return feature.StatusPaused, nil
			}
		}

		task.Iterations++
		if err := w.persist(task, func(t *feature.Task) {
			t.Phase = current
			t.Status = feature.StatusRunning
			t.ConsecutiveFailures = task.ConsecutiveFailures
			t.Iterations = task.Iterations
			t.WorkspacePath = task.WorkspacePath
			t.Branch = task.Branch
			t.BaseCommit = task.BaseCommit
		}); err != nil {
			return feature.StatusRunning, err
		}

		if task.Iterations >= w.MaxIterations {
			if err := w.setStatus(featureID, feature.StatusMaxIterations); err != nil {
				return feature.StatusMaxIterations, err
			}
			_ = w.Activity.Record(events.TypeMaxIterations, featureID,
				"iteration budget exhausted at phase %s (%d iterations)", current, task.Iterations)
			return feature.StatusMaxIterations, nil
		}

		// A PR sitting in review is progress, not a busy-loop invitation.
		if current == feature.PhaseMerge && result == phase.ResultProgress {
			if err := w.cooldown(ctx, featureID); err != nil {
				return feature.StatusWaiting, err
			}
		}
	}
}

// cooldown waits out the merge poll interval, or returns early when the
// context is canceled. The feature is parked as Waiting for the duration so
// status output shows it is not actively executing.
func (w *Workflow) cooldown(ctx context.Context, featureID string) error {
	_ = w.setStatus(featureID, feature.StatusWaiting)

	timer := time.NewTimer(w.MergeCooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Workflow) loadTask(featureID string) (*feature.Task, error) {
	task, err := w.Store.Feature(featureID)
	if err != nil {
		return nil, fmt.Errorf("loading feature %s: %w", featureID, err)
	}
	if task == nil {
		return nil, fmt.Errorf("feature %s is not tracked", featureID)
	}
	return task, nil
}

// persist commits the task mutation through the store's read-modify-write
// cycle. mutate receives the authoritative stored record.
func (w *Workflow) persist(task *feature.Task, mutate func(t *feature.Task)) error {
	return w.Store.UpdateFeature(task.ID, func(t *feature.Task) error {
		mutate(t)
		return nil
	})
}

func (w *Workflow) setStatus(featureID string, status feature.Status) error {
	return w.Store.UpdateFeature(featureID, func(t *feature.Task) error {
		t.Status = status
		return nil
	})
}
