package state

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stillwater-dev/foreman/internal/feature"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "state.json"))
}

func TestSnapshotAbsentFileIsFreshState(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if doc.Orchestrator.Status != StatusIdle {
		t.Errorf("fresh status = %s, want %s", doc.Orchestrator.Status, StatusIdle)
	}
	if doc.Features == nil || len(doc.Features) != 0 {
		t.Errorf("fresh features = %v, want empty map", doc.Features)
	}
}

func TestUpdatePersistsAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewStore(path)
	err := s.UpdateFeature("FEAT-1", func(task *feature.Task) error {
		task.Phase = feature.PhaseImplement
		task.Status = feature.StatusRunning
		task.Iterations = 7
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// A brand-new store over the same file sees the committed record, which
	// is what a restarted process does.
	reopened := NewStore(path)
	task, err := reopened.Feature("FEAT-1")
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("feature lost across reopen")
	}
	if task.Phase != feature.PhaseImplement || task.Iterations != 7 {
		t.Errorf("reopened task = %+v", task)
	}
	if task.UpdatedAt.IsZero() {
		t.Error("UpdateFeature must refresh UpdatedAt")
	}
}

func TestUpdateErrorAbortsWrite(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateFeature("FEAT-1", func(t *feature.Task) error { return nil }); err != nil {
		t.Fatal(err)
	}

	wantErr := os.ErrPermission
	err := s.Update(func(doc *Document) error {
		doc.Features["FEAT-1"].Iterations = 99
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Update error = %v, want %v", err, wantErr)
	}

	task, _ := s.Feature("FEAT-1")
	if task.Iterations != 0 {
		t.Errorf("aborted mutation leaked to disk: iterations = %d", task.Iterations)
	}
}

func TestFeatureReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateFeature("FEAT-1", func(t *feature.Task) error { return nil }); err != nil {
		t.Fatal(err)
	}
	task, err := s.Feature("FEAT-1")
	if err != nil {
		t.Fatal(err)
	}
	task.Iterations = 42

	again, _ := s.Feature("FEAT-1")
	if again.Iterations != 0 {
		t.Error("mutating the returned task must not affect stored state")
	}

	missing, err := s.Feature("FEAT-nope")
	if err != nil || missing != nil {
		t.Errorf("untracked feature = (%v, %v), want (nil, nil)", missing, err)
	}
}

func TestRetireCompleted(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateFeature("FEAT-1", func(t *feature.Task) error {
		t.Status = feature.StatusRunning
		t.WorkspacePath = "/tmp/worktrees/FEAT-1"
		t.WorkerHandle = "abc-123"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.RetireCompleted("FEAT-1"); err != nil {
		t.Fatal(err)
	}
	// Retirement is idempotent.
	if err := s.RetireCompleted("FEAT-1"); err != nil {
		t.Fatal(err)
	}

	doc, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	task := doc.Features["FEAT-1"]
	if task == nil {
		t.Fatal("retired record must stay in Features for audit")
	}
	if task.Status != feature.StatusComplete || task.Phase != feature.PhaseComplete {
		t.Errorf("retired task = status %s phase %s", task.Status, task.Phase)
	}
	if task.WorkspacePath != "" || task.WorkerHandle != "" {
		t.Errorf("retirement must clear workspace bookkeeping: %+v", task)
	}
	if len(doc.Completed) != 1 || doc.Completed[0] != "FEAT-1" {
		t.Errorf("Completed = %v, want exactly one FEAT-1", doc.Completed)
	}

	if err := s.RetireCompleted("FEAT-unknown"); err == nil {
		t.Error("retiring an untracked feature must error")
	}
}

func TestRetireFailedKeepsPausedRecord(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateFeature("FEAT-1", func(t *feature.Task) error {
		t.Status = feature.StatusPaused
		t.Phase = feature.PhaseImplement
		t.ConsecutiveFailures = 3
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.RetireFailed("FEAT-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RetireFailed("FEAT-1"); err != nil {
		t.Fatal(err)
	}

	doc, _ := s.Snapshot()
	if len(doc.Failed) != 1 || doc.Failed[0] != "FEAT-1" {
		t.Errorf("Failed = %v, want exactly one FEAT-1", doc.Failed)
	}
	task := doc.Features["FEAT-1"]
	if task.Status != feature.StatusPaused || task.ConsecutiveFailures != 3 {
		t.Errorf("failed retirement must not rewrite the paused record: %+v", task)
	}
}

// Concurrent workflows hammer the store; every increment must survive the
// read-modify-write cycle.
func TestConcurrentUpdates(t *testing.T) {
	s := newTestStore(t)
	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				err := s.UpdateFeature("FEAT-1", func(t *feature.Task) error {
					t.Iterations++
					return nil
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	task, err := s.Feature("FEAT-1")
	if err != nil {
		t.Fatal(err)
	}
	if task.Iterations != workers*perWorker {
		t.Errorf("iterations = %d, want %d (lost updates)", task.Iterations, workers*perWorker)
	}
}
