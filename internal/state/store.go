// Package state persists orchestrator and per-feature status as a single
// JSON document, read-modified-written atomically on every transition.
//
// The document is the only mutable resource shared between concurrent
// feature workflows. Every mutation goes through the Store's mutex, which
// satisfies the single-writer discipline the rest of the system assumes.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/stillwater-dev/foreman/internal/feature"
	"github.com/stillwater-dev/foreman/internal/util"
)

// OrchestratorStatus is the lifecycle state of the scheduler itself.
type OrchestratorStatus string

const (
	StatusIdle     OrchestratorStatus = "idle"
	StatusRunning  OrchestratorStatus = "running"
	StatusStopped  OrchestratorStatus = "stopped"
	StatusComplete OrchestratorStatus = "complete"
)

// OrchestratorState is the top-level scheduler record. Created on first
// run, only ever overwritten, never deleted.
type OrchestratorState struct {
	Status      OrchestratorStatus `json:"status"`
	StartedAt   time.Time          `json:"started_at,omitempty"`
	MaxParallel int                `json:"max_parallel,omitempty"`

	// OwnerPID is the controlling process, used for operator diagnostics
	// and for signal delivery on stop.
	OwnerPID int `json:"owner_pid,omitempty"`
}

// Document is the full durable state file contents.
type Document struct {
	Orchestrator OrchestratorState        `json:"orchestrator"`
	Features     map[string]*feature.Task `json:"features"`

	// Completed and Failed record retired feature ids in retirement order.
	// The feature records themselves stay in Features for audit.
	Completed []string `json:"completed,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

func newDocument() *Document {
	return &Document{
		Orchestrator: OrchestratorState{Status: StatusIdle},
		Features:     make(map[string]*feature.Task),
	}
}

// Store serializes read-modify-write cycles against the state file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// load reads the document from disk. An absent file is a fresh, empty
// state, not an error. Caller must hold s.mu.
func (s *Store) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return newDocument(), nil
		}
		return nil, err
	}
	doc := newDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", s.path, err)
	}
	if doc.Features == nil {
		doc.Features = make(map[string]*feature.Task)
	}
	return doc, nil
}

// save writes the document atomically. Caller must hold s.mu.
func (s *Store) save(doc *Document) error {
	return util.AtomicWriteJSON(s.path, doc)
}

// Snapshot returns a read-only copy of the current document.
func (s *Store) Snapshot() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Update applies fn to the whole document under the store lock and
// persists the result. fn returning an error aborts without writing.
func (s *Store) Update(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

// UpdateFeature applies fn to one feature's record, creating it first if
// absent. The task's UpdatedAt is refreshed on every call.
func (s *Store) UpdateFeature(id string, fn func(t *feature.Task) error) error {
	return s.Update(func(doc *Document) error {
		t, ok := doc.Features[id]
		if !ok {
			t = feature.NewTask(id)
			doc.Features[id] = t
		}
		if err := fn(t); err != nil {
			return err
		}
		t.Touch()
		return nil
	})
}

// Feature returns a copy of one feature's record, or nil if untracked.
func (s *Store) Feature(id string) (*feature.Task, error) {
	doc, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	t, ok := doc.Features[id]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

// RetireCompleted moves a feature to the completed list: status Complete,
// workspace cleared, id appended once to Completed.
func (s *Store) RetireCompleted(id string) error {
	return s.Update(func(doc *Document) error {
		t, ok := doc.Features[id]
		if !ok {
			return fmt.Errorf("retiring unknown feature %s", id)
		}
		t.Status = feature.StatusComplete
		t.Phase = feature.PhaseComplete
		t.WorkspacePath = ""
		t.WorkerHandle = ""
		t.Touch()
		doc.Completed = appendUnique(doc.Completed, id)
		return nil
	})
}

// RetireFailed appends a feature to the failed list without altering its
// paused record; the entry is retained for audit.
func (s *Store) RetireFailed(id string) error {
	return s.Update(func(doc *Document) error {
		if _, ok := doc.Features[id]; !ok {
			return fmt.Errorf("retiring unknown feature %s", id)
		}
		doc.Failed = appendUnique(doc.Failed, id)
		return nil
	})
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
