// Package events writes foreman's append-only activity log: one timestamped
// line per significant event, never rewritten. This is the post-hoc audit
// trail; structured diagnostics go through internal/logging instead.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/stillwater-dev/foreman/internal/util"
)

// Event types recorded in the activity log.
const (
	TypeOrchestratorStart    = "orchestrator_start"
	TypeOrchestratorStop     = "orchestrator_stop"
	TypeOrchestratorComplete = "orchestrator_complete"
	TypeFeatureStarted       = "feature_started"
	TypePhaseResult          = "phase_result"
	TypeFeaturePaused        = "feature_paused"
	TypeNeedsInput           = "needs_input"
	TypeMaxIterations        = "max_iterations"
	TypeFeatureMerged        = "feature_merged"
	TypeWorkspaceReclaimed   = "workspace_reclaimed"
)

// Log is an append-only activity log. Safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog returns an activity log writing to path. The file is created on
// first append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Record appends one event line. actor is the feature id or "orchestrator".
// Append failures are returned but callers generally treat them as
// non-fatal: losing an audit line must not stop the workflow.
func (l *Log) Record(eventType, actor, format string, args ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %s %s %s",
		time.Now().UTC().Format(time.RFC3339),
		eventType,
		actor,
		fmt.Sprintf(format, args...))
	return util.AppendLine(l.path, line)
}
