// Package artifacts reads and writes the per-feature document set: the
// specification, design, task checklist, status table, wrap-up record, and
// session log. Document prose is opaque; only a small set of structural
// markers is interpreted (checklist boxes, decision-table rows, the wrap-up
// done marker).
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/stillwater-dev/foreman/internal/util"
)

// Document file names within a feature directory.
const (
	SpecFile    = "spec.md"
	DesignFile  = "design.md"
	TasksFile   = "tasks.md"
	StatusFile  = "status.md"
	WrapUpFile  = "wrapup.md"
	SessionFile = "session.log"
)

// WrapUpDoneMarker is the explicit completion marker the wrap-up record
// must contain for a feature to count as Complete.
const WrapUpDoneMarker = "Status: Done"

var (
	checklistRe = regexp.MustCompile(`(?m)^\s*[-*] \[([ xX])\]`)
	tableRowRe  = regexp.MustCompile(`(?m)^\s*\|(.+)\|\s*$`)
)

// Store resolves feature ids to their artifact documents under a root
// directory: <root>/<feature-id>/<doc>.
type Store struct {
	Root string
}

// NewStore returns a document store rooted at root.
func NewStore(root string) *Store {
	return &Store{Root: root}
}

// Dir returns the artifact directory for a feature.
func (s *Store) Dir(featureID string) string {
	return filepath.Join(s.Root, featureID)
}

// Path returns the path of one named document for a feature.
func (s *Store) Path(featureID, doc string) string {
	return filepath.Join(s.Dir(featureID), doc)
}

// EnsureDir creates the feature's artifact directory if missing.
func (s *Store) EnsureDir(featureID string) error {
	return os.MkdirAll(s.Dir(featureID), 0755)
}

// read returns a document's contents, or "" when it does not exist.
// Absence is never an error here: the inspector treats a missing document
// as "condition not met".
func (s *Store) read(featureID, doc string) string {
	data, err := os.ReadFile(s.Path(featureID, doc))
	if err != nil {
		return ""
	}
	return string(data)
}

// Exists reports whether a named document exists and is non-empty.
func (s *Store) Exists(featureID, doc string) bool {
	return strings.TrimSpace(s.read(featureID, doc)) != ""
}

// ChecklistProgress counts checked and total checklist items in the task
// checklist. A missing checklist is (0, 0).
func (s *Store) ChecklistProgress(featureID string) (checked, total int) {
	for _, m := range checklistRe.FindAllStringSubmatch(s.read(featureID, TasksFile), -1) {
		total++
		if m[1] != " " {
			checked++
		}
	}
	return checked, total
}

// UncheckedItems returns up to limit unchecked checklist lines, trimmed,
// in document order. Used to scope one implement batch.
func (s *Store) UncheckedItems(featureID string, limit int) []string {
	var items []string
	for _, line := range strings.Split(s.read(featureID, TasksFile), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- [ ]") || strings.HasPrefix(trimmed, "* [ ]") {
			items = append(items, trimmed)
			if len(items) == limit {
				break
			}
		}
	}
	return items
}

// DecisionRows counts non-placeholder rows in the specification's decision
// table. A row counts when its answer cell is filled with something other
// than a placeholder (empty, "TBD", "?", or an underscored blank).
func (s *Store) DecisionRows(featureID string) int {
	count := 0
	for _, m := range tableRowRe.FindAllStringSubmatch(s.read(featureID, SpecFile), -1) {
		cells := strings.Split(m[1], "|")
		if len(cells) < 2 {
			continue
		}
		answer := strings.TrimSpace(cells[1])
		if answer == "" || isPlaceholder(answer) || isHeaderOrRule(answer) {
			continue
		}
		count++
	}
	return count
}

func isPlaceholder(cell string) bool {
	normalized := strings.ToLower(strings.Trim(cell, "_*` "))
	switch normalized {
	case "", "tbd", "todo", "?", "pending":
		return true
	}
	return false
}

// isHeaderOrRule filters the table header row and the |---|---| separator.
func isHeaderOrRule(cell string) bool {
	trimmed := strings.Trim(cell, ": ")
	if trimmed == "" {
		return true
	}
	if strings.Trim(trimmed, "-") == "" {
		return true
	}
	return strings.EqualFold(trimmed, "decision") || strings.EqualFold(trimmed, "answer")
}

// FirstHeading returns the text of the specification's first markdown
// heading, or "" when none exists. Used for PR titles.
func (s *Store) FirstHeading(featureID string) string {
	for _, line := range strings.Split(s.read(featureID, SpecFile), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		}
	}
	return ""
}

// WrapUpDone reports whether the wrap-up record exists and carries the
// explicit done marker.
func (s *Store) WrapUpDone(featureID string) bool {
	return strings.Contains(s.read(featureID, WrapUpFile), WrapUpDoneMarker)
}

// AppendSession appends one timestamped line to the feature's append-only
// session log.
func (s *Store) AppendSession(featureID, format string, args ...interface{}) error {
	if err := s.EnsureDir(featureID); err != nil {
		return err
	}
	line := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	return util.AppendLine(s.Path(featureID, SessionFile), line)
}
