package phase

import (
	"fmt"
	"strings"

	"github.com/stillwater-dev/foreman/internal/agent"
	"github.com/stillwater-dev/foreman/internal/artifacts"
)

// Instruction builders. Each instruction is scoped to exactly one phase:
// what to read, what to produce, and the completion tokens to emit. Never
// a multi-phase instruction.

func interviewInstruction(docs *artifacts.Store, featureID string) string {
	return fmt.Sprintf(`You are running the interview phase for feature %s.

Read the specification at %s. Fill in every row of its decision table with a
concrete answer, replacing TBD placeholders. Do not write the design or the
task checklist yet.

When every decision row is filled, print %s.
If a decision genuinely cannot be defaulted and needs a human, print %s and
list the open questions.`,
		featureID,
		docs.Path(featureID, artifacts.SpecFile),
		agent.TokenPhaseComplete,
		agent.TokenNeedsInput)
}

func planInstruction(docs *artifacts.Store, featureID string) string {
	return fmt.Sprintf(`You are running the plan phase for feature %s.

Read the completed specification at %s. Produce two documents:
  1. %s — the design document.
  2. %s — a task checklist using markdown checkboxes ("- [ ] item"), one
     line per implementable task.

When both documents are written, print %s.`,
		featureID,
		docs.Path(featureID, artifacts.SpecFile),
		docs.Path(featureID, artifacts.DesignFile),
		docs.Path(featureID, artifacts.TasksFile),
		agent.TokenPhaseComplete)
}

func branchInstruction(docs *artifacts.Store, featureID, branch string) string {
	return fmt.Sprintf(`You are running the branch phase for feature %s.

The branch %s and its workspace have already been created for you. Update
the status table at %s to record that implementation is starting on this
branch. Make no other changes.

When the status table is updated, print %s.`,
		featureID,
		branch,
		docs.Path(featureID, artifacts.StatusFile),
		agent.TokenPhaseComplete)
}

func implementInstruction(docs *artifacts.Store, featureID string, items []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are running the implement phase for feature %s.

Read the design at %s and the checklist at %s. Implement ONLY the following
checklist items in this pass:

`,
		featureID,
		docs.Path(featureID, artifacts.DesignFile),
		docs.Path(featureID, artifacts.TasksFile))
	for _, item := range items {
		fmt.Fprintf(&b, "  %s\n", item)
	}
	fmt.Fprintf(&b, `
After implementing each item, check it off in the checklist ("- [x]").
Commit your work to the current branch. Do not open a pull request.

When every item above is checked off, print %s.
If you cannot make progress, print %s with the reason.`,
		agent.TokenPhaseComplete,
		agent.TokenBlocked)
	return b.String()
}

func wrapUpInstruction(docs *artifacts.Store, featureID string) string {
	return fmt.Sprintf(`You are running the wrap-up phase for feature %s.

The feature's pull request has been merged. Write the wrap-up record at %s
summarizing what shipped, and include the line %q. Update the status table
at %s to its final state.

When the wrap-up record is written, print %s and %s.`,
		featureID,
		docs.Path(featureID, artifacts.WrapUpFile),
		artifacts.WrapUpDoneMarker,
		docs.Path(featureID, artifacts.StatusFile),
		agent.TokenPhaseComplete,
		agent.TokenFeatureComplete)
}

// pullRequestText derives the PR title and body from the feature's spec.
// The title is the spec's first heading when present.
func pullRequestText(docs *artifacts.Store, featureID string) (title, body string) {
	title = featureID
	if heading := docs.FirstHeading(featureID); heading != "" {
		title = fmt.Sprintf("%s: %s", featureID, heading)
	}
	body = fmt.Sprintf("Automated implementation of feature %s.\n\nSee %s in the feature's artifact directory for the design.",
		featureID, artifacts.DesignFile)
	return title, body
}
