// Package forge abstracts the code-hosting review system. The orchestrator
// only needs two operations: open a pull request for a branch, and ask what
// state a branch's pull request is in.
package forge

import "context"

// PRState is the lifecycle state of a branch's pull request.
type PRState string

const (
	// StateNone means no pull request exists for the branch.
	StateNone PRState = "none"
	// StateOpen means a pull request exists and is awaiting review.
	StateOpen PRState = "open"
	// StateMerged means the pull request was merged.
	StateMerged PRState = "merged"
	// StateClosed means the pull request was closed without merging.
	StateClosed PRState = "closed"
)

// Client is the narrow interface consumed by the phase executor and the
// artifact inspector. Implemented by GitHub in production and by fakes in
// tests.
type Client interface {
	// CreatePullRequest opens a PR for branch against the mainline and
	// returns its number.
	CreatePullRequest(ctx context.Context, branch, title, body string) (int, error)

	// PullRequestState returns the state of the branch's PR, StateNone
	// when no PR exists.
	PullRequestState(ctx context.Context, branch string) (PRState, error)
}
