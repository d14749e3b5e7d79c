package forge

import (
	"context"
	"fmt"
	"os"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHub implements Client against the GitHub API.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
	base   string
}

// NewGitHub builds a GitHub client. tokenEnv names the environment variable
// holding the API token; an empty token yields an unauthenticated client,
// which is enough for public-repo reads.
func NewGitHub(ctx context.Context, owner, repo, base, tokenEnv string) (*GitHub, error) {
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("forge owner/repo not configured")
	}
	httpClient := oauth2.NewClient(ctx, nil)
	if token := os.Getenv(tokenEnv); token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &GitHub{
		client: github.NewClient(httpClient),
		owner:  owner,
		repo:   repo,
		base:   base,
	}, nil
}

// CreatePullRequest opens a PR from branch into the configured base branch.
func (g *GitHub) CreatePullRequest(ctx context.Context, branch, title, body string) (int, error) {
	pr, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(branch),
		Base:  github.String(g.base),
		Body:  github.String(body),
	})
	if err != nil {
		return 0, fmt.Errorf("creating pull request for %s: %w", branch, err)
	}
	return pr.GetNumber(), nil
}

// PullRequestState queries the most recent PR for branch, in any state.
func (g *GitHub) PullRequestState(ctx context.Context, branch string) (PRState, error) {
	prs, _, err := g.client.PullRequests.List(ctx, g.owner, g.repo, &github.PullRequestListOptions{
		Head:        g.owner + ":" + branch,
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return StateNone, fmt.Errorf("listing pull requests for %s: %w", branch, err)
	}
	if len(prs) == 0 {
		return StateNone, nil
	}

	pr := prs[0]
	switch {
	case pr.MergedAt != nil:
		return StateMerged, nil
	case pr.GetState() == "open":
		return StateOpen, nil
	default:
		return StateClosed, nil
	}
}
