// Package workspace manages isolated per-feature working copies: one branch
// and one git worktree per feature, never shared. Provisioning is
// idempotent so an interrupted run can re-provision without special cases.
//
// Read-side queries (branch existence, merge detection) go through go-git.
// Worktree add/remove and push shell out to the git CLI: go-git has no
// worktree porcelain, and pushing through the CLI keeps the operator's
// credential helpers working.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/stillwater-dev/foreman/internal/feature"
)

// Manager provisions and reclaims feature workspaces against one mainline
// checkout.
type Manager struct {
	// RepoRoot is the mainline repository checkout.
	RepoRoot string

	// WorktreesDir is the parent directory for per-feature worktrees.
	WorktreesDir string

	// Mainline is the ref new branches fork from.
	Mainline string

	// runGit executes a git command in a directory. Overridable in tests.
	runGit func(dir string, args ...string) (string, error)
}

// NewManager returns a workspace manager for the given repository.
func NewManager(repoRoot, worktreesDir, mainline string) *Manager {
	return &Manager{
		RepoRoot:     repoRoot,
		WorktreesDir: worktreesDir,
		Mainline:     mainline,
		runGit:       runGitCommand,
	}
}

func runGitCommand(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Path returns the worktree location for a feature, whether or not it has
// been provisioned yet.
func (m *Manager) Path(featureID string) string {
	return filepath.Join(m.WorktreesDir, featureID)
}

// BranchExists reports whether the local branch exists.
func (m *Manager) BranchExists(name string) (bool, error) {
	repo, err := git.PlainOpen(m.RepoRoot)
	if err != nil {
		return false, fmt.Errorf("opening repo %s: %w", m.RepoRoot, err)
	}
	_, err = repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateBranch creates a branch at fromRef and returns the commit hash it
// was cut at. When the branch already exists nothing changes and the hash
// is empty.
func (m *Manager) CreateBranch(name, fromRef string) (string, error) {
	exists, err := m.BranchExists(name)
	if err != nil {
		return "", err
	}
	if exists {
		return "", nil
	}

	repo, err := git.PlainOpen(m.RepoRoot)
	if err != nil {
		return "", fmt.Errorf("opening repo %s: %w", m.RepoRoot, err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(fromRef))
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", fromRef, err)
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), *hash)
	if err := repo.Storer.SetReference(ref); err != nil {
		return "", fmt.Errorf("creating branch %s: %w", name, err)
	}
	return hash.String(), nil
}

// Provision ensures the feature's branch and isolated worktree exist and
// returns the worktree path plus the base commit the branch was cut at.
// Idempotent: an existing workspace is returned unchanged, with an empty
// base (the caller keeps whatever base it recorded at creation).
func (m *Manager) Provision(featureID string) (string, string, error) {
	path := m.Path(featureID)
	if _, err := os.Stat(path); err == nil {
		return path, "", nil
	}

	branch := feature.BranchName(featureID)
	base, err := m.CreateBranch(branch, m.Mainline)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(m.WorktreesDir, 0755); err != nil {
		return "", "", err
	}
	if _, err := m.runGit(m.RepoRoot, "worktree", "add", path, branch); err != nil {
		return "", "", fmt.Errorf("adding worktree for %s: %w", featureID, err)
	}
	return path, base, nil
}

// Reclaim removes a feature's worktree. Calling it on a path that no
// longer exists is a no-op.
func (m *Manager) Reclaim(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if _, err := m.runGit(m.RepoRoot, "worktree", "remove", "--force", path); err != nil {
		// A corrupted worktree can refuse removal; fall back to deleting
		// the directory and letting git prune the bookkeeping.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("reclaiming %s: %w", path, rmErr)
		}
		_, _ = m.runGit(m.RepoRoot, "worktree", "prune")
	}
	return nil
}

// Push publishes the branch to origin, setting upstream.
func (m *Manager) Push(branch string) error {
	if _, err := m.runGit(m.RepoRoot, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("pushing %s: %w", branch, err)
	}
	return nil
}

// IsBranchMerged reports whether the branch carries work that has been
// integrated: its head differs from the base commit it was cut at AND is
// reachable from one of the target refs. The base guard matters because a
// freshly provisioned branch still sits at a mainline commit, which is
// trivially reachable from mainline without a single commit of the
// feature's own. Targets that do not resolve are skipped: a missing origin
// ref just means that target can't vouch for integration.
func (m *Manager) IsBranchMerged(name, base string, targets []string) (bool, error) {
	repo, err := git.PlainOpen(m.RepoRoot)
	if err != nil {
		return false, fmt.Errorf("opening repo %s: %w", m.RepoRoot, err)
	}

	branchHash, err := repo.ResolveRevision(plumbing.Revision(plumbing.NewBranchReferenceName(name)))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("resolving branch %s: %w", name, err)
	}
	if base != "" && branchHash.String() == base {
		// No commits beyond the fork point: nothing to integrate yet.
		return false, nil
	}
	branchCommit, err := repo.CommitObject(*branchHash)
	if err != nil {
		return false, err
	}

	for _, target := range targets {
		targetHash, err := repo.ResolveRevision(plumbing.Revision(target))
		if err != nil {
			continue
		}
		targetCommit, err := repo.CommitObject(*targetHash)
		if err != nil {
			continue
		}
		merged, err := branchCommit.IsAncestor(targetCommit)
		if err != nil {
			return false, err
		}
		if merged {
			return true, nil
		}
	}
	return false, nil
}
