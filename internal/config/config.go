// Package config loads foreman's TOML configuration.
//
// Every phase-detection heuristic lives here rather than as a hard-coded
// constant: thresholds like the PR-ready checklist ratio are tuning
// parameters, not correctness-critical values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFileName is the config file foreman looks for in the project root.
const DefaultFileName = "foreman.toml"

// Config is the full foreman configuration.
type Config struct {
	// RepoRoot is the mainline checkout the orchestrator operates on.
	RepoRoot string `toml:"repo_root"`

	// FeaturesDir holds one subdirectory of artifacts per feature, plus
	// the backlog index.
	FeaturesDir string `toml:"features_dir"`

	// WorktreesDir is where isolated per-feature working copies live.
	WorktreesDir string `toml:"worktrees_dir"`

	// StateFile is the durable orchestrator state document.
	StateFile string `toml:"state_file"`

	// ActivityLog is the append-only human-readable event trail.
	ActivityLog string `toml:"activity_log"`

	// Mainline is the integration branch features merge into.
	Mainline string `toml:"mainline"`

	// MergeTargets are the refs checked for integration, first match wins.
	// Defaults to the mainline and its origin-tracking ref.
	MergeTargets []string `toml:"merge_targets"`

	// MaxParallel bounds concurrently running feature workflows.
	MaxParallel int `toml:"max_parallel"`

	// PollInterval is the orchestrator's discovery/reconcile cadence.
	PollInterval duration `toml:"poll_interval"`

	// MergeCooldown is how long a workflow waits between merge-state polls
	// while a PR sits in review.
	MergeCooldown duration `toml:"merge_cooldown"`

	// FailureThreshold is the consecutive-failure count that pauses a
	// feature for operator intervention.
	FailureThreshold int `toml:"failure_threshold"`

	// MaxIterations caps control-loop passes per feature per run.
	MaxIterations int `toml:"max_iterations"`

	// ImplementBatch is how many unchecked task items one implement
	// invocation may tackle.
	ImplementBatch int `toml:"implement_batch"`

	// PRReadyRatio is the checklist completion ratio above which the next
	// phase is PR rather than Implement. Strictly exceeded, never equaled:
	// at the exact boundary the inspector stays conservative.
	PRReadyRatio float64 `toml:"pr_ready_ratio"`

	Agent AgentConfig `toml:"agent"`
	Forge ForgeConfig `toml:"forge"`
}

// AgentConfig describes how to invoke the external coding agent.
type AgentConfig struct {
	// Command is the agent binary (e.g. "claude").
	Command string `toml:"command"`

	// Args are passed before the instruction (e.g. ["-p"]).
	Args []string `toml:"args"`

	// Timeout bounds a single agent invocation. Zero means no limit.
	Timeout duration `toml:"timeout"`
}

// ForgeConfig identifies the code-hosting repository for PR operations.
type ForgeConfig struct {
	Owner string `toml:"owner"`
	Repo  string `toml:"repo"`

	// TokenEnv names the environment variable holding the API token.
	// The token itself never appears in config files.
	TokenEnv string `toml:"token_env"`
}

// duration wraps time.Duration with TOML string parsing ("30s", "5m").
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) Duration() time.Duration { return time.Duration(d) }

// Default returns the configuration defaults, rooted at root.
func Default(root string) *Config {
	return &Config{
		RepoRoot:         root,
		FeaturesDir:      filepath.Join(root, "features"),
		WorktreesDir:     filepath.Join(root, ".foreman", "worktrees"),
		StateFile:        filepath.Join(root, ".foreman", "state.json"),
		ActivityLog:      filepath.Join(root, ".foreman", "activity.log"),
		Mainline:         "main",
		MaxParallel:      3,
		PollInterval:     duration(30 * time.Second),
		MergeCooldown:    duration(60 * time.Second),
		FailureThreshold: 3,
		MaxIterations:    50,
		ImplementBatch:   3,
		PRReadyRatio:     0.90,
		Agent: AgentConfig{
			Command: "claude",
			Args:    []string{"-p"},
			Timeout: duration(15 * time.Minute),
		},
		Forge: ForgeConfig{
			TokenEnv: "GITHUB_TOKEN",
		},
	}
}

// Load reads foreman.toml from root, layered over defaults. A missing file
// is not an error: foreman runs fine on defaults alone.
func Load(root string) (*Config, error) {
	cfg := Default(root)
	path := filepath.Join(root, DefaultFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be positive, got %d", c.MaxParallel)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.ImplementBatch < 1 {
		return fmt.Errorf("implement_batch must be positive, got %d", c.ImplementBatch)
	}
	if c.PRReadyRatio <= 0 || c.PRReadyRatio > 1 {
		return fmt.Errorf("pr_ready_ratio must be in (0,1], got %v", c.PRReadyRatio)
	}
	return nil
}

// Targets returns the merge-target refs, defaulting to the mainline and its
// origin-tracking ref when unconfigured.
func (c *Config) Targets() []string {
	if len(c.MergeTargets) > 0 {
		return c.MergeTargets
	}
	return []string{c.Mainline, "origin/" + c.Mainline}
}

// PollEvery returns the poll interval as a time.Duration.
func (c *Config) PollEvery() time.Duration { return c.PollInterval.Duration() }

// MergeWait returns the merge cooldown as a time.Duration.
func (c *Config) MergeWait() time.Duration { return c.MergeCooldown.Duration() }
