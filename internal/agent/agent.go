// Package agent invokes the external autonomous coding agent and parses its
// free-form output for completion signals.
//
// The textual contract is deliberately thin: the agent is handed one
// natural-language instruction and replies with prose containing zero or
// more bracketed tokens. Everything that scans that prose lives in
// signals.go, so an output-format change touches exactly one file.
package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner is the single blocking collaborator in the system: one synchronous
// invocation per phase attempt, taking anywhere from seconds to minutes.
type Runner interface {
	Invoke(ctx context.Context, workdir, instruction string) (string, error)
}

// ExecRunner runs the agent as a child process, passing the instruction as
// the final argument and capturing combined output.
type ExecRunner struct {
	Command string
	Args    []string

	// Timeout bounds one invocation. Zero means the caller's context is
	// the only limit.
	Timeout time.Duration
}

// Invoke runs the agent in workdir and returns its combined output. The
// output is returned even on a non-zero exit so the caller can still scan
// for an explicit BLOCKED signal.
func (r *ExecRunner) Invoke(ctx context.Context, workdir, instruction string) (string, error) {
	if r.Command == "" {
		return "", fmt.Errorf("agent command not configured")
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.Args...), instruction)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = workdir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("agent invocation (%s): %w: %s",
			r.Command, err, truncate(strings.TrimSpace(string(out)), 400))
	}
	return string(out), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
