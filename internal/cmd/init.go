package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stillwater-dev/foreman/internal/artifacts"
	"github.com/stillwater-dev/foreman/internal/config"
	"github.com/stillwater-dev/foreman/internal/style"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold foreman config and feature directories",
	Long: `Create the features directory, an empty backlog, and a starter
foreman.toml in the project root. Existing files are left untouched.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

const starterConfig = `# foreman configuration. Unset keys fall back to defaults.

mainline = "main"
max_parallel = 3
poll_interval = "30s"
merge_cooldown = "60s"
failure_threshold = 3
max_iterations = 50
implement_batch = 3
pr_ready_ratio = 0.90

[agent]
command = "claude"
args = ["-p"]
timeout = "15m"

[forge]
# owner = "your-org"
# repo = "your-repo"
token_env = "GITHUB_TOKEN"
`

const starterBacklog = `# Feature backlog

Unchecked entries are eligible for orchestration; foreman checks them off
when the feature's branch is integrated.

- [ ] EXAMPLE-1
`

func runInit(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg := config.Default(root)

	if err := os.MkdirAll(cfg.FeaturesDir, 0755); err != nil {
		return err
	}

	created := 0
	for _, f := range []struct {
		path, content string
	}{
		{filepath.Join(root, config.DefaultFileName), starterConfig},
		{filepath.Join(cfg.FeaturesDir, artifacts.BacklogFile), starterBacklog},
	} {
		if _, err := os.Stat(f.path); err == nil {
			fmt.Printf("  %s %s already exists\n", style.Dim.Render("○"), f.path)
			continue
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0644); err != nil {
			return err
		}
		fmt.Printf("  %s created %s\n", style.Success.Render("✓"), f.path)
		created++
	}

	if created > 0 {
		fmt.Printf("\n%s Edit %s, add feature ids to the backlog, then run: foreman run\n",
			style.Bold.Render("Done."), config.DefaultFileName)
	}
	return nil
}
