package phase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/stillwater-dev/foreman/internal/artifacts"
	"github.com/stillwater-dev/foreman/internal/feature"
	"github.com/stillwater-dev/foreman/internal/forge"
)

// scriptedAgent replies with a fixed output and optionally mutates artifacts
// first, standing in for an agent doing the instructed work.
type scriptedAgent struct {
	output  string
	err     error
	onCall  func(instruction string)
	calls   int
	lastDir string
}

func (a *scriptedAgent) Invoke(ctx context.Context, workdir, instruction string) (string, error) {
	a.calls++
	a.lastDir = workdir
	if a.onCall != nil {
		a.onCall(instruction)
	}
	return a.output, a.err
}

type stubWorkspaces struct {
	branchExists bool
	branchErr    error
	provisioned  string
	provisionErr error
	pushed       []string
	pushErr      error
}

func (s *stubWorkspaces) Provision(featureID string) (string, string, error) {
	if s.provisionErr != nil {
		return "", "", s.provisionErr
	}
	if s.provisioned != "" {
		// Existing workspace: no new branch, no base to report.
		return s.provisioned, "", nil
	}
	s.provisioned = "/worktrees/" + featureID
	return s.provisioned, "base-" + featureID, nil
}

func (s *stubWorkspaces) BranchExists(name string) (bool, error) {
	return s.branchExists, s.branchErr
}

func (s *stubWorkspaces) Push(branch string) error {
	s.pushed = append(s.pushed, branch)
	return s.pushErr
}

type stubForge struct {
	state     forge.PRState
	stateErr  error
	created   int
	lastTitle string
}

func (f *stubForge) PullRequestState(ctx context.Context, branch string) (forge.PRState, error) {
	return f.state, f.stateErr
}

func (f *stubForge) CreatePullRequest(ctx context.Context, branch, title, body string) (int, error) {
	f.created++
	f.lastTitle = title
	return 101, nil
}

func newTestExecutor(t *testing.T, agent *scriptedAgent, ws *stubWorkspaces, fg *stubForge) *Executor {
	t.Helper()
	return &Executor{
		Agent:      agent,
		Docs:       artifacts.NewStore(t.TempDir()),
		Workspaces: ws,
		Forge:      fg,
		Logger:     zap.NewNop(),
		RepoRoot:   "/repo",
	}
}

func writeDoc(t *testing.T, docs *artifacts.Store, id, name, content string) {
	t.Helper()
	if err := docs.EnsureDir(id); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(docs.Path(id, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestInterviewOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
		want   Result
	}{
		{"phase complete", "filled every row\n[PHASE_COMPLETE]", nil, ResultSuccess},
		{"needs input", "[NEEDS_INPUT]\nwhich auth scheme?", nil, ResultNeedsInput},
		{"needs input wins over complete", "[PHASE_COMPLETE] but also [NEEDS_INPUT]", nil, ResultNeedsInput},
		{"no signal", "did some reading", nil, ResultFailed},
		{"agent error", "", errors.New("agent timed out"), ResultFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ag := &scriptedAgent{output: tt.output, err: tt.err}
			e := newTestExecutor(t, ag, &stubWorkspaces{}, &stubForge{})
			task := feature.NewTask("FEAT-1")

			got, _ := e.Execute(context.Background(), feature.PhaseInterview, task)
			if got != tt.want {
				t.Errorf("interview result = %s, want %s", got, tt.want)
			}
			if ag.lastDir != "/repo" {
				t.Errorf("interview must run in the mainline checkout, got %s", ag.lastDir)
			}
		})
	}
}

func TestPlanJudgedByEvidenceNotTokens(t *testing.T) {
	// The agent claims completion but writes nothing: failed.
	ag := &scriptedAgent{output: "[PHASE_COMPLETE]"}
	e := newTestExecutor(t, ag, &stubWorkspaces{}, &stubForge{})
	task := feature.NewTask("FEAT-1")

	if got, _ := e.Execute(context.Background(), feature.PhasePlan, task); got != ResultFailed {
		t.Errorf("plan without documents = %s, want %s", got, ResultFailed)
	}

	// The agent says nothing useful but both documents appear: success.
	ag.output = "wrote the docs, forgot the token"
	ag.onCall = func(string) {
		writeDoc(t, e.Docs, "FEAT-1", artifacts.DesignFile, "# Design\n")
		writeDoc(t, e.Docs, "FEAT-1", artifacts.TasksFile, "- [ ] task one\n")
	}
	if got, _ := e.Execute(context.Background(), feature.PhasePlan, task); got != ResultSuccess {
		t.Errorf("plan with both documents = %s, want %s", got, ResultSuccess)
	}
}

func TestBranchProvisionsAndIsIdempotent(t *testing.T) {
	ag := &scriptedAgent{output: "[PHASE_COMPLETE]"}
	ws := &stubWorkspaces{}
	e := newTestExecutor(t, ag, ws, &stubForge{})
	task := feature.NewTask("FEAT-1")

	got, err := e.Execute(context.Background(), feature.PhaseBranch, task)
	if err != nil || got != ResultSuccess {
		t.Fatalf("fresh branch = (%s, %v)", got, err)
	}
	if task.WorkspacePath != "/worktrees/FEAT-1" {
		t.Errorf("task.WorkspacePath = %q", task.WorkspacePath)
	}
	if task.Branch != "feature/feat-1" {
		t.Errorf("task.Branch = %q", task.Branch)
	}
	if task.BaseCommit != "base-FEAT-1" {
		t.Errorf("task.BaseCommit = %q, want the branch's base commit", task.BaseCommit)
	}
	if ag.calls != 1 {
		t.Errorf("fresh branch should invoke the agent once for bookkeeping, got %d", ag.calls)
	}

	// Existing branch: still success, no agent call, and the recorded base
	// survives the no-op re-provision.
	ws.branchExists = true
	got, err = e.Execute(context.Background(), feature.PhaseBranch, task)
	if err != nil || got != ResultSuccess {
		t.Fatalf("existing branch = (%s, %v)", got, err)
	}
	if ag.calls != 1 {
		t.Errorf("existing branch must not invoke the agent, calls = %d", ag.calls)
	}
	if task.BaseCommit != "base-FEAT-1" {
		t.Errorf("task.BaseCommit after re-provision = %q", task.BaseCommit)
	}
}

func TestBranchBookkeepingFailureIsNotFatal(t *testing.T) {
	ag := &scriptedAgent{err: errors.New("agent crashed")}
	e := newTestExecutor(t, ag, &stubWorkspaces{}, &stubForge{})
	task := feature.NewTask("FEAT-1")

	got, err := e.Execute(context.Background(), feature.PhaseBranch, task)
	if err != nil || got != ResultSuccess {
		t.Errorf("branch with failed bookkeeping = (%s, %v), want success", got, err)
	}
}

func TestImplementInterpretation(t *testing.T) {
	checklist := func(checked, total int) string {
		var b strings.Builder
		for i := 0; i < total; i++ {
			box := " "
			if i < checked {
				box = "x"
			}
			fmt.Fprintf(&b, "- [%s] task %d\n", box, i+1)
		}
		return b.String()
	}

	tests := []struct {
		name     string
		before   string
		after    string
		agentErr error
		want     Result
	}{
		{"batch progress", checklist(2, 10), checklist(5, 10), nil, ResultProgress},
		{"finishing pass", checklist(8, 10), checklist(10, 10), nil, ResultSuccess},
		{"no movement", checklist(2, 10), checklist(2, 10), nil, ResultFailed},
		{"agent error with no movement", checklist(2, 10), checklist(2, 10), errors.New("boom"), ResultFailed},
		{"agent error but items checked anyway", checklist(2, 10), checklist(3, 10), errors.New("boom"), ResultProgress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ag := &scriptedAgent{err: tt.agentErr}
			e := newTestExecutor(t, ag, &stubWorkspaces{}, &stubForge{})
			e.ImplementBatch = 3
			task := feature.NewTask("FEAT-1")
			writeDoc(t, e.Docs, "FEAT-1", artifacts.TasksFile, tt.before)
			ag.onCall = func(instruction string) {
				writeDoc(t, e.Docs, "FEAT-1", artifacts.TasksFile, tt.after)
			}

			if got, _ := e.Execute(context.Background(), feature.PhaseImplement, task); got != tt.want {
				t.Errorf("implement = %s, want %s", got, tt.want)
			}
		})
	}
}

// An agent that declares itself blocked without moving the checklist fails
// the pass with its stated reason, so the session log says what stopped it.
func TestImplementSurfacesBlockedReason(t *testing.T) {
	ag := &scriptedAgent{output: "[BLOCKED] missing migration tool"}
	e := newTestExecutor(t, ag, &stubWorkspaces{}, &stubForge{})
	task := feature.NewTask("FEAT-1")
	writeDoc(t, e.Docs, "FEAT-1", artifacts.TasksFile, "- [ ] one\n- [ ] two\n")

	got, err := e.Execute(context.Background(), feature.PhaseImplement, task)
	if got != ResultFailed {
		t.Fatalf("blocked implement = %s, want %s", got, ResultFailed)
	}
	if err == nil || !strings.Contains(err.Error(), "missing migration tool") {
		t.Errorf("error = %v, want the agent's stated blockage", err)
	}

	// Checklist movement still wins: a blocked claim alongside real
	// progress reads as progress.
	ag.output = "[BLOCKED] ran out of patience"
	ag.onCall = func(string) {
		writeDoc(t, e.Docs, "FEAT-1", artifacts.TasksFile, "- [x] one\n- [ ] two\n")
	}
	got, err = e.Execute(context.Background(), feature.PhaseImplement, task)
	if got != ResultProgress || err != nil {
		t.Errorf("progress with blocked claim = (%s, %v), want progress", got, err)
	}
}

func TestImplementAlreadyDoneSkipsAgent(t *testing.T) {
	ag := &scriptedAgent{}
	e := newTestExecutor(t, ag, &stubWorkspaces{}, &stubForge{})
	task := feature.NewTask("FEAT-1")
	writeDoc(t, e.Docs, "FEAT-1", artifacts.TasksFile, "- [x] one\n- [x] two\n")

	got, err := e.Execute(context.Background(), feature.PhaseImplement, task)
	if err != nil || got != ResultSuccess {
		t.Fatalf("implement on done checklist = (%s, %v)", got, err)
	}
	if ag.calls != 0 {
		t.Errorf("no agent call expected, got %d", ag.calls)
	}
}

func TestImplementBatchScopesInstruction(t *testing.T) {
	ag := &scriptedAgent{}
	e := newTestExecutor(t, ag, &stubWorkspaces{}, &stubForge{})
	e.ImplementBatch = 2
	task := feature.NewTask("FEAT-1")
	writeDoc(t, e.Docs, "FEAT-1", artifacts.TasksFile,
		"- [ ] alpha\n- [ ] beta\n- [ ] gamma\n- [ ] delta\n")

	var instruction string
	ag.onCall = func(s string) { instruction = s }
	_, _ = e.Execute(context.Background(), feature.PhaseImplement, task)

	if !strings.Contains(instruction, "alpha") || !strings.Contains(instruction, "beta") {
		t.Errorf("instruction missing batch items:\n%s", instruction)
	}
	if strings.Contains(instruction, "gamma") {
		t.Errorf("instruction leaked items beyond the batch:\n%s", instruction)
	}
}

func TestPullRequestCreatesOnce(t *testing.T) {
	fg := &stubForge{state: forge.StateNone}
	ws := &stubWorkspaces{}
	e := newTestExecutor(t, &scriptedAgent{}, ws, fg)
	task := feature.NewTask("FEAT-1")
	writeDoc(t, e.Docs, "FEAT-1", artifacts.SpecFile, "# Add rate limiting\n")

	got, err := e.Execute(context.Background(), feature.PhasePR, task)
	if err != nil || got != ResultSuccess {
		t.Fatalf("pr phase = (%s, %v)", got, err)
	}
	if len(ws.pushed) != 1 || ws.pushed[0] != "feature/feat-1" {
		t.Errorf("pushed = %v", ws.pushed)
	}
	if fg.created != 1 {
		t.Fatalf("created %d PRs, want 1", fg.created)
	}
	if fg.lastTitle != "FEAT-1: Add rate limiting" {
		t.Errorf("title = %q", fg.lastTitle)
	}

	// A second run sees the existing PR and does nothing.
	fg.state = forge.StateOpen
	got, err = e.Execute(context.Background(), feature.PhasePR, task)
	if err != nil || got != ResultSuccess {
		t.Fatalf("second pr phase = (%s, %v)", got, err)
	}
	if fg.created != 1 || len(ws.pushed) != 1 {
		t.Error("pr phase must be idempotent once a PR exists")
	}
}

func TestMergeVerdicts(t *testing.T) {
	tests := []struct {
		state   forge.PRState
		want    Result
		wantErr bool
	}{
		{forge.StateMerged, ResultSuccess, false},
		{forge.StateOpen, ResultProgress, false},
		{forge.StateClosed, ResultFailed, true},
		{forge.StateNone, ResultFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			ag := &scriptedAgent{}
			e := newTestExecutor(t, ag, &stubWorkspaces{}, &stubForge{state: tt.state})
			task := feature.NewTask("FEAT-1")

			got, err := e.Execute(context.Background(), feature.PhaseMerge, task)
			if got != tt.want {
				t.Errorf("merge(%s) = %s, want %s", tt.state, got, tt.want)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("merge(%s) err = %v", tt.state, err)
			}
			if ag.calls != 0 {
				t.Error("merge phase must never invoke the agent")
			}
		})
	}
}

func TestWrapUpRequiresBothTokens(t *testing.T) {
	tests := []struct {
		output string
		want   Result
	}{
		{"[PHASE_COMPLETE] [FEATURE_COMPLETE]", ResultSuccess},
		{"[PHASE_COMPLETE]", ResultFailed},
		{"[FEATURE_COMPLETE]", ResultFailed},
		{"", ResultFailed},
	}
	for _, tt := range tests {
		ag := &scriptedAgent{output: tt.output}
		e := newTestExecutor(t, ag, &stubWorkspaces{}, &stubForge{})
		task := feature.NewTask("FEAT-1")
		if got, _ := e.Execute(context.Background(), feature.PhaseWrapUp, task); got != tt.want {
			t.Errorf("wrapUp(%q) = %s, want %s", tt.output, got, tt.want)
		}
	}
}

func TestExecuteAppendsSessionLine(t *testing.T) {
	e := newTestExecutor(t, &scriptedAgent{output: "[PHASE_COMPLETE]"}, &stubWorkspaces{}, &stubForge{})
	task := feature.NewTask("FEAT-1")
	if _, err := e.Execute(context.Background(), feature.PhaseInterview, task); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(e.Docs.Path("FEAT-1", artifacts.SessionFile))
	if err != nil {
		t.Fatalf("session log missing: %v", err)
	}
	if !strings.Contains(string(data), "phase=interview result=success") {
		t.Errorf("session line = %q", string(data))
	}
}

func TestExecuteRunsInWorkspaceOnceProvisioned(t *testing.T) {
	ag := &scriptedAgent{output: "[PHASE_COMPLETE] [FEATURE_COMPLETE]"}
	e := newTestExecutor(t, ag, &stubWorkspaces{}, &stubForge{})
	task := feature.NewTask("FEAT-1")
	task.WorkspacePath = "/worktrees/FEAT-1"

	if _, err := e.Execute(context.Background(), feature.PhaseWrapUp, task); err != nil {
		t.Fatal(err)
	}
	if ag.lastDir != "/worktrees/FEAT-1" {
		t.Errorf("agent workdir = %q, want the feature workspace", ag.lastDir)
	}
}
