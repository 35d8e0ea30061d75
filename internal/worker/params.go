package worker

import (
	"fmt"
	"strings"
)

// NumArgs is the number of positional arguments a worker process takes.
const NumArgs = 7

// Params is one worker invocation. The positional order of Args is the
// process contract between orchestrator and worker.
type Params struct {
	Task       string
	BranchName string
	// BaseBranch is optional; an empty base creates the branch from HEAD.
	BaseBranch string
	RunID      string
	AgentID    string
	// ProviderID names a configured agent or provider.
	ProviderID string
	RepoPath   string
}

// ParseArgs reads Params from positional arguments.
func ParseArgs(args []string) (Params, error) {
	if len(args) != NumArgs {
		return Params{}, fmt.Errorf("expected %d arguments (task, branch, base, runId, agentId, provider, repoPath), got %d", NumArgs, len(args))
	}
	p := Params{
		Task:       args[0],
		BranchName: args[1],
		BaseBranch: args[2],
		RunID:      args[3],
		AgentID:    args[4],
		ProviderID: args[5],
		RepoPath:   args[6],
	}
	return p, p.Validate()
}

// Args returns the positional arguments for p.
func (p Params) Args() []string {
	return []string{p.Task, p.BranchName, p.BaseBranch, p.RunID, p.AgentID, p.ProviderID, p.RepoPath}
}

// Validate checks that every required field is present.
func (p Params) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"task", p.Task},
		{"branch", p.BranchName},
		{"runId", p.RunID},
		{"agentId", p.AgentID},
		{"provider", p.ProviderID},
		{"repoPath", p.RepoPath},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required argument(s): %s", strings.Join(missing, ", "))
	}
	return nil
}
