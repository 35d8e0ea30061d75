package orchestrator

import (
	"io"

	"github.com/witchcraftery/jarules-sub000/internal/config"
	"github.com/witchcraftery/jarules-sub000/internal/git"
	"github.com/witchcraftery/jarules-sub000/internal/state"
	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	// workerCommand is the argv prefix; worker arguments are appended.
	workerCommand   []string
	env             []string
	configPath      string
	output          io.Writer
	store           state.Store
	logger          *DebugLogger
	gitRunner       git.Runner
	isolation       models.IsolationMode
	worktreeDir     string
	archiveDir      string
	preserveResults *bool
	newRunID        func() string
}

// WithWorkerCommand sets the argv prefix used to start a worker. The seven
// worker arguments are appended to it. By default the running executable is
// re-invoked with the "worker" subcommand.
func WithWorkerCommand(argv ...string) Option {
	return func(o *orchestratorOptions) { o.workerCommand = append([]string(nil), argv...) }
}

// WithEnv adds KEY=VALUE entries to every worker's environment.
func WithEnv(env ...string) Option {
	return func(o *orchestratorOptions) { o.env = append(o.env, env...) }
}

// WithConfigPath makes workers load the same config file as the caller.
func WithConfigPath(path string) Option {
	return func(o *orchestratorOptions) { o.configPath = path }
}

// WithOutput sets where run-level and agent_update lines are written.
func WithOutput(w io.Writer) Option {
	return func(o *orchestratorOptions) { o.output = w }
}

// WithStore persists runs so they can be queried from other processes.
func WithStore(s state.Store) Option {
	return func(o *orchestratorOptions) { o.store = s }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithGitRunner sets the git runner for the main checkout.
func WithGitRunner(r git.Runner) Option {
	return func(o *orchestratorOptions) { o.gitRunner = r }
}

// WithIsolation selects per-agent worktrees or the shared checkout.
func WithIsolation(m models.IsolationMode) Option {
	return func(o *orchestratorOptions) { o.isolation = m }
}

// WithWorktreeDir sets the parent directory of per-agent worktrees.
func WithWorktreeDir(dir string) Option {
	return func(o *orchestratorOptions) { o.worktreeDir = dir }
}

// WithArchiveDir sets where zip archives are written.
func WithArchiveDir(dir string) Option {
	return func(o *orchestratorOptions) { o.archiveDir = dir }
}

// WithPreserveResults controls whether branch tips are pinned under
// refs/jarules/ before agent branches are deleted.
func WithPreserveResults(b bool) Option {
	return func(o *orchestratorOptions) { o.preserveResults = &b }
}

// WithRunIDGenerator overrides run id generation (mainly for testing).
func WithRunIDGenerator(fn func() string) Option {
	return func(o *orchestratorOptions) { o.newRunID = fn }
}

// FromConfig maps the workspace and logging sections of cfg to options.
// The logger is not opened here; see NewDebugLogger.
func FromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithIsolation(cfg.IsolationMode()),
		WithPreserveResults(cfg.Workspace.PreserveResults),
	}
	if cfg.Workspace.WorktreeDir != "" {
		opts = append(opts, WithWorktreeDir(cfg.Workspace.WorktreeDir))
	}
	if cfg.Workspace.ArchiveDir != "" {
		opts = append(opts, WithArchiveDir(cfg.Workspace.ArchiveDir))
	}
	if cfg.Path() != "" {
		opts = append(opts, WithConfigPath(cfg.Path()))
	}
	return opts
}
