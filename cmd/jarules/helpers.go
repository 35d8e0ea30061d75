package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"go.yaml.in/yaml/v3"

	"github.com/witchcraftery/jarules-sub000/internal/config"
	"github.com/witchcraftery/jarules-sub000/internal/orchestrator"
	"github.com/witchcraftery/jarules-sub000/internal/state"
)

// findGitRoot finds the root of the git repository starting from the given directory.
// A .git file (linked worktree) counts as a root too.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}

// resolveRepo returns --repo, or the git root of the working directory.
func resolveRepo() (string, error) {
	if repoFlag != "" {
		return filepath.Abs(repoFlag)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return findGitRoot(cwd)
}

// loadConfig loads the layered config. --config is passed on through the
// environment so worker processes read the same file.
func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		abs, err := filepath.Abs(configFlag)
		if err != nil {
			return nil, err
		}
		os.Setenv(config.EnvConfigPath, abs)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens and migrates the run store for repo.
func openStore(repo string, cfg *config.Config) (*state.DB, error) {
	path := cfg.Workspace.StateDB
	if path == "" {
		path = state.ProjectDBPath(repo)
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate run store: %w", err)
	}
	return db, nil
}

func openLogger(repo string, cfg *config.Config) *orchestrator.DebugLogger {
	if cfg.Logging.Disabled {
		return orchestrator.NopLogger()
	}
	if cfg.Logging.DebugLog == "" {
		return orchestrator.NewDebugLoggerForRepo(repo)
	}
	logger, err := orchestrator.NewDebugLogger(cfg.Logging.DebugLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: debug log disabled: %v\n", err)
		return orchestrator.NopLogger()
	}
	return logger
}

// session bundles what every repository command needs.
type session struct {
	repo   string
	cfg    *config.Config
	store  *state.DB
	logger *orchestrator.DebugLogger
	orch   *orchestrator.Orchestrator
}

// openSession resolves the repository and config and builds an orchestrator
// backed by the run store.
func openSession(out io.Writer, extra ...orchestrator.Option) (*session, error) {
	repo, err := resolveRepo()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := openStore(repo, cfg)
	if err != nil {
		return nil, err
	}
	logger := openLogger(repo, cfg)

	opts := append(orchestrator.FromConfig(cfg),
		orchestrator.WithStore(store),
		orchestrator.WithLogger(logger),
		orchestrator.WithOutput(out),
	)
	orch, err := orchestrator.New(repo, append(opts, extra...)...)
	if err != nil {
		store.Close()
		logger.Close()
		return nil, err
	}
	return &session{repo: repo, cfg: cfg, store: store, logger: logger, orch: orch}, nil
}

func (s *session) Close() {
	s.store.Close()
	s.logger.Close()
}

// printStatus prints a colored status line.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	// Round-trip through JSON so YAML keys match the JSON field names.
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}
