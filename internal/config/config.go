// Package config handles configuration loading and management for jarules.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// EnvConfigPath names an explicit config file. The orchestrator sets it for
// worker processes so they resolve providers from the same file.
const EnvConfigPath = "JARULES_CONFIG"

// ProjectConfigName is the project-level config file searched upward from cwd.
const ProjectConfigName = ".jarules.yaml"

// Provider kinds.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderCommand   = "command"
)

// Config holds all configuration for jarules.
type Config struct {
	Anthropic AnthropicConfig  `mapstructure:"anthropic" yaml:"anthropic"`
	Defaults  DefaultsConfig   `mapstructure:"defaults" yaml:"defaults"`
	Workspace WorkspaceConfig  `mapstructure:"workspace" yaml:"workspace"`
	Logging   LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Agents    []AgentConfig    `mapstructure:"agents" yaml:"agents"`
	Providers []ProviderConfig `mapstructure:"providers" yaml:"providers"`

	// path is the file the config was read from, if any.
	path string
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// DefaultsConfig holds default values for runs.
type DefaultsConfig struct {
	BaseBranch string `mapstructure:"base_branch" yaml:"base_branch"`
}

// WorkspaceConfig controls where agent workspaces and artifacts live.
type WorkspaceConfig struct {
	// Isolation is "worktree" or "shared".
	Isolation string `mapstructure:"isolation" yaml:"isolation"`
	// WorktreeDir is the parent directory of per-agent worktrees.
	WorktreeDir string `mapstructure:"worktree_dir" yaml:"worktree_dir"`
	// ArchiveDir receives zip archives of agent branches.
	ArchiveDir string `mapstructure:"archive_dir" yaml:"archive_dir"`
	// PreserveResults pins agent branch tips under refs/jarules/ before cleanup.
	PreserveResults bool `mapstructure:"preserve_results" yaml:"preserve_results"`
	// StateDB is the SQLite run store path. Empty means <repo>/.jarules/state.db.
	StateDB string `mapstructure:"state_db" yaml:"state_db"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// DebugLog is the orchestrator debug log path. Empty means <repo>/.jarules/logs.
	DebugLog string `mapstructure:"debug_log" yaml:"debug_log"`
	// Disabled turns the debug log off entirely.
	Disabled bool `mapstructure:"disabled" yaml:"disabled"`
}

// AgentConfig is one selectable agent.
type AgentConfig struct {
	ID          string `mapstructure:"id" yaml:"id"`
	Provider    string `mapstructure:"provider" yaml:"provider"`
	Model       string `mapstructure:"model" yaml:"model,omitempty"`
	Description string `mapstructure:"description" yaml:"description,omitempty"`
}

// ProviderConfig describes how an agent's work is generated.
type ProviderConfig struct {
	ID   string `mapstructure:"id" yaml:"id"`
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Model is the default model; an agent's own model wins.
	Model  string `mapstructure:"model" yaml:"model,omitempty"`
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// AWSRegion and AWSProfile apply to the bedrock kind.
	AWSRegion  string `mapstructure:"aws_region" yaml:"aws_region,omitempty"`
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile,omitempty"`
	// Command is the argv for the command kind. "{task}" is replaced by the
	// task prompt and "{model}" by the model.
	Command       []string `mapstructure:"command" yaml:"command,omitempty"`
	MaxIterations int      `mapstructure:"max_iterations" yaml:"max_iterations,omitempty"`
	MaxTokens     int      `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
}

// Path returns the config file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// Agent returns the agent with the given id.
func (c *Config) Agent(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// Provider returns the provider with the given id.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// SelectAgents returns the configured agents with the given ids, in order.
// An empty ids list selects every configured agent.
func (c *Config) SelectAgents(ids []string) ([]AgentConfig, error) {
	if len(ids) == 0 {
		return append([]AgentConfig(nil), c.Agents...), nil
	}
	selected := make([]AgentConfig, 0, len(ids))
	for _, id := range ids {
		a, ok := c.Agent(id)
		if !ok {
			return nil, fmt.Errorf("unknown agent %q", id)
		}
		selected = append(selected, a)
	}
	return selected, nil
}

// IsolationMode returns the configured workspace isolation.
func (c *Config) IsolationMode() models.IsolationMode {
	return models.IsolationMode(c.Workspace.Isolation)
}

// Validate checks cross-references and enumerations.
func (c *Config) Validate() error {
	if !c.IsolationMode().Valid() {
		return fmt.Errorf("workspace.isolation: unknown mode %q", c.Workspace.Isolation)
	}

	providers := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers: entry with empty id")
		}
		if providers[p.ID] {
			return fmt.Errorf("providers: duplicate id %q", p.ID)
		}
		providers[p.ID] = true
		switch p.Kind {
		case ProviderAnthropic, ProviderBedrock:
		case ProviderCommand:
			if len(p.Command) == 0 {
				return fmt.Errorf("provider %q: command kind requires a command", p.ID)
			}
		default:
			return fmt.Errorf("provider %q: unknown kind %q", p.ID, p.Kind)
		}
	}

	agents := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents: entry with empty id")
		}
		if !models.ValidAgentID(a.ID) {
			return fmt.Errorf("agent %q: id may only use letters, digits, '.', '_' and '-'", a.ID)
		}
		if agents[a.ID] {
			return fmt.Errorf("agents: duplicate id %q", a.ID)
		}
		agents[a.ID] = true
		if !providers[a.Provider] {
			return fmt.Errorf("agent %q: unknown provider %q", a.ID, a.Provider)
		}
	}

	return nil
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Explicit file named by JARULES_CONFIG, else project config (.jarules.yaml in cwd or parent)
// 3. User config (~/.config/jarules/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}
	source := v.ConfigFileUsed()

	overlay := os.Getenv(EnvConfigPath)
	if overlay == "" {
		overlay = findProjectConfig()
	}
	if overlay != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(overlay)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", overlay, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
		source = overlay
	}

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.path = source
	cfg.expand()

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.path = path
	cfg.expand()

	return cfg, nil
}

// WriteTemplate writes cfg as YAML to path, creating parent directories.
func WriteTemplate(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	header := []byte("# jarules configuration\n# Agents run in parallel on branches named agent-<id>-<run>.\n")
	return os.WriteFile(path, append(header, data...), 0644)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("defaults.base_branch", d.Defaults.BaseBranch)

	v.SetDefault("workspace.isolation", d.Workspace.Isolation)
	v.SetDefault("workspace.worktree_dir", "")
	v.SetDefault("workspace.archive_dir", d.Workspace.ArchiveDir)
	v.SetDefault("workspace.preserve_results", d.Workspace.PreserveResults)
	v.SetDefault("workspace.state_db", "")

	v.SetDefault("logging.debug_log", "")
	v.SetDefault("logging.disabled", false)

	v.SetDefault("providers", []map[string]interface{}{
		{"id": "anthropic", "kind": ProviderAnthropic, "model": DefaultModel},
	})
}

// DefaultModel is used when neither agent nor provider names a model.
const DefaultModel = "claude-sonnet-4-20250514"

// expand resolves ${VAR} references in secrets.
func (c *Config) expand() {
	c.Anthropic.APIKey = expandEnv(c.Anthropic.APIKey)
	for i := range c.Providers {
		c.Providers[i].APIKey = expandEnv(c.Providers[i].APIKey)
	}
}

// getUserConfigDir returns the XDG config directory for jarules.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "jarules")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "jarules")
	}
	return filepath.Join(home, ".config", "jarules")
}

// findProjectConfig searches for .jarules.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			BaseBranch: "main",
		},
		Workspace: WorkspaceConfig{
			Isolation:       string(models.IsolationWorktree),
			ArchiveDir:      filepath.Join(os.TempDir(), "jarules_archives"),
			PreserveResults: true,
		},
		Providers: []ProviderConfig{
			{ID: "anthropic", Kind: ProviderAnthropic, Model: DefaultModel},
		},
	}
}

// Example returns a starter configuration with two agents, used by `jarules init`.
func Example() *Config {
	cfg := Default()
	cfg.Anthropic.APIKey = "${ANTHROPIC_API_KEY}"
	cfg.Providers = append(cfg.Providers, ProviderConfig{
		ID:      "claude-cli",
		Kind:    ProviderCommand,
		Command: []string{"claude", "--print", "--allowedTools", "Read,Write,Edit", "-p", "{task}"},
	})
	cfg.Agents = []AgentConfig{
		{ID: "sonnet", Provider: "anthropic", Model: DefaultModel, Description: "Anthropic API agent"},
		{ID: "cli", Provider: "claude-cli", Description: "claude CLI agent"},
	}
	return cfg
}
