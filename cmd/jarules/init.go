package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/witchcraftery/jarules-sub000/internal/config"
	"github.com/witchcraftery/jarules-sub000/internal/git"
)

var (
	initForce bool
	initNoGit bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a repository for jarules",
	Long: `Initialize a directory for use with jarules.

This command:
  - Verifies git is installed
  - Initializes a git repository with an initial commit if needed
  - Creates the .jarules directory and keeps it out of git
  - Writes an example .jarules.yaml

Examples:
  jarules init              # Initialize current directory
  jarules init ./myproject  # Initialize specific directory
  jarules init --force      # Overwrite an existing .jarules.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing .jarules.yaml")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing jarules in %s...\n\n", absPath)

	if _, err := exec.LookPath("git"); err != nil {
		printStatus("✗", "Git not found", color.FgRed)
		return fmt.Errorf("git not found in PATH\n\n" +
			"jarules keeps every agent on its own git branch.\n\n" +
			"Install git from https://git-scm.com/downloads")
	}
	printStatus("✓", "Git found", color.FgGreen)

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
	} else {
		printStatus("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	}

	if !initNoGit {
		if err := initGitRepo(absPath); err != nil {
			return err
		}
	}

	for _, dir := range []string{"logs", "signals"} {
		if err := os.MkdirAll(filepath.Join(absPath, ".jarules", dir), 0755); err != nil {
			return fmt.Errorf("creating .jarules/%s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .jarules directory", color.FgGreen)

	if !initNoGit {
		if err := excludeStateDir(absPath); err != nil {
			return fmt.Errorf("updating git exclude: %w", err)
		}
		printStatus("✓", "Excluded .jarules/ from git", color.FgGreen)
	}

	cfgPath := filepath.Join(absPath, ".jarules.yaml")
	if _, err := os.Stat(cfgPath); err == nil && !initForce {
		printStatus("⚠", ".jarules.yaml exists (use --force to overwrite)", color.FgYellow)
	} else {
		if err := config.WriteTemplate(cfgPath, config.Example()); err != nil {
			return fmt.Errorf("writing .jarules.yaml: %w", err)
		}
		printStatus("✓", "Wrote .jarules.yaml", color.FgGreen)
	}

	fmt.Printf("\n%s jarules initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit the agents in .jarules.yaml")
	fmt.Println("  2. Check them:    jarules agents")
	fmt.Println("  3. Run a task:    jarules run \"your task here\"")
	return nil
}

// initGitRepo makes sure dir is a repository with at least one commit,
// since agent branches are created from an existing one.
func initGitRepo(dir string) error {
	g := git.NewRunner(dir)
	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		if _, err := g.Run("init"); err != nil {
			return fmt.Errorf("git init: %w", err)
		}
		printStatus("✓", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("✓", "Git repository exists", color.FgGreen)
	}

	if g.RefExists("HEAD") {
		return nil
	}
	if _, err := g.Run("commit", "--allow-empty", "-m", "Initial commit"); err != nil {
		return fmt.Errorf("creating initial commit: %w", err)
	}
	printStatus("✓", "Created initial commit", color.FgGreen)
	return nil
}

// excludeStateDir appends /.jarules/ to .git/info/exclude so run state and
// worktrees never show up as untracked files on agent branches.
func excludeStateDir(dir string) error {
	const entry = "/.jarules/"

	rel, err := git.NewRunner(dir).Run("rev-parse", "--git-path", "info/exclude")
	if err != nil {
		return err
	}
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, rel)
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	line := entry + "\n"
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		line = "\n" + line
	}
	_, err = f.WriteString(line)
	return err
}
