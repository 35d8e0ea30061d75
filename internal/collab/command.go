package collab

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/witchcraftery/jarules-sub000/internal/exec"
)

// CommandGenerator delegates a task to an external program such as a coding
// CLI. Files the program writes are observed rather than reported by it.
type CommandGenerator struct {
	provider string
	argv     []string
	model    string
	runner   exec.CommandRunner
}

// NewCommandGenerator creates a generator running argv. The placeholders
// {task} and {model} in any argument are substituted per call.
func NewCommandGenerator(providerID string, argv []string, model string, runner exec.CommandRunner) (*CommandGenerator, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("provider %s: empty command", providerID)
	}
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &CommandGenerator{
		provider: providerID,
		argv:     append([]string(nil), argv...),
		model:    model,
		runner:   runner,
	}, nil
}

// Argv returns the command line for task.
func (g *CommandGenerator) Argv(task string) []string {
	r := strings.NewReplacer("{task}", task, "{model}", g.model)
	out := make([]string, len(g.argv))
	for i, arg := range g.argv {
		out[i] = r.Replace(arg)
	}
	return out
}

// Generate implements Generator.
func (g *CommandGenerator) Generate(ctx context.Context, task, workingDir string) ([]string, error) {
	argv := g.Argv(task)
	if err := g.runner.LookPath(argv[0]); err != nil {
		return nil, taskErrorf(g.provider, "command %q not found: %w", argv[0], err)
	}

	tracker, err := newFileTracker(workingDir)
	if err != nil {
		return nil, taskErrorf(g.provider, "watch %s: %w", workingDir, err)
	}

	res, runErr := g.runner.Run(ctx, workingDir, argv[0], argv[1:]...)
	files := tracker.finish()

	if runErr != nil {
		detail := strings.TrimSpace(string(res.Stderr))
		if len(detail) > 500 {
			detail = detail[len(detail)-500:]
		}
		if detail != "" {
			return files, taskErrorf(g.provider, "command exited %d: %s", res.ExitCode, detail)
		}
		return files, taskErrorf(g.provider, "command exited %d: %w", res.ExitCode, runErr)
	}
	return files, nil
}

// skipDir reports directories the tracker never looks into.
func skipDir(name string) bool {
	return name == ".git" || name == ".jarules"
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// fileTracker records files created or modified under root. fsnotify events
// are reconciled against a before/after scan so nothing written in a
// not-yet-watched directory is missed.
type fileTracker struct {
	root   string
	before map[string]fileStamp

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	touched map[string]bool
}

func newFileTracker(root string) (*fileTracker, error) {
	before, err := scanTree(root)
	if err != nil {
		return nil, err
	}

	t := &fileTracker{
		root:    root,
		before:  before,
		done:    make(chan struct{}),
		touched: make(map[string]bool),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return t, nil
	}
	t.watcher = watcher
	t.addTree(root)

	t.wg.Add(1)
	go t.watch()

	return t, nil
}

func (t *fileTracker) addTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		_ = t.watcher.Add(path)
		return nil
	})
}

func (t *fileTracker) watch() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if event.Op&fsnotify.Create != 0 && !skipDir(info.Name()) {
					t.addTree(event.Name)
				}
				continue
			}
			if rel, ok := t.relative(event.Name); ok {
				t.mu.Lock()
				t.touched[rel] = true
				t.mu.Unlock()
			}
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (t *fileTracker) relative(path string) (string, bool) {
	rel, err := filepath.Rel(t.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	first := strings.SplitN(rel, "/", 2)[0]
	if skipDir(first) {
		return "", false
	}
	return rel, true
}

// finish stops watching and returns the sorted set of files that exist and
// were created or changed since the tracker started.
func (t *fileTracker) finish() []string {
	if t.watcher != nil {
		close(t.done)
		t.watcher.Close()
		t.wg.Wait()
	}

	set := make(map[string]bool)
	for rel := range t.touched {
		set[rel] = true
	}

	after, err := scanTree(t.root)
	if err == nil {
		for rel, stamp := range after {
			prev, existed := t.before[rel]
			if !existed || prev != stamp {
				set[rel] = true
			}
		}
	}

	out := make([]string, 0, len(set))
	for rel := range set {
		info, err := os.Stat(filepath.Join(t.root, filepath.FromSlash(rel)))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// scanTree stamps every regular file under root, skipping .git and .jarules.
func scanTree(root string) (map[string]fileStamp, error) {
	stamps := make(map[string]fileStamp)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		// A worktree's .git is a file.
		if !d.Type().IsRegular() || d.Name() == ".git" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		stamps[filepath.ToSlash(rel)] = fileStamp{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	return stamps, err
}

var _ Generator = (*CommandGenerator)(nil)
