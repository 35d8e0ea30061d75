package collab

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StopFileName is the signal file checked between generation steps.
const StopFileName = "stop"

// SignalsDir returns the signals directory of a repository.
func SignalsDir(repoPath string) string {
	return filepath.Join(repoPath, ".jarules", "signals")
}

// StopSignal is a cooperative cancellation flag backed by a file under
// .jarules/signals. Creating the file from any process trips it.
type StopSignal struct {
	dir string

	mu      sync.RWMutex
	stopped bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// EnvSignalsDir overrides the signals directory. Workers running in a
// worktree use it to watch the main checkout's directory.
const EnvSignalsDir = "JARULES_SIGNALS_DIR"

// NewStopSignal watches dir for the stop file, creating dir if needed.
func NewStopSignal(dir string) (*StopSignal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	s := &StopSignal{dir: dir, done: make(chan struct{})}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// ShouldStop falls back to stat.
		return s, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher

	go s.watch()

	return s, nil
}

func (s *StopSignal) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == StopFileName && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				s.mu.Lock()
				s.stopped = true
				s.mu.Unlock()
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// ShouldStop reports whether the stop file has been created.
func (s *StopSignal) ShouldStop() bool {
	if s == nil {
		return false
	}
	if _, err := os.Stat(s.path()); err == nil {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// Send creates the stop file.
func (s *StopSignal) Send() error {
	return os.WriteFile(s.path(), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes the stop file and resets the flag.
func (s *StopSignal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
	os.Remove(s.path())
}

// Close stops watching.
func (s *StopSignal) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.done)
		if s.watcher != nil {
			s.watcher.Close()
		}
	})
}

func (s *StopSignal) path() string {
	return filepath.Join(s.dir, StopFileName)
}
