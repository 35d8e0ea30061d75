package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger appends timestamped lines to a run log file.
// A nil logger, or one without a file, discards everything.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
}

// DebugLogPath returns the default debug log location for a repository.
func DebugLogPath(repoPath string) string {
	return filepath.Join(repoPath, ".jarules", "logs", "orchestrator-debug.log")
}

// NewDebugLogger opens logPath for appending, creating parent directories.
// An empty path yields a no-op logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := &DebugLogger{file: f}
	logger.Log("=== jarules debug log opened at %s (pid %d) ===", time.Now().Format(time.RFC3339), os.Getpid())
	return logger, nil
}

// NewDebugLoggerForRepo opens the log under <repo>/.jarules/logs.
// It falls back to a no-op logger if the file cannot be opened.
func NewDebugLoggerForRepo(repoPath string) *DebugLogger {
	logger, err := NewDebugLogger(DebugLogPath(repoPath))
	if err != nil {
		return &DebugLogger{}
	}
	return logger
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one timestamped line.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format("15:04:05.000"), msg)
	l.file.Sync()
}

// Close closes the log file. It is safe on a nil or no-op logger.
func (l *DebugLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.file.Close()
	l.file = nil
	return err
}
