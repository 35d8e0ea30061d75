// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// Result holds the captured streams and exit status of a finished command.
type Result struct {
	Stdout []byte
	Stderr []byte
	// ExitCode is the process exit status, or -1 when the process never ran
	// (for example, the executable was not found).
	ExitCode int
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command with stdout and stderr captured separately.
	// The working directory is set to workDir if non-empty.
	// A non-nil error is returned for non-zero exits and for commands that
	// could not be started; the Result is populated in both cases.
	Run(ctx context.Context, workDir string, name string, args ...string) (Result, error)

	// LookPath reports whether the named executable can be found in PATH.
	LookPath(name string) error
}
