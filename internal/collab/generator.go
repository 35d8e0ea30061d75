// Package collab is the boundary between a worker and whatever produces the
// work: the Anthropic API, AWS Bedrock, or an external command.
package collab

import (
	"context"
	"errors"
	"fmt"
)

// Generator carries out a task inside workingDir and returns the paths of the
// files it wrote, relative to workingDir. Failures are returned as *TaskError.
type Generator interface {
	Generate(ctx context.Context, task, workingDir string) ([]string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, task, workingDir string) ([]string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, task, workingDir string) ([]string, error) {
	return f(ctx, task, workingDir)
}

// ErrStopped is wrapped by the TaskError returned when a stop signal fires.
var ErrStopped = errors.New("stop signal received")

// TaskError is an opaque collaborator failure. Workers report it as an error
// event; it never reaches sibling agents.
type TaskError struct {
	Provider string
	Err      error
}

func (e *TaskError) Error() string {
	if e.Provider == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

func taskErrorf(provider, format string, args ...any) *TaskError {
	return &TaskError{Provider: provider, Err: fmt.Errorf(format, args...)}
}
