package git

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNothingToCommit is returned by CommitChanges when the index is clean.
var ErrNothingToCommit = errors.New("nothing to commit")

// OperationError describes a failed git invocation.
type OperationError struct {
	// Command is the git command line that failed, e.g. "git checkout -b x".
	Command string
	// ExitCode is the process exit status, or -1 if git never ran.
	ExitCode int
	// Stderr is the trimmed standard error of the command.
	Stderr string
	// Err is the underlying error, if any.
	Err error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsOperationError reports whether err is, or wraps, an *OperationError.
func IsOperationError(err error) bool {
	var opErr *OperationError
	return errors.As(err, &opErr)
}

func commandLine(args []string) string {
	return "git " + strings.Join(args, " ")
}
