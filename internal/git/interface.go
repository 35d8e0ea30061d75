// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the abbreviated name of the checked-out branch.
	CurrentBranch() (string, error)
	// BranchExists reports whether a local branch exists. Any failure reads as false.
	BranchExists(name string) bool
	// CreateBranch creates name from base (or from HEAD when base is empty)
	// and switches to it. A missing base is reported before anything is created.
	CreateBranch(name, base string) error
	// SwitchBranch checks out an existing branch.
	SwitchBranch(name string) error
	// DeleteBranch deletes a local branch, with -D when force is set.
	DeleteBranch(name string, force bool) error
	// ListBranches returns local branch names matching a for-each-ref glob.
	ListBranches(pattern string) ([]string, error)
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// Add stages the specified paths.
	Add(paths ...string) error
	// CommitChanges stages patterns (if any) and commits the index.
	// ErrNothingToCommit is returned, without running commit, when the index
	// has no staged changes.
	CommitChanges(message string, patterns ...string) (string, error)
}

// DiffOperations defines the interface for git diff operations.
type DiffOperations interface {
	// Diff returns the diff between two refs, or between a and the working
	// tree when b is empty.
	Diff(a, b string) (string, error)
	// ChangedFilesBetween returns files changed between two refs.
	ChangedFilesBetween(ref1, ref2 string) ([]string, error)
}

// RefOperations defines the interface for low-level ref manipulation.
type RefOperations interface {
	// RevParse resolves a ref to a full commit hash.
	RevParse(ref string) (string, error)
	// RefExists reports whether ref resolves to a commit.
	RefExists(ref string) bool
	// UpdateRef points ref at target, creating it if needed.
	UpdateRef(ref, target string) error
	// DeleteRef removes ref.
	DeleteRef(ref string) error
	// ListRefs returns full ref names under prefix.
	ListRefs(prefix string) ([]string, error)
}

// FileOperations defines the interface for reading tracked content without
// touching the working tree.
type FileOperations interface {
	// ShowFile returns the contents of path as of ref.
	ShowFile(ref, path string) (string, error)
}

// ArchiveOperations defines the interface for exporting trees.
type ArchiveOperations interface {
	// ArchiveBranchToZip writes the tree at the tip of branch to outPath as zip.
	ArchiveBranchToZip(branch, outPath string) error
	// ArchiveRefToZip is ArchiveBranchToZip for any commit-ish.
	ArchiveRefToZip(ref, outPath string) error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAddDetached creates a worktree at path with a detached HEAD.
	WorktreeAddDetached(path string) error
	// WorktreeRemove removes the worktree at path, optionally with force.
	WorktreeRemove(path string, force bool) error
	// WorktreeList returns the paths of all registered worktrees.
	WorktreeList() ([]string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	BranchOperations
	CommitOperations
	DiffOperations
	RefOperations
	FileOperations
	ArchiveOperations
	WorktreeOperations
	// Run executes an arbitrary git command and returns trimmed stdout.
	Run(args ...string) (string, error)
	// RepoPath returns the repository the runner operates on.
	RepoPath() string
}
