// Package topology reads the shape of the indexed tree: which branch is
// checked out, what changed between revisions, and which file versions the
// working tree currently holds.
package topology

import (
	"context"
	"errors"

	"github.com/hyperjump/shirabe/internal/models"
)

// Kind discriminates the two analyzer implementations.
type Kind string

const (
	KindGit   Kind = "git"
	KindPlain Kind = "plain"
)

// PlainBranch is the single implicit branch used outside git repositories.
const PlainBranch = "local"

var (
	// ErrUnavailable means git state could not be read: no repository, no
	// git binary, or corrupt metadata. Callers decide whether to fall back
	// to plain mode or fail the operation.
	ErrUnavailable = errors.New("git state unavailable")

	// ErrDiffFailed means a diff between two known revisions could not be
	// computed. A failed diff is never treated as an empty diff.
	ErrDiffFailed = errors.New("diff computation failed")
)

// WorkingStatus summarizes the dirty working tree. A path may appear in both
// Staged and Unstaged when it has been partially staged.
type WorkingStatus struct {
	// Staged paths differ between HEAD and the index.
	Staged []string
	// Unstaged paths differ between the index and the working tree;
	// untracked files are included here.
	Unstaged []string
	// Deleted paths are gone from the working tree or staged for removal.
	Deleted []string
}

// Empty reports whether the working tree is clean.
func (s *WorkingStatus) Empty() bool {
	return len(s.Staged) == 0 && len(s.Unstaged) == 0 && len(s.Deleted) == 0
}

// Analyzer answers topology questions for one tree. The capability is fixed
// when the collection opens: a git tree gets the git analyzer, anything else
// gets the plain analyzer, and no method re-probes.
type Analyzer interface {
	// Kind reports which implementation is active.
	Kind() Kind

	// Root returns the absolute tree root.
	Root() string

	// CurrentBranch returns the checked-out branch. Plain trees report
	// PlainBranch; a detached HEAD reports "detached@<short-sha>".
	CurrentBranch(ctx context.Context) (string, error)

	// HeadCommit returns the current HEAD commit hash. Empty (with no
	// error) on an unborn branch or a plain tree.
	HeadCommit(ctx context.Context) (string, error)

	// MergeBase returns the best common ancestor of two revisions, or empty
	// when they share none.
	MergeBase(ctx context.Context, a, b string) (string, error)

	// DiffFiles lists paths that changed between two revisions, with
	// renames detected.
	DiffFiles(ctx context.Context, from, to string) ([]models.FileChange, error)

	// TreeBlobs maps every tracked path at rev to its blob hash, resolved
	// in a single pass.
	TreeBlobs(ctx context.Context, rev string) (map[string]string, error)

	// Branches lists local branches.
	Branches(ctx context.Context) ([]string, error)

	// AncestorBranches lists local branches fully merged into branch,
	// excluding branch itself.
	AncestorBranches(ctx context.Context, branch string) ([]string, error)

	// Status reports the dirty working tree.
	Status(ctx context.Context) (*WorkingStatus, error)

	// ReadBlob returns the content of a blob from history.
	ReadBlob(ctx context.Context, blobSHA string) ([]byte, error)

	// StagedBytes returns the staged (index) content of a path.
	StagedBytes(ctx context.Context, path string) ([]byte, error)
}

// Detect probes root once and returns the matching analyzer.
func Detect(ctx context.Context, root string) Analyzer {
	if g, err := NewGitAnalyzer(ctx, root); err == nil {
		return g
	}
	return NewPlainAnalyzer(root)
}
