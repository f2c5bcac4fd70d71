package topology

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hyperjump/shirabe/internal/models"
)

// PlainAnalyzer serves directories without usable git history. One implicit
// branch exists and never moves; change detection falls back to content
// hashing during the indexing walk, so diff and history methods fail rather
// than pretend.
type PlainAnalyzer struct {
	root string
}

// NewPlainAnalyzer returns an analyzer rooted at root.
func NewPlainAnalyzer(root string) *PlainAnalyzer {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return &PlainAnalyzer{root: abs}
}

// Kind reports KindPlain.
func (p *PlainAnalyzer) Kind() Kind { return KindPlain }

// Root returns the tree root.
func (p *PlainAnalyzer) Root() string { return p.root }

// CurrentBranch returns the implicit branch.
func (p *PlainAnalyzer) CurrentBranch(ctx context.Context) (string, error) {
	return PlainBranch, nil
}

// HeadCommit returns empty; plain trees have no commits.
func (p *PlainAnalyzer) HeadCommit(ctx context.Context) (string, error) {
	return "", nil
}

// MergeBase returns empty; plain trees have no history.
func (p *PlainAnalyzer) MergeBase(ctx context.Context, a, b string) (string, error) {
	return "", nil
}

// DiffFiles fails; callers must walk the tree instead.
func (p *PlainAnalyzer) DiffFiles(ctx context.Context, from, to string) ([]models.FileChange, error) {
	return nil, fmt.Errorf("%w: no history in plain mode", ErrUnavailable)
}

// TreeBlobs fails; plain trees have no blobs.
func (p *PlainAnalyzer) TreeBlobs(ctx context.Context, rev string) (map[string]string, error) {
	return nil, fmt.Errorf("%w: no tree objects in plain mode", ErrUnavailable)
}

// Branches returns the single implicit branch.
func (p *PlainAnalyzer) Branches(ctx context.Context) ([]string, error) {
	return []string{PlainBranch}, nil
}

// AncestorBranches returns nothing; the implicit branch has no ancestors.
func (p *PlainAnalyzer) AncestorBranches(ctx context.Context, branch string) ([]string, error) {
	return nil, nil
}

// Status reports a clean tree; plain mode has no staging area.
func (p *PlainAnalyzer) Status(ctx context.Context) (*WorkingStatus, error) {
	return &WorkingStatus{}, nil
}

// ReadBlob fails; plain trees keep no history to recover content from.
func (p *PlainAnalyzer) ReadBlob(ctx context.Context, blobSHA string) ([]byte, error) {
	return nil, fmt.Errorf("%w: no object store in plain mode", ErrUnavailable)
}

// StagedBytes fails; plain mode has no staging area.
func (p *PlainAnalyzer) StagedBytes(ctx context.Context, path string) ([]byte, error) {
	return nil, fmt.Errorf("%w: no staging area in plain mode", ErrUnavailable)
}
