package topology

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hyperjump/shirabe/internal/models"
)

// GitAnalyzer shells out to the git binary. Every method issues at most a
// couple of subprocesses regardless of repository size; per-file git calls
// are never made.
type GitAnalyzer struct {
	root string
}

// NewGitAnalyzer verifies that root is inside a git work tree and returns an
// analyzer rooted at the work tree's top level.
func NewGitAnalyzer(ctx context.Context, root string) (*GitAnalyzer, error) {
	out, err := runGit(ctx, root, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &GitAnalyzer{root: strings.TrimSpace(string(out))}, nil
}

func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("git %s: %s", args[0], msg)
	}
	return out, nil
}

func (g *GitAnalyzer) run(ctx context.Context, args ...string) ([]byte, error) {
	return runGit(ctx, g.root, args...)
}

// Kind reports KindGit.
func (g *GitAnalyzer) Kind() Kind { return KindGit }

// Root returns the work tree's top level.
func (g *GitAnalyzer) Root() string { return g.root }

// CurrentBranch returns the checked-out branch, or "detached@<short-sha>"
// on a detached HEAD. symbolic-ref resolves the name even on an unborn
// branch, where HEAD has no commit to abbreviate.
func (g *GitAnalyzer) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err == nil {
		return strings.TrimSpace(string(out)), nil
	}
	short, err := g.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return "detached@" + strings.TrimSpace(string(short)), nil
}

// HeadCommit returns the HEAD commit hash, or empty on an unborn branch.
func (g *GitAnalyzer) HeadCommit(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--verify", "--quiet", "HEAD")
	if err != nil {
		// A repository with no commits yet has no HEAD to resolve.
		return "", nil
	}
	return strings.TrimSpace(string(out)), nil
}

// MergeBase returns the best common ancestor of a and b, or empty when the
// revisions share no history.
func (g *GitAnalyzer) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := g.run(ctx, "merge-base", a, b)
	if err != nil {
		if strings.Contains(err.Error(), "exit status 1") {
			return "", nil
		}
		return "", fmt.Errorf("%w: merge-base %s %s: %v", ErrUnavailable, a, b, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// DiffFiles lists paths that changed between from and to, with renames
// detected. Output is parsed from NUL-separated name-status records.
func (g *GitAnalyzer) DiffFiles(ctx context.Context, from, to string) ([]models.FileChange, error) {
	out, err := g.run(ctx, "diff", "--name-status", "-z", "-M", from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %s..%s: %v", ErrDiffFailed, from, to, err)
	}
	changes, err := parseNameStatus(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s..%s: %v", ErrDiffFailed, from, to, err)
	}
	return changes, nil
}

// parseNameStatus decodes `git diff --name-status -z` output: a status token
// followed by one path, or two paths for renames and copies.
func parseNameStatus(out []byte) ([]models.FileChange, error) {
	fields := strings.Split(string(out), "\x00")
	var changes []models.FileChange
	for i := 0; i < len(fields); {
		status := fields[i]
		if status == "" {
			i++
			continue
		}
		switch status[0] {
		case 'R', 'C':
			if i+2 >= len(fields) {
				return nil, fmt.Errorf("truncated rename record at %q", status)
			}
			old, nw := fields[i+1], fields[i+2]
			kind := models.ChangeRenamed
			if status[0] == 'C' {
				// A copy leaves the source in place; only the new path is a change.
				kind = models.ChangeAdded
				old = ""
			}
			changes = append(changes, models.FileChange{Kind: kind, Path: nw, OldPath: old})
			i += 3
		case 'A':
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("truncated record at %q", status)
			}
			changes = append(changes, models.FileChange{Kind: models.ChangeAdded, Path: fields[i+1]})
			i += 2
		case 'D':
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("truncated record at %q", status)
			}
			changes = append(changes, models.FileChange{Kind: models.ChangeDeleted, Path: fields[i+1]})
			i += 2
		default:
			// M, T, U and anything unexpected count as modifications.
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("truncated record at %q", status)
			}
			changes = append(changes, models.FileChange{Kind: models.ChangeModified, Path: fields[i+1]})
			i += 2
		}
	}
	return changes, nil
}

// TreeBlobs maps every tracked path at rev to its blob hash in one
// `git ls-tree -r` pass.
func (g *GitAnalyzer) TreeBlobs(ctx context.Context, rev string) (map[string]string, error) {
	out, err := g.run(ctx, "ls-tree", "-r", "-z", rev)
	if err != nil {
		return nil, fmt.Errorf("%w: ls-tree %s: %v", ErrUnavailable, rev, err)
	}
	blobs := make(map[string]string)
	for _, entry := range strings.Split(string(out), "\x00") {
		if entry == "" {
			continue
		}
		// <mode> <type> <sha>\t<path>
		meta, path, ok := strings.Cut(entry, "\t")
		if !ok {
			continue
		}
		parts := strings.Fields(meta)
		if len(parts) != 3 || parts[1] != "blob" {
			continue
		}
		blobs[path] = parts[2]
	}
	return blobs, nil
}

// Branches lists local branches.
func (g *GitAnalyzer) Branches(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return splitLines(out), nil
}

// AncestorBranches lists local branches whose tips are reachable from
// branch, excluding branch itself.
func (g *GitAnalyzer) AncestorBranches(ctx context.Context, branch string) ([]string, error) {
	out, err := g.run(ctx, "branch", "--merged", branch, "--format=%(refname:short)")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var ancestors []string
	for _, b := range splitLines(out) {
		if b != branch {
			ancestors = append(ancestors, b)
		}
	}
	return ancestors, nil
}

// Status reports the dirty working tree from one porcelain pass.
func (g *GitAnalyzer) Status(ctx context.Context) (*WorkingStatus, error) {
	out, err := g.run(ctx, "status", "--porcelain", "-z", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return parsePorcelain(out), nil
}

// parsePorcelain decodes `git status --porcelain -z`: two status letters, a
// space, the path, then NUL; renamed entries carry the original path in a
// second NUL field.
func parsePorcelain(out []byte) *WorkingStatus {
	status := &WorkingStatus{}
	fields := strings.Split(string(out), "\x00")
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}
		x, y, path := entry[0], entry[1], entry[3:]
		if x == 'R' || x == 'C' {
			// The next field holds the origin path. A staged rename removes
			// it from the working tree, so it surfaces as a deletion.
			i++
			if x == 'R' && i < len(fields) && fields[i] != "" {
				status.Deleted = append(status.Deleted, fields[i])
			}
		}
		if x == '?' {
			status.Unstaged = append(status.Unstaged, path)
			continue
		}
		if x == 'D' || y == 'D' {
			status.Deleted = append(status.Deleted, path)
			continue
		}
		if x != ' ' {
			status.Staged = append(status.Staged, path)
		}
		if y != ' ' {
			status.Unstaged = append(status.Unstaged, path)
		}
	}
	return status
}

// ReadBlob returns the content of a blob object.
func (g *GitAnalyzer) ReadBlob(ctx context.Context, blobSHA string) ([]byte, error) {
	out, err := g.run(ctx, "cat-file", "blob", blobSHA)
	if err != nil {
		return nil, fmt.Errorf("%w: cat-file %s: %v", ErrUnavailable, blobSHA, err)
	}
	return out, nil
}

// StagedBytes returns the staged (index) content of path.
func (g *GitAnalyzer) StagedBytes(ctx context.Context, path string) ([]byte, error) {
	out, err := g.run(ctx, "show", ":"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: staged %s: %v", ErrUnavailable, path, err)
	}
	return out, nil
}

func splitLines(out []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
