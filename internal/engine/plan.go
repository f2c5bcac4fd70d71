package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/topology"
)

// Plan computes what moved since the collection last indexed: the checked-out
// branch and commit, the committed diff against the last indexed commit, and
// the dirty working tree. It never guesses; an unusable diff base degrades to
// a full walk, not to an empty diff.
func (e *Engine) Plan(ctx context.Context) (*models.BranchChange, error) {
	if e.topo.Kind() == topology.KindPlain {
		return &models.BranchChange{Branch: topology.PlainBranch, FullScan: true}, nil
	}

	branch, err := e.topo.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current branch: %w", err)
	}
	commit, err := e.topo.HeadCommit(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	snap := e.meta.Snapshot()
	change := &models.BranchChange{Branch: branch, Commit: commit, BaseCommit: snap.Commit}

	g, gctx := errgroup.WithContext(ctx)
	var status *topology.WorkingStatus
	g.Go(func() error {
		var err error
		status, err = e.topo.Status(gctx)
		if err != nil {
			return fmt.Errorf("failed to read working tree status: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		switch {
		case snap.Commit == "" || commit == "":
			// Never indexed, or an unborn branch: no diff base exists.
			change.FullScan = true
		case branch != snap.Branch:
			// The target branch's catalog state cannot be patched from a diff
			// against another branch's position; reconcile the whole tree.
			// Shared content relabels instead of re-embedding, so the walk
			// stays cheap.
			change.FullScan = true
		case commit == snap.Commit:
			// Nothing committed since the last run.
		default:
			base, err := e.topo.MergeBase(gctx, snap.Commit, commit)
			if err != nil || base == "" {
				e.logger.Warn("no usable diff base, planning a full walk",
					zap.String("last_commit", snap.Commit),
					zap.String("commit", commit),
					zap.Error(err))
				change.FullScan = true
				return nil
			}
			files, err := e.topo.DiffFiles(gctx, snap.Commit, commit)
			if err != nil {
				// A failed diff degrades to a walk, never to an empty diff.
				e.logger.Warn("diff failed, planning a full walk",
					zap.String("from", snap.Commit),
					zap.String("to", commit),
					zap.Error(err))
				change.FullScan = true
				return nil
			}
			change.Files = files
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	change.Staged = status.Staged
	change.Unstaged = status.Unstaged
	change.Deleted = status.Deleted
	return change, nil
}
