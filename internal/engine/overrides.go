package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/models"
)

// override is one dirty working-tree unit: a staged or unstaged file version,
// or a file deleted without being committed.
type override struct {
	origin  models.Origin
	deleted bool
}

// applyOverrides reconciles the working tree layer of the current branch:
// dirty files are captured under raw identities and occlude their committed
// versions, and overrides from earlier runs whose file went clean are purged
// so the committed version resurfaces. Overrides never leave their branch.
func (e *Engine) applyOverrides(ctx context.Context, change *models.BranchChange, stats *models.IndexingStats) error {
	branch := change.Branch

	current := make(map[string]override)
	for _, p := range change.Staged {
		if e.wantPath(p) {
			current[p] = override{origin: models.OriginStaged}
		}
	}
	for _, p := range change.Unstaged {
		// A partially staged file carries both layers; the working tree is
		// what the user sees, so it wins.
		if e.wantPath(p) {
			current[p] = override{origin: models.OriginUnstaged}
		}
	}
	for _, p := range change.Deleted {
		if e.wantPath(p) {
			current[p] = override{origin: models.OriginUnstaged, deleted: true}
		}
	}

	if err := e.purgeStaleOverrides(ctx, branch, current, stats); err != nil {
		return err
	}

	paths := make([]string, 0, len(current))
	for p := range current {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.applyOverride(ctx, path, current[path], branch, stats); err != nil {
			return err
		}
	}
	return nil
}

// purgeStaleOverrides drops recorded overrides that no longer match the
// working tree and resurfaces the committed versions they were occluding.
func (e *Engine) purgeStaleOverrides(ctx context.Context, branch string, current map[string]override, stats *models.IndexingStats) error {
	recorded, err := e.catalog.Overrides(ctx, branch)
	if err != nil {
		return err
	}
	for _, rec := range recorded {
		cur, stillDirty := current[rec.Path]
		if stillDirty && cur.origin == rec.Origin {
			continue
		}
		dropped, err := e.catalog.DropFileOrigin(ctx, rec.Path, branch, rec.Origin)
		if err != nil {
			return err
		}
		if err := e.catalog.ClearFileVersions(ctx, rec.Path, branch, rec.Origin); err != nil {
			return err
		}
		if dropped > 0 {
			stats.FilesHidden++
			stats.PointsHidden += dropped
		}
		if stillDirty {
			// The file moved between staging layers; its new unit below keeps
			// the committed version occluded.
			continue
		}
		committedID, err := e.catalog.FileVersion(ctx, rec.Path, branch, models.OriginCommitted)
		if err != nil {
			return err
		}
		if committedID != "" {
			if _, err := e.catalog.SetFileVisible(ctx, rec.Path, committedID, branch, models.OriginCommitted); err != nil {
				return err
			}
			stats.FilesRelabeled++
		}
		e.logger.Debug("override purged",
			zap.String("path", rec.Path),
			zap.String("origin", string(rec.Origin)))
	}
	return nil
}

// applyOverride captures one dirty file version and keeps its committed
// version occluded while the override is active.
func (e *Engine) applyOverride(ctx context.Context, path string, ov override, branch string, stats *models.IndexingStats) error {
	stats.FilesSeen++

	var content []byte
	contentID := deletedVersion
	if !ov.deleted {
		var err error
		content, err = e.overrideBytes(ctx, path, ov.origin)
		if os.IsNotExist(err) {
			// Vanished since status ran; treat it as the deletion it is.
			ov.deleted = true
		} else if err != nil {
			e.logger.Warn("failed to read dirty file", zap.String("path", path), zap.Error(err))
			stats.FilesFailed = append(stats.FilesFailed, path)
			return nil
		} else {
			contentID = models.RawIdentity(content)
			if e.cfg.MaxFileBytes > 0 && int64(len(content)) > e.cfg.MaxFileBytes {
				// Too big to embed. The identity still tracks the real bytes
				// and the empty body below yields no points, so the override
				// occludes the committed version without producing results.
				content = nil
			}
		}
	}

	prev, err := e.catalog.FileVersion(ctx, path, branch, ov.origin)
	if err != nil {
		return err
	}
	if prev == contentID {
		stats.FilesReused++
	} else {
		if prev != "" {
			dropped, err := e.catalog.DropFileOrigin(ctx, path, branch, ov.origin)
			if err != nil {
				return err
			}
			stats.PointsHidden += dropped
		}
		switch {
		case ov.deleted:
			stats.FilesHidden++
		default:
			known, err := e.catalog.HasFileVersion(ctx, path, contentID)
			if err != nil {
				return err
			}
			if known {
				if _, err := e.catalog.SetFileVisible(ctx, path, contentID, branch, ov.origin); err != nil {
					return err
				}
				stats.FilesRelabeled++
			} else if err := e.indexVersion(ctx, path, contentID, content, branch, ov.origin, stats); err != nil {
				if ctx.Err() != nil {
					return err
				}
				e.logger.Warn("failed to index dirty file", zap.String("path", path), zap.Error(err))
				return e.failFile(ctx, path, branch, ov.origin, stats)
			}
		}
		if err := e.catalog.SetFileVersion(ctx, path, branch, ov.origin, contentID); err != nil {
			return err
		}
	}

	// The committed rows stay occluded for as long as any override is active,
	// even when the override itself was unchanged: the committed layer may
	// have been reindexed earlier in this same run.
	n, err := e.catalog.HideFileOrigin(ctx, path, branch, models.OriginCommitted)
	if err != nil {
		return err
	}
	stats.PointsHidden += n
	return nil
}

// overrideBytes reads the dirty content of path: the staging area for staged
// overrides, the live file otherwise.
func (e *Engine) overrideBytes(ctx context.Context, path string, origin models.Origin) ([]byte, error) {
	if origin == models.OriginStaged {
		return e.topo.StagedBytes(ctx, path)
	}
	return os.ReadFile(filepath.Join(e.topo.Root(), filepath.FromSlash(path)))
}
