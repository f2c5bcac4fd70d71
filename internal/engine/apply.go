package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/topology"
)

// deletedVersion is recorded as the file version of a working-tree deletion.
// It never matches a real identity and never owns points, so the skip check
// naturally holds while the file stays gone and breaks when it comes back.
const deletedVersion = "deleted"

// applyDiff processes the committed files a diff listed, leaving everything
// outside the diff untouched.
func (e *Engine) applyDiff(ctx context.Context, change *models.BranchChange, stats *models.IndexingStats) error {
	if len(change.Files) == 0 {
		return nil
	}
	blobs, err := e.topo.TreeBlobs(ctx, change.Commit)
	if err != nil {
		return fmt.Errorf("failed to list tree at %s: %w", change.Commit, err)
	}
	for _, fc := range change.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.FilesSeen++
		switch fc.Kind {
		case models.ChangeDeleted:
			if err := e.retirePath(ctx, fc.Path, change.Branch, stats); err != nil {
				return err
			}
		case models.ChangeRenamed:
			if err := e.retirePath(ctx, fc.OldPath, change.Branch, stats); err != nil {
				return err
			}
			if err := e.applyCommitted(ctx, fc.Path, blobs, change.Branch, stats); err != nil {
				return err
			}
		default:
			if err := e.applyCommitted(ctx, fc.Path, blobs, change.Branch, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyCommitted indexes the committed version of one path, or retires it
// when the path is gone from the tree or filtered out.
func (e *Engine) applyCommitted(ctx context.Context, path string, blobs map[string]string, branch string, stats *models.IndexingStats) error {
	blob, ok := blobs[path]
	if !ok || !e.wantPath(path) {
		return e.retirePath(ctx, path, branch, stats)
	}
	contentID := models.BlobIdentity(blob)
	load := func() ([]byte, error) { return e.committedBytes(ctx, path, blob) }
	return e.indexTracked(ctx, path, contentID, branch, load, stats)
}

// applyFullScan reconciles the whole tree against the catalog: every live
// file is skipped, relabeled, or embedded by content identity, and whatever
// the catalog still tracks beyond the tree is retired.
func (e *Engine) applyFullScan(ctx context.Context, change *models.BranchChange, stats *models.IndexingStats) error {
	if e.topo.Kind() == topology.KindGit {
		return e.scanGitTree(ctx, change, stats)
	}
	return e.scanPlainTree(ctx, change, stats)
}

func (e *Engine) scanGitTree(ctx context.Context, change *models.BranchChange, stats *models.IndexingStats) error {
	blobs := map[string]string{}
	if change.Commit != "" {
		var err error
		blobs, err = e.topo.TreeBlobs(ctx, change.Commit)
		if err != nil {
			return fmt.Errorf("failed to list tree at %s: %w", change.Commit, err)
		}
	}

	paths := make([]string, 0, len(blobs))
	for path := range blobs {
		if e.wantPath(path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.FilesSeen++
		if err := e.applyCommitted(ctx, path, blobs, change.Branch, stats); err != nil {
			return err
		}
	}
	return e.retireMissing(ctx, change.Branch, func(path string) bool {
		_, ok := blobs[path]
		return ok && e.wantPath(path)
	}, stats)
}

func (e *Engine) scanPlainTree(ctx context.Context, change *models.BranchChange, stats *models.IndexingStats) error {
	root := e.topo.Root()
	seen := make(map[string]struct{})

	err := filepath.WalkDir(root, func(abs string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			e.logger.Debug("skipping unreadable entry", zap.String("path", abs), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if abs != root && e.skipDir(abs, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return nil
		}
		path := filepath.ToSlash(rel)
		if !e.wantPath(path) {
			return nil
		}
		if e.cfg.MaxFileBytes > 0 {
			if info, err := d.Info(); err != nil || info.Size() > e.cfg.MaxFileBytes {
				return nil
			}
		}
		stats.FilesSeen++
		content, err := os.ReadFile(abs)
		if err != nil {
			e.logger.Warn("failed to read file", zap.String("path", path), zap.Error(err))
			stats.FilesFailed = append(stats.FilesFailed, path)
			return nil
		}
		seen[path] = struct{}{}
		load := func() ([]byte, error) { return content, nil }
		return e.indexTracked(ctx, path, models.RawIdentity(content), change.Branch, load, stats)
	})
	if err != nil {
		return err
	}
	return e.retireMissing(ctx, change.Branch, func(path string) bool {
		_, ok := seen[path]
		return ok
	}, stats)
}

// retireMissing hides every committed catalog file on branch that live does
// not claim anymore.
func (e *Engine) retireMissing(ctx context.Context, branch string, live func(string) bool, stats *models.IndexingStats) error {
	known, err := e.catalog.CommittedFiles(ctx, branch)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(known))
	for path := range known {
		if !live(path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.FilesSeen++
		if err := e.retirePath(ctx, path, branch, stats); err != nil {
			return err
		}
	}
	return nil
}

// indexTracked drives the skip/relabel/embed decision for the committed layer
// of one path. load is called only when content actually has to be embedded.
func (e *Engine) indexTracked(ctx context.Context, path, contentID, branch string, load func() ([]byte, error), stats *models.IndexingStats) error {
	recorded, err := e.catalog.FileVersion(ctx, path, branch, models.OriginCommitted)
	if err != nil {
		return err
	}
	if recorded == contentID {
		stats.FilesReused++
		return nil
	}
	if recorded != "" {
		// Retire whatever committed version was visible before.
		n, err := e.catalog.HideFileOrigin(ctx, path, branch, models.OriginCommitted)
		if err != nil {
			return err
		}
		stats.PointsHidden += n
	}

	known, err := e.catalog.HasFileVersion(ctx, path, contentID)
	if err != nil {
		return err
	}
	if known {
		// This exact file version was embedded before, for this branch or
		// another one. Row flips are all it takes.
		if _, err := e.catalog.SetFileVisible(ctx, path, contentID, branch, models.OriginCommitted); err != nil {
			return err
		}
		if err := e.catalog.SetFileVersion(ctx, path, branch, models.OriginCommitted, contentID); err != nil {
			return err
		}
		stats.FilesRelabeled++
		return nil
	}

	content, err := load()
	if err != nil {
		e.logger.Warn("failed to load file content", zap.String("path", path), zap.Error(err))
		return e.failFile(ctx, path, branch, models.OriginCommitted, stats)
	}
	if e.cfg.MaxFileBytes > 0 && int64(len(content)) > e.cfg.MaxFileBytes {
		e.logger.Debug("file over size limit", zap.String("path", path), zap.Int("bytes", len(content)))
		return e.retirePath(ctx, path, branch, stats)
	}
	if err := e.indexVersion(ctx, path, contentID, content, branch, models.OriginCommitted, stats); err != nil {
		if ctx.Err() != nil {
			return err
		}
		e.logger.Warn("failed to index file", zap.String("path", path), zap.Error(err))
		return e.failFile(ctx, path, branch, models.OriginCommitted, stats)
	}
	return e.catalog.SetFileVersion(ctx, path, branch, models.OriginCommitted, contentID)
}

// indexVersion embeds one exact file version and makes it durable: record
// files first, then catalog rows, then graph journal and keyword mirror, and
// visibility last, so a failure anywhere leaves the version invisible and
// retryable instead of torn.
func (e *Engine) indexVersion(ctx context.Context, path, contentID string, content []byte, branch string, origin models.Origin, stats *models.IndexingStats) error {
	chunks := e.chunker.Split(path, content)
	if len(chunks) == 0 {
		// Empty or binary content has nothing to embed. The version still
		// gets recorded by the caller so the file is not revisited.
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %s: %w", path, err)
	}

	points := make([]*models.ContentPoint, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		p := models.NewContentPoint(c, contentID)
		p.Vector = vectors[i]
		points[i] = p
		ids[i] = p.ID
	}
	for _, p := range points {
		if err := e.store.Put(p); err != nil {
			return err
		}
	}
	if err := e.catalog.UpsertPoints(ctx, points); err != nil {
		return fmt.Errorf("failed to record points for %s: %w", path, err)
	}
	for _, p := range points {
		if err := e.graph.Add(p); err != nil {
			return fmt.Errorf("failed to journal %s: %w", p.ID, err)
		}
	}
	if e.lexical != nil {
		if err := e.lexical.IndexPoints(ctx, points, texts); err != nil {
			return fmt.Errorf("failed to mirror %s into keyword index: %w", path, err)
		}
	}
	if err := e.catalog.SetPointsVisible(ctx, ids, branch, origin); err != nil {
		return fmt.Errorf("failed to set %s visible: %w", path, err)
	}

	stats.FilesEmbedded++
	stats.PointsCreated += len(points)
	e.logger.Debug("file embedded",
		zap.String("path", path),
		zap.String("content_id", contentID),
		zap.Int("points", len(points)))
	return nil
}

// retirePath hides every point of path on branch, all origins, and forgets
// the recorded versions so a returning file starts from a clean decision.
func (e *Engine) retirePath(ctx context.Context, path, branch string, stats *models.IndexingStats) error {
	n, err := e.catalog.HideFile(ctx, path, branch)
	if err != nil {
		return err
	}
	if err := e.catalog.ClearFileVersions(ctx, path, branch); err != nil {
		return err
	}
	if n > 0 {
		stats.FilesHidden++
		stats.PointsHidden += n
	}
	return nil
}

// failFile records a per-file failure and clears the version bookkeeping so
// the next run retries from scratch.
func (e *Engine) failFile(ctx context.Context, path, branch string, origin models.Origin, stats *models.IndexingStats) error {
	stats.FilesFailed = append(stats.FilesFailed, path)
	return e.catalog.ClearFileVersions(ctx, path, branch, origin)
}

// committedBytes fetches blob content, preferring the checked-out file when
// its bytes still hash to the same blob, which spares a subprocess per file.
func (e *Engine) committedBytes(ctx context.Context, path, blobSHA string) ([]byte, error) {
	live, err := os.ReadFile(filepath.Join(e.topo.Root(), filepath.FromSlash(path)))
	if err == nil && models.GitBlobSHA(live) == blobSHA {
		return live, nil
	}
	return e.topo.ReadBlob(ctx, blobSHA)
}

// skipDir filters walk directories: dotted directories and the collection
// directory itself never hold indexable content.
func (e *Engine) skipDir(abs, name string) bool {
	if len(name) > 1 && name[0] == '.' {
		return true
	}
	return e.dir != "" && filepath.Clean(abs) == filepath.Clean(e.dir)
}
