// Package engine drives indexing runs: planning what moved since the last
// run, embedding content that is genuinely new, and flipping catalog
// visibility for everything else. The engine is the only writer of a
// collection; queries read around it and never wait for it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/ann"
	"github.com/hyperjump/shirabe/internal/catalog"
	"github.com/hyperjump/shirabe/internal/chunk"
	"github.com/hyperjump/shirabe/internal/config"
	"github.com/hyperjump/shirabe/internal/embedding"
	"github.com/hyperjump/shirabe/internal/lexical"
	"github.com/hyperjump/shirabe/internal/meta"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/store"
	"github.com/hyperjump/shirabe/internal/topology"
)

// LockFileName is the writer lock file inside the collection directory. It
// covers other processes; in-process contention is caught by a mutex first.
const LockFileName = "index.lock"

// ErrIndexingInProgress is returned when another run holds the writer lock.
// Contending writers are rejected immediately, never queued.
var ErrIndexingInProgress = errors.New("an indexing run is already in progress")

// Engine is the single writer of a collection. Per file it decides whether
// content must be embedded, relabeled, or hidden, and keeps the record store,
// catalog, graph journal, and optional keyword index in step.
type Engine struct {
	topo     topology.Analyzer
	store    *store.Store
	catalog  *catalog.Catalog
	graph    *ann.Index
	meta     *meta.File
	embedder embedding.Embedder
	chunker  *chunk.Chunker
	cfg      config.IndexConfig
	dir      string
	lexical  *lexical.Index
	logger   *zap.Logger

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Without it the engine is silent.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithLexical attaches a keyword index that mirrors every indexed chunk.
func WithLexical(ix *lexical.Index) Option {
	return func(e *Engine) { e.lexical = ix }
}

// New assembles an engine over an opened collection. dir is the collection
// directory; the writer lock file lives there.
func New(
	topo topology.Analyzer,
	st *store.Store,
	cat *catalog.Catalog,
	graph *ann.Index,
	metaFile *meta.File,
	embedder embedding.Embedder,
	cfg config.IndexConfig,
	dir string,
	opts ...Option,
) *Engine {
	e := &Engine{
		topo:     topo,
		store:    st,
		catalog:  cat,
		graph:    graph,
		meta:     metaFile,
		embedder: embedder,
		chunker:  chunk.NewChunker(cfg.ChunkBytes, cfg.ChunkOverlapLines),
		cfg:      cfg,
		dir:      dir,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// acquire takes both writer locks or reports contention without waiting.
func (e *Engine) acquire() (func(), error) {
	if !e.mu.TryLock() {
		return nil, ErrIndexingInProgress
	}
	fl := flock.New(filepath.Join(e.dir, LockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("failed to acquire %s: %w", LockFileName, err)
	}
	if !locked {
		e.mu.Unlock()
		return nil, ErrIndexingInProgress
	}
	return func() {
		_ = fl.Unlock()
		e.mu.Unlock()
	}, nil
}

// Index brings the collection in line with the current tree. A nil change
// lets the engine plan one itself; passing a change skips planning, which the
// watcher uses after it already asked what moved.
func (e *Engine) Index(ctx context.Context, change *models.BranchChange) (*models.IndexingStats, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if change == nil {
		change, err = e.Plan(ctx)
		if err != nil {
			return nil, err
		}
	}
	return e.run(ctx, change)
}

// Rebuild repairs the collection. Without force it runs an incremental index
// pass and lets the graph catch up; with force it walks the whole tree and
// regenerates the graph from the record store.
func (e *Engine) Rebuild(ctx context.Context, force bool) (*models.RebuildStats, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	change, err := e.Plan(ctx)
	if err != nil {
		return nil, err
	}
	if force {
		change.FullScan = true
		change.Files = nil
	}
	if _, err := e.run(ctx, change); err != nil {
		return nil, err
	}
	if force {
		return e.graph.Rebuild(ctx, "rebuild requested")
	}
	if err := e.graph.EnsureReady(ctx); err != nil {
		return nil, err
	}
	live, _ := e.graph.Stats()
	snap := e.meta.Snapshot()
	return &models.RebuildStats{
		Generation: snap.Generation,
		Points:     live,
		Reason:     "catch-up",
		Duration:   time.Since(start).Milliseconds(),
	}, nil
}

// Prune permanently removes points no live branch can see: record files,
// catalog rows, graph labels, and keyword documents. Returns how many points
// went away.
func (e *Engine) Prune(ctx context.Context) (int, error) {
	release, err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	branches, err := e.liveBranches(ctx)
	if err != nil {
		return 0, err
	}
	ids, err := e.catalog.PrunableIDs(ctx, branches)
	if err != nil {
		return 0, fmt.Errorf("failed to list prunable points: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	victims := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		victims[id] = struct{}{}
	}
	// Records are located by vector, so one walk recovers the vectors needed
	// to address the deletions.
	var stale []*models.ContentPoint
	if err := e.store.Walk(func(p *models.ContentPoint) error {
		if _, ok := victims[p.ID]; ok {
			stale = append(stale, p)
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("failed to walk store: %w", err)
	}

	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := e.store.Delete(p.ID, p.Vector); err != nil {
			return 0, err
		}
		if err := e.graph.Remove(p.ID); err != nil {
			return 0, err
		}
	}
	if err := e.catalog.DeletePoints(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to delete catalog rows: %w", err)
	}
	if e.lexical != nil {
		if err := e.lexical.DeleteBatch(ctx, ids); err != nil {
			return 0, fmt.Errorf("failed to delete keyword documents: %w", err)
		}
	}
	e.logger.Info("pruned unreachable points",
		zap.Int("points", len(ids)),
		zap.Strings("live_branches", branches))
	return len(ids), nil
}

// Status snapshots the collection: last indexed position, generation,
// staleness, point counts, and disk footprint.
func (e *Engine) Status(ctx context.Context) (*models.CollectionStatus, error) {
	snap := e.meta.Snapshot()
	points, err := e.catalog.CountPoints(ctx)
	if err != nil {
		return nil, err
	}
	_, deleted := e.graph.Stats()
	disk, err := store.DiskUsageBytes(e.dir)
	if err != nil {
		return nil, err
	}
	return &models.CollectionStatus{
		CollectionID:  snap.CollectionID,
		Mode:          string(e.topo.Kind()),
		Branch:        snap.Branch,
		Commit:        snap.Commit,
		Generation:    snap.Generation,
		Stale:         snap.Stale,
		Points:        int(points),
		DeletedLabels: deleted,
		LastIndexed:   snap.LastIndexed,
		LastBuild:     snap.LastBuild,
		DiskBytes:     disk,
	}, nil
}

// run applies a planned change under the writer lock.
func (e *Engine) run(ctx context.Context, change *models.BranchChange) (*models.IndexingStats, error) {
	start := time.Now()
	stats := &models.IndexingStats{
		RunID:    uuid.New().String(),
		Branch:   change.Branch,
		Commit:   change.Commit,
		FullScan: change.FullScan,
	}

	skip, err := e.nothingToDo(ctx, change)
	if err != nil {
		return nil, err
	}
	if skip {
		e.logger.Debug("collection already current",
			zap.String("branch", change.Branch),
			zap.String("commit", change.Commit))
		stats.Duration = time.Since(start).Milliseconds()
		return stats, nil
	}

	e.logger.Info("indexing run started",
		zap.String("run_id", stats.RunID),
		zap.String("branch", change.Branch),
		zap.String("commit", change.Commit),
		zap.Bool("full_scan", change.FullScan),
		zap.Int("changed_files", len(change.Files)),
		zap.Int("dirty_files", len(change.Staged)+len(change.Unstaged)+len(change.Deleted)))

	if change.FullScan {
		err = e.applyFullScan(ctx, change, stats)
	} else {
		err = e.applyDiff(ctx, change, stats)
	}
	if err == nil && e.topo.Kind() == topology.KindGit {
		err = e.applyOverrides(ctx, change, stats)
	}
	stats.Duration = time.Since(start).Milliseconds()
	if err != nil {
		// Finished files are already durable; the stats say how far we got.
		return stats, err
	}

	if err := e.meta.Update(func(m *meta.Meta) {
		m.Branch = change.Branch
		m.Commit = change.Commit
		m.LastIndexed = time.Now().UTC()
	}); err != nil {
		return stats, err
	}

	e.logger.Info("indexing run finished",
		zap.String("run_id", stats.RunID),
		zap.Int("files_seen", stats.FilesSeen),
		zap.Int("embedded", stats.FilesEmbedded),
		zap.Int("reused", stats.FilesReused),
		zap.Int("relabeled", stats.FilesRelabeled),
		zap.Int("hidden", stats.FilesHidden),
		zap.Int("failed", len(stats.FilesFailed)),
		zap.Int("points_created", stats.PointsCreated),
		zap.Int64("duration_ms", stats.Duration))
	return stats, nil
}

// nothingToDo reports whether the planned change carries no work: same
// committed position, clean tree, and no overrides left over from a dirtier
// run.
func (e *Engine) nothingToDo(ctx context.Context, change *models.BranchChange) (bool, error) {
	if change.FullScan || len(change.Files) > 0 ||
		len(change.Staged) > 0 || len(change.Unstaged) > 0 || len(change.Deleted) > 0 {
		return false, nil
	}
	recorded, err := e.catalog.Overrides(ctx, change.Branch)
	if err != nil {
		return false, err
	}
	return len(recorded) == 0, nil
}

// liveBranches is the set prune protects: every local branch plus whatever is
// checked out, which covers a detached HEAD.
func (e *Engine) liveBranches(ctx context.Context) ([]string, error) {
	branches, err := e.topo.Branches(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	current, err := e.topo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range branches {
		if b == current {
			return branches, nil
		}
	}
	return append(branches, current), nil
}

// wantPath applies the extension and exclusion filters to a slash path.
func (e *Engine) wantPath(path string) bool {
	if len(e.cfg.Extensions) > 0 {
		ext := strings.ToLower(filepath.Ext(path))
		ok := false
		for _, allowed := range e.cfg.Extensions {
			a := strings.ToLower(allowed)
			if !strings.HasPrefix(a, ".") {
				a = "." + a
			}
			if a == ext {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, glob := range e.cfg.ExcludeGlobs {
		if matched, err := doublestar.Match(glob, path); err == nil && matched {
			return false
		}
	}
	return true
}
