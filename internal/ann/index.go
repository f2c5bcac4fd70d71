package ann

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/meta"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/store"
)

// State describes how current the graph is relative to the record store.
type State int

const (
	StateFresh State = iota
	StateStale
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Tuning carries the maintenance knobs for one index.
type Tuning struct {
	// CatchUpBudget caps how many journaled updates EnsureReady applies
	// incrementally before preferring a full rebuild.
	CatchUpBudget int
	// RebuildDeletedRatio is the soft-delete fraction that triggers a
	// rebuild.
	RebuildDeletedRatio float64
}

// Hit is one approximate search result resolved back to a point identity.
type Hit struct {
	ID       string
	Vector   []float32
	Distance float32
}

// Index owns the approximate nearest neighbor state for one collection:
// the HNSW graph, the identity map, and the pending journal. Indexing
// appends to the journal and flips the stale flag; the graph itself is
// only touched on the query path (EnsureReady) or an explicit Rebuild.
type Index struct {
	dir    string
	meta   *meta.File
	store  *store.Store
	tuning Tuning
	logger *zap.Logger

	labels  *LabelMap
	journal *journal

	updateMu sync.Mutex // serializes load, catch-up and rebuild

	mu     sync.RWMutex // guards the fields below
	graph  *Graph
	state  State
	loaded bool
	dirty  bool
}

// Option configures an Index.
type Option func(*Index)

// WithLogger attaches a logger for maintenance events.
func WithLogger(logger *zap.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// Open prepares the index files under dir. The graph itself is loaded
// lazily by the first EnsureReady or Search.
func Open(dir string, metaFile *meta.File, st *store.Store, tuning Tuning, opts ...Option) (*Index, error) {
	if tuning.CatchUpBudget <= 0 {
		tuning.CatchUpBudget = 512
	}
	if tuning.RebuildDeletedRatio <= 0 {
		tuning.RebuildDeletedRatio = 0.25
	}
	snap := metaFile.Snapshot()
	labels, err := OpenLabelMap(filepath.Join(dir, LabelFileName))
	if err != nil {
		return nil, err
	}
	j, err := openJournal(filepath.Join(dir, pendingFileName), snap.Dimensions)
	if err != nil {
		labels.Close()
		return nil, err
	}
	ix := &Index{
		dir:     dir,
		meta:    metaFile,
		store:   st,
		tuning:  tuning,
		logger:  zap.NewNop(),
		labels:  labels,
		journal: j,
		state:   StateStale,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

func (ix *Index) indexPath() string {
	return filepath.Join(ix.dir, IndexFileName)
}

// Add journals a new point for the graph. The graph is updated at the next
// EnsureReady, keeping the indexing write path free of graph maintenance.
func (ix *Index) Add(point *models.ContentPoint) error {
	if err := ix.journal.append(pendingOp{op: opAdd, id: point.ID, vector: point.Vector}); err != nil {
		return err
	}
	ix.markStale()
	return ix.meta.MarkStale()
}

// Remove journals a soft delete for id. Pruning uses this after deleting
// the record; the label is never reused within the current generation.
func (ix *Index) Remove(id string) error {
	if err := ix.journal.append(pendingOp{op: opRemove, id: id}); err != nil {
		return err
	}
	ix.markStale()
	return ix.meta.MarkStale()
}

func (ix *Index) markStale() {
	ix.mu.Lock()
	if ix.state != StateRebuilding {
		ix.state = StateStale
	}
	ix.mu.Unlock()
}

// EnsureReady brings the graph up to date with the record store. When the
// graph is loaded and another update is already in flight, it returns
// immediately so the caller searches the current graph instead of waiting.
func (ix *Index) EnsureReady(ctx context.Context) error {
	ix.mu.RLock()
	loaded := ix.loaded
	fresh := ix.state == StateFresh
	ix.mu.RUnlock()

	if loaded && fresh && ix.journal.pending() == 0 {
		return nil
	}
	if loaded {
		if !ix.updateMu.TryLock() {
			return nil
		}
	} else {
		ix.updateMu.Lock()
	}
	defer ix.updateMu.Unlock()
	return ix.syncLocked(ctx)
}

func (ix *Index) syncLocked(ctx context.Context) error {
	ix.mu.RLock()
	loaded := ix.loaded
	ix.mu.RUnlock()
	if !loaded {
		if err := ix.loadLocked(ctx); err != nil {
			return err
		}
	}

	ops := ix.journal.drain()
	if len(ops) > ix.tuning.CatchUpBudget {
		_, err := ix.rebuildLocked(ctx, fmt.Sprintf("%d pending updates exceed catch-up budget %d", len(ops), ix.tuning.CatchUpBudget))
		return err
	}
	if len(ops) > 0 {
		if err := ix.applyLocked(ops); err != nil {
			return err
		}
		ix.logger.Debug("ann catch-up applied",
			zap.Int("ops", len(ops)))
	}

	ix.mu.RLock()
	g := ix.graph
	ix.mu.RUnlock()
	if ratio := g.DeletedRatio(); ratio > ix.tuning.RebuildDeletedRatio {
		_, err := ix.rebuildLocked(ctx, fmt.Sprintf("deleted ratio %.2f over threshold %.2f", ratio, ix.tuning.RebuildDeletedRatio))
		return err
	}

	ix.mu.Lock()
	ix.state = StateFresh
	ix.mu.Unlock()
	return nil
}

// loadLocked adopts the on-disk graph when it matches the current
// generation, and rebuilds otherwise.
func (ix *Index) loadLocked(ctx context.Context) error {
	snap := ix.meta.Snapshot()
	g, generation, err := LoadGraph(ix.indexPath(), snap.Dimensions)

	var reason string
	switch {
	case err == nil && generation == snap.Generation:
		for _, label := range ix.labels.DeletedLabels() {
			g.SoftDelete(label)
		}
		ix.mu.Lock()
		ix.graph = g
		ix.loaded = true
		ix.mu.Unlock()
		return nil
	case err == nil:
		reason = fmt.Sprintf("index generation %d does not match metadata generation %d", generation, snap.Generation)
	case errors.Is(err, fs.ErrNotExist):
		reason = "no index on disk"
	case errors.Is(err, ErrCorrupted):
		ix.logger.Warn("ann index unreadable, rebuilding", zap.Error(err))
		reason = "index corrupted"
	default:
		return fmt.Errorf("load ann index: %w", err)
	}
	_, err = ix.rebuildLocked(ctx, reason)
	return err
}

// applyLocked folds journaled ops into the graph in arrival order, which
// keeps new labels dense.
func (ix *Index) applyLocked(ops []pendingOp) error {
	ix.mu.RLock()
	g := ix.graph
	ix.mu.RUnlock()

	for _, op := range ops {
		switch op.op {
		case opAdd:
			label, _, err := ix.labels.Assign(op.id)
			if err != nil {
				return err
			}
			if err := g.Insert(label, op.vector); err != nil {
				return fmt.Errorf("insert %s: %w", op.id, err)
			}
		case opRemove:
			label, live, err := ix.labels.SoftDelete(op.id)
			if err != nil {
				return err
			}
			if live {
				g.SoftDelete(label)
			}
		}
	}
	ix.mu.Lock()
	ix.dirty = true
	ix.mu.Unlock()
	return nil
}

// Rebuild regenerates the graph from the record store regardless of state.
func (ix *Index) Rebuild(ctx context.Context, reason string) (*models.RebuildStats, error) {
	ix.updateMu.Lock()
	defer ix.updateMu.Unlock()
	if reason == "" {
		reason = "requested"
	}
	return ix.rebuildLocked(ctx, reason)
}

func (ix *Index) rebuildLocked(ctx context.Context, reason string) (*models.RebuildStats, error) {
	start := time.Now()
	ix.mu.Lock()
	ix.state = StateRebuilding
	ix.mu.Unlock()

	snap := ix.meta.Snapshot()
	generation := snap.Generation + 1
	ix.logger.Info("rebuilding ann index",
		zap.String("reason", reason),
		zap.Uint64("generation", generation))

	if err := ix.labels.Reset(); err != nil {
		ix.markStale()
		return nil, err
	}
	g := NewGraph(snap.M, snap.EfConstruction, snap.EfSearch)
	count := 0
	err := ix.store.Walk(func(point *models.ContentPoint) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		label, _, err := ix.labels.Assign(point.ID)
		if err != nil {
			return err
		}
		if err := g.Insert(label, point.Vector); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		ix.markStale()
		return nil, fmt.Errorf("rebuild ann index: %w", err)
	}

	if err := SaveGraph(ix.indexPath(), g, generation); err != nil {
		ix.markStale()
		return nil, err
	}
	ix.journal.drain()
	if err := ix.journal.truncate(); err != nil {
		ix.markStale()
		return nil, err
	}
	if err := ix.meta.Update(func(m *meta.Meta) {
		m.Generation = generation
		m.Stale = false
		m.LastBuild = time.Now().UTC()
	}); err != nil {
		return nil, err
	}

	ix.mu.Lock()
	ix.graph = g
	ix.loaded = true
	ix.dirty = false
	ix.state = StateFresh
	ix.mu.Unlock()

	stats := &models.RebuildStats{
		Generation: generation,
		Points:     count,
		Reason:     reason,
		Duration:   time.Since(start).Milliseconds(),
	}
	ix.logger.Info("ann index rebuilt",
		zap.Int("points", count),
		zap.Int64("duration_ms", stats.Duration))
	return stats, nil
}

// Search returns up to k approximate neighbors of query. Callers run
// EnsureReady first; an unloaded index is loaded here as a fallback.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	ix.mu.RLock()
	g := ix.graph
	loaded := ix.loaded
	ix.mu.RUnlock()

	if !loaded {
		if err := ix.EnsureReady(ctx); err != nil {
			return nil, err
		}
		ix.mu.RLock()
		g = ix.graph
		ix.mu.RUnlock()
	}
	if g == nil {
		return nil, nil
	}

	hits := make([]Hit, 0, k)
	for _, c := range g.Search(query, k) {
		id, ok := ix.labels.Identity(c.Label)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: id, Vector: g.Vector(c.Label), Distance: c.Distance})
	}
	return hits, nil
}

// State reports the current index state.
func (ix *Index) State() State {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.loaded && ix.state == StateFresh && ix.journal.pending() > 0 {
		return StateStale
	}
	return ix.state
}

// Stats returns live and soft-deleted label counts from the identity map.
func (ix *Index) Stats() (live, deleted int) {
	return ix.labels.Live(), ix.labels.Deleted()
}

// Close applies any buffered updates, persists a dirty graph and releases
// file handles. It must not race Add or Remove.
func (ix *Index) Close() error {
	ix.updateMu.Lock()
	defer ix.updateMu.Unlock()

	ix.mu.RLock()
	loaded := ix.loaded
	ix.mu.RUnlock()

	var firstErr error
	if loaded {
		if ops := ix.journal.drain(); len(ops) > 0 {
			if err := ix.applyLocked(ops); err != nil {
				firstErr = err
			}
		}
		ix.mu.RLock()
		g, dirty := ix.graph, ix.dirty
		ix.mu.RUnlock()
		if firstErr == nil && dirty {
			snap := ix.meta.Snapshot()
			if err := SaveGraph(ix.indexPath(), g, snap.Generation); err != nil {
				firstErr = err
			} else if err := ix.journal.truncate(); err != nil {
				firstErr = err
			} else if err := ix.meta.Update(func(m *meta.Meta) { m.Stale = false }); err != nil {
				firstErr = err
			}
		}
	}
	if err := ix.journal.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := ix.labels.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
